// CLAUDE:SUMMARY Builds change-report payloads (Slack block message + mail envelope) and capture-failure mails: pure, no I/O.
// Package compose turns a Changed decision into the notification payload:
// a Slack block-kit message and a mail envelope with both screenshots.
// Everything here is pure; delivery belongs to package notify.
package compose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/detect"
)

// Fixed wording of the notifications.
const (
	SubjectChanged = "Content checker - page changed!"
	SubjectError   = "Content checker - error"
	Footer         = ":question: The message was generated by content checker. Records stay available in the watch store."
)

// ErrNotChanged is returned when Changed is given any other decision.
var ErrNotChanged = errors.New("compose: decision is not changed")

// Context carries what the payload mentions besides the decision.
type Context struct {
	URL        string
	Note       string
	Recipients []string
	// ScreenshotURL locates currentScreenshot.png in the watch store.
	ScreenshotURL string
}

// Payload is a composed change notification.
type Payload struct {
	Message  Message  `json:"message"`
	Envelope Envelope `json:"envelope"`
}

// Message is a Slack block-kit message.
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Block is one block-kit block. Only the fields a type uses are set.
type Block struct {
	Type     string       `json:"type"`
	Text     *TextObject  `json:"text,omitempty"`
	Title    *TextObject  `json:"title,omitempty"`
	ImageURL string       `json:"image_url,omitempty"`
	AltText  string       `json:"alt_text,omitempty"`
	Elements []TextObject `json:"elements,omitempty"`
}

// TextObject is a block-kit text object.
type TextObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// Envelope is an outbound mail.
type Envelope struct {
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a mail attachment. Data marshals to base64 in JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// Changed composes the notification for a Changed decision.
func Changed(dec detect.Decision, c Context) (Payload, error) {
	if dec.Kind != detect.Changed {
		return Payload{}, fmt.Errorf("%w: %s", ErrNotChanged, dec.Kind)
	}
	prev := textOf(dec.Previous)
	cur := textOf(dec.Current)
	return Payload{
		Message:  changedMessage(c, prev, cur),
		Envelope: changedEnvelope(c, dec, prev, cur),
	}, nil
}

func changedMessage(c Context, prev, cur string) Message {
	return Message{
		Text: "",
		Blocks: []Block{
			{
				Type: "section",
				Text: &TextObject{
					Type: "mrkdwn",
					Text: fmt.Sprintf(":loudspeaker: Content checker :loudspeaker:\n Page %s changed!", mrkdwn(c.URL)),
				},
			},
			{
				Type: "section",
				Text: &TextObject{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Previous data:* %s\n\n*Current data:* %s", mrkdwn(prev), mrkdwn(cur)),
				},
			},
			{
				Type:     "image",
				Title:    &TextObject{Type: "plain_text", Text: detect.KeyCurrentScreenshot, Emoji: true},
				ImageURL: c.ScreenshotURL,
				AltText:  detect.KeyCurrentScreenshot,
			},
			{Type: "divider"},
			{
				Type:     "context",
				Elements: []TextObject{{Type: "mrkdwn", Text: Footer}},
			},
		},
	}
}

func changedEnvelope(c Context, dec detect.Decision, prev, cur string) Envelope {
	var body strings.Builder
	fmt.Fprintf(&body, "URL: %s\n\n", c.URL)
	if c.Note != "" {
		fmt.Fprintf(&body, "Note: %s\n\n", c.Note)
	}
	fmt.Fprintf(&body, "Previous data: %s\n\nCurrent data: %s", prev, cur)

	return Envelope{
		To:      recipients(c.Recipients),
		Subject: SubjectChanged,
		Text:    body.String(),
		Attachments: []Attachment{
			{Filename: detect.KeyPreviousScreenshot, ContentType: "image/png", Data: dec.Previous.Image},
			{Filename: detect.KeyCurrentScreenshot, ContentType: "image/png", Data: dec.Current.Image},
		},
	}
}

// CaptureFailure composes the error-path mail: the operator message and,
// when one was taken, the full-page screenshot.
func CaptureFailure(c Context, message string, fullPage []byte) Envelope {
	env := Envelope{
		To:      recipients(c.Recipients),
		Subject: SubjectError,
		Text:    fmt.Sprintf("URL: %s\n\n%s", c.URL, message),
	}
	if len(fullPage) > 0 {
		env.Attachments = []Attachment{
			{Filename: detect.KeyFullPageScreenshot, ContentType: "image/png", Data: fullPage},
		}
	}
	return env
}

// textOf renders a slot for humans. A slot without a data record reads "null".
func textOf(s detect.Snapshot) string {
	if s.Text == nil {
		return "null"
	}
	return *s.Text
}

func recipients(to []string) []string {
	return append([]string(nil), to...)
}

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// mrkdwn escapes the three control characters Slack requires escaped.
func mrkdwn(s string) string {
	return mrkdwnEscaper.Replace(s)
}
