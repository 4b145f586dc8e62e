package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/compose"
)

// SMTPConfig addresses the outbound mail server.
type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPMailer sends envelopes over SMTP.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates a mailer for cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send builds the MIME message and delivers it. PLAIN auth is used when a
// user is configured; servers that do not offer AUTH get a second,
// unauthenticated attempt on the same call.
func (m *SMTPMailer) Send(ctx context.Context, env compose.Envelope) error {
	if len(env.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildEmail(m.cfg.From, env)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Server, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Server)
	}
	err = msg.Send(addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = msg.Send(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}

func buildEmail(from string, env compose.Envelope) (*email.Email, error) {
	msg := email.NewEmail()
	msg.From = from
	msg.To = env.To
	msg.Subject = env.Subject
	msg.Text = []byte(env.Text)
	for _, a := range env.Attachments {
		if len(a.Data) == 0 {
			continue
		}
		if _, err := msg.Attach(bytes.NewReader(a.Data), a.Filename, a.ContentType); err != nil {
			return nil, fmt.Errorf("smtp: attach %s: %w", a.Filename, err)
		}
	}
	return msg, nil
}
