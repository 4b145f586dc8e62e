// CLAUDE:SUMMARY Delivers composed notifications: message publishers (store record, Slack webhook, fan-out) and SMTP mail; single attempt, no retry.
// Package notify delivers composed notifications. The structured message
// goes to one or more Publishers, the envelope to a Mailer. Every delivery
// is attempted once; failures are reported to the caller, never retried.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/compose"
)

// Publisher delivers the structured chat message.
type Publisher interface {
	Publish(ctx context.Context, msg compose.Message) error
}

// Mailer sends an envelope.
type Mailer interface {
	Send(ctx context.Context, env compose.Envelope) error
}

// ErrNoRecipients is returned by mailers given an envelope without recipients.
var ErrNoRecipients = errors.New("notify: envelope has no recipients")

// Dispatcher routes a payload to its publisher and mailer. Either may be
// nil, which disables that channel.
type Dispatcher struct {
	pub    Publisher
	mail   Mailer
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(pub Publisher, mail Mailer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{pub: pub, mail: mail, logger: logger}
}

// Dispatch publishes the message, then mails the envelope. Both are tried
// even if the first fails; the errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, p compose.Payload) error {
	var errs []error
	if d.pub != nil {
		if err := d.pub.Publish(ctx, p.Message); err != nil {
			errs = append(errs, fmt.Errorf("notify: publish: %w", err))
		}
	}
	if err := d.sendMail(ctx, p.Envelope); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Mail sends env alone (error reports).
func (d *Dispatcher) Mail(ctx context.Context, env compose.Envelope) error {
	return d.sendMail(ctx, env)
}

func (d *Dispatcher) sendMail(ctx context.Context, env compose.Envelope) error {
	if d.mail == nil {
		d.logger.Warn("notify: mail disabled, skipping", "subject", env.Subject)
		return nil
	}
	if len(env.To) == 0 {
		d.logger.Info("notify: no recipients, skipping mail", "subject", env.Subject)
		return nil
	}
	d.logger.Info("notify: sending mail", "subject", env.Subject, "to", len(env.To))
	if err := d.mail.Send(ctx, env); err != nil {
		return fmt.Errorf("notify: mail: %w", err)
	}
	return nil
}
