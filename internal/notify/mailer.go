package notify

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/opsmenu/opsmenu/internal/model"
)

// SMTPMailer delivers notification records over SMTP.
type SMTPMailer struct {
	host string
	port int
	from string
}

func NewSMTPMailer(cfg model.Notify) *SMTPMailer {
	port := 25
	if cfg.SMTPPort != nil {
		port = *cfg.SMTPPort
	}
	return &SMTPMailer{
		host: cfg.SMTPHost,
		port: port,
		from: cfg.From,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, rec model.NotificationRecord) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("setting sender %q: %w", m.from, err)
	}
	if err := msg.To(rec.Recipients...); err != nil {
		return fmt.Errorf("setting recipients: %w", err)
	}
	msg.Subject(rec.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, rec.Body)

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
