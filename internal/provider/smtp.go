package provider

import (
	"context"
	"crypto/tls"

	mail "gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPProvider relays through an SMTP server. SMTP does not hand back a
// message id, so results never carry one.
type SMTPProvider struct {
	cfg    SMTPConfig
	dialer *mail.Dialer
}

func NewSMTP(cfg SMTPConfig) *SMTPProvider {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &SMTPProvider{cfg: cfg, dialer: d}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	m := mail.NewMessage()
	m.SetAddressHeader("From", msg.From, msg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.LogID != "" {
		m.SetHeader("X-Delivery-Log-Id", msg.LogID)
	}
	m.SetBody("text/html", msg.HTML)

	// gomail has no context support; the dial runs in its own goroutine and
	// is abandoned when ctx ends first.
	done := make(chan error, 1)
	go func() {
		done <- p.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return SendResult{}, err
		}
		return SendResult{StatusCode: 250}, nil
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	}
}

var _ Provider = (*SMTPProvider)(nil)
