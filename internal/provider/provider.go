package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/config"
)

// LogIDCustomArg is attached to outbound messages so provider events can be
// correlated back to the delivery log even before the provider id is stored.
const LogIDCustomArg = "delivery_log_id"

// Message is one rendered email ready for an outbound provider.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTML     string
	LogID    string
}

// SendResult is what the provider reported on acceptance. MessageID may be
// empty when the provider does not assign one.
type SendResult struct {
	StatusCode int
	MessageID  string
}

// Provider delivers messages to an outbound email service.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// Error is a rejection reported by the provider itself.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s rejected message: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// New builds the provider selected by configuration.
func New(cfg config.Config, log *zap.Logger) (Provider, error) {
	switch cfg.Email.Provider {
	case config.ProviderSendGrid:
		if cfg.SendGrid.APIKey == "" {
			return nil, fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid provider")
		}
		return NewSendGrid(cfg.SendGrid.APIKey, cfg.SendGrid.Host, cfg.Email.SendTimeout), nil
	case config.ProviderSMTP:
		return NewSMTP(SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}), nil
	case config.ProviderLog, "":
		return NewLogProvider(log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}
