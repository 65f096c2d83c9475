package provider

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go/helpers/eventwebhook"
)

const (
	SignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	TimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// WebhookVerifier checks that a webhook body came from the provider.
type WebhookVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

// SendGridVerifier validates SendGrid's signed event webhook (ECDSA over
// timestamp + raw body).
type SendGridVerifier struct {
	publicKey *ecdsa.PublicKey
}

// NewSendGridVerifier parses the base64 public key shown in the SendGrid
// console.
func NewSendGridVerifier(base64PublicKey string) (*SendGridVerifier, error) {
	key, err := eventwebhook.ConvertPublicKeyBase64ToECDSA(strings.TrimSpace(base64PublicKey))
	if err != nil {
		return nil, fmt.Errorf("parse sendgrid webhook public key: %w", err)
	}
	return &SendGridVerifier{publicKey: key}, nil
}

func (v *SendGridVerifier) Verify(payload []byte, headers http.Header) error {
	signature := headers.Get(SignatureHeader)
	timestamp := headers.Get(TimestampHeader)
	if signature == "" || timestamp == "" {
		return fmt.Errorf("missing %s or %s header", SignatureHeader, TimestampHeader)
	}
	ok, err := eventwebhook.VerifySignature(v.publicKey, payload, signature, timestamp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("signature does not match payload")
	}
	return nil
}

var _ WebhookVerifier = (*SendGridVerifier)(nil)
