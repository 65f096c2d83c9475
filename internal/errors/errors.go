// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStatus         = errors.New("invalid delivery status")
	ErrInvalidCorrelationKey = errors.New("correlation key has neither provider message id nor log id")
	ErrNotAnArray            = errors.New("webhook payload must be a JSON array")
	ErrInvalidSignature      = errors.New("webhook signature verification failed")
	ErrMissingTemplateData   = errors.New("missing template data")
	ErrInvalidRecipient      = errors.New("invalid recipient address")
)

// ErrDeliveryLogNotFound is returned when no delivery log matches a key
type ErrDeliveryLogNotFound struct {
	Key string
}

func (e *ErrDeliveryLogNotFound) Error() string {
	return fmt.Sprintf("delivery log %q not found", e.Key)
}

// Helper constructor
func NewDeliveryLogNotFound(key string) error {
	return &ErrDeliveryLogNotFound{Key: key}
}

// ErrUnknownTemplate is returned by the renderer for unregistered template ids
type ErrUnknownTemplate struct {
	TemplateID string
}

func (e *ErrUnknownTemplate) Error() string {
	return fmt.Sprintf("unknown email template %q", e.TemplateID)
}

func NewUnknownTemplate(id string) error {
	return &ErrUnknownTemplate{TemplateID: id}
}

func IsNotFound(err error) bool {
	var nf *ErrDeliveryLogNotFound
	return errors.As(err, &nf)
}

func IsUnknownTemplate(err error) bool {
	var ut *ErrUnknownTemplate
	return errors.As(err, &ut)
}
