// internal/controller/email_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/pricewatch-mailer/internal/errors"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
)

// Mailer is the part of the mail service the controller uses
type Mailer interface {
	Preview(templateID string, data map[string]any) (model.RenderedEmail, error)
	Enqueue(ctx context.Context, job model.SendJob) error
}

type EmailController struct {
	Mail Mailer
	Log  *zap.Logger
}

// SendEmail handles POST /emails. The email is queued and delivered
// asynchronously.
func (c *EmailController) SendEmail(w http.ResponseWriter, r *http.Request) {
	var body model.SendJob
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.Mail.Enqueue(r.Context(), body); err != nil {
		if isClientError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.logger().Error("failed to queue email", zap.String("template_id", body.TemplateID), zap.Error(err))
		http.Error(w, "failed to queue email", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "queued",
		"template_id": body.TemplateID,
		"to":          body.To,
	})
}

// PreviewEmail handles POST /emails/preview. Nothing is sent or logged.
func (c *EmailController) PreviewEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TemplateID string         `json:"template_id"`
		Data       map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.Mail.Preview(body.TemplateID, body.Data)
	if err != nil {
		if isClientError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rendered)
}

func (c *EmailController) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func isClientError(err error) bool {
	return appErrors.IsUnknownTemplate(err) ||
		errors.Is(err, appErrors.ErrMissingTemplateData) ||
		errors.Is(err, appErrors.ErrInvalidRecipient)
}
