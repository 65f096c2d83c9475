// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/provider"
	"github.com/unclebandit/pricewatch-mailer/internal/service"
)

const maxWebhookBody = 5 << 20

// BatchProcessor is what the webhook handler needs from the ingress service
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, events []json.RawMessage) service.BatchResult
}

// WebhookHandler receives provider delivery event batches
type WebhookHandler struct {
	Service  BatchProcessor
	Verifier provider.WebhookVerifier
	Log      *zap.Logger
}

func NewWebhookHandler(svc BatchProcessor, verifier provider.WebhookVerifier, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{Service: svc, Verifier: verifier, Log: log.Named("webhook_handler")}
}

type webhookResponse struct {
	Success bool `json:"success"`
	service.BatchResult
}

// HandleProviderEvents handles POST /webhook/provider
func (h *WebhookHandler) HandleProviderEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if err := service.VerifyRequest(h.Verifier, body, r.Header); err != nil {
		h.Log.Warn("rejecting webhook with bad signature", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	events, err := service.DecodeBatch(body)
	if err != nil {
		h.Log.Warn("rejecting webhook payload", zap.Error(err))
		writeError(w, http.StatusBadRequest, "payload must be a JSON array of events")
		return
	}

	result := h.Service.ProcessBatch(r.Context(), events)
	if result.StoreUnavailable() {
		writeError(w, http.StatusInternalServerError, "delivery log store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Success: true, BatchResult: result})
}
