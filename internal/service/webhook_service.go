package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/dedupe"
	appErrors "github.com/unclebandit/pricewatch-mailer/internal/errors"
	"github.com/unclebandit/pricewatch-mailer/internal/metrics"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/provider"
)

const SourceSendGridWebhook = "webhook:sendgrid"

// sendGridEventStatus maps SendGrid event names to delivery statuses.
// Events absent from this table are ignored.
var sendGridEventStatus = map[string]model.Status{
	"processed":  model.StatusSent,
	"delivered":  model.StatusDelivered,
	"bounce":     model.StatusBounced,
	"blocked":    model.StatusBounced,
	"open":       model.StatusOpened,
	"click":      model.StatusClicked,
	"spamreport": model.StatusSpamReported,
}

// MapSendGridEvent returns the delivery status for a SendGrid event name.
func MapSendGridEvent(event string) (model.Status, bool) {
	status, ok := sendGridEventStatus[strings.ToLower(strings.TrimSpace(event))]
	return status, ok
}

// sendGridEvent holds the fields read from one webhook element. The raw
// element is kept separately for metadata.
type sendGridEvent struct {
	Event         string `json:"event"`
	SGMessageID   string `json:"sg_message_id"`
	MessageID     string `json:"message_id"`
	ID            string `json:"id"`
	SGEventID     string `json:"sg_event_id"`
	DeliveryLogID string `json:"delivery_log_id"`
	Reason        string `json:"reason"`
}

// providerMessageID returns the id SendGrid reported at send time.
// sg_message_id is the X-Message-Id followed by ".filter..." suffixes.
func (e sendGridEvent) providerMessageID() string {
	for _, id := range []string{e.SGMessageID, e.MessageID, e.ID} {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		base, _, _ := strings.Cut(id, ".")
		return base
	}
	return ""
}

// BatchResult summarises one webhook delivery. Processed counts every
// element of the array, including skipped and failed ones.
type BatchResult struct {
	Processed    int `json:"processed"`
	Applied      int `json:"applied"`
	Rejected     int `json:"rejected"`
	Unattributed int `json:"unattributed"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`

	attempted int
}

// StoreUnavailable reports whether every event that reached the reconciler
// failed. The provider should retry such a batch.
func (r BatchResult) StoreUnavailable() bool {
	return r.attempted > 0 && r.Failed >= r.attempted
}

type WebhookService struct {
	reconciler *Reconciler
	dedupe     dedupe.Store
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewWebhookService builds the ingress service. store may be nil, which
// disables event de-duplication.
func NewWebhookService(reconciler *Reconciler, store dedupe.Store, m *metrics.Metrics, log *zap.Logger) *WebhookService {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookService{reconciler: reconciler, dedupe: store, metrics: m, log: log.Named("webhook")}
}

// DecodeBatch splits a webhook body into its elements. Anything other than a
// JSON array is rejected with ErrNotAnArray.
func DecodeBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, appErrors.ErrNotAnArray
	}
	var events []json.RawMessage
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrNotAnArray, err)
	}
	return events, nil
}

// ProcessBatch reconciles events in array order. A failure in one event never
// stops the rest of the batch.
func (s *WebhookService) ProcessBatch(ctx context.Context, events []json.RawMessage) BatchResult {
	s.metrics.ObserveWebhookBatch()
	res := BatchResult{Processed: len(events)}
	for i, raw := range events {
		s.processOne(ctx, i, raw, &res)
	}
	s.log.Info("webhook batch processed",
		zap.Int("processed", res.Processed),
		zap.Int("applied", res.Applied),
		zap.Int("rejected", res.Rejected),
		zap.Int("unattributed", res.Unattributed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res
}

func (s *WebhookService) processOne(ctx context.Context, index int, raw json.RawMessage, res *BatchResult) {
	defer func() {
		if p := recover(); p != nil {
			res.Failed++
			s.metrics.ObserveWebhookEvent(metrics.EventFailed)
			s.log.Error("panic while processing webhook event",
				zap.Int("index", index),
				zap.Any("panic", p),
			)
		}
	}()

	var ev sendGridEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.skip(res, metrics.EventMalformed, index, "event is not a valid object", zap.Error(err))
		return
	}
	if strings.TrimSpace(ev.Event) == "" {
		s.skip(res, metrics.EventMalformed, index, "event type missing")
		return
	}
	key := CorrelationKey{
		ProviderMessageID: ev.providerMessageID(),
		LogID:             strings.TrimSpace(ev.DeliveryLogID),
	}
	if key.IsZero() {
		s.skip(res, metrics.EventMalformed, index, "event has no message correlation field", zap.String("event", ev.Event))
		return
	}
	status, ok := MapSendGridEvent(ev.Event)
	if !ok {
		s.skip(res, metrics.EventUnmapped, index, "ignoring unmapped event type", zap.String("event", ev.Event))
		return
	}

	if ev.SGEventID != "" && s.dedupe != nil {
		seen, err := s.dedupe.Seen(ctx, ev.SGEventID)
		if err != nil {
			s.log.Warn("dedupe lookup failed, processing event", zap.String("sg_event_id", ev.SGEventID), zap.Error(err))
		} else if seen {
			s.skip(res, metrics.EventDuplicate, index, "duplicate event", zap.String("sg_event_id", ev.SGEventID))
			return
		}
	}

	s.metrics.ObserveWebhookEvent(metrics.EventMapped)
	res.attempted++
	outcome, err := s.reconciler.Reconcile(ctx, Event{
		Key:               key,
		Status:            status,
		Source:            SourceSendGridWebhook,
		Payload:           raw,
		Error:             ev.Reason,
		ProviderMessageID: key.ProviderMessageID,
	})
	if err != nil {
		res.Failed++
		s.metrics.ObserveWebhookEvent(metrics.EventFailed)
		s.log.Error("failed to reconcile webhook event",
			zap.Int("index", index),
			zap.String("correlation_key", key.String()),
			zap.String("event", ev.Event),
			zap.Error(err),
		)
		return
	}

	switch outcome {
	case OutcomeApplied:
		res.Applied++
	case OutcomeRejected:
		res.Rejected++
	case OutcomeUnattributed:
		// A replay may arrive after the write-ahead row exists.
		res.Unattributed++
		return
	}

	if ev.SGEventID != "" && s.dedupe != nil {
		if err := s.dedupe.Mark(ctx, ev.SGEventID); err != nil {
			s.log.Warn("failed to mark webhook event", zap.String("sg_event_id", ev.SGEventID), zap.Error(err))
		}
	}
}

func (s *WebhookService) skip(res *BatchResult, result string, index int, msg string, fields ...zap.Field) {
	res.Skipped++
	s.metrics.ObserveWebhookEvent(result)
	if result == metrics.EventDuplicate {
		s.log.Debug(msg, append(fields, zap.Int("index", index))...)
		return
	}
	s.log.Warn(msg, append(fields, zap.Int("index", index))...)
}

// VerifyRequest checks the webhook signature when a verifier is configured.
func VerifyRequest(v provider.WebhookVerifier, body []byte, headers http.Header) error {
	if v == nil {
		return nil
	}
	if err := v.Verify(body, headers); err != nil {
		return errors.Join(appErrors.ErrInvalidSignature, err)
	}
	return nil
}
