package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/metrics"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/provider"
	"github.com/unclebandit/pricewatch-mailer/internal/repository"
)

const (
	SourceSubmitter = "submitter"

	defaultSendTimeout = 10 * time.Second
)

type SubmitterConfig struct {
	From     string
	FromName string
	Timeout  time.Duration
}

// SubmitResult reports what happened to one send. LogID is empty when the
// write-ahead row could not be created. Err carries the provider error only.
type SubmitResult struct {
	LogID             string
	ProviderMessageID string
	StatusCode        int
	Status            model.Status
	Err               error
}

// Submitter is the single path for sending an email: write-ahead log row,
// provider call, then reconcile to sent or failed.
type Submitter struct {
	store      repository.LogStore
	provider   provider.Provider
	reconciler *Reconciler
	cfg        SubmitterConfig
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewSubmitter(store repository.LogStore, p provider.Provider, reconciler *Reconciler, cfg SubmitterConfig, m *metrics.Metrics, log *zap.Logger) *Submitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{
		store:      store,
		provider:   p,
		reconciler: reconciler,
		cfg:        cfg,
		metrics:    m,
		log:        log.Named("submitter"),
	}
}

// Submit sends email to the recipient. Log store failures are logged and
// counted but never change the outcome of the send.
func (s *Submitter) Submit(ctx context.Context, email model.RenderedEmail, to string) SubmitResult {
	entry := &model.DeliveryLog{
		Recipient:  to,
		Subject:    email.Subject,
		TemplateID: email.TemplateID,
		Status:     model.StatusPending,
	}
	if err := s.store.Create(ctx, entry); err != nil {
		s.metrics.ObserveLogWriteError(metrics.StageCreate)
		s.log.Error("failed to write delivery log, sending anyway",
			zap.String("recipient", to),
			zap.String("template_id", email.TemplateID),
			zap.Error(err),
		)
		entry.ID = ""
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	res, sendErr := s.provider.Send(sendCtx, provider.Message{
		From:     s.cfg.From,
		FromName: s.cfg.FromName,
		To:       to,
		Subject:  email.Subject,
		HTML:     email.HTML,
		LogID:    entry.ID,
	})
	cancel()

	result := SubmitResult{LogID: entry.ID, StatusCode: res.StatusCode}

	if sendErr != nil {
		s.metrics.ObserveSend(metrics.OutcomeFailed)
		s.log.Warn("provider send failed",
			zap.String("provider", s.provider.Name()),
			zap.String("recipient", to),
			zap.String("log_id", entry.ID),
			zap.Error(sendErr),
		)
		result.Status = model.StatusFailed
		result.Err = sendErr
		s.record(ctx, entry.ID, Event{
			Status: model.StatusFailed,
			Error:  sendErr.Error(),
		})
		return result
	}

	messageID := res.MessageID
	if messageID == "" {
		messageID = model.SyntheticMessageIDPrefix + uuid.NewString()
	}
	s.metrics.ObserveSend(metrics.OutcomeSent)
	result.Status = model.StatusSent
	result.ProviderMessageID = messageID
	s.record(ctx, entry.ID, Event{
		Status:            model.StatusSent,
		ProviderMessageID: messageID,
	})
	return result
}

// record reconciles the send outcome onto the write-ahead row.
func (s *Submitter) record(ctx context.Context, logID string, ev Event) {
	if logID == "" {
		return
	}
	ev.Key = CorrelationKey{LogID: logID}
	ev.Source = SourceSubmitter + ":" + s.provider.Name()
	// the outcome is recorded even if the caller has gone away
	if _, err := s.reconciler.Reconcile(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error("failed to record send outcome",
			zap.String("log_id", logID),
			zap.String("status", ev.Status.String()),
			zap.Error(err),
		)
	}
}
