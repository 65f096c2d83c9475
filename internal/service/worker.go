package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/provider"
	"github.com/unclebandit/pricewatch-mailer/internal/queue"
)

// Deliverer defines what the worker needs to send a job
type Deliverer interface {
	Deliver(ctx context.Context, job model.SendJob) (SubmitResult, error)
}

// Worker processes queued send jobs
type Worker struct {
	Mail Deliverer
	Log  *zap.Logger
}

// Constructor
func NewWorker(mail Deliverer, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{Mail: mail, Log: log.Named("worker")}
}

// Start subscribes the worker to topic on q
func (w *Worker) Start(q queue.Queue, topic string) error {
	return q.Subscribe(topic, w.Handle)
}

// Handle processes one job payload. It returns an error only when a retry
// might succeed; bad payloads and provider rejections are dropped after
// logging.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var job model.SendJob
	if err := json.Unmarshal(payload, &job); err != nil {
		w.Log.Error("dropping undecodable send job", zap.Error(err))
		return nil
	}

	res, err := w.Mail.Deliver(ctx, job)
	if err != nil {
		w.Log.Error("dropping send job",
			zap.String("template_id", job.TemplateID),
			zap.String("recipient", job.To),
			zap.Error(err),
		)
		return nil
	}
	if res.Err == nil {
		w.Log.Info("email sent",
			zap.String("log_id", res.LogID),
			zap.String("provider_message_id", res.ProviderMessageID),
		)
		return nil
	}

	if permanent(res.Err) {
		w.Log.Warn("provider rejected email", zap.String("log_id", res.LogID), zap.Error(res.Err))
		return nil
	}
	return res.Err
}

// permanent reports whether a send error is a client-side rejection that
// retrying will not fix.
func permanent(err error) bool {
	var perr *provider.Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.StatusCode >= http.StatusBadRequest &&
		perr.StatusCode < http.StatusInternalServerError &&
		perr.StatusCode != http.StatusTooManyRequests
}
