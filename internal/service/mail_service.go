// internal/service/mail_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/pricewatch-mailer/internal/errors"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/queue"
)

// MailService is the entry point for sending templated emails. Enqueue hands
// jobs to the queue; Deliver is what the worker runs for each job.
type MailService struct {
	Renderer  *TemplateRenderer
	Submitter *Submitter
	Queue     queue.Queue
	Topic     string
	Log       *zap.Logger
}

func NewMailService(renderer *TemplateRenderer, submitter *Submitter, q queue.Queue, topic string, log *zap.Logger) *MailService {
	if topic == "" {
		topic = queue.TopicEmailSends
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MailService{
		Renderer:  renderer,
		Submitter: submitter,
		Queue:     q,
		Topic:     topic,
		Log:       log.Named("mail"),
	}
}

// Preview renders a template without sending or logging anything.
func (s *MailService) Preview(templateID string, data map[string]any) (model.RenderedEmail, error) {
	return s.Renderer.Render(templateID, data)
}

// Enqueue validates the job by rendering it, then publishes it for delivery.
func (s *MailService) Enqueue(ctx context.Context, job model.SendJob) error {
	to, err := normalizeRecipient(job.To)
	if err != nil {
		return err
	}
	job.To = to

	if _, err := s.Renderer.Render(job.TemplateID, job.Data); err != nil {
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode send job: %w", err)
	}
	if err := s.Queue.Publish(ctx, s.Topic, payload); err != nil {
		return fmt.Errorf("enqueue send job: %w", err)
	}

	s.Log.Debug("send job queued", zap.String("template_id", job.TemplateID), zap.String("recipient", job.To))
	return nil
}

// Deliver renders and submits one job. Render errors are returned; a provider
// failure is reported in the result and recorded on the delivery log.
func (s *MailService) Deliver(ctx context.Context, job model.SendJob) (SubmitResult, error) {
	to, err := normalizeRecipient(job.To)
	if err != nil {
		return SubmitResult{}, err
	}
	email, err := s.Renderer.Render(job.TemplateID, job.Data)
	if err != nil {
		return SubmitResult{}, err
	}
	return s.Submitter.Submit(ctx, email, to), nil
}

func normalizeRecipient(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", appErrors.ErrInvalidRecipient)
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", appErrors.ErrInvalidRecipient, err)
	}
	return strings.ToLower(addr.Address), nil
}
