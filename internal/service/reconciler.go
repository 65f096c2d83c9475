package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/clock"
	appErrors "github.com/unclebandit/pricewatch-mailer/internal/errors"
	"github.com/unclebandit/pricewatch-mailer/internal/metrics"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/repository"
)

// CorrelationKey identifies the delivery log an event refers to. The provider
// message id is preferred; LogID is used when the provider id is not stored
// yet.
type CorrelationKey struct {
	ProviderMessageID string
	LogID             string
}

func (k CorrelationKey) IsZero() bool {
	return k.ProviderMessageID == "" && k.LogID == ""
}

func (k CorrelationKey) String() string {
	if k.ProviderMessageID != "" {
		return k.ProviderMessageID
	}
	return k.LogID
}

// Event is a proposed status change for one delivery log.
type Event struct {
	Key    CorrelationKey
	Status model.Status
	Source string
	// Payload is stored verbatim in the log's metadata when applied.
	Payload json.RawMessage
	Error   string
	// ProviderMessageID is attached to the log if it has none yet.
	ProviderMessageID string
}

type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeRejected
	OutcomeUnattributed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return metrics.TransitionApplied
	case OutcomeRejected:
		return metrics.TransitionRejected
	case OutcomeUnattributed:
		return metrics.TransitionUnattributed
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reconciler applies status events to delivery logs under the priority rule.
// Both the submitter and webhook ingress go through it.
type Reconciler struct {
	store   repository.LogStore
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewReconciler(store repository.LogStore, c clock.Clock, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	if c == nil {
		c = clock.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: store, clock: c, metrics: m, log: log.Named("reconciler")}
}

// Reconcile looks up the log for ev.Key and applies ev.Status when it ranks
// above the stored status, or when the stored status is pending. Unknown keys
// and lower or equal statuses are not errors. Only store failures and invalid
// input are returned as errors.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (Outcome, error) {
	if !ev.Status.Valid() || ev.Status == model.StatusPending {
		return OutcomeRejected, fmt.Errorf("%w: %q", appErrors.ErrInvalidStatus, ev.Status)
	}
	if ev.Key.IsZero() {
		return OutcomeRejected, appErrors.ErrInvalidCorrelationKey
	}

	current, err := r.lookup(ctx, ev.Key)
	if err != nil {
		r.metrics.ObserveLogWriteError(metrics.StageReconcile)
		return OutcomeRejected, fmt.Errorf("lookup delivery log %s: %w", ev.Key, err)
	}
	if current == nil {
		r.log.Warn("event cannot be attributed to a delivery log",
			zap.String("provider_message_id", ev.Key.ProviderMessageID),
			zap.String("log_id", ev.Key.LogID),
			zap.String("status", ev.Status.String()),
			zap.String("source", ev.Source),
		)
		r.metrics.ObserveTransition(ev.Status.String(), metrics.TransitionUnattributed)
		return OutcomeUnattributed, nil
	}

	if !current.Status.CanTransitionTo(ev.Status) {
		r.reject(current, ev)
		return OutcomeRejected, nil
	}

	now := r.clock.Now()
	applied, err := r.store.ApplyTransition(ctx, model.Transition{
		LogID:             current.ID,
		Status:            ev.Status,
		ProviderMessageID: ev.ProviderMessageID,
		At:                now,
		Entry: model.MetadataEntry{
			Source:     ev.Source,
			Status:     ev.Status,
			Payload:    ev.Payload,
			Error:      ev.Error,
			RecordedAt: now,
		},
	})
	if err != nil {
		r.metrics.ObserveLogWriteError(metrics.StageReconcile)
		return OutcomeRejected, fmt.Errorf("apply %s to delivery log %s: %w", ev.Status, current.ID, err)
	}
	if !applied {
		// another writer moved the row first
		r.reject(current, ev)
		return OutcomeRejected, nil
	}

	r.log.Debug("status transition applied",
		zap.String("log_id", current.ID),
		zap.String("from", current.Status.String()),
		zap.String("to", ev.Status.String()),
		zap.String("source", ev.Source),
	)
	r.metrics.ObserveTransition(ev.Status.String(), metrics.TransitionApplied)
	return OutcomeApplied, nil
}

func (r *Reconciler) lookup(ctx context.Context, key CorrelationKey) (*model.DeliveryLog, error) {
	if key.ProviderMessageID != "" {
		found, err := r.store.GetByProviderMessageID(ctx, key.ProviderMessageID)
		if err != nil || found != nil {
			return found, err
		}
	}
	if key.LogID != "" {
		return r.store.GetByID(ctx, key.LogID)
	}
	return nil, nil
}

func (r *Reconciler) reject(current *model.DeliveryLog, ev Event) {
	r.log.Debug("status transition rejected",
		zap.String("log_id", current.ID),
		zap.String("current", current.Status.String()),
		zap.String("proposed", ev.Status.String()),
		zap.String("source", ev.Source),
	)
	r.metrics.ObserveTransition(ev.Status.String(), metrics.TransitionRejected)
}
