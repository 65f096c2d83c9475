package repository

import (
	"context"
	"errors"
	"time"

	"github.com/unclebandit/pricewatch-mailer/internal/model"
)

// ErrProviderMessageIDConflict is returned when a transition tries to attach a
// provider message id that already belongs to another delivery log.
var ErrProviderMessageIDConflict = errors.New("provider message id already assigned to another delivery log")

// LogStore is the durable record of delivery attempts.
//
// Lookups return (nil, nil) when nothing matches. ApplyTransition re-checks the
// priority rule against the stored row as part of the write and reports false
// when the stored status already ranks at or above the proposed one.
type LogStore interface {
	Create(ctx context.Context, log *model.DeliveryLog) error
	GetByID(ctx context.Context, id string) (*model.DeliveryLog, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.DeliveryLog, error)
	ApplyTransition(ctx context.Context, t model.Transition) (bool, error)
	List(ctx context.Context, filter model.LogFilter) ([]*model.DeliveryLog, int, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	CountStuckPending(ctx context.Context, olderThan time.Time) (int, error)
}
