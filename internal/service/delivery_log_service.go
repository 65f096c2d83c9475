package service

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/pricewatch-mailer/internal/errors"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/repository"
)

// DeliveryLogService serves read-only admin queries over the log store.
type DeliveryLogService struct {
	Store repository.LogStore
}

// ListLogs fetches delivery logs with pagination, newest first
func (s *DeliveryLogService) ListLogs(ctx context.Context, filter model.LogFilter) ([]*model.DeliveryLog, model.Pagination, error) {
	filter = filter.Normalize()
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, model.Pagination{}, fmt.Errorf("%w: %q", appErrors.ErrInvalidStatus, filter.Status)
	}

	logs, total, err := s.Store.List(ctx, filter)
	if err != nil {
		return nil, model.Pagination{}, err
	}
	if logs == nil {
		logs = []*model.DeliveryLog{}
	}
	return logs, model.NewPagination(filter, total), nil
}

// GetLog fetches a delivery log by ID
func (s *DeliveryLogService) GetLog(ctx context.Context, id string) (*model.DeliveryLog, error) {
	log, err := s.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if log == nil {
		return nil, appErrors.NewDeliveryLogNotFound(id)
	}
	return log, nil
}

// Stats counts delivery logs per status plus a total.
func (s *DeliveryLogService) Stats(ctx context.Context) (map[string]int, error) {
	counts, err := s.Store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := map[string]int{"total": 0}
	for _, status := range model.Statuses() {
		stats[status.String()] = counts[status]
		stats["total"] += counts[status]
	}
	return stats, nil
}
