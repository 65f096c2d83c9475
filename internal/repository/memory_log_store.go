package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/pricewatch-mailer/internal/clock"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
)

// MemoryLogStore keeps delivery logs in process memory. It is used by tests
// and when the service runs without a database.
type MemoryLogStore struct {
	mu         sync.Mutex
	clock      clock.Clock
	logs       map[string]*model.DeliveryLog
	byProvider map[string]string
}

func NewMemoryLogStore(c clock.Clock) *MemoryLogStore {
	if c == nil {
		c = clock.NewRealClock()
	}
	return &MemoryLogStore{
		clock:      c,
		logs:       make(map[string]*model.DeliveryLog),
		byProvider: make(map[string]string),
	}
}

func (s *MemoryLogStore) Create(_ context.Context, log *model.DeliveryLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Status == "" {
		log.Status = model.StatusPending
	}
	if !log.Status.Valid() {
		return fmt.Errorf("create delivery log: unknown status %q", log.Status)
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.clock.Now()
	}
	if log.UpdatedAt.IsZero() {
		log.UpdatedAt = log.CreatedAt
	}
	if log.Metadata == nil {
		log.Metadata = []model.MetadataEntry{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.logs[log.ID]; exists {
		return fmt.Errorf("delivery log %s already exists", log.ID)
	}
	if log.ProviderMessageID != "" {
		if _, taken := s.byProvider[log.ProviderMessageID]; taken {
			return ErrProviderMessageIDConflict
		}
		s.byProvider[log.ProviderMessageID] = log.ID
	}
	s.logs[log.ID] = cloneLog(log)
	return nil
}

func (s *MemoryLogStore) GetByID(_ context.Context, id string) (*model.DeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[id]; ok {
		return cloneLog(log), nil
	}
	return nil, nil
}

func (s *MemoryLogStore) GetByProviderMessageID(_ context.Context, providerMessageID string) (*model.DeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byProvider[providerMessageID]
	if !ok {
		return nil, nil
	}
	return cloneLog(s.logs[id]), nil
}

func (s *MemoryLogStore) ApplyTransition(_ context.Context, t model.Transition) (bool, error) {
	if !t.Status.Valid() || t.Status == model.StatusPending {
		return false, fmt.Errorf("apply transition: invalid target status %q", t.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[t.LogID]
	if !ok || !log.Status.CanTransitionTo(t.Status) {
		return false, nil
	}

	if t.ProviderMessageID != "" && log.ProviderMessageID == "" {
		if owner, taken := s.byProvider[t.ProviderMessageID]; taken && owner != log.ID {
			return false, ErrProviderMessageIDConflict
		}
		log.ProviderMessageID = t.ProviderMessageID
		s.byProvider[t.ProviderMessageID] = log.ID
	}

	at := t.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	log.Status = t.Status
	log.Metadata = append(log.Metadata, t.Entry)
	log.UpdatedAt = at
	return true, nil
}

func (s *MemoryLogStore) List(_ context.Context, filter model.LogFilter) ([]*model.DeliveryLog, int, error) {
	filter = filter.Normalize()

	s.mu.Lock()
	matched := make([]*model.DeliveryLog, 0, len(s.logs))
	for _, log := range s.logs {
		if filter.Recipient != "" && log.Recipient != filter.Recipient {
			continue
		}
		if filter.Status != "" && log.Status != filter.Status {
			continue
		}
		matched = append(matched, cloneLog(log))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Offset()
	if start > total {
		return []*model.DeliveryLog{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryLogStore) CountByStatus(_ context.Context) (map[model.Status]int, error) {
	stats := make(map[model.Status]int, len(model.Statuses()))
	for _, st := range model.Statuses() {
		stats[st] = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, log := range s.logs {
		stats[log.Status]++
	}
	return stats, nil
}

func (s *MemoryLogStore) CountStuckPending(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, log := range s.logs {
		if log.Status == model.StatusPending && log.CreatedAt.Before(olderThan) {
			count++
		}
	}
	return count, nil
}

func cloneLog(log *model.DeliveryLog) *model.DeliveryLog {
	c := *log
	c.Metadata = make([]model.MetadataEntry, len(log.Metadata))
	copy(c.Metadata, log.Metadata)
	return &c
}

var _ LogStore = (*MemoryLogStore)(nil)
