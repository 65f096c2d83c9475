package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/clock"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/provider"
	"github.com/unclebandit/pricewatch-mailer/internal/repository"
	"github.com/unclebandit/pricewatch-mailer/internal/service"
)

var (
	t0           = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errStoreDown = errors.New("database unavailable")
)

// MockProvider records messages and returns a fixed result
type MockProvider struct {
	mu        sync.Mutex
	MessageID string
	Err       error
	Block     bool
	Sent      []provider.Message
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Send(ctx context.Context, msg provider.Message) (provider.SendResult, error) {
	p.mu.Lock()
	p.Sent = append(p.Sent, msg)
	p.mu.Unlock()

	if p.Block {
		<-ctx.Done()
		return provider.SendResult{}, ctx.Err()
	}
	if p.Err != nil {
		return provider.SendResult{}, p.Err
	}
	return provider.SendResult{StatusCode: 202, MessageID: p.MessageID}, nil
}

func (p *MockProvider) SentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sent)
}

// FlakyStore wraps the memory store and fails selected operations
type FlakyStore struct {
	*repository.MemoryLogStore
	FailCreate bool
	FailLookup bool
	FailApply  bool
	PanicOn    string
}

func (s *FlakyStore) Create(ctx context.Context, log *model.DeliveryLog) error {
	if s.FailCreate {
		return errStoreDown
	}
	return s.MemoryLogStore.Create(ctx, log)
}

func (s *FlakyStore) GetByProviderMessageID(ctx context.Context, id string) (*model.DeliveryLog, error) {
	if s.PanicOn != "" && id == s.PanicOn {
		panic("corrupt row")
	}
	if s.FailLookup {
		return nil, errStoreDown
	}
	return s.MemoryLogStore.GetByProviderMessageID(ctx, id)
}

func (s *FlakyStore) GetByID(ctx context.Context, id string) (*model.DeliveryLog, error) {
	if s.FailLookup {
		return nil, errStoreDown
	}
	return s.MemoryLogStore.GetByID(ctx, id)
}

func (s *FlakyStore) ApplyTransition(ctx context.Context, t model.Transition) (bool, error) {
	if s.FailApply {
		return false, errStoreDown
	}
	return s.MemoryLogStore.ApplyTransition(ctx, t)
}

type fixture struct {
	clock      *clock.MockClock
	store      *FlakyStore
	provider   *MockProvider
	reconciler *service.Reconciler
	submitter  *service.Submitter
	webhook    *service.WebhookService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.NewMockClock(t0)
	store := &FlakyStore{MemoryLogStore: repository.NewMemoryLogStore(c)}
	p := &MockProvider{}
	reconciler := service.NewReconciler(store, c, nil, zap.NewNop())
	return &fixture{
		clock:      c,
		store:      store,
		provider:   p,
		reconciler: reconciler,
		submitter: service.NewSubmitter(store, p, reconciler, service.SubmitterConfig{
			From:    "alerts@pricewatch.local",
			Timeout: time.Second,
		}, nil, zap.NewNop()),
		webhook: service.NewWebhookService(reconciler, nil, nil, zap.NewNop()),
	}
}

// seedLog stores a log with the given status and provider id
func (f *fixture) seedLog(t *testing.T, status model.Status, providerID string) *model.DeliveryLog {
	t.Helper()
	log := &model.DeliveryLog{
		Recipient: "alice@example.com",
		Subject:   "Price drop",
	}
	require.NoError(t, f.store.Create(context.Background(), log))
	if status != model.StatusPending {
		applied, err := f.store.ApplyTransition(context.Background(), model.Transition{
			LogID:             log.ID,
			Status:            status,
			ProviderMessageID: providerID,
		})
		require.NoError(t, err)
		require.True(t, applied)
	}
	return f.get(t, log.ID)
}

func (f *fixture) get(t *testing.T, id string) *model.DeliveryLog {
	t.Helper()
	log, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, log)
	return log
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	_, total, err := f.store.List(context.Background(), model.LogFilter{})
	require.NoError(t, err)
	return total
}
