package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/pricewatch-mailer/internal/clock"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/repository"
)

var epoch = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func newStore() (*repository.MemoryLogStore, *clock.MockClock) {
	clk := clock.NewMockClock(epoch)
	return repository.NewMemoryLogStore(clk), clk
}

func TestCreateAssignsDefaults(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	log := &model.DeliveryLog{Recipient: "a@example.com", Subject: "hi"}
	require.NoError(t, store.Create(ctx, log))

	assert.NotEmpty(t, log.ID)
	assert.Equal(t, model.StatusPending, log.Status)
	assert.Equal(t, epoch, log.CreatedAt)
	assert.Equal(t, epoch, log.UpdatedAt)

	got, err := store.GetByID(ctx, log.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@example.com", got.Recipient)

	missing, err := store.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestApplyTransitionGuardsPriority(t *testing.T) {
	store, clk := newStore()
	ctx := context.Background()

	log := &model.DeliveryLog{Recipient: "a@example.com", Subject: "hi"}
	require.NoError(t, store.Create(ctx, log))

	clk.Advance(time.Minute)
	ok, err := store.ApplyTransition(ctx, model.Transition{
		LogID:             log.ID,
		Status:            model.StatusDelivered,
		ProviderMessageID: "MSG1",
		Entry:             model.MetadataEntry{Source: "test", Status: model.StatusDelivered},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ApplyTransition(ctx, model.Transition{
		LogID:             log.ID,
		Status:            model.StatusBounced,
		ProviderMessageID: "MSG2",
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetByProviderMessageID(ctx, "MSG1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusDelivered, got.Status)
	assert.Equal(t, epoch.Add(time.Minute), got.UpdatedAt)
	assert.Len(t, got.Metadata, 1)

	none, err := store.GetByProviderMessageID(ctx, "MSG2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestApplyTransitionNeverOverwritesProviderMessageID(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	log := &model.DeliveryLog{Recipient: "a@example.com", Subject: "hi", ProviderMessageID: "MSG1"}
	require.NoError(t, store.Create(ctx, log))

	ok, err := store.ApplyTransition(ctx, model.Transition{LogID: log.ID, Status: model.StatusSent, ProviderMessageID: "MSG9"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := store.GetByID(ctx, log.ID)
	assert.Equal(t, "MSG1", got.ProviderMessageID)
}

func TestApplyTransitionProviderIDConflict(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	first := &model.DeliveryLog{Recipient: "a@example.com", Subject: "one", ProviderMessageID: "MSG1"}
	second := &model.DeliveryLog{Recipient: "a@example.com", Subject: "two"}
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	_, err := store.ApplyTransition(ctx, model.Transition{LogID: second.ID, Status: model.StatusSent, ProviderMessageID: "MSG1"})
	assert.ErrorIs(t, err, repository.ErrProviderMessageIDConflict)
}

func TestApplyTransitionRejectsPendingTarget(t *testing.T) {
	store, _ := newStore()
	_, err := store.ApplyTransition(context.Background(), model.Transition{LogID: "x", Status: model.StatusPending})
	assert.Error(t, err)
}

func TestReturnedLogsAreCopies(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	log := &model.DeliveryLog{Recipient: "a@example.com", Subject: "hi"}
	require.NoError(t, store.Create(ctx, log))

	got, _ := store.GetByID(ctx, log.ID)
	got.Status = model.StatusClicked

	again, _ := store.GetByID(ctx, log.ID)
	assert.Equal(t, model.StatusPending, again.Status)
}

func TestListPaginationAndFilters(t *testing.T) {
	store, clk := newStore()
	ctx := context.Background()

	total := 25
	for i := 1; i <= total; i++ {
		clk.Advance(time.Second)
		require.NoError(t, store.Create(ctx, &model.DeliveryLog{
			Recipient: "alice@example.com",
			Subject:   fmt.Sprintf("alert %d", i),
		}))
	}
	require.NoError(t, store.Create(ctx, &model.DeliveryLog{Recipient: "bob@example.com", Subject: "other"}))

	seen := map[string]bool{}
	var previous time.Time
	for page := 1; page <= 3; page++ {
		logs, count, err := store.List(ctx, model.LogFilter{Recipient: "alice@example.com", Page: page, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, total, count)
		for _, l := range logs {
			assert.False(t, seen[l.ID], "duplicate log %s across pages", l.ID)
			seen[l.ID] = true
			assert.Equal(t, "alice@example.com", l.Recipient)
			if !previous.IsZero() {
				assert.False(t, l.CreatedAt.After(previous), "logs must be newest first")
			}
			previous = l.CreatedAt
		}
	}
	assert.Len(t, seen, total)

	logs, count, err := store.List(ctx, model.LogFilter{Status: model.StatusSent})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, logs)

	logs, _, err = store.List(ctx, model.LogFilter{Page: 50, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestCountByStatusAndStuckPending(t *testing.T) {
	store, clk := newStore()
	ctx := context.Background()

	old := &model.DeliveryLog{Recipient: "a@example.com", Subject: "old"}
	require.NoError(t, store.Create(ctx, old))
	clk.Advance(time.Hour)
	fresh := &model.DeliveryLog{Recipient: "a@example.com", Subject: "fresh"}
	require.NoError(t, store.Create(ctx, fresh))
	sent := &model.DeliveryLog{Recipient: "a@example.com", Subject: "sent"}
	require.NoError(t, store.Create(ctx, sent))
	_, err := store.ApplyTransition(ctx, model.Transition{LogID: sent.ID, Status: model.StatusSent})
	require.NoError(t, err)

	stats, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[model.StatusPending])
	assert.Equal(t, 1, stats[model.StatusSent])
	assert.Equal(t, 0, stats[model.StatusClicked])

	stuck, err := store.CountStuckPending(ctx, clk.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stuck)
}
