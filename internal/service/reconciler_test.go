package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/pricewatch-mailer/internal/errors"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/service"
)

func byProvider(id string) service.CorrelationKey {
	return service.CorrelationKey{ProviderMessageID: id}
}

func TestReconcilePendingIsAlwaysOverwritten(t *testing.T) {
	for _, status := range model.Statuses()[1:] {
		t.Run(status.String(), func(t *testing.T) {
			f := newFixture(t)
			log := f.seedLog(t, model.StatusPending, "")

			outcome, err := f.reconciler.Reconcile(context.Background(), service.Event{
				Key:    service.CorrelationKey{LogID: log.ID},
				Status: status,
			})
			require.NoError(t, err)
			assert.Equal(t, service.OutcomeApplied, outcome)
			assert.Equal(t, status, f.get(t, log.ID).Status)
		})
	}
}

func TestReconcileAppliesHigherPriorityWithMetadata(t *testing.T) {
	f := newFixture(t)
	log := f.seedLog(t, model.StatusSent, "MSG1")

	f.clock.Advance(time.Minute)
	payload := json.RawMessage(`{"event":"delivered","sg_message_id":"MSG1.filter0"}`)
	outcome, err := f.reconciler.Reconcile(context.Background(), service.Event{
		Key:     byProvider("MSG1"),
		Status:  model.StatusDelivered,
		Source:  service.SourceSendGridWebhook,
		Payload: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeApplied, outcome)

	got := f.get(t, log.ID)
	assert.Equal(t, model.StatusDelivered, got.Status)
	assert.Equal(t, t0.Add(time.Minute), got.UpdatedAt)
	require.Len(t, got.Metadata, 2)
	last := got.Metadata[1]
	assert.Equal(t, service.SourceSendGridWebhook, last.Source)
	assert.Equal(t, model.StatusDelivered, last.Status)
	assert.JSONEq(t, string(payload), string(last.Payload))
	assert.Equal(t, t0.Add(time.Minute), last.RecordedAt)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	log := f.seedLog(t, model.StatusSent, "MSG1")
	ev := service.Event{Key: byProvider("MSG1"), Status: model.StatusDelivered}

	first, err := f.reconciler.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	before := f.get(t, log.ID)

	f.clock.Advance(time.Hour)
	second, err := f.reconciler.Reconcile(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, service.OutcomeApplied, first)
	assert.Equal(t, service.OutcomeRejected, second)
	assert.Equal(t, before, f.get(t, log.ID), "second application must not change the row")
}

func TestReconcileNeverDowngrades(t *testing.T) {
	statuses := model.Statuses()
	for i := 1; i < len(statuses); i++ {
		current := statuses[i]
		for _, proposed := range statuses[1 : i+1] {
			t.Run(current.String()+"<-"+proposed.String(), func(t *testing.T) {
				f := newFixture(t)
				log := f.seedLog(t, current, "MSG1")

				outcome, err := f.reconciler.Reconcile(context.Background(), service.Event{
					Key:    byProvider("MSG1"),
					Status: proposed,
				})
				require.NoError(t, err)
				assert.Equal(t, service.OutcomeRejected, outcome)

				got := f.get(t, log.ID)
				assert.Equal(t, current, got.Status)
				assert.Len(t, got.Metadata, 1)
			})
		}
	}
}

func TestReconcileLateBounceKeepsDelivered(t *testing.T) {
	f := newFixture(t)
	log := f.seedLog(t, model.StatusDelivered, "MSG1")

	outcome, err := f.reconciler.Reconcile(context.Background(), service.Event{
		Key:    byProvider("MSG1"),
		Status: model.StatusBounced,
	})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeRejected, outcome)
	assert.Equal(t, model.StatusDelivered, f.get(t, log.ID).Status)
}

func TestReconcileUnknownKeyIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seedLog(t, model.StatusSent, "MSG1")

	outcome, err := f.reconciler.Reconcile(context.Background(), service.Event{
		Key:    service.CorrelationKey{ProviderMessageID: "NOPE", LogID: "00000000-0000-0000-0000-000000000000"},
		Status: model.StatusDelivered,
	})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeUnattributed, outcome)
	assert.Equal(t, 1, f.count(t), "no row is created for an unknown key")
}

func TestReconcileFallsBackToLogID(t *testing.T) {
	f := newFixture(t)
	log := f.seedLog(t, model.StatusPending, "")

	outcome, err := f.reconciler.Reconcile(context.Background(), service.Event{
		Key:               service.CorrelationKey{ProviderMessageID: "MSG9", LogID: log.ID},
		Status:            model.StatusDelivered,
		ProviderMessageID: "MSG9",
	})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeApplied, outcome)

	got := f.get(t, log.ID)
	assert.Equal(t, model.StatusDelivered, got.Status)
	assert.Equal(t, "MSG9", got.ProviderMessageID)
}

func TestReconcileKeepsFirstProviderMessageID(t *testing.T) {
	f := newFixture(t)
	log := f.seedLog(t, model.StatusSent, "MSG1")

	_, err := f.reconciler.Reconcile(context.Background(), service.Event{
		Key:               service.CorrelationKey{LogID: log.ID},
		Status:            model.StatusOpened,
		ProviderMessageID: "OTHER",
	})
	require.NoError(t, err)
	assert.Equal(t, "MSG1", f.get(t, log.ID).ProviderMessageID)
}

func TestReconcileRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	log := f.seedLog(t, model.StatusPending, "")

	_, err := f.reconciler.Reconcile(context.Background(), service.Event{
		Key:    service.CorrelationKey{LogID: log.ID},
		Status: model.StatusPending,
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidStatus)

	_, err = f.reconciler.Reconcile(context.Background(), service.Event{
		Key:    service.CorrelationKey{LogID: log.ID},
		Status: "deferred",
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidStatus)

	_, err = f.reconciler.Reconcile(context.Background(), service.Event{Status: model.StatusSent})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCorrelationKey)

	assert.Equal(t, model.StatusPending, f.get(t, log.ID).Status)
}

func TestReconcileReturnsStoreErrors(t *testing.T) {
	f := newFixture(t)
	f.seedLog(t, model.StatusSent, "MSG1")

	f.store.FailLookup = true
	_, err := f.reconciler.Reconcile(context.Background(), service.Event{Key: byProvider("MSG1"), Status: model.StatusDelivered})
	assert.ErrorIs(t, err, errStoreDown)

	f.store.FailLookup = false
	f.store.FailApply = true
	_, err = f.reconciler.Reconcile(context.Background(), service.Event{Key: byProvider("MSG1"), Status: model.StatusDelivered})
	assert.ErrorIs(t, err, errStoreDown)
}

// permutations returns every ordering of items, duplicates included.
func permutations(items []model.Status) [][]model.Status {
	if len(items) <= 1 {
		return [][]model.Status{append([]model.Status(nil), items...)}
	}
	var out [][]model.Status
	for i := range items {
		rest := make([]model.Status, 0, len(items)-1)
		rest = append(rest, items[:i]...)
		rest = append(rest, items[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.Status{items[i]}, p...))
		}
	}
	return out
}

func TestReconcileConvergesForEveryArrivalOrder(t *testing.T) {
	events := []model.Status{
		model.StatusSent,
		model.StatusDelivered,
		model.StatusDelivered,
		model.StatusBounced,
		model.StatusOpened,
		model.StatusSpamReported,
	}

	orders := permutations(events)
	require.Len(t, orders, 720)

	for _, order := range orders {
		f := newFixture(t)
		log := f.seedLog(t, model.StatusPending, "")
		for _, status := range order {
			_, err := f.reconciler.Reconcile(context.Background(), service.Event{
				Key:    service.CorrelationKey{LogID: log.ID},
				Status: status,
			})
			require.NoError(t, err)
		}
		require.Equal(t, model.StatusOpened, f.get(t, log.ID).Status, "order %v", order)
	}
}

func TestReconcileConcurrentEventsConverge(t *testing.T) {
	f := newFixture(t)
	log := f.seedLog(t, model.StatusSent, "MSG1")
	seeded := len(log.Metadata)

	var statuses []model.Status
	for _, s := range model.Statuses() {
		if s != model.StatusPending {
			statuses = append(statuses, s, s, s)
		}
	}
	require.Len(t, statuses, 21)

	start := make(chan struct{})
	errs := make(chan error, len(statuses))
	var wg sync.WaitGroup
	for _, status := range statuses {
		wg.Add(1)
		go func(status model.Status) {
			defer wg.Done()
			<-start
			_, err := f.reconciler.Reconcile(context.Background(), service.Event{
				Key:    byProvider("MSG1"),
				Status: status,
				Source: "test",
			})
			errs <- err
		}(status)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := f.get(t, log.ID)
	assert.Equal(t, model.StatusClicked, got.Status)

	applied := got.Metadata[seeded:]
	require.NotEmpty(t, applied)
	last := model.StatusSent.Priority()
	for _, entry := range applied {
		assert.Greater(t, entry.Status.Priority(), last, "metadata %v", applied)
		last = entry.Status.Priority()
	}
	assert.Equal(t, model.StatusClicked, applied[len(applied)-1].Status)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "applied", service.OutcomeApplied.String())
	assert.Equal(t, "rejected", service.OutcomeRejected.String())
	assert.Equal(t, "unattributed", service.OutcomeUnattributed.String())
}
