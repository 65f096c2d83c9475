package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/config"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/queue"
	"github.com/unclebandit/pricewatch-mailer/internal/repository"
	"github.com/unclebandit/pricewatch-mailer/internal/service"
)

func memoryConfig() config.Config {
	return config.Config{
		LogStore:    config.LogStoreMemory,
		QueueDriver: config.QueueMemory,
		AMQPQueue:   queue.TopicEmailSends,
		Email: config.EmailConfig{
			Provider:    config.ProviderLog,
			From:        "alerts@pricewatch.local",
			SendTimeout: time.Second,
		},
		DedupeTTL: time.Hour,
	}
}

func TestNewWithMemoryComponents(t *testing.T) {
	app, err := New(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.IsType(t, &repository.MemoryLogStore{}, app.Store)
	assert.IsType(t, &queue.InMemoryQueue{}, app.Queue)

	res, err := app.Mail.Deliver(context.Background(), model.SendJob{
		TemplateID: service.TemplateWelcome,
		To:         "alice@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	log, err := app.Store.GetByID(context.Background(), res.LogID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, log.Status)

	verifier, err := app.WebhookVerifier()
	require.NoError(t, err)
	assert.Nil(t, verifier)
	assert.NotNil(t, app.WebhookService(context.Background()))
}

func TestNewRejectsUnknownDrivers(t *testing.T) {
	cfg := memoryConfig()
	cfg.LogStore = "mongo"
	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.QueueDriver = "kafka"
	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.LogStore = config.LogStorePostgres
	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err, "postgres without DATABASE_URL")
}
