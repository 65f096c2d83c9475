// Package bootstrap builds the mailer's components from configuration. Both
// the HTTP server and the queue worker start from here so they share one send
// path.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/clock"
	"github.com/unclebandit/pricewatch-mailer/internal/config"
	"github.com/unclebandit/pricewatch-mailer/internal/db"
	"github.com/unclebandit/pricewatch-mailer/internal/dedupe"
	"github.com/unclebandit/pricewatch-mailer/internal/metrics"
	"github.com/unclebandit/pricewatch-mailer/internal/provider"
	"github.com/unclebandit/pricewatch-mailer/internal/queue"
	"github.com/unclebandit/pricewatch-mailer/internal/repository"
	"github.com/unclebandit/pricewatch-mailer/internal/service"
)

type App struct {
	Config     config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Store      repository.LogStore
	Queue      queue.Queue
	Reconciler *service.Reconciler
	Mail       *service.MailService

	closers []func() error
}

// New opens the log store, queue and provider selected by cfg.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := &App{
		Config:  cfg,
		Log:     log,
		Clock:   clock.NewRealClock(),
		Metrics: metrics.New(registry),
	}

	store, err := app.openLogStore(ctx)
	if err != nil {
		return nil, err
	}
	app.Store = store

	q, err := app.openQueue()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Queue = q

	p, err := provider.New(cfg, log)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Reconciler = service.NewReconciler(store, app.Clock, app.Metrics, log)
	submitter := service.NewSubmitter(store, p, app.Reconciler, service.SubmitterConfig{
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
		Timeout:  cfg.Email.SendTimeout,
	}, app.Metrics, log)
	app.Mail = service.NewMailService(service.NewTemplateRenderer(), submitter, q, cfg.AMQPQueue, log)

	log.Info("mailer components ready",
		zap.String("log_store", cfg.LogStore),
		zap.String("queue", cfg.QueueDriver),
		zap.String("provider", p.Name()),
	)
	return app, nil
}

func (a *App) openLogStore(ctx context.Context) (repository.LogStore, error) {
	switch a.Config.LogStore {
	case config.LogStorePostgres:
		conn, err := db.Open(ctx, a.Config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		return repository.NewDeliveryLogRepository(conn, a.Clock), nil
	case config.LogStoreMemory:
		a.Log.Warn("using in-memory delivery log store; logs are lost on restart")
		return repository.NewMemoryLogStore(a.Clock), nil
	default:
		return nil, fmt.Errorf("unknown LOG_STORE %q", a.Config.LogStore)
	}
}

func (a *App) openQueue() (queue.Queue, error) {
	switch a.Config.QueueDriver {
	case config.QueueAMQP:
		q, err := queue.NewAMQPQueue(a.Config.AMQPURL, a.Log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		return q, nil
	case config.QueueMemory:
		return queue.NewInMemoryQueue(a.Log), nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_DRIVER %q", a.Config.QueueDriver)
	}
}

// WebhookService builds webhook ingress with Redis de-duplication when
// REDIS_URL is set, falling back to a process-local store.
func (a *App) WebhookService(ctx context.Context) *service.WebhookService {
	var store dedupe.Store
	if a.Config.RedisURL != "" {
		rs, err := dedupe.NewRedisStoreFromURL(ctx, a.Config.RedisURL, a.Config.DedupeTTL)
		if err != nil {
			a.Log.Warn("redis unavailable, using in-memory webhook dedupe", zap.Error(err))
		} else {
			a.closers = append(a.closers, rs.Close)
			store = rs
		}
	}
	if store == nil {
		store = dedupe.NewMemoryStore(a.Config.DedupeTTL, 0, a.Clock)
	}
	return service.NewWebhookService(a.Reconciler, store, a.Metrics, a.Log)
}

// WebhookVerifier returns nil when no public key is configured.
func (a *App) WebhookVerifier() (provider.WebhookVerifier, error) {
	if a.Config.SendGrid.WebhookPublicKey == "" {
		a.Log.Warn("SENDGRID_WEBHOOK_PUBLIC_KEY not set; webhook requests are not authenticated")
		return nil, nil
	}
	return provider.NewSendGridVerifier(a.Config.SendGrid.WebhookPublicKey)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
