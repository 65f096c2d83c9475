// cmd/server/main.go
package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/bootstrap"
	"github.com/unclebandit/pricewatch-mailer/internal/config"
	"github.com/unclebandit/pricewatch-mailer/internal/controller"
	"github.com/unclebandit/pricewatch-mailer/internal/handler"
	"github.com/unclebandit/pricewatch-mailer/internal/logger"
	"github.com/unclebandit/pricewatch-mailer/internal/service"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		ServiceName:   "mailer-server",
		Environment:   cfg.Environment,
		Level:         cfg.LogLevel,
		Format:        cfg.LogFormat,
		IncludeCaller: cfg.LogCaller,
	})
	if err != nil {
		stdlog.Fatalf("failed to build logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start mailer", zap.Error(err))
	}
	defer app.Close()

	// With the in-memory queue the server delivers its own jobs.
	if cfg.QueueDriver == config.QueueMemory {
		if err := service.NewWorker(app.Mail, log).Start(app.Queue, app.Mail.Topic); err != nil {
			log.Fatal("failed to start in-process worker", zap.Error(err))
		}
	}

	verifier, err := app.WebhookVerifier()
	if err != nil {
		log.Fatal("invalid webhook public key", zap.Error(err))
	}
	webhookHandler := handler.NewWebhookHandler(app.WebhookService(ctx), verifier, log)
	adminHandler := handler.NewDeliveryLogHandler(&service.DeliveryLogService{Store: app.Store}, log)
	emailController := &controller.EmailController{Mail: app.Mail, Log: log}

	monitor := service.NewStuckMonitor(app.Store, app.Clock, cfg.StuckPendingAfter, cfg.StuckCheckInterval, app.Metrics, log)
	go monitor.Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Email routes
	r.Post("/emails", emailController.SendEmail)
	r.Post("/emails/preview", emailController.PreviewEmail)

	// Provider webhook
	r.Post("/webhook/provider", webhookHandler.HandleProviderEvents)

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Get("/logs", adminHandler.ListLogsHandler)
		r.Get("/logs/{id}", adminHandler.GetLogHandler)
		r.Get("/stats", adminHandler.StatsHandler)
	})

	r.Handle("/metrics", app.Metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
