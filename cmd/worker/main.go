package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/bootstrap"
	"github.com/unclebandit/pricewatch-mailer/internal/config"
	"github.com/unclebandit/pricewatch-mailer/internal/logger"
	"github.com/unclebandit/pricewatch-mailer/internal/service"
)

func main() {
	cfg := config.Load()
	// The worker only makes sense against a shared broker.
	cfg.QueueDriver = config.QueueAMQP

	log, err := logger.New(logger.Config{
		ServiceName:   "mailer-worker",
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
		log.Fatal("failed to start worker", zap.Error(err))
	}
	defer app.Close()

	worker := service.NewWorker(app.Mail, log)
	if err := worker.Start(app.Queue, app.Mail.Topic); err != nil {
		log.Fatal("failed to register consumer", zap.Error(err))
	}

	log.Info("worker running, waiting for messages", zap.String("queue", app.Mail.Topic))
	<-ctx.Done()
	log.Info("worker stopping")
}
