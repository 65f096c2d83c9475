//cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/config"
	"github.com/unclebandit/pricewatch-mailer/internal/db"
	"github.com/unclebandit/pricewatch-mailer/internal/logger"
)

func main() {
	schemaOnly := flag.Bool("schema-only", false, "apply db/schema.sql without demo rows")
	flag.Parse()

	cfg := config.Load()
	log, err := logger.New(logger.Config{
		ServiceName: "mailer-seeder",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Format:      "console",
	})
	if err != nil {
		stdlog.Fatalf("failed to build logger: %v", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	files := []string{"db/schema.sql"}
	if !*schemaOnly {
		files = append(files, "seed/delivery_logs.sql")
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal("failed to read sql file", zap.String("file", file), zap.Error(err))
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal("failed to execute sql file", zap.String("file", file), zap.Error(err))
		}
		log.Info("applied", zap.String("file", file))
	}

	log.Info("database seeding completed")
}
