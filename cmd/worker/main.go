// Worker runs the background jobs that do not need to sit behind the HTTP API:
//   - telemetry: consumes recovery events from Kafka and pushes them to Loki
//     (KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID, LOKI_URL).
//   - sweeper: deletes expired verification code records when STORE_BACKEND=postgres (DATABASE_URL).
//
// Each job starts only when its settings are present; at least one must be.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"orphan-recovery/internal/config"
	"orphan-recovery/internal/db"
	"orphan-recovery/internal/platform/logger"
	"orphan-recovery/internal/telemetry/loki"
	"orphan-recovery/internal/telemetry/producer"
	"orphan-recovery/internal/verification"
	coderepo "orphan-recovery/internal/verification/repository"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.ServiceName+"-worker", false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	jobs := 0

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		consumer := producer.NewKafkaConsumer(brokers, cfg.TelemetryKafkaTopic, cfg.KafkaGroupID, log)
		defer consumer.Close()
		client := loki.NewClient(cfg.LokiURL, nil)

		log.InfoContext(ctx, "worker: consuming telemetry",
			"topic", cfg.TelemetryKafkaTopic, "group", cfg.KafkaGroupID, "loki_url", cfg.LokiURL)
		g.Go(func() error { return consumer.Run(gCtx, client.PushEventJSON) })
		jobs++
	}

	if cfg.StoreBackend == config.StoreBackendPostgres && cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		sweeper := verification.NewSweeper(coderepo.NewPostgresStore(pool), cfg.SweepInterval(), log)
		log.InfoContext(ctx, "worker: sweeping expired codes", "interval", cfg.SweepInterval().String())
		g.Go(func() error {
			sweeper.Run(gCtx)
			return nil
		})
		jobs++
	}

	if jobs == 0 {
		return errors.New("worker: nothing to run; set KAFKA_BROKERS and LOKI_URL, or STORE_BACKEND=postgres with DATABASE_URL")
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("worker: stopped")
	return nil
}
