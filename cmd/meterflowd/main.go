package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/danutirta/meterflow/internal/alerting"
	"github.com/danutirta/meterflow/internal/config"
	"github.com/danutirta/meterflow/internal/cron"
	"github.com/danutirta/meterflow/internal/engine"
	"github.com/danutirta/meterflow/internal/formula"
	"github.com/danutirta/meterflow/internal/migrate"
	"github.com/danutirta/meterflow/internal/notification"
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/danutirta/meterflow/internal/tariff"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DBDriver != "memory" {
		if err := migrate.Up(ctx, cfg.DBDriver, cfg.DBDSN); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	store, err := storage.Open(ctx, storage.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	mailer := notification.NewService(store)
	webhook := alerting.NewWebhook(alerting.WebhookConfig{
		URL:  cfg.AlertWebhookURL,
		Type: cfg.AlertWebhookType,
	})
	sink := alerting.NewStoreSink(store, webhook, mailer)

	eng := engine.New(store, tariff.NewResolver(store), sink)
	eng.SetDerivedEvaluator(formula.New(store))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Printf("meterflow metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	log.Printf("meterflow worker starting, driver=%s", cfg.DBDriver)
	if err := cron.Run(ctx, store, eng, cfg.CronInterval, cfg.BatchWorkers); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker: %v", err)
	}
}
