package config

import (
	"os"
	"strconv"
)

type Config struct {
	// DBDriver is one of "memory", "sqlite", "postgres", "postgrespool".
	DBDriver string
	// DBDSN is the database connection string (file path for sqlite).
	DBDSN string
	// BatchWorkers bounds how many meters a backfill run processes
	// concurrently.
	BatchWorkers int
	// CronInterval is either integer seconds or a cron expression.
	CronInterval string
	// MetricsAddr is the listen address for the Prometheus endpoint.
	MetricsAddr string
	// AlertWebhookURL is an optional webhook endpoint for alert intents.
	AlertWebhookURL string
	// AlertWebhookType is "slack", "discord" or "generic"; auto-detected from
	// the URL when empty.
	AlertWebhookType string
}

// FromEnv builds a Config from environment variables, with sane defaults.
func FromEnv() Config {
	cfg := Config{
		DBDriver:         os.Getenv("METERFLOW_DB_DRIVER"),
		DBDSN:            os.Getenv("METERFLOW_DB_DSN"),
		BatchWorkers:     4,
		CronInterval:     os.Getenv("METERFLOW_CRON_INTERVAL"),
		MetricsAddr:      os.Getenv("METERFLOW_METRICS_ADDR"),
		AlertWebhookURL:  os.Getenv("METERFLOW_ALERT_WEBHOOK_URL"),
		AlertWebhookType: os.Getenv("METERFLOW_ALERT_WEBHOOK_TYPE"),
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite"
	}
	if cfg.DBDSN == "" && cfg.DBDriver == "sqlite" {
		cfg.DBDSN = "meterflow.db"
	}
	if raw := os.Getenv("METERFLOW_BATCH_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.BatchWorkers = n
		}
	}
	if cfg.CronInterval == "" {
		cfg.CronInterval = "300"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	return cfg
}
