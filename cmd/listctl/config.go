package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

const (
	storeMemory    = "memory"
	storeFile      = "file"
	storeSQLite    = "sqlite"
	storeKurrentDB = "kurrentdb"
)

type config struct {
	Store        string `env:"LISTCTL_STORE"         envDefault:"sqlite"`
	SQLitePath   string `env:"LISTCTL_SQLITE_PATH"   envDefault:"listctl.db"`
	FileDir      string `env:"LISTCTL_FILE_DIR"      envDefault:"listctl-data"`
	KurrentDBURL string `env:"LISTCTL_KURRENTDB_URL" envDefault:"kurrentdb://localhost:2113?tls=false"`
	MaxRetries   uint64 `env:"LISTCTL_MAX_RETRIES"   envDefault:"3"`
	LogLevel     string `env:"LISTCTL_LOG_LEVEL"     envDefault:"warning"`

	// OTelEndpoint enables trace export over OTLP/HTTP when set.
	OTelEndpoint string `env:"LISTCTL_OTEL_ENDPOINT"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.Store {
	case storeMemory, storeFile, storeSQLite, storeKurrentDB:
	default:
		return cfg, fmt.Errorf("unknown store %q, want one of memory, file, sqlite, kurrentdb", cfg.Store)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("log level: %w", err)
	}
	return cfg, nil
}
