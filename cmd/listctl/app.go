package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sirupsen/logrus"
	"github.com/terraskye/eventfold"
	"github.com/terraskye/eventfold/eventstore/file"
	"github.com/terraskye/eventfold/eventstore/kurrentdb"
	"github.com/terraskye/eventfold/eventstore/memory"
	"github.com/terraskye/eventfold/eventstore/sqlite"
	"github.com/terraskye/eventfold/logging"
	eotel "github.com/terraskye/eventfold/otel"
	"github.com/terraskye/eventfold/shopping"
)

// app is everything one listctl invocation needs.
type app struct {
	store    eventfold.EventStore
	bus      *eventfold.CommandBus
	log      *logrus.Entry
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, cfg config, stderr io.Writer) (*app, error) {
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetLevel(level)
	entry := logger.WithField("service", serviceName)

	shutdown, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	registry := eventfold.NewRegistry()
	if err := shopping.RegisterEvents(registry); err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	backend, err := openStore(ctx, cfg, registry)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}

	storeLogger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: slogLevel(level)}))
	store := logging.WithStoreLogging(storeLogger, eotel.WithEventStoreTelemetry(backend, eotel.WithOperation("lists")))

	handler := shopping.NewHandler(store, eventfold.WithMaxRetries(cfg.MaxRetries))
	bus := eventfold.NewCommandBus(16, 4)
	eventfold.Register(bus, logging.WithCommandLogging(entry, eotel.WithCommandTelemetry(handler, eotel.WithOperation("lists"))))

	return &app{
		store:    store,
		bus:      bus,
		log:      entry,
		shutdown: shutdown,
	}, nil
}

func openStore(ctx context.Context, cfg config, registry *eventfold.Registry) (eventfold.EventStore, error) {
	switch cfg.Store {
	case storeMemory:
		return memory.NewMemoryStore(), nil
	case storeFile:
		return file.NewFileStore(cfg.FileDir, registry)
	case storeSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath, registry)
	case storeKurrentDB:
		return kurrentdb.Connect(cfg.KurrentDBURL, registry)
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func slogLevel(level logrus.Level) slog.Level {
	switch {
	case level >= logrus.DebugLevel:
		return slog.LevelDebug
	case level == logrus.InfoLevel:
		return slog.LevelInfo
	case level == logrus.WarnLevel:
		return slog.LevelWarn
	}
	return slog.LevelError
}

func (a *app) close(ctx context.Context) error {
	a.bus.Stop()
	return errors.Join(a.store.Close(), a.shutdown(ctx))
}
