// Package app builds the service graph from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mcclellann/kidLedger/pkg/config"
	"github.com/mcclellann/kidLedger/pkg/events"
	"github.com/mcclellann/kidLedger/pkg/interest"
	"github.com/mcclellann/kidLedger/pkg/ledger"
	"github.com/mcclellann/kidLedger/pkg/lock"
	"github.com/mcclellann/kidLedger/pkg/rates"
	"github.com/mcclellann/kidLedger/pkg/report"
	"github.com/mcclellann/kidLedger/pkg/store"
)

// App is the wired set of services shared by the API server and the CLI.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Storage  store.Storage
	Schedule *rates.Schedule
	Ledger   *ledger.Ledger
	Engine   *interest.Engine
	Reporter *report.Reporter

	closers []io.Closer
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenStorage opens the configured backend.
func OpenStorage(cfg config.DatabaseConfig) (store.Storage, error) {
	var (
		s   *store.SQLStore
		err error
	)
	switch cfg.Driver {
	case "sqlite3":
		s, err = store.NewSQLiteStore(cfg.DSN)
	case "postgres":
		s, err = store.NewPostgresStore(cfg.DSN)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// New opens storage and the optional Redis lock and Kafka publisher, and
// wires the ledger, interest engine and reporter over them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	s, err := OpenStorage(cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Storage: s}
	a.closers = append(a.closers, s)

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithFDPolicy(cfg.Interest.FDPolicy()),
	}

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts = append(opts, ledger.WithLocker(locker))

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			a.Close()
			return nil, err
		}
		publisher := events.NewKafkaPublisher(producer, cfg.Kafka.Topic)
		a.closers = append(a.closers, publisher)
		opts = append(opts, ledger.WithPublisher(publisher))
		logger.Info("publishing ledger events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	a.Schedule = rates.NewSchedule(s)
	a.Ledger = ledger.NewLedger(s, a.Schedule, opts...)
	a.Engine = interest.NewEngine(a.Ledger, a.Schedule, interest.WithLogger(logger))
	a.Reporter = report.NewReporter(a.Ledger, a.Schedule)
	return a, nil
}

// openLocker returns a Redis lock when an address is configured and an
// in-process lock otherwise.
func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return lock.NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
	}
	a.closers = append(a.closers, client)
	a.Logger.Info("using redis account locks", "addr", rc.Addr)
	return lock.NewRedisLocker(client, rc.LockKeyPrefix,
		time.Duration(rc.LockTTLSeconds)*time.Second,
		time.Duration(rc.LockRetryMs)*time.Millisecond,
		rc.LockMaxRetries), nil
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
