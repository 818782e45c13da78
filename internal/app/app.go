// Package app wires the stores, services and transports shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YUJAEYUN/exercisemate/internal/config"
	"github.com/YUJAEYUN/exercisemate/internal/consumer"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/notify"
	"github.com/YUJAEYUN/exercisemate/internal/outbox"
	"github.com/YUJAEYUN/exercisemate/internal/persistence/memory"
	"github.com/YUJAEYUN/exercisemate/internal/persistence/postgres"
)

// App holds the constructed dependencies. Pool is nil on the in-memory store.
type App struct {
	Config   config.Config
	Pool     *pgxpool.Pool
	Repo     domain.Repository
	Service  *domain.Service
	Notifier *notify.Service
	Handler  *consumer.NotificationHandler
	Sink     domain.EventSink
}

func logger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmsgprefix)
}

// New connects the store and builds the services. Events go to the outbox
// when delivery is "outbox" and Postgres is configured, otherwise they are
// handled in-process.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.Pool = pool
		a.Repo = postgres.NewRepository(pool)
	} else {
		log.Printf("POSTGRES_URL not set, using the in-memory store")
		a.Repo = memory.NewStore()
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Notifier = notify.NewService(a.Repo, provider,
		notify.WithLogger(logger("[notify] ")),
		notify.WithTokenMaxAge(cfg.TokenMaxAge),
		notify.WithDefaultLink(cfg.NotificationLink),
	)
	a.Handler = consumer.NewNotificationHandler(a.Notifier, logger("[consumer] "))

	if cfg.EventDelivery == config.DeliveryOutbox && a.Pool != nil {
		a.Sink = outbox.NewWriter(a.Pool, cfg.KafkaTopic)
	} else {
		a.Sink = consumer.NewDirectSink(a.Handler)
	}

	a.Service = domain.NewService(a.Repo,
		domain.WithLocation(loc),
		domain.WithEventSink(a.Sink),
		domain.WithLogger(logger("[domain] ")),
	)
	return a, nil
}

func newProvider(ctx context.Context, cfg config.Config) (notify.Provider, error) {
	if !cfg.UsePush() {
		log.Printf("FIREBASE_CREDENTIALS_FILE not set, notifications are logged only")
		return notify.NewLogProvider(logger("[push] ")), nil
	}
	provider, err := notify.NewFCMProvider(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return provider, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
