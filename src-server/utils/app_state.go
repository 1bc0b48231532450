package utils

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/uptrace/bun"
)

type AppState struct {
	Config *Config
	RawDB  *sql.DB
	BunDB  *bun.DB

	startedAt    time.Time
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Open the database described by cfg. The pool is sized to the worker count.
func NewAppState(ctx context.Context, cfg *Config) (*AppState, error) {
	rawDB, bunDB, err := OpenDatabase(ctx, cfg.GetDatabaseURL(), cfg.GetScrapeWorkers())
	if err != nil {
		return nil, err
	}
	return &AppState{
		Config:    cfg,
		RawDB:     rawDB,
		BunDB:     bunDB,
		startedAt: time.Now(),
		shutdown:  make(chan struct{}),
	}, nil
}

// Closed once a graceful shutdown has been requested.
func (as *AppState) ShutdownRequested() <-chan struct{} {
	return as.shutdown
}

// Stop starting new work. Safe to call more than once.
func (as *AppState) GracefulShutdown() {
	as.shutdownOnce.Do(func() {
		slog.Info("shutdown requested, finishing current tasks...")
		close(as.shutdown)
	})
}

func (as *AppState) GetUptime() time.Duration {
	return time.Since(as.startedAt)
}

func (as *AppState) Close() error {
	return as.BunDB.Close()
}
