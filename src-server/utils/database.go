package utils

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"roster/src-server/model"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open the store and make sure the schema exists. A postgres:// DSN goes through
// pgx, anything else is a SQLite file path. The pool holds at most maxConns
// connections, one per worker.
func OpenDatabase(ctx context.Context, dsn string, maxConns int) (*sql.DB, *bun.DB, error) {
	if maxConns <= 0 {
		maxConns = 1
	}

	var (
		rawDB *sql.DB
		bunDB *bun.DB
		err   error
	)
	switch {
	case IsPostgresDSN(dsn):
		if rawDB, err = sql.Open("pgx", dsn); err != nil {
			return nil, nil, fmt.Errorf("OpenDatabase: can't open postgres database: %w", err)
		}
		bunDB = bun.NewDB(rawDB, pgdialect.New())
	default:
		if !strings.Contains(dsn, "?") {
			dsn += "?mode=rwc"
		}
		if rawDB, err = sql.Open(sqliteshim.ShimName, dsn); err != nil {
			return nil, nil, fmt.Errorf("OpenDatabase: can't open sqlite database: %w", err)
		}
		bunDB = bun.NewDB(rawDB, sqlitedialect.New())
	}
	rawDB.SetMaxOpenConns(maxConns)
	rawDB.SetMaxIdleConns(maxConns)

	bunDB.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithVerbose(true),
		bundebug.FromEnv("BUNDEBUG"),
	))

	if err := bunDB.PingContext(ctx); err != nil {
		_ = bunDB.Close()
		return nil, nil, fmt.Errorf("OpenDatabase: %w", err)
	}
	if bunDB.Dialect().Name() == dialect.SQLite {
		// persistent for the file, so one connection is enough
		if _, err := bunDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("can't switch sqlite to WAL mode", "error", err)
		}
	}
	if err := model.CreateSchema(ctx, bunDB); err != nil {
		_ = bunDB.Close()
		return nil, nil, fmt.Errorf("OpenDatabase: %w", err)
	}

	slog.Debug("database ready", "dialect", bunDB.Dialect().Name(), "max_conns", maxConns)
	return rawDB, bunDB, nil
}
