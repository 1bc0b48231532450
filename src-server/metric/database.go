package metric

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

var databaseEmptyRead = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "roster_database_empty_read_microsec",
	Help: "The latency of an empty database read in microseconds",
})

// Time an empty read every tickerInterval until done is closed.
func DatabaseEmptyRead(db bun.IDB, tickerInterval time.Duration, done <-chan struct{}) {
	good := true
	if err := prometheus.Register(databaseEmptyRead); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register roster_database_empty_read_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("roster_database_empty_read_microsec metric registered")
		databaseEmptyRead.Set(0)
	}

	go func() {
		ticker := time.NewTicker(tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				switch prometheus.Unregister(databaseEmptyRead) {
				case true:
					slog.Debug("roster_database_empty_read_microsec metric unregistered")
				case false:
					slog.Warn("roster_database_empty_read_microsec metric not registered")
				}
				return
			case <-ticker.C:
				latency, err := emptyRead(db)
				if err != nil {
					slog.Error("can't get database latency", "error", err)
					continue
				}
				databaseEmptyRead.Set(float64(latency.Microseconds()))
			}
		}
	}()
}

func emptyRead(db bun.IDB) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := db.NewSelect().
		TableExpr("events").
		Where("id = ?", -1).
		Exists(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
