package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_fetch_requests_total",
		Help: "Page fetches by outcome (ok, error, status, parse)",
	}, []string{"outcome"})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roster_fetch_latency_seconds",
		Help:    "Latency of a page fetch in seconds",
		Buckets: prometheus.DefBuckets,
	})

	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_records_written_total",
		Help: "Upserted records by table and result (inserted, existing, skipped)",
	}, []string{"table", "result"})

	DatabaseWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roster_database_write_retries_total",
		Help: "Writes retried because the database was busy or locked",
	})

	DatabaseWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roster_database_write_latency_seconds",
		Help:    "Latency of one upsert transaction in seconds, retries included",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	EventsScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_events_scraped_total",
		Help: "Events processed by outcome (done, failed)",
	}, []string{"outcome"})
)
