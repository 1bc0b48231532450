package utils

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"roster/src-server/scrape"
	"roster/src-server/store"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	databaseURL string
	eventsURL   string

	scrapeDelay   time.Duration
	scrapeWorkers int
	fetchTimeout  time.Duration
	userAgent     string

	dbRetryAttempts int
	dbRetryBase     time.Duration

	serveAddr                string
	metricCollectionInterval time.Duration
	logLevel                 slog.Level
}

func NewConfig() *Config {
	return &Config{
		databaseURL: func() string {
			databaseURL := os.Getenv("DATABASE_URL")
			if databaseURL == "" {
				databaseURL = "./attendees.db"
			}
			slog.Debug("env", "DATABASE_URL", redactDSN(databaseURL))
			return databaseURL
		}(),
		eventsURL: func() string {
			eventsURL := os.Getenv("EVENTS_URL")
			if eventsURL == "" {
				eventsURL = "https://www.dfwtrn.org/Events"
			}
			slog.Debug("env", "EVENTS_URL", eventsURL)
			return eventsURL
		}(),

		scrapeDelay: func() time.Duration {
			delayStr := os.Getenv("SCRAPE_DELAY")
			if delayStr == "" {
				return time.Second
			}
			delay, err := parseSeconds(delayStr)
			if err != nil || delay < 0 {
				slog.Warn("invalid SCRAPE_DELAY, using 1s", "value", delayStr, "error", err)
				return time.Second
			}
			slog.Debug("env", "SCRAPE_DELAY", delay)
			return delay
		}(),
		scrapeWorkers: envPositiveInt("SCRAPE_WORKERS", 1),
		fetchTimeout:  envDuration("FETCH_TIMEOUT", 30*time.Second),
		userAgent: func() string {
			userAgent := os.Getenv("USER_AGENT")
			if userAgent == "" {
				userAgent = scrape.DefaultUserAgent
			}
			slog.Debug("env", "USER_AGENT", userAgent)
			return userAgent
		}(),

		dbRetryAttempts: envPositiveInt("DB_RETRY_ATTEMPTS", store.DefaultMaxAttempts),
		dbRetryBase:     envDuration("DB_RETRY_BASE", store.DefaultBaseDelay),

		serveAddr: func() string {
			serveAddr := os.Getenv("SERVE_ADDR")
			slog.Debug("env", "SERVE_ADDR", serveAddr)
			return serveAddr
		}(),
		metricCollectionInterval: envDuration("METRIC_COLLECTION_INTERVAL", 15*time.Second),
		logLevel:                 LogLevelFromEnv(),
	}
}

// LOG_LEVEL as an slog level, info when unset or unknown. Read before the
// logger is installed, so it doesn't log.
func LogLevelFromEnv() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(os.Getenv("LOG_LEVEL")))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Bind the command line flags onto the config. Defaults are the values read
// from the environment, so a flag always wins.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Func("delay", fmt.Sprintf("seconds between requests (default %g)", c.scrapeDelay.Seconds()), func(s string) error {
		delay, err := parseSeconds(s)
		if err != nil {
			return err
		}
		if delay < 0 {
			return fmt.Errorf("delay can't be negative")
		}
		c.scrapeDelay = delay
		return nil
	})
	fs.IntVar(&c.scrapeWorkers, "workers", c.scrapeWorkers, "parallel event workers")
	fs.StringVar(&c.databaseURL, "db", c.databaseURL, "database path or postgres:// DSN")
	fs.StringVar(&c.eventsURL, "events-url", c.eventsURL, "page listing every event")
	fs.StringVar(&c.serveAddr, "serve", c.serveAddr, "serve /metrics and the read API on this address")
}

// Get DATABASE_URL env, default to ./attendees.db
func (c *Config) GetDatabaseURL() string {
	return c.databaseURL
}

// Get EVENTS_URL env
func (c *Config) GetEventsURL() string {
	return c.eventsURL
}

// Get SCRAPE_DELAY env, default to 1s
func (c *Config) GetScrapeDelay() time.Duration {
	return c.scrapeDelay
}

// Get SCRAPE_WORKERS env, default to 1
func (c *Config) GetScrapeWorkers() int {
	return c.scrapeWorkers
}

// Get FETCH_TIMEOUT env, default to 30s
func (c *Config) GetFetchTimeout() time.Duration {
	return c.fetchTimeout
}

// Get USER_AGENT env
func (c *Config) GetUserAgent() string {
	return c.userAgent
}

// Get DB_RETRY_ATTEMPTS env, default to 5
func (c *Config) GetDBRetryAttempts() int {
	return c.dbRetryAttempts
}

// Get DB_RETRY_BASE env, default to 1s
func (c *Config) GetDBRetryBase() time.Duration {
	return c.dbRetryBase
}

// Get SERVE_ADDR env, empty means no server
func (c *Config) GetServeAddr() string {
	return c.serveAddr
}

// Get METRIC_COLLECTION_INTERVAL env, default to 15s
func (c *Config) GetMetricCollectionInterval() time.Duration {
	return c.metricCollectionInterval
}

// Get LOG_LEVEL env
func (c *Config) GetLogLevel() slog.Level {
	return c.logLevel
}

func envDuration(key string, fallback time.Duration) time.Duration {
	durationStr := os.Getenv(key)
	if durationStr == "" {
		return fallback
	}
	duration, err := time.ParseDuration(durationStr)
	if err != nil || duration <= 0 {
		slog.Warn("invalid "+key+", using default", "value", durationStr, "default", fallback, "error", err)
		return fallback
	}
	slog.Debug("env", key, duration)
	return duration
}

func envPositiveInt(key string, fallback int) int {
	nStr := os.Getenv(key)
	if nStr == "" {
		return fallback
	}
	n, err := strconv.Atoi(nStr)
	if err != nil || n <= 0 {
		slog.Warn("invalid "+key+", using default", "value", nStr, "default", fallback, "error", err)
		return fallback
	}
	slog.Debug("env", key, n)
	return n
}

// "1.5" is seconds, "1500ms" is a Go duration.
func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, _ := strings.Cut(userinfo, ":")
	return scheme + "://" + user + ":***@" + host
}
