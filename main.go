package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"roster/src-server/metric"
	"roster/src-server/route"
	"roster/src-server/scheduler"
	"roster/src-server/scrape"
	"roster/src-server/store"
	"roster/src-server/utils"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultServeAddr = ":8080"

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      utils.LogLevelFromEnv(),
			TimeFormat: time.RFC1123Z,
		}),
	).With("run", uuid.NewString()))
}

func main() {
	os.Exit(run(os.Args[1:]))
}

type mode int

const (
	modeSingle mode = iota
	modeAll
	modeServe
)

func run(args []string) int {
	cfg := utils.NewConfig()

	fs := flag.NewFlagSet("roster", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	all := fs.Bool("all", false, "scrape every event listed on the events page")
	limit := fs.Int("limit", 0, "max events to scrape with -all (0 = no limit)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: roster [flags] <event-attendee-url | ALL | serve>\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	target := strings.TrimSpace(fs.Arg(0))
	var runMode mode
	switch {
	case fs.NArg() > 1:
		fs.Usage()
		return 2
	case *all || strings.EqualFold(target, "ALL"):
		runMode = modeAll
	case strings.EqualFold(target, "serve"):
		runMode = modeServe
	case target == "":
		fs.Usage()
		return 2
	default:
		runMode = modeSingle
	}
	if *limit < 0 || cfg.GetScrapeWorkers() < 1 {
		fmt.Fprintln(fs.Output(), "-limit can't be negative and -workers must be at least 1")
		return 2
	}

	as, err := utils.NewAppState(context.Background(), cfg)
	if err != nil {
		slog.Error("can't open database", "error", err)
		return 1
	}
	defer func() {
		if err := as.Close(); err != nil {
			slog.Warn("can't close database", "error", err)
		}
	}()

	// first signal stops new work, the second aborts what's running
	workCtx, abortWork := context.WithCancel(context.Background())
	defer abortWork()
	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	go func() {
		<-signalChan
		as.GracefulShutdown()
		<-signalChan
		slog.Warn("second interrupt, aborting in-flight work")
		abortWork()
	}()

	serveAddr := cfg.GetServeAddr()
	if runMode == modeServe && serveAddr == "" {
		serveAddr = defaultServeAddr
	}
	if serveAddr != "" {
		stopServer := serve(as, serveAddr)
		defer stopServer()
	}

	fetcher := scrape.NewHTTPFetcher(cfg.GetFetchTimeout(), cfg.GetUserAgent())
	st := store.New(as.BunDB, store.WithRetryPolicy(store.RetryPolicy{
		MaxAttempts: cfg.GetDBRetryAttempts(),
		BaseDelay:   cfg.GetDBRetryBase(),
	}))
	orchestrator := scheduler.NewOrchestrator(fetcher, st,
		scheduler.WithDelay(cfg.GetScrapeDelay()),
		scheduler.WithWorkers(cfg.GetScrapeWorkers()),
	)

	switch runMode {
	case modeServe:
		slog.Info("serving, press Ctrl+C to exit", "addr", serveAddr)
		<-as.ShutdownRequested()

	case modeAll:
		summary, err := orchestrator.ScrapeAllEvents(workCtx, as.ShutdownRequested(), cfg.GetEventsURL(), *limit)
		if err != nil {
			slog.Error("can't scrape events", "url", cfg.GetEventsURL(), "error", err)
			return 1
		}
		slog.Info("all events complete",
			"found", summary.EventsFound,
			"scraped", summary.EventsScraped,
			"failed", summary.EventsFailed,
			"attendees", summary.AttendeesWritten,
			"profiles", summary.ProfilesWritten,
			"interrupted", summary.Interrupted,
			"uptime", as.GetUptime(),
		)

	case modeSingle:
		res, err := orchestrator.ScrapeEvent(workCtx, target)
		if err != nil {
			slog.Error("can't scrape event", "url", target, "state", res.State, "error", err)
			return 1
		}
		slog.Info("done",
			"event_id", res.EventID,
			"attendees", res.AttendeesWritten,
			"profiles", res.ProfilesWritten,
			"uptime", as.GetUptime(),
		)
	}
	return 0
}

// Start the metrics and read API server. The returned func stops it.
func serve(as *utils.AppState, addr string) func() {
	done := make(chan struct{})
	metric.DatabaseEmptyRead(as.BunDB, as.Config.GetMetricCollectionInterval(), done)

	muxer := http.NewServeMux()
	muxer.Handle("GET /metrics", promhttp.Handler())
	route.API(muxer, as)
	server := &http.Server{
		Addr:              addr,
		Handler:           route.LogMiddleware(muxer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("cannot start HTTP server", "error", err)
			as.GracefulShutdown()
		}
	}()

	return func() {
		close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("can't shut down HTTP server", "error", err)
		}
	}
}
