package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"roster/src-server/metric"
	"roster/src-server/model"
	"roster/src-server/scrape"
	"roster/src-server/store"
	"strconv"
	"time"
)

var (
	ErrNoEventID = errors.New("no event id in url")

	eventIDPattern   = regexp.MustCompile(`event-(\d+)`)
	eventLinkPattern = regexp.MustCompile(`event-(\d+)/?$`)
)

// Where a single event's pipeline is at.
type State int

const (
	StateDiscovering State = iota
	StateListing
	StateEnriching
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateListing:
		return "listing"
	case StateEnriching:
		return "enriching"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome of one ScrapeEvent call.
type Result struct {
	EventID          int64
	URL              string
	State            State
	Pages            int
	AttendeesWritten int
	ProfilesWritten  int
}

// Totals of a bulk run.
type Summary struct {
	EventsFound      int
	EventsScraped    int
	EventsFailed     int
	AttendeesWritten int
	ProfilesWritten  int
	// shutdown was requested before every event got dispatched
	Interrupted bool
}

type Orchestrator struct {
	fetcher scrape.Fetcher
	crawler *scrape.Crawler
	store   *store.Store
	delay   time.Duration
	workers int
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

// Pause between consecutive page fetches of one event. Events in sequential
// mode are spaced by twice this.
func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// How many events are scraped concurrently by ScrapeAllEvents.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func NewOrchestrator(fetcher scrape.Fetcher, st *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher: fetcher,
		crawler: scrape.NewCrawler(fetcher),
		store:   st,
		delay:   time.Second,
		workers: 1,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Numeric event id from the "event-<digits>" segment of the URL path.
func EventIDFromURL(rawURL string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrNoEventID, rawURL, err)
	}
	m := eventIDPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoEventID, rawURL)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoEventID, rawURL)
	}
	return id, nil
}

// Run the whole pipeline for one event listing. A per-attendee or per-profile
// failure is logged and skipped; only an unresolvable event id, an unreachable
// seed page or exhausted lock retries fail the event.
func (o *Orchestrator) ScrapeEvent(ctx context.Context, eventURL string) (Result, error) {
	res, err := o.scrapeEvent(ctx, eventURL)
	recordOutcome(err)
	return res, err
}

func (o *Orchestrator) scrapeEvent(ctx context.Context, eventURL string) (Result, error) {
	res := Result{URL: eventURL, State: StateDiscovering}

	eventID, err := EventIDFromURL(eventURL)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("(*Orchestrator).ScrapeEvent: %w", err)
	}
	res.EventID = eventID
	logger := slog.With("event_id", eventID)
	logger.Info("processing event", "url", eventURL)

	created, err := o.store.UpsertEvent(ctx, eventID, model.ProvisionalEventName(eventID), "", eventURL, nil)
	switch {
	case err != nil:
		res.State = StateFailed
		return res, fmt.Errorf("(*Orchestrator).ScrapeEvent: %w", err)
	case created:
		logger.Info("created event record", "name", model.ProvisionalEventName(eventID))
	}

	listing, err := o.crawler.Discover(ctx, eventURL)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("(*Orchestrator).ScrapeEvent: %w", err)
	}
	res.Pages = len(listing.Pages)

	res.State = StateListing
	rows := o.listAttendees(ctx, logger, listing)

	res.State = StateEnriching
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			res.State = StateFailed
			return res, fmt.Errorf("(*Orchestrator).ScrapeEvent: %w", err)
		}
		attendeeID, err := o.store.UpsertAttendee(ctx, newAttendee(eventID, row))
		if err != nil {
			if errors.Is(err, store.ErrRetriesExhausted) {
				res.State = StateFailed
				return res, fmt.Errorf("(*Orchestrator).ScrapeEvent: %w", err)
			}
			logger.Error("can't store attendee", "name", row.RawName, "error", err)
			continue
		}
		res.AttendeesWritten++

		if row.ProfileURL == "" {
			continue
		}
		ok, err := o.enrichProfile(ctx, logger, attendeeID, row.ProfileURL)
		if err != nil {
			res.State = StateFailed
			return res, fmt.Errorf("(*Orchestrator).ScrapeEvent: %w", err)
		}
		if ok {
			res.ProfilesWritten++
		}
	}

	res.State = StateDone
	logger.Info("event complete",
		"attendees", res.AttendeesWritten,
		"profiles", res.ProfilesWritten,
		"pages", res.Pages,
	)
	return res, nil
}

// Rows of every page in page-then-row order. The seed is parsed already; any
// other page that can't be fetched is logged and skipped.
func (o *Orchestrator) listAttendees(ctx context.Context, logger *slog.Logger, listing scrape.Listing) []scrape.RawAttendee {
	pages := listing.Pages
	rows := make([]scrape.RawAttendee, 0)
	for i, pageURL := range pages {
		logger.Info("scraping attendee page", "page", i+1, "of", len(pages), "url", pageURL)
		doc := listing.Seed
		var err error
		if i > 0 {
			doc, err = o.fetcher.Fetch(ctx, pageURL)
		}
		if err != nil {
			logger.Warn("can't fetch attendee page", "url", pageURL, "error", err)
		} else {
			pageRows := scrape.ExtractRows(doc, pageURL)
			logger.Debug("found attendees on page", "count", len(pageRows))
			rows = append(rows, pageRows...)
		}
		if i < len(pages)-1 {
			if err := o.sleep(ctx, o.delay); err != nil {
				break
			}
		}
	}
	return rows
}

// Fetch, extract and store one profile. Only exhausted lock retries are
// returned; everything else is logged and reported as not written.
func (o *Orchestrator) enrichProfile(ctx context.Context, logger *slog.Logger, attendeeID int64, profileURL string) (bool, error) {
	doc, err := o.fetcher.Fetch(ctx, profileURL)
	if err != nil {
		logger.Warn("can't fetch profile", "url", profileURL, "error", err)
		return false, nil
	}
	fields := scrape.ExtractProfileFields(doc)
	if len(fields) == 0 {
		logger.Debug("profile has no fields", "url", profileURL)
		return false, nil
	}
	if _, err := o.store.UpsertProfile(ctx, attendeeID, profileURL, fields); err != nil {
		if errors.Is(err, store.ErrRetriesExhausted) {
			return false, err
		}
		logger.Error("can't store profile", "url", profileURL, "error", err)
		return false, nil
	}
	return true, nil
}

func newAttendee(eventID int64, row scrape.RawAttendee) *model.Attendee {
	name := scrape.ParseName(row.FullName)
	return &model.Attendee{
		EventID:     eventID,
		EventDate:   row.Date,
		FullName:    row.FullName,
		FirstName:   name.First,
		LastName:    name.Last,
		ProfileURL:  row.ProfileURL,
		IsAnonymous: row.IsAnonymous,
		GuestCount:  row.GuestCount,
		RawName:     row.RawName,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func recordOutcome(err error) {
	if err != nil {
		metric.EventsScraped.WithLabelValues("failed").Inc()
		return
	}
	metric.EventsScraped.WithLabelValues("done").Inc()
}
