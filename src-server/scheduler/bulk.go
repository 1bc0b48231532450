package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"roster/src-server/scrape"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

// Attendee listing URLs for every event linked from the discovery page,
// deduplicated by event id in document order.
func (o *Orchestrator) DiscoverEvents(ctx context.Context, discoveryURL string) ([]string, error) {
	doc, err := o.fetcher.Fetch(ctx, discoveryURL)
	if err != nil {
		return nil, fmt.Errorf("(*Orchestrator).DiscoverEvents: %w: %w", scrape.ErrSeedUnreachable, err)
	}
	base, err := url.Parse(discoveryURL)
	if err != nil {
		return nil, fmt.Errorf("(*Orchestrator).DiscoverEvents: %w", err)
	}
	return EventLinks(doc, base), nil
}

// Links whose href ends in "event-<digits>", optionally followed by a slash.
// Each becomes <scheme>://<host>/event-<id>/Attendees?elp=1 on base's host.
func EventLinks(doc *goquery.Document, base *url.URL) []string {
	links := make([]string, 0)
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := eventLinkPattern.FindStringSubmatch(strings.TrimSpace(href))
		if m == nil {
			return
		}
		if _, ok := seen[m[1]]; ok {
			return
		}
		seen[m[1]] = struct{}{}
		links = append(links, fmt.Sprintf("%s://%s/event-%s/Attendees?%s=1",
			base.Scheme, base.Host, m[1], scrape.PaginationParam))
	})
	return links
}

// Discover events and scrape each one, sequentially or on a bounded pool.
// shutdown stops new events from starting; events already running finish.
// A failed event is logged and counted, it never stops the run.
func (o *Orchestrator) ScrapeAllEvents(ctx context.Context, shutdown <-chan struct{}, discoveryURL string, limit int) (Summary, error) {
	summary := Summary{}

	eventURLs, err := o.DiscoverEvents(ctx, discoveryURL)
	if err != nil {
		return summary, err
	}
	summary.EventsFound = len(eventURLs)
	slog.Info("found event attendee lists", "count", len(eventURLs))
	if limit > 0 && len(eventURLs) > limit {
		eventURLs = eventURLs[:limit]
	}
	slog.Info("scraping events", "count", len(eventURLs), "workers", o.workers)

	var mu sync.Mutex
	record := func(i int, res Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.AttendeesWritten += res.AttendeesWritten
		summary.ProfilesWritten += res.ProfilesWritten
		if err != nil {
			summary.EventsFailed++
			slog.Error("can't scrape event", "n", i+1, "url", res.URL, "error", err)
			return
		}
		summary.EventsScraped++
		slog.Info("event scraped",
			"n", i+1,
			"url", res.URL,
			"attendees", res.AttendeesWritten,
			"profiles", res.ProfilesWritten,
		)
	}

	if o.workers <= 1 {
		for i, eventURL := range eventURLs {
			if requested(shutdown) {
				slog.Info("shutdown requested, stopping")
				summary.Interrupted = true
				break
			}
			res, err := o.ScrapeEvent(ctx, eventURL)
			record(i, res, err)
			if i < len(eventURLs)-1 {
				if !o.wait(ctx, shutdown, 2*o.delay) {
					summary.Interrupted = true
					break
				}
			}
		}
		return summary, nil
	}

	// a slot is taken before dispatch so a shutdown that arrives while every
	// worker is busy still stops the next event
	slots := make(chan struct{}, o.workers)
	g := errgroup.Group{}
dispatch:
	for i, eventURL := range eventURLs {
		select {
		case <-shutdown:
		case <-ctx.Done():
		case slots <- struct{}{}:
		}
		if requested(shutdown) || ctx.Err() != nil {
			slog.Info("shutdown requested, waiting for running events")
			mu.Lock()
			summary.Interrupted = true
			mu.Unlock()
			break dispatch
		}
		g.Go(func() error {
			defer func() { <-slots }()
			res, err := o.ScrapeEvent(ctx, eventURL)
			record(i, res, err)
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

// Sleep for d unless shutdown or ctx comes first. Reports whether the run
// should go on.
func (o *Orchestrator) wait(ctx context.Context, shutdown <-chan struct{}, d time.Duration) bool {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-shutdown:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	return o.sleep(waitCtx, d) == nil
}

func requested(shutdown <-chan struct{}) bool {
	select {
	case <-shutdown:
		return true
	default:
		return false
	}
}
