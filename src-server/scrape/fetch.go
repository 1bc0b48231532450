package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"roster/src-server/metric"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// The only capability the pipeline needs from the transport.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	slog.Info("fetching", "url", url)
	startTimer := time.Now()
	defer func() {
		metric.FetchLatency.Observe(time.Since(startTimer).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metric.FetchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("(*HTTPFetcher).Fetch: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		metric.FetchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("(*HTTPFetcher).Fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		metric.FetchRequests.WithLabelValues("status").Inc()
		return nil, fmt.Errorf("(*HTTPFetcher).Fetch: %s: http status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		metric.FetchRequests.WithLabelValues("parse").Inc()
		return nil, fmt.Errorf("(*HTTPFetcher).Fetch: can't parse %s: %w", url, err)
	}
	doc.Url = resp.Request.URL
	metric.FetchRequests.WithLabelValues("ok").Inc()
	return doc, nil
}
