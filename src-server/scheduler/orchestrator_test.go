package scheduler_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"roster/src-server/metric"
	"roster/src-server/model"
	"roster/src-server/scheduler"
	"roster/src-server/scrape"
	"roster/src-server/store"
	"roster/src-server/utils"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	eventsPage = `<html><body>
<a href="/event-1">Spring Mixer</a>
<a href="%[1]s/event-2/">Summer Social</a>
<a href="/event-1">Spring Mixer again</a>
<a href="/event-3/Details">not a bare event link</a>
<a href="/about">About</a>
</body></html>`

	attendeesPage1 = `<html><body>
<a href="/event-1/Attendees?elp=1">1</a> <a href="/event-1/Attendees?elp=2">2</a>
<table>
<tr><th>Registered</th><th>Name</th></tr>
<tr><td>Apr 1, 2024</td><td><a href="/profile/1">Doe, John</a></td></tr>
<tr><td>Apr 1, 2024</td><td>Jane Roe - plus 1 guest</td></tr>
</table>
</body></html>`

	attendeesPage2 = `<html><body>
<a href="/event-1/Attendees?elp=1">1</a> <a href="/event-1/Attendees?elp=2">2</a>
<table>
<tr><td>Apr 2, 2024</td><td>Anonymous user</td></tr>
<tr><td>Apr 2, 2024</td><td><a href="/profile/missing">Doe, John</a></td></tr>
</table>
</body></html>`

	profilePage = `<html><body>
<div id="x_memberProfile_MemberForm">
<div class="fieldContainer"><span id="r0_titleLabel">Company</span><span id="r0_TextBoxLabel1">Acme</span></div>
<div class="fieldContainer"><span id="r1_titleLabel">Work E-mail</span><span id="r1_TextBoxLabel2"><a href="mailto:john@example.org">email</a></span></div>
<div class="fieldContainer"><span id="r2_titleLabel">Favorite Color</span><span id="r2_TextBoxLabel3">Blue</span></div>
</div>
</body></html>`
)

type testSite struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

// Requests served for path plus query, e.g. "/event-1/Attendees?elp=1".
func (s *testSite) Hits(requestURI string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[requestURI]
}

func newSite(t *testing.T) *testSite {
	t.Helper()
	site := &testSite{hits: make(map[string]int)}
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits[r.URL.RequestURI()]++
		site.mu.Unlock()
		switch {
		case r.URL.Path == "/Events":
			fmt.Fprintf(w, eventsPage, server.URL)
		case r.URL.Path == "/event-1/Attendees" && r.URL.Query().Get("elp") == "1":
			w.Write([]byte(attendeesPage1))
		case r.URL.Path == "/event-1/Attendees" && r.URL.Query().Get("elp") == "2":
			w.Write([]byte(attendeesPage2))
		case r.URL.Path == "/profile/1":
			w.Write([]byte(profilePage))
		case r.URL.Path == "/event-2/Attendees":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	site.Server = server
	return site
}

func newOrchestrator(t *testing.T, workers int) (*scheduler.Orchestrator, *bun.DB) {
	t.Helper()
	_, bunDB, err := utils.OpenDatabase(context.Background(), filepath.Join(t.TempDir(), "roster.db"), workers)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bunDB.Close() })

	st := store.New(bunDB, store.WithRetryPolicy(store.RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   10 * time.Millisecond,
	}))
	return scheduler.NewOrchestrator(
		scrape.NewHTTPFetcher(5*time.Second, ""),
		st,
		scheduler.WithDelay(0),
		scheduler.WithWorkers(workers),
	), bunDB
}

type tableCounts struct {
	events, attendees, profiles, fields int
}

func countRows(t *testing.T, db *bun.DB) tableCounts {
	t.Helper()
	ctx := context.Background()
	var c tableCounts
	for _, tc := range []struct {
		dst   *int
		model interface{}
	}{
		{&c.events, (*model.Event)(nil)},
		{&c.attendees, (*model.Attendee)(nil)},
		{&c.profiles, (*model.AttendeeProfile)(nil)},
		{&c.fields, (*model.ProfileField)(nil)},
	} {
		n, err := db.NewSelect().Model(tc.model).Count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		*tc.dst = n
	}
	return c
}

func TestEventIDFromURL(t *testing.T) {
	for _, tc := range []struct {
		url  string
		id   int64
		fail bool
	}{
		{url: "https://example.org/event-5764112/Attendees?elp=1", id: 5764112},
		{url: "https://example.org/event-12", id: 12},
		{url: "https://example.org/events/Attendees?id=event-9", fail: true},
		{url: "https://example.org/Attendees", fail: true},
		{url: "://bad", fail: true},
	} {
		t.Run(tc.url, func(t *testing.T) {
			id, err := scheduler.EventIDFromURL(tc.url)
			if tc.fail {
				if !errors.Is(err, scheduler.ErrNoEventID) {
					t.Fatalf("err = %v, want ErrNoEventID", err)
				}
				return
			}
			if err != nil || id != tc.id {
				t.Fatalf("id = %d, err = %v, want %d", id, err, tc.id)
			}
		})
	}
}

func TestScrapeEvent(t *testing.T) {
	site := newSite(t)
	orchestrator, db := newOrchestrator(t, 1)
	eventURL := site.URL + "/event-1/Attendees?elp=1"

	done := testutil.ToFloat64(metric.EventsScraped.WithLabelValues("done"))

	res, err := orchestrator.ScrapeEvent(context.Background(), eventURL)
	if err != nil {
		t.Fatal(err)
	}
	switch {
	case res.State != scheduler.StateDone:
		t.Fatalf("state = %s", res.State)
	case res.EventID != 1:
		t.Fatalf("event id = %d", res.EventID)
	case res.Pages != 2:
		t.Fatalf("pages = %d", res.Pages)
	case res.AttendeesWritten != 4:
		t.Fatalf("attendees written = %d", res.AttendeesWritten)
	case res.ProfilesWritten != 1:
		t.Fatalf("profiles written = %d", res.ProfilesWritten)
	}
	want := tableCounts{events: 1, attendees: 4, profiles: 1, fields: 1}
	if got := countRows(t, db); got != want {
		t.Fatalf("rows = %+v, want %+v", got, want)
	}
	if n := site.Hits("/event-1/Attendees?elp=1"); n != 1 {
		t.Fatalf("seed page fetched %d times, want 1", n)
	}
	if n := site.Hits("/event-1/Attendees?elp=2"); n != 1 {
		t.Fatalf("second page fetched %d times, want 1", n)
	}
	if got := testutil.ToFloat64(metric.EventsScraped.WithLabelValues("done")) - done; got != 1 {
		t.Fatalf("done outcomes recorded = %v, want 1", got)
	}

	// second run writes nothing new
	again, err := orchestrator.ScrapeEvent(context.Background(), eventURL)
	if err != nil {
		t.Fatal(err)
	}
	if again.AttendeesWritten != res.AttendeesWritten {
		t.Fatalf("second run resolved %d attendees, want %d", again.AttendeesWritten, res.AttendeesWritten)
	}
	if got := countRows(t, db); got != want {
		t.Fatalf("rows after second run = %+v, want %+v", got, want)
	}

	guest := new(model.Attendee)
	if err := db.NewSelect().Model(guest).Where("full_name = ?", "Jane Roe").Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if guest.GuestCount != 1 || guest.FirstName != "Jane" || guest.LastName != "Roe" {
		t.Fatalf("guest attendee = %+v", guest)
	}
}

func TestScrapeEventFailures(t *testing.T) {
	site := newSite(t)
	orchestrator, db := newOrchestrator(t, 1)

	t.Run("no event id", func(t *testing.T) {
		failed := testutil.ToFloat64(metric.EventsScraped.WithLabelValues("failed"))
		res, err := orchestrator.ScrapeEvent(context.Background(), site.URL+"/Attendees?elp=1")
		if !errors.Is(err, scheduler.ErrNoEventID) || res.State != scheduler.StateFailed {
			t.Fatalf("state = %s, err = %v", res.State, err)
		}
		if got := testutil.ToFloat64(metric.EventsScraped.WithLabelValues("failed")) - failed; got != 1 {
			t.Fatalf("failed outcomes recorded = %v, want 1", got)
		}
	})

	t.Run("seed unreachable", func(t *testing.T) {
		res, err := orchestrator.ScrapeEvent(context.Background(), site.URL+"/event-2/Attendees?elp=1")
		if !errors.Is(err, scrape.ErrSeedUnreachable) || res.State != scheduler.StateFailed {
			t.Fatalf("state = %s, err = %v", res.State, err)
		}
		// the provisional event is still recorded
		if got := countRows(t, db); got.events != 1 || got.attendees != 0 {
			t.Fatalf("rows = %+v", got)
		}
	})
}

func TestScrapeAllEvents(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			site := newSite(t)
			orchestrator, db := newOrchestrator(t, workers)

			summary, err := orchestrator.ScrapeAllEvents(context.Background(), make(chan struct{}), site.URL+"/Events", 0)
			if err != nil {
				t.Fatal(err)
			}
			want := scheduler.Summary{
				EventsFound:      2,
				EventsScraped:    1,
				EventsFailed:     1,
				AttendeesWritten: 4,
				ProfilesWritten:  1,
			}
			if summary != want {
				t.Fatalf("summary = %+v, want %+v", summary, want)
			}
			if got := countRows(t, db); got.events != 2 || got.attendees != 4 {
				t.Fatalf("rows = %+v", got)
			}
		})
	}

	t.Run("limit", func(t *testing.T) {
		site := newSite(t)
		orchestrator, db := newOrchestrator(t, 1)
		summary, err := orchestrator.ScrapeAllEvents(context.Background(), nil, site.URL+"/Events", 1)
		if err != nil {
			t.Fatal(err)
		}
		if summary.EventsFound != 2 || summary.EventsScraped != 1 || summary.EventsFailed != 0 {
			t.Fatalf("summary = %+v", summary)
		}
		if got := countRows(t, db); got.events != 1 {
			t.Fatalf("rows = %+v", got)
		}
	})

	t.Run("shutdown before dispatch", func(t *testing.T) {
		site := newSite(t)
		orchestrator, db := newOrchestrator(t, 2)
		shutdown := make(chan struct{})
		close(shutdown)
		summary, err := orchestrator.ScrapeAllEvents(context.Background(), shutdown, site.URL+"/Events", 0)
		if err != nil {
			t.Fatal(err)
		}
		if !summary.Interrupted || summary.EventsScraped != 0 || summary.EventsFailed != 0 {
			t.Fatalf("summary = %+v", summary)
		}
		if got := countRows(t, db); got.events != 0 {
			t.Fatalf("rows = %+v", got)
		}
	})

	t.Run("discovery page unreachable", func(t *testing.T) {
		site := newSite(t)
		orchestrator, _ := newOrchestrator(t, 1)
		if _, err := orchestrator.ScrapeAllEvents(context.Background(), nil, site.URL+"/nope", 0); !errors.Is(err, scrape.ErrSeedUnreachable) {
			t.Fatalf("err = %v, want ErrSeedUnreachable", err)
		}
	})
}

func TestScrapeEventLockedDatabase(t *testing.T) {
	ctx := context.Background()
	site := newSite(t)
	path := filepath.Join(t.TempDir(), "roster.db")
	rawDB, bunDB, err := utils.OpenDatabase(ctx, path, 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bunDB.Close() })
	if _, err := rawDB.ExecContext(ctx, "PRAGMA busy_timeout = 0"); err != nil {
		t.Fatal(err)
	}

	holder, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { holder.Close() })
	tx, err := holder.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, event_name, event_url) VALUES (99, 'Held', 'https://example.org/event-99')`,
	); err != nil {
		t.Fatal(err)
	}

	st := store.New(bunDB, store.WithRetryPolicy(store.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}))
	orchestrator := scheduler.NewOrchestrator(scrape.NewHTTPFetcher(5*time.Second, ""), st, scheduler.WithDelay(0))

	res, err := orchestrator.ScrapeEvent(ctx, site.URL+"/event-1/Attendees?elp=1")
	if !errors.Is(err, store.ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if res.State != scheduler.StateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if n := site.Hits("/event-1/Attendees?elp=1"); n != 0 {
		t.Fatalf("listing fetched %d times after the event write failed", n)
	}
}

func TestScrapeAllEventsShutdownWhileWorkersBusy(t *testing.T) {
	started := make(chan string, 3)
	release := make(chan struct{})
	var (
		mu     sync.Mutex
		listed = make(map[string]bool)
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/Events":
			w.Write([]byte(`<a href="/event-1">1</a> <a href="/event-2">2</a> <a href="/event-3">3</a>`))
		case strings.HasSuffix(r.URL.Path, "/Attendees"):
			mu.Lock()
			listed[r.URL.Path] = true
			mu.Unlock()
			started <- r.URL.Path
			<-release
			w.Write([]byte(`<table><tr><td>Apr 1, 2024</td><td>Jane Roe</td></tr></table>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	orchestrator, _ := newOrchestrator(t, 2)

	shutdown := make(chan struct{})
	type outcome struct {
		summary scheduler.Summary
		err     error
	}
	out := make(chan outcome, 1)
	go func() {
		summary, err := orchestrator.ScrapeAllEvents(context.Background(), shutdown, server.URL+"/Events", 0)
		out <- outcome{summary, err}
	}()

	// both workers are now stuck on a listing page
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("workers never started")
		}
	}
	close(shutdown)
	close(release)

	var got outcome
	select {
	case got = <-out:
	case <-time.After(10 * time.Second):
		t.Fatal("ScrapeAllEvents never returned")
	}
	if got.err != nil {
		t.Fatal(got.err)
	}
	want := scheduler.Summary{
		EventsFound:      3,
		EventsScraped:    2,
		AttendeesWritten: 2,
		Interrupted:      true,
	}
	if got.summary != want {
		t.Fatalf("summary = %+v, want %+v", got.summary, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if listed["/event-3/Attendees"] {
		t.Fatal("event 3 was dispatched after shutdown")
	}
}
