package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"roster/src-server/metric"
	"roster/src-server/model"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

var (
	// caller-side problems, never sent to the database
	ErrInvalidAttendee = errors.New("attendee is missing event date or full name")
	ErrMissingAttendee = errors.New("profile has no attendee id")
)

// Idempotent writes of events, attendees and profiles. Every upsert runs in
// its own transaction and is retried while the database reports it's locked.
type Store struct {
	db    *bun.DB
	retry RetryPolicy
}

type Option func(*Store)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) {
		s.retry = p
	}
}

func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db: db,
		retry: RetryPolicy{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBaseDelay,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) DB() *bun.DB {
	return s.db
}

// Insert the event if its id is new. Existing rows are left alone.
func (s *Store) UpsertEvent(ctx context.Context, id int64, name, date, url string, totalAttendees *int) (bool, error) {
	eventModel := &model.Event{
		ID:             id,
		Name:           name,
		Date:           date,
		URL:            url,
		TotalAttendees: totalAttendees,
	}
	var inserted bool
	if err := s.write(ctx, "UpsertEvent", func(ctx context.Context, tx bun.Tx) error {
		var err error
		inserted, err = eventModel.Upsert(ctx, tx)
		return err
	}); err != nil {
		return false, err
	}
	metric.RecordsWritten.WithLabelValues("events", result(inserted)).Inc()
	return inserted, nil
}

// Insert the attendee if its (event, name, date) is new and return its id
// either way.
func (s *Store) UpsertAttendee(ctx context.Context, attendeeModel *model.Attendee) (int64, error) {
	if strings.TrimSpace(attendeeModel.EventDate) == "" || strings.TrimSpace(attendeeModel.FullName) == "" {
		metric.RecordsWritten.WithLabelValues("attendees", "skipped").Inc()
		return 0, fmt.Errorf("UpsertAttendee: event %d, raw name %q: %w",
			attendeeModel.EventID, attendeeModel.RawName, ErrInvalidAttendee)
	}

	var inserted bool
	if err := s.write(ctx, "UpsertAttendee", func(ctx context.Context, tx bun.Tx) error {
		var err error
		inserted, err = attendeeModel.Upsert(ctx, tx)
		return err
	}); err != nil {
		metric.RecordsWritten.WithLabelValues("attendees", "skipped").Inc()
		return 0, err
	}
	if !inserted {
		slog.Debug("attendee already stored",
			"event_id", attendeeModel.EventID,
			"full_name", attendeeModel.FullName,
			"event_date", attendeeModel.EventDate,
		)
	}
	metric.RecordsWritten.WithLabelValues("attendees", result(inserted)).Inc()
	return attendeeModel.ID, nil
}

// Insert the profile if its URL is new and return its id either way. Dynamic
// fields are only written together with a newly inserted profile: the first
// write wins and a stored profile is never refreshed.
func (s *Store) UpsertProfile(ctx context.Context, attendeeID int64, profileURL string, fields map[string]string) (int64, error) {
	if attendeeID <= 0 {
		metric.RecordsWritten.WithLabelValues("attendee_profiles", "skipped").Inc()
		return 0, fmt.Errorf("UpsertProfile: %s: %w", profileURL, ErrMissingAttendee)
	}

	var (
		profileModel *model.AttendeeProfile
		inserted     bool
		fieldCount   int
	)
	if err := s.write(ctx, "UpsertProfile", func(ctx context.Context, tx bun.Tx) error {
		var dynamicFields []model.ProfileField
		profileModel, dynamicFields = model.NewAttendeeProfile(attendeeID, profileURL, fields)

		var err error
		if inserted, err = profileModel.Upsert(ctx, tx); err != nil || !inserted {
			return err
		}
		fieldCount = 0
		for i := range dynamicFields {
			dynamicFields[i].ProfileID = profileModel.ID
			ok, err := dynamicFields[i].Upsert(ctx, tx)
			if err != nil {
				return fmt.Errorf("field %q: %w", dynamicFields[i].FieldName, err)
			}
			if ok {
				fieldCount++
			}
		}
		return nil
	}); err != nil {
		metric.RecordsWritten.WithLabelValues("attendee_profiles", "skipped").Inc()
		return 0, err
	}

	metric.RecordsWritten.WithLabelValues("attendee_profiles", result(inserted)).Inc()
	if fieldCount > 0 {
		metric.RecordsWritten.WithLabelValues("profile_fields", "inserted").Add(float64(fieldCount))
	}
	return profileModel.ID, nil
}

func (s *Store) write(ctx context.Context, op string, fn func(ctx context.Context, tx bun.Tx) error) error {
	startTimer := time.Now()
	defer func() {
		metric.DatabaseWriteLatency.Observe(time.Since(startTimer).Seconds())
	}()
	return s.retry.Do(ctx, op, func(ctx context.Context) error {
		return s.db.RunInTx(ctx, &sql.TxOptions{}, fn)
	})
}

func result(inserted bool) string {
	if inserted {
		return "inserted"
	}
	return "existing"
}
