package model

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/uptrace/bun"
)

// One source event. The ID comes from the event's URL path, it's never generated.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID             int64     `bun:"id,pk"`
	Name           string    `bun:"event_name,type:text"`
	Date           string    `bun:"event_date,type:text"` // free text as sourced
	URL            string    `bun:"event_url,type:text"`
	TotalAttendees *int      `bun:"total_attendees,type:integer"`
	CreatedAt      time.Time `bun:"created_at,type:timestamp,nullzero,default:current_timestamp"`

	Attendees []*Attendee `bun:"rel:has-many,join:id=event_id"`
}

// Insert-if-absent by primary key. An existing row is never touched.
// Reports whether a new row was written.
func (e *Event) Upsert(ctx context.Context, db bun.IDB) (bool, error) {
	switch {
	case e.ID <= 0:
		return false, fmt.Errorf("(*Event).Upsert: event id is blank")
	case e.URL == "":
		return false, fmt.Errorf("(*Event).Upsert: url is blank")
	}
	if _, err := url.ParseRequestURI(e.URL); err != nil {
		return false, fmt.Errorf("(*Event).Upsert: url is invalid: %w", err)
	}
	if e.Name == "" {
		e.Name = ProvisionalEventName(e.ID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := db.NewInsert().
		Model(e).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("(*Event).Upsert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("(*Event).Upsert: %w", err)
	}
	return n > 0, nil
}

func ProvisionalEventName(id int64) string {
	return fmt.Sprintf("Event %d", id)
}
