package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// One registration row, unique per (event_id, full_name, event_date). A person
// can show up once per distinct date of the same event.
type Attendee struct {
	bun.BaseModel `bun:"table:attendees"`

	ID          int64     `bun:"id,pk,autoincrement"`
	EventID     int64     `bun:"event_id,unique:attendee_natural_key"`
	EventDate   string    `bun:"event_date,type:text,unique:attendee_natural_key"`
	FullName    string    `bun:"full_name,type:text,unique:attendee_natural_key"`
	FirstName   string    `bun:"first_name,type:text"`
	LastName    string    `bun:"last_name,type:text"`
	ProfileURL  string    `bun:"profile_url,type:text,nullzero"`
	IsAnonymous bool      `bun:"is_anonymous,default:false"`
	GuestCount  int       `bun:"guest_count,type:integer,default:0"`
	RawName     string    `bun:"raw_name,type:text"`
	CreatedAt   time.Time `bun:"created_at,type:timestamp,nullzero,default:current_timestamp"`

	Event   *Event           `bun:"rel:belongs-to,join:event_id=id"`
	Profile *AttendeeProfile `bun:"rel:has-one,join:id=attendee_id"`
}

// Insert-if-absent keyed by the natural key, then resolve the row id whether it
// was just written or already there. Never updates an existing row.
func (a *Attendee) Upsert(ctx context.Context, db bun.IDB) (inserted bool, err error) {
	a.EventDate = strings.TrimSpace(a.EventDate)
	a.FullName = strings.TrimSpace(a.FullName)
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.ProfileURL = strings.TrimSpace(a.ProfileURL)
	switch {
	case a.EventID <= 0:
		return false, fmt.Errorf("(*Attendee).Upsert: event id is blank")
	case a.EventDate == "":
		return false, fmt.Errorf("(*Attendee).Upsert: event date is blank")
	case a.FullName == "":
		return false, fmt.Errorf("(*Attendee).Upsert: full name is blank")
	case a.GuestCount < 0:
		a.GuestCount = 0
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	res, err := db.NewInsert().
		Model(a).
		On("CONFLICT (event_id, full_name, event_date) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("(*Attendee).Upsert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("(*Attendee).Upsert: %w", err)
	}

	if err := db.NewSelect().
		Model((*Attendee)(nil)).
		Column("id").
		Where("event_id = ?", a.EventID).
		Where("full_name = ?", a.FullName).
		Where("event_date = ?", a.EventDate).
		Scan(ctx, &a.ID); err != nil {
		return false, fmt.Errorf("(*Attendee).Upsert: can't resolve id: %w", err)
	}
	return n > 0, nil
}
