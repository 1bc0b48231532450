package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
)

const AttendeesPerPage = 20

type NameCount struct {
	FirstName string `bun:"first_name"`
	LastName  string `bun:"last_name"`
	Count     int    `bun:"count"`
}

type Overview struct {
	TotalAttendees int
	TotalEvents    int
	TotalProfiles  int
	AnonymousCount int
	NamedCount     int
	RecentEvent    *Event
	TopNames       []NameCount
}

// Attendee row joined with the profile columns the listings show.
type AttendeeRow struct {
	Attendee `bun:",extend"`

	EventName string `bun:"event_name"`
	Email     string `bun:"email"`
	Company   string `bun:"company"`
	JobTitle  string `bun:"job_title"`
	Phone     string `bun:"phone"`
}

type Page struct {
	Page       int
	TotalPages int
	Total      int
	Attendees  []AttendeeRow
}

func GetOverview(ctx context.Context, db bun.IDB) (*Overview, error) {
	o := &Overview{TopNames: make([]NameCount, 0)}
	var err error

	if o.TotalAttendees, err = db.NewSelect().Model((*Attendee)(nil)).Count(ctx); err != nil {
		return nil, fmt.Errorf("GetOverview: %w", err)
	}
	if o.TotalEvents, err = db.NewSelect().Model((*Event)(nil)).Count(ctx); err != nil {
		return nil, fmt.Errorf("GetOverview: %w", err)
	}
	if o.TotalProfiles, err = db.NewSelect().Model((*AttendeeProfile)(nil)).Count(ctx); err != nil {
		return nil, fmt.Errorf("GetOverview: %w", err)
	}
	if o.AnonymousCount, err = db.NewSelect().
		Model((*Attendee)(nil)).
		Where("is_anonymous = ?", true).
		Count(ctx); err != nil {
		return nil, fmt.Errorf("GetOverview: %w", err)
	}
	o.NamedCount = o.TotalAttendees - o.AnonymousCount

	recent := make([]Event, 0, 1)
	if err := db.NewSelect().
		Model(&recent).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("GetOverview: %w", err)
	}
	if len(recent) > 0 {
		o.RecentEvent = &recent[0]
	}

	if err := db.NewSelect().
		Model((*Attendee)(nil)).
		Column("first_name", "last_name").
		ColumnExpr("COUNT(*) AS count").
		Where("is_anonymous = ?", false).
		Group("first_name", "last_name").
		OrderExpr("count DESC").
		Limit(10).
		Scan(ctx, &o.TopNames); err != nil {
		return nil, fmt.Errorf("GetOverview: %w", err)
	}

	return o, nil
}

// Events newest first, with how many attendees each one has in the store.
func ListEvents(ctx context.Context, db bun.IDB) ([]EventSummary, error) {
	events := make([]EventSummary, 0)
	if err := db.NewSelect().
		TableExpr("events AS e").
		ColumnExpr("e.id, e.event_name, e.event_date, e.event_url").
		ColumnExpr("(SELECT COUNT(*) FROM attendees AS a WHERE a.event_id = e.id) AS attendee_count").
		OrderExpr("e.created_at DESC, e.id DESC").
		Scan(ctx, &events); err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	return events, nil
}

type EventSummary struct {
	ID            int64  `bun:"id"`
	Name          string `bun:"event_name"`
	Date          string `bun:"event_date"`
	URL           string `bun:"event_url"`
	AttendeeCount int    `bun:"attendee_count"`
}

func ListEventAttendees(ctx context.Context, db bun.IDB, eventID int64, page int) (*Page, error) {
	q := db.NewSelect().
		Model((*Attendee)(nil)).
		Where("attendee.event_id = ?", eventID)
	return attendeePage(ctx, q, page, "attendee.event_date DESC", "attendee.full_name")
}

func SearchAttendees(ctx context.Context, db bun.IDB, query string, page int) (*Page, error) {
	like := "%" + query + "%"
	q := db.NewSelect().
		Model((*Attendee)(nil)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("attendee.full_name LIKE ?", like).
				WhereOr("attendee.first_name LIKE ?", like).
				WhereOr("attendee.last_name LIKE ?", like)
		})
	return attendeePage(ctx, q, page, "attendee.full_name", "attendee.event_date DESC")
}

func attendeePage(ctx context.Context, q *bun.SelectQuery, page int, order ...string) (*Page, error) {
	if page < 1 {
		page = 1
	}
	total, err := q.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("attendeePage: %w", err)
	}

	rows := make([]AttendeeRow, 0)
	if err := q.
		ColumnExpr("attendee.*").
		ColumnExpr("e.event_name").
		ColumnExpr("ap.email, ap.company, ap.job_title, ap.phone").
		Join("LEFT JOIN events AS e ON e.id = attendee.event_id").
		Join("LEFT JOIN attendee_profiles AS ap ON ap.attendee_id = attendee.id").
		OrderExpr(strings.Join(order, ", ")).
		Limit(AttendeesPerPage).
		Offset((page-1)*AttendeesPerPage).
		Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("attendeePage: %w", err)
	}

	return &Page{
		Page:       page,
		TotalPages: (total + AttendeesPerPage - 1) / AttendeesPerPage,
		Total:      total,
		Attendees:  rows,
	}, nil
}
