package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Enrichment scraped from an attendee's profile page. profile_url is unique and
// the first write wins: re-scraping never refreshes a stored profile.
type AttendeeProfile struct {
	bun.BaseModel `bun:"table:attendee_profiles"`

	ID             int64     `bun:"id,pk,autoincrement"`
	AttendeeID     int64     `bun:"attendee_id"`
	ProfileURL     string    `bun:"profile_url,type:text,unique"`
	Email          string    `bun:"email,type:text,nullzero"`
	Phone          string    `bun:"phone,type:text,nullzero"`
	Company        string    `bun:"company,type:text,nullzero"`
	JobTitle       string    `bun:"job_title,type:text,nullzero"`
	Bio            string    `bun:"bio,type:text,nullzero"`
	MemberSince    string    `bun:"member_since,type:text,nullzero"`
	Location       string    `bun:"location,type:text,nullzero"`
	Skills         string    `bun:"skills,type:text,nullzero"`
	Certifications string    `bun:"certifications,type:text,nullzero"`
	LastUpdated    time.Time `bun:"last_updated,type:timestamp,nullzero,default:current_timestamp"`

	Attendee *Attendee      `bun:"rel:belongs-to,join:attendee_id=id"`
	Fields   []ProfileField `bun:"rel:has-many,join:id=profile_id"`
}

// Which extracted keys feed which canonical column, in lookup order.
var profileColumns = []struct {
	set  func(p *AttendeeProfile, v string)
	keys []string
}{
	{func(p *AttendeeProfile, v string) { p.Email = v }, []string{"email"}},
	{func(p *AttendeeProfile, v string) { p.Phone = v }, []string{"phone"}},
	{func(p *AttendeeProfile, v string) { p.Company = v }, []string{"company"}},
	{func(p *AttendeeProfile, v string) { p.JobTitle = v }, []string{"title", "job_title"}},
	{func(p *AttendeeProfile, v string) { p.Bio = v }, []string{"bio"}},
	{func(p *AttendeeProfile, v string) { p.MemberSince = v }, []string{"member since", "member_since"}},
	{func(p *AttendeeProfile, v string) { p.Location = v }, []string{"city", "location"}},
	{func(p *AttendeeProfile, v string) { p.Skills = v }, []string{"skills"}},
	{func(p *AttendeeProfile, v string) { p.Certifications = v }, []string{"certifications"}},
}

var canonicalProfileKeys = func() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, col := range profileColumns {
		for _, k := range col.keys {
			keys[k] = struct{}{}
		}
	}
	return keys
}()

// Build a profile from extracted fields. Keys that don't map onto a canonical
// column are returned as dynamic fields, sorted by name.
func NewAttendeeProfile(attendeeID int64, profileURL string, fields map[string]string) (*AttendeeProfile, []ProfileField) {
	p := &AttendeeProfile{
		AttendeeID: attendeeID,
		ProfileURL: strings.TrimSpace(profileURL),
	}
	for _, col := range profileColumns {
		for _, k := range col.keys {
			if v := strings.TrimSpace(fields[k]); v != "" {
				col.set(p, v)
				break
			}
		}
	}

	dynamic := make([]ProfileField, 0)
	for k, v := range fields {
		if _, ok := canonicalProfileKeys[k]; ok {
			continue
		}
		name := strings.TrimSpace(k)
		if name == "" {
			continue
		}
		dynamic = append(dynamic, ProfileField{
			FieldName:  name,
			FieldValue: strings.TrimSpace(v),
			FieldType:  ProfileFieldTypeText,
		})
	}
	sortProfileFields(dynamic)
	return p, dynamic
}

// Insert-if-absent keyed by profile_url, then resolve the row id.
func (p *AttendeeProfile) Upsert(ctx context.Context, db bun.IDB) (inserted bool, err error) {
	switch {
	case p.AttendeeID <= 0:
		return false, fmt.Errorf("(*AttendeeProfile).Upsert: attendee id is blank")
	case p.ProfileURL == "":
		return false, fmt.Errorf("(*AttendeeProfile).Upsert: profile url is blank")
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}

	res, err := db.NewInsert().
		Model(p).
		On("CONFLICT (profile_url) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("(*AttendeeProfile).Upsert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("(*AttendeeProfile).Upsert: %w", err)
	}

	if err := db.NewSelect().
		Model((*AttendeeProfile)(nil)).
		Column("id").
		Where("profile_url = ?", p.ProfileURL).
		Scan(ctx, &p.ID); err != nil {
		return false, fmt.Errorf("(*AttendeeProfile).Upsert: can't resolve id: %w", err)
	}
	return n > 0, nil
}
