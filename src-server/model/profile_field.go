package model

import (
	"context"
	"fmt"
	"sort"

	"github.com/uptrace/bun"
)

const ProfileFieldTypeText = "text"

// Labeled profile value with no canonical column.
type ProfileField struct {
	bun.BaseModel `bun:"table:profile_fields"`

	ID         int64  `bun:"id,pk,autoincrement"`
	ProfileID  int64  `bun:"profile_id,unique:profile_field_name"`
	FieldName  string `bun:"field_name,type:text,unique:profile_field_name"`
	FieldValue string `bun:"field_value,type:text"`
	FieldType  string `bun:"field_type,type:text"`

	Profile *AttendeeProfile `bun:"rel:belongs-to,join:profile_id=id"`
}

// Insert-if-absent keyed by (profile_id, field_name); an existing value is kept.
func (f *ProfileField) Upsert(ctx context.Context, db bun.IDB) (bool, error) {
	switch {
	case f.ProfileID <= 0:
		return false, fmt.Errorf("(*ProfileField).Upsert: profile id is blank")
	case f.FieldName == "":
		return false, fmt.Errorf("(*ProfileField).Upsert: field name is blank")
	}
	if f.FieldType == "" {
		f.FieldType = ProfileFieldTypeText
	}

	res, err := db.NewInsert().
		Model(f).
		On("CONFLICT (profile_id, field_name) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("(*ProfileField).Upsert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("(*ProfileField).Upsert: %w", err)
	}
	return n > 0, nil
}

func sortProfileFields(fields []ProfileField) {
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].FieldName < fields[j].FieldName
	})
}
