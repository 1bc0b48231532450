package model

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
)

func CreateSchema(ctx context.Context, db *bun.DB) error {
	if err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, table := range []struct {
			model       interface{}
			foreignKeys []string
		}{
			{(*Event)(nil), nil},
			{(*Attendee)(nil), []string{`("event_id") REFERENCES "events" ("id")`}},
			{(*AttendeeProfile)(nil), []string{`("attendee_id") REFERENCES "attendees" ("id")`}},
			{(*ProfileField)(nil), []string{`("profile_id") REFERENCES "attendee_profiles" ("id")`}},
		} {
			q := tx.NewCreateTable().
				Model(table.model).
				IfNotExists()
			for _, fk := range table.foreignKeys {
				q = q.ForeignKey(fk)
			}
			if _, err := q.Exec(ctx); err != nil {
				return err
			}
		}
		if _, err := tx.NewCreateIndex().
			Model((*Attendee)(nil)).
			Index("attendees_event_id_idx").
			Column("event_id").
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return fmt.Errorf("CreateSchema: %w", err)
	}

	return nil
}
