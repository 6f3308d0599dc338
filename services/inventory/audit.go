package inventory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"devpin/pkg/db"
)

// Entry is one audit log line: who did what to which object.
type Entry struct {
	Actor   string
	Action  string
	Obj     string
	Details map[string]any
}

// Record appends an entry to the audit table.
func Record(ctx context.Context, pool *pgxpool.Pool, e Entry) error {
	if pool == nil {
		return errors.New("database pool is required")
	}
	if e.Actor == "" || e.Action == "" {
		return errors.New("audit entries need an actor and an action")
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}

	details, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, pool, `
INSERT INTO audit (actor, action, obj, details)
VALUES ($1, $2, $3, $4::jsonb)
`, e.Actor, e.Action, e.Obj, details)
	return err
}
