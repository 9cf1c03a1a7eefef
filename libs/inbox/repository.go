// Package inbox marks inbound events as applied. The mark is written in the
// same transaction as the effect of the event, so a redelivery either finds
// the mark or finds nothing applied at all.
package inbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Record inserts eventID into inbox_events through q, normally a pgx.Tx.
// It reports false when the event was already recorded. An empty id is
// never deduplicated.
func Record(ctx context.Context, q execer, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
