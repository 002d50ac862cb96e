package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
)

// lockEvent reads the event's ticket limit and current ticket count
// inside tx. Returns store.ErrEventNotFound when the event is missing.
//
// Must be called inside an existing transaction.
func lockEvent(ctx context.Context, tx *sql.Tx, eventID string) (limit, issued int, err error) {
	err = tx.QueryRowContext(ctx, `
SELECT e.ticket_limit,
       (SELECT COUNT(*) FROM tickets t WHERE t.event_id = e.event_id)
FROM events e
WHERE e.event_id = ?;
`, eventID).Scan(&limit, &issued)
	if err == sql.ErrNoRows {
		return 0, 0, store.ErrEventNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("lockEvent %s: %w", eventID, err)
	}
	return limit, issued, nil
}
