package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

const eventColumns = `event_id, name, event_date_ms, ticket_price, ticket_limit, artwork_url, admin_id, created_at_ms`

func (s *Store) CreateEvent(ctx context.Context, ev types.Event) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO events(`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, ev.ID, ev.Name, toMs(ev.Date), ev.TicketPrice.String(), ev.TicketLimit,
			nullString(ev.ArtworkURL), ev.AdminID, toMs(ev.CreatedAt)); err != nil {
			return fmt.Errorf("CreateEvent insert: %w", err)
		}
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (types.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = ?;`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return types.Event{}, store.ErrEventNotFound
	}
	if err != nil {
		return types.Event{}, fmt.Errorf("GetEvent: %w", err)
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+eventColumns+` FROM events ORDER BY event_date_ms, event_id;`)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	return collectEvents(rows)
}

func (s *Store) ListEventsForStaff(ctx context.Context, staffID string) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT e.event_id, e.name, e.event_date_ms, e.ticket_price, e.ticket_limit,
       e.artwork_url, e.admin_id, e.created_at_ms
FROM events e
JOIN staff_assignments a ON a.event_id = e.event_id
WHERE a.staff_id = ?
ORDER BY e.event_date_ms, e.event_id;`, staffID)
	if err != nil {
		return nil, fmt.Errorf("ListEventsForStaff: %w", err)
	}
	return collectEvents(rows)
}

// DeleteEventCascade removes dependents before the event row so foreign
// keys hold at every step. The worker runs it as one transaction.
func (s *Store) DeleteEventCascade(ctx context.Context, eventID string) (bool, error) {
	var existed bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM tickets WHERE event_id = ?;`,
			`DELETE FROM scan_logs WHERE event_id = ?;`,
			`DELETE FROM staff_assignments WHERE event_id = ?;`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, eventID); err != nil {
				return fmt.Errorf("DeleteEventCascade dependents: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE event_id = ?;`, eventID)
		if err != nil {
			return fmt.Errorf("DeleteEventCascade event: %w", err)
		}
		n, _ := res.RowsAffected()
		existed = n > 0
		return nil
	})
	return existed, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (types.Event, error) {
	var (
		ev        types.Event
		dateMs    int64
		createdMs int64
		price     string
		artwork   sql.NullString
	)
	if err := r.Scan(&ev.ID, &ev.Name, &dateMs, &price, &ev.TicketLimit, &artwork, &ev.AdminID, &createdMs); err != nil {
		return types.Event{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return types.Event{}, fmt.Errorf("event %s price %q: %w", ev.ID, price, err)
	}
	ev.TicketPrice = p
	ev.Date = fromMs(dateMs)
	ev.CreatedAt = fromMs(createdMs)
	ev.ArtworkURL = artwork.String
	return ev, nil
}

func collectEvents(rows *sql.Rows) ([]types.Event, error) {
	defer rows.Close()
	var out []types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
