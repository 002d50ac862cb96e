package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

const ticketColumns = `ticket_id, event_id, ticket_code, guest_name, is_scanned, scanned_at_ms, scanned_by, generated_by, created_at_ms`

// MarkScanned is a single conditional UPDATE; the is_scanned = 0 guard
// makes it a compare-and-swap, so only one caller per ticket gets a row
// back. The success log row is written in the same transaction.
func (s *Store) MarkScanned(ctx context.Context, a store.ScanAttempt) (types.Ticket, bool, error) {
	var (
		t       types.Ticket
		applied bool
	)
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
UPDATE tickets
SET is_scanned    = 1,
    scanned_at_ms = ?,
    scanned_by    = ?
WHERE ticket_code = ? AND event_id = ? AND is_scanned = 0
RETURNING `+ticketColumns+`;
`, toMs(a.At), a.StaffID, a.Code, a.EventID)

		var err error
		t, err = scanTicket(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("MarkScanned update: %w", err)
		}
		applied = true

		if err := insertScanLog(ctx, tx, a.Log); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return types.Ticket{}, false, err
	}
	return t, applied, nil
}

func (s *Store) FindTicketByCode(ctx context.Context, code string) (types.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_code = ?;`, code)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return types.Ticket{}, store.ErrNotFound
	}
	if err != nil {
		return types.Ticket{}, fmt.Errorf("FindTicketByCode: %w", err)
	}
	return t, nil
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE ticket_code = ?;`, code).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("CodeExists: %w", err)
	}
	return true, nil
}

func (s *Store) InsertBatch(ctx context.Context, eventID string, tickets []types.Ticket) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		limit, issued, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if issued+len(tickets) > limit {
			return store.ErrTicketLimitExceeded
		}

		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO tickets(
  ticket_id, event_id, ticket_code, guest_name, generated_by, created_at_ms, seq
) VALUES (?, ?, ?, ?, ?, ?, ?);
`)
		if err != nil {
			return fmt.Errorf("InsertBatch prepare: %w", err)
		}
		defer stmt.Close()

		for i, t := range tickets {
			if _, err := stmt.ExecContext(ctx,
				t.ID, eventID, t.Code, nullString(t.GuestName), t.GeneratedBy, toMs(t.CreatedAt), issued+i,
			); err != nil {
				if isUniqueViolation(err) {
					return store.ErrCodeConflict
				}
				return fmt.Errorf("InsertBatch insert: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) CountTickets(ctx context.Context, eventID string) (types.Stats, error) {
	st := types.Stats{EventID: eventID}
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(is_scanned), 0)
FROM tickets
WHERE event_id = ?;
`, eventID).Scan(&st.Total, &st.Scanned)
	if err != nil {
		return types.Stats{}, fmt.Errorf("CountTickets: %w", err)
	}
	return st, nil
}

func (s *Store) ListTickets(ctx context.Context, eventID string) ([]types.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+ticketColumns+` FROM tickets WHERE event_id = ? ORDER BY seq, ticket_id;`, eventID)
	if err != nil {
		return nil, fmt.Errorf("ListTickets: %w", err)
	}
	defer rows.Close()

	var out []types.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return out, nil
}

func scanTicket(r rowScanner) (types.Ticket, error) {
	var (
		t         types.Ticket
		guest     sql.NullString
		scanned   int
		scannedMs sql.NullInt64
		scannedBy sql.NullString
		createdMs int64
	)
	if err := r.Scan(&t.ID, &t.EventID, &t.Code, &guest, &scanned, &scannedMs, &scannedBy, &t.GeneratedBy, &createdMs); err != nil {
		return types.Ticket{}, err
	}
	t.GuestName = guest.String
	t.IsScanned = scanned == 1
	if scannedMs.Valid {
		at := fromMs(scannedMs.Int64)
		t.ScannedAt = &at
	}
	t.ScannedBy = scannedBy.String
	t.CreatedAt = fromMs(createdMs)
	return t, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
