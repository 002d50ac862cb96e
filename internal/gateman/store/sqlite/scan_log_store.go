package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

// AppendScanLog returns store.ErrEventNotFound when the event is gone.
func (s *Store) AppendScanLog(ctx context.Context, rec types.ScanLog) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, _, err := lockEvent(ctx, tx, rec.EventID); err != nil {
			return err
		}
		return insertScanLog(ctx, tx, rec)
	})
}

// insertScanLog must be called inside an existing transaction.
func insertScanLog(ctx context.Context, tx *sql.Tx, rec types.ScanLog) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO scan_logs(
  log_id, event_id, ticket_code, staff_id, status, message, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.EventID, rec.TicketCode, rec.StaffID, string(rec.Status), rec.Message, toMs(rec.CreatedAt)); err != nil {
		return fmt.Errorf("insert scan log: %w", err)
	}
	return nil
}

// ListScanLogs returns the newest rows first. limit <= 0 means no limit.
func (s *Store) ListScanLogs(ctx context.Context, eventID string, limit int) ([]types.ScanLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT log_id, event_id, ticket_code, staff_id, status, message, created_at_ms
FROM scan_logs
WHERE event_id = ?
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?;
`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListScanLogs: %w", err)
	}
	defer rows.Close()

	var out []types.ScanLog
	for rows.Next() {
		var (
			l         types.ScanLog
			status    string
			createdMs int64
		)
		if err := rows.Scan(&l.ID, &l.EventID, &l.TicketCode, &l.StaffID, &status, &l.Message, &createdMs); err != nil {
			return nil, fmt.Errorf("scan scan_log: %w", err)
		}
		l.Status = types.ScanStatus(status)
		l.CreatedAt = fromMs(createdMs)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan_logs: %w", err)
	}
	return out, nil
}

func (s *Store) StaffScanCounts(ctx context.Context, eventID string) ([]types.StaffScanCount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT staff_id, COUNT(*) AS n
FROM scan_logs
WHERE event_id = ? AND status = 'SUCCESS'
GROUP BY staff_id
ORDER BY n DESC, staff_id;
`, eventID)
	if err != nil {
		return nil, fmt.Errorf("StaffScanCounts: %w", err)
	}
	defer rows.Close()

	var out []types.StaffScanCount
	for rows.Next() {
		var c types.StaffScanCount
		if err := rows.Scan(&c.StaffID, &c.Count); err != nil {
			return nil, fmt.Errorf("scan staff count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
