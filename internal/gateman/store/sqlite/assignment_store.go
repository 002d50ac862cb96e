package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

func (s *Store) Assign(ctx context.Context, a types.StaffAssignment) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, _, err := lockEvent(ctx, tx, a.EventID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO staff_assignments(staff_id, event_id, created_at_ms) VALUES (?, ?, ?);
`, a.StaffID, a.EventID, toMs(a.CreatedAt)); err != nil {
			if isUniqueViolation(err) {
				return store.ErrAlreadyAssigned
			}
			return fmt.Errorf("Assign insert: %w", err)
		}
		return nil
	})
}

func (s *Store) IsAssigned(ctx context.Context, staffID, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
SELECT 1 FROM staff_assignments WHERE staff_id = ? AND event_id = ?;
`, staffID, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsAssigned: %w", err)
	}
	return true, nil
}

func (s *Store) ListAssignments(ctx context.Context, eventID string) ([]types.StaffAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT staff_id, event_id, created_at_ms
FROM staff_assignments
WHERE event_id = ?
ORDER BY staff_id;
`, eventID)
	if err != nil {
		return nil, fmt.Errorf("ListAssignments: %w", err)
	}
	defer rows.Close()

	var out []types.StaffAssignment
	for rows.Next() {
		var (
			a         types.StaffAssignment
			createdMs int64
		)
		if err := rows.Scan(&a.StaffID, &a.EventID, &createdMs); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.CreatedAt = fromMs(createdMs)
		out = append(out, a)
	}
	return out, rows.Err()
}
