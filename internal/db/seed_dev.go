package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	DevEventID = "00000000-0000-0000-0000-00000000d001"
	DevAdminID = "dev-admin"
	DevStaffID = "dev-vendor"
)

// SeedDev creates a demo event with a handful of tickets and one vendor
// assignment. It is safe to run on every start.
func SeedDev(ctx context.Context, db *sql.DB) error {
	now := time.Now().UTC()
	nowMs := now.UnixMilli()

	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO events(
  event_id, name, event_date_ms, ticket_price, ticket_limit, admin_id, created_at_ms
) VALUES (?, 'Dev Launch Night', ?, '25.00', 100, ?, ?);
`, DevEventID, now.Add(7*24*time.Hour).UnixMilli(), DevAdminID, nowMs); err != nil {
		return fmt.Errorf("seed event: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO staff_assignments(staff_id, event_id, created_at_ms)
VALUES (?, ?, ?);
`, DevStaffID, DevEventID, nowMs); err != nil {
		return fmt.Errorf("seed assignment: %w", err)
	}

	for i, code := range []string{"DEV0000000A1", "DEV0000000A2", "DEV0000000A3"} {
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO tickets(
  ticket_id, event_id, ticket_code, guest_name, generated_by, created_at_ms, seq
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, fmt.Sprintf("dev-ticket-%d", i+1), DevEventID, code, fmt.Sprintf("Guest %d", i+1), DevAdminID, nowMs, i); err != nil {
			return fmt.Errorf("seed ticket %s: %w", code, err)
		}
	}

	return nil
}
