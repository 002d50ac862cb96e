package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/Pi-Jeremy/gateman/internal/db"
	sqlitestore "github.com/Pi-Jeremy/gateman/internal/gateman/store/sqlite"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production.  The connection is closed automatically when the
// test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}
	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestStore wires a Store over a fresh database and worker.
func newTestStore(t *testing.T) (*sqlitestore.Store, *sql.DB) {
	t.Helper()
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	return sqlitestore.New(conn, w), conn
}

func seedEvent(t *testing.T, s *sqlitestore.Store, id string, limit int) types.Event {
	t.Helper()
	ev := types.Event{
		ID:          id,
		Name:        "Event " + id,
		Date:        time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC),
		TicketPrice: decimal.RequireFromString("12.50"),
		TicketLimit: limit,
		AdminID:     "admin-1",
		CreatedAt:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("seed event %s: %v", id, err)
	}
	return ev
}

func makeTickets(prefix string, n int) []types.Ticket {
	out := make([]types.Ticket, n)
	for i := range out {
		out[i] = types.Ticket{
			ID:          fmt.Sprintf("%s-id-%d", prefix, i),
			Code:        fmt.Sprintf("%s%04d", prefix, i),
			GeneratedBy: "admin-1",
			CreatedAt:   time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func countRows(t *testing.T, conn *sql.DB, table, eventID string) int {
	t.Helper()
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE event_id = ?`, eventID).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
