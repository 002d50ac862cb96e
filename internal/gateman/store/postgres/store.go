package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

// deleteRetries bounds how often a serializable cascade delete is
// retried after a serialization failure.
const deleteRetries = 3

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

// Open parses dsn, connects and applies migrations.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// ── Events ───────────────────────────────────────────────────────────────────

const eventColumns = `id, name, event_date, ticket_price::text, ticket_limit, artwork_url, admin_id, created_at`

func (s *Store) CreateEvent(ctx context.Context, ev types.Event) error {
	const stmt = `
INSERT INTO events (id, name, event_date, ticket_price, ticket_limit, artwork_url, admin_id, created_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, stmt, ev.ID, ev.Name, ev.Date, ev.TicketPrice.String(),
		ev.TicketLimit, nullString(ev.ArtworkURL), ev.AdminID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (types.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Event{}, store.ErrEventNotFound
	}
	if err != nil {
		return types.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]types.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY event_date, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectEvents(rows)
}

func (s *Store) ListEventsForStaff(ctx context.Context, staffID string) ([]types.Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT e.id, e.name, e.event_date, e.ticket_price::text, e.ticket_limit, e.artwork_url, e.admin_id, e.created_at
FROM events e
JOIN staff_assignments a ON a.event_id = e.id
WHERE a.staff_id = $1
ORDER BY e.event_date, e.id`, staffID)
	if err != nil {
		return nil, fmt.Errorf("list events for staff: %w", err)
	}
	return collectEvents(rows)
}

// DeleteEventCascade runs at SERIALIZABLE so no admission or batch can
// interleave with it; serialization failures are retried.
func (s *Store) DeleteEventCascade(ctx context.Context, eventID string) (bool, error) {
	var existed bool
	var err error
	for attempt := 0; attempt < deleteRetries; attempt++ {
		err = withTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ctx context.Context, tx pgx.Tx) error {
			for _, stmt := range []string{
				`DELETE FROM tickets WHERE event_id = $1`,
				`DELETE FROM scan_logs WHERE event_id = $1`,
				`DELETE FROM staff_assignments WHERE event_id = $1`,
			} {
				if _, err := tx.Exec(ctx, stmt, eventID); err != nil {
					return fmt.Errorf("delete dependents: %w", err)
				}
			}
			tag, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, eventID)
			if err != nil {
				return fmt.Errorf("delete event: %w", err)
			}
			existed = tag.RowsAffected() > 0
			return nil
		})
		if err == nil || !isSerializationFailure(err) {
			break
		}
	}
	return existed, err
}

func scanEvent(row pgx.Row) (types.Event, error) {
	var (
		ev      types.Event
		price   string
		artwork *string
	)
	if err := row.Scan(&ev.ID, &ev.Name, &ev.Date, &price, &ev.TicketLimit, &artwork, &ev.AdminID, &ev.CreatedAt); err != nil {
		return types.Event{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return types.Event{}, fmt.Errorf("event %s price %q: %w", ev.ID, price, err)
	}
	ev.TicketPrice = p
	ev.Date = ev.Date.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	if artwork != nil {
		ev.ArtworkURL = *artwork
	}
	return ev, nil
}

func collectEvents(rows pgx.Rows) ([]types.Event, error) {
	defer rows.Close()
	var out []types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate events: %w", rows.Err())
	}
	return out, nil
}

// ── Tickets ──────────────────────────────────────────────────────────────────

const ticketColumns = `id, event_id, ticket_code, guest_name, is_scanned, scanned_at, scanned_by, generated_by, created_at`

// MarkScanned relies on the row lock taken by UPDATE: a second writer
// blocks, then re-evaluates NOT is_scanned against the committed row and
// matches nothing.
func (s *Store) MarkScanned(ctx context.Context, a store.ScanAttempt) (types.Ticket, bool, error) {
	var (
		t       types.Ticket
		applied bool
	)
	err := withTx(ctx, s.pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
UPDATE tickets
SET is_scanned = TRUE, scanned_at = $1, scanned_by = $2
WHERE ticket_code = $3 AND event_id = $4 AND NOT is_scanned
RETURNING `+ticketColumns, a.At.UTC(), a.StaffID, a.Code, a.EventID)

		var err error
		t, err = scanTicket(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark scanned: %w", err)
		}
		applied = true
		return insertScanLog(ctx, tx, a.Log)
	})
	if err != nil {
		return types.Ticket{}, false, err
	}
	return t, applied, nil
}

func (s *Store) FindTicketByCode(ctx context.Context, code string) (types.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Ticket{}, store.ErrNotFound
	}
	if err != nil {
		return types.Ticket{}, fmt.Errorf("find ticket: %w", err)
	}
	return t, nil
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_code = $1)`, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("code exists: %w", err)
	}
	return exists, nil
}

// InsertBatch locks the event row so concurrent batches for the same
// event cannot both pass the limit check, then bulk-loads with COPY.
func (s *Store) InsertBatch(ctx context.Context, eventID string, tickets []types.Ticket) error {
	return withTx(ctx, s.pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		var limit int
		err := tx.QueryRow(ctx, `SELECT ticket_limit FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&limit)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("lock event: %w", err)
		}

		var issued int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE event_id = $1`, eventID).Scan(&issued); err != nil {
			return fmt.Errorf("count tickets: %w", err)
		}
		if issued+len(tickets) > limit {
			return store.ErrTicketLimitExceeded
		}

		rows := make([][]any, len(tickets))
		for i, t := range tickets {
			created := t.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			rows[i] = []any{t.ID, eventID, t.Code, nullString(t.GuestName), t.GeneratedBy, created, issued + i}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"tickets"},
			[]string{"id", "event_id", "ticket_code", "guest_name", "generated_by", "created_at", "seq"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrCodeConflict
			}
			return fmt.Errorf("copy tickets: %w", err)
		}
		return nil
	})
}

func (s *Store) CountTickets(ctx context.Context, eventID string) (types.Stats, error) {
	st := types.Stats{EventID: eventID}
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE is_scanned)
FROM tickets
WHERE event_id = $1`, eventID).Scan(&st.Total, &st.Scanned)
	if err != nil {
		return types.Stats{}, fmt.Errorf("count tickets: %w", err)
	}
	return st, nil
}

func (s *Store) ListTickets(ctx context.Context, eventID string) ([]types.Ticket, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1 ORDER BY seq, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
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
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate tickets: %w", rows.Err())
	}
	return out, nil
}

func scanTicket(row pgx.Row) (types.Ticket, error) {
	var (
		t         types.Ticket
		guest     *string
		scannedAt *time.Time
		scannedBy *string
	)
	if err := row.Scan(&t.ID, &t.EventID, &t.Code, &guest, &t.IsScanned, &scannedAt, &scannedBy, &t.GeneratedBy, &t.CreatedAt); err != nil {
		return types.Ticket{}, err
	}
	if guest != nil {
		t.GuestName = *guest
	}
	if scannedAt != nil {
		at := scannedAt.UTC()
		t.ScannedAt = &at
	}
	if scannedBy != nil {
		t.ScannedBy = *scannedBy
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// ── Scan logs ────────────────────────────────────────────────────────────────

func (s *Store) AppendScanLog(ctx context.Context, rec types.ScanLog) error {
	return withTx(ctx, s.pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		return insertScanLog(ctx, tx, rec)
	})
}

func insertScanLog(ctx context.Context, tx pgx.Tx, rec types.ScanLog) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
INSERT INTO scan_logs (id, event_id, ticket_code, staff_id, status, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.EventID, rec.TicketCode, rec.StaffID, string(rec.Status), rec.Message, created)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrEventNotFound
		}
		return fmt.Errorf("insert scan log: %w", err)
	}
	return nil
}

func (s *Store) ListScanLogs(ctx context.Context, eventID string, limit int) ([]types.ScanLog, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, event_id, ticket_code, staff_id, status, message, created_at
FROM scan_logs
WHERE event_id = $1
ORDER BY created_at DESC, log_seq DESC
LIMIT $2`, eventID, lim)
	if err != nil {
		return nil, fmt.Errorf("list scan logs: %w", err)
	}
	defer rows.Close()

	var out []types.ScanLog
	for rows.Next() {
		var (
			l      types.ScanLog
			status string
		)
		if err := rows.Scan(&l.ID, &l.EventID, &l.TicketCode, &l.StaffID, &status, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scan log: %w", err)
		}
		l.Status = types.ScanStatus(status)
		l.CreatedAt = l.CreatedAt.UTC()
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate scan logs: %w", rows.Err())
	}
	return out, nil
}

func (s *Store) StaffScanCounts(ctx context.Context, eventID string) ([]types.StaffScanCount, error) {
	rows, err := s.pool.Query(ctx, `
SELECT staff_id, COUNT(*)
FROM scan_logs
WHERE event_id = $1 AND status = 'SUCCESS'
GROUP BY staff_id
ORDER BY COUNT(*) DESC, staff_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("staff scan counts: %w", err)
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

// ── Staff assignments ────────────────────────────────────────────────────────

func (s *Store) Assign(ctx context.Context, a types.StaffAssignment) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO staff_assignments (staff_id, event_id, created_at) VALUES ($1, $2, $3)`,
		a.StaffID, a.EventID, created)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return store.ErrAlreadyAssigned
	case isForeignKeyViolation(err):
		return store.ErrEventNotFound
	default:
		return fmt.Errorf("assign staff: %w", err)
	}
}

func (s *Store) IsAssigned(ctx context.Context, staffID, eventID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM staff_assignments WHERE staff_id = $1 AND event_id = $2)`,
		staffID, eventID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("is assigned: %w", err)
	}
	return ok, nil
}

func (s *Store) ListAssignments(ctx context.Context, eventID string) ([]types.StaffAssignment, error) {
	rows, err := s.pool.Query(ctx, `
SELECT staff_id, event_id, created_at FROM staff_assignments WHERE event_id = $1 ORDER BY staff_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []types.StaffAssignment
	for rows.Next() {
		var a types.StaffAssignment
		if err := rows.Scan(&a.StaffID, &a.EventID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
