package store

import (
	"context"
	"errors"
	"time"

	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrEventNotFound       = errors.New("event not found")
	ErrTicketLimitExceeded = errors.New("ticket limit exceeded")
	ErrCodeConflict        = errors.New("ticket code already exists")
	ErrAlreadyAssigned     = errors.New("staff already assigned to event")
)

type EventStore interface {
	CreateEvent(ctx context.Context, ev types.Event) error
	GetEvent(ctx context.Context, eventID string) (types.Event, error)
	ListEvents(ctx context.Context) ([]types.Event, error)
	ListEventsForStaff(ctx context.Context, staffID string) ([]types.Event, error)

	// DeleteEventCascade removes the event with all of its tickets, scan
	// logs and staff assignments in one transaction. It reports whether
	// an event row existed; a missing event is not an error.
	DeleteEventCascade(ctx context.Context, eventID string) (bool, error)
}

// ScanAttempt is the input to the conditional UNSCANNED -> SCANNED
// transition. Log is appended in the same transaction when the
// transition applies.
type ScanAttempt struct {
	EventID string
	Code    string
	StaffID string
	At      time.Time
	Log     types.ScanLog
}

type TicketStore interface {
	// MarkScanned atomically flips a ticket of the given event from
	// unscanned to scanned. The bool is false when no row matched.
	MarkScanned(ctx context.Context, a ScanAttempt) (types.Ticket, bool, error)

	// FindTicketByCode looks a code up across all events.
	FindTicketByCode(ctx context.Context, code string) (types.Ticket, error)

	CodeExists(ctx context.Context, code string) (bool, error)

	// InsertBatch inserts every ticket or none. It re-checks the event's
	// ticket limit inside the transaction.
	InsertBatch(ctx context.Context, eventID string, tickets []types.Ticket) error

	CountTickets(ctx context.Context, eventID string) (types.Stats, error)
	ListTickets(ctx context.Context, eventID string) ([]types.Ticket, error)
}

// ScanLogStore is append-only; rows disappear only with their event.
type ScanLogStore interface {
	// AppendScanLog returns ErrEventNotFound when the event does not exist.
	AppendScanLog(ctx context.Context, rec types.ScanLog) error
	ListScanLogs(ctx context.Context, eventID string, limit int) ([]types.ScanLog, error)
	StaffScanCounts(ctx context.Context, eventID string) ([]types.StaffScanCount, error)
}

type AssignmentStore interface {
	Assign(ctx context.Context, a types.StaffAssignment) error
	IsAssigned(ctx context.Context, staffID, eventID string) (bool, error)
	ListAssignments(ctx context.Context, eventID string) ([]types.StaffAssignment, error)
}

// Store is the full capability set a backend provides.
type Store interface {
	EventStore
	TicketStore
	ScanLogStore
	AssignmentStore
}
