package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Pi-Jeremy/gateman/internal/clock"
	"github.com/Pi-Jeremy/gateman/internal/gateman/metrics"
	"github.com/Pi-Jeremy/gateman/internal/gateman/notify"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

const DefaultAdmitTimeout = 3 * time.Second

// Deps bundles the collaborators every service shares. Zero fields get
// defaults in withDefaults.
type Deps struct {
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = notify.NewHub()
	}
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// publish is best-effort: a lost notification is covered by the
// watchers' poll tick.
func (d Deps) publish(ctx context.Context, eventID string) {
	if err := d.Notifier.Publish(context.WithoutCancel(ctx), eventID); err != nil {
		d.Logger.Warn("change notification failed", "event_id", eventID, "err", err)
	}
}

// AdmissionService validates a ticket code and marks it used, exactly
// once per ticket however many gates submit it concurrently. It holds no
// lock of its own; the store's conditional update is the only point of
// serialization.
type AdmissionService struct {
	store   store.Store
	auth    *Authorizer
	deps    Deps
	timeout time.Duration
}

func NewAdmissionService(st store.Store, auth *Authorizer, timeout time.Duration, deps Deps) *AdmissionService {
	if timeout <= 0 {
		timeout = DefaultAdmitTimeout
	}
	return &AdmissionService{store: st, auth: auth, deps: deps.withDefaults(), timeout: timeout}
}

// Admit returns a verdict for every well-formed, authorized attempt and
// writes exactly one scan log for it, unless the event does not exist, in
// which case the verdict is NOT_FOUND and nothing is logged. Errors are
// reserved for rejected input, authorization failures and transient store
// failures; none of those write a log.
func (s *AdmissionService) Admit(ctx context.Context, caller types.Caller, eventID, code string) (types.ValidationResult, error) {
	started := time.Now()

	eventID = strings.TrimSpace(eventID)
	code = strings.TrimSpace(code)
	if eventID == "" {
		return types.ValidationResult{}, ErrInvalidEventID
	}
	if code == "" {
		return types.ValidationResult{}, ErrInvalidTicketCode
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.auth.RequireEventAccess(ctx, caller, eventID); err != nil {
		return types.ValidationResult{}, err
	}

	staffID := strings.TrimSpace(caller.StaffID)
	now := s.deps.Clock.Now()

	attempt := store.ScanAttempt{
		EventID: eventID,
		Code:    code,
		StaffID: staffID,
		At:      now,
	}
	// The success row is committed together with the ticket update.
	attempt.Log = s.newLog(attempt, types.StatusSuccess, "Ticket admitted")

	t, applied, err := s.store.MarkScanned(ctx, attempt)
	if err != nil {
		return s.fail("admit", err)
	}

	var res types.ValidationResult
	if applied {
		res = types.ValidationResult{
			Status:    types.StatusSuccess,
			Message:   successMessage(t.GuestName),
			GuestName: t.GuestName,
			ScannedAt: t.ScannedAt,
		}
		s.deps.publish(ctx, eventID)
	} else {
		res, err = s.explainMiss(ctx, eventID, code)
		if err != nil {
			return s.fail("admit", err)
		}
		err = s.store.AppendScanLog(ctx, s.newLog(attempt, res.Status, res.Message))
		switch {
		case errors.Is(err, store.ErrEventNotFound):
			// No log may outlive its event: the event is treated as
			// never having existed and nothing is recorded.
			res = types.ValidationResult{
				Status:  types.StatusNotFound,
				Message: "Event not found",
			}
		case err != nil:
			return s.fail("admit", err)
		}
	}

	s.deps.Metrics.ObserveAdmission(string(res.Status), time.Since(started))
	s.deps.Logger.Debug("admission",
		"event_id", eventID, "staff_id", staffID, "status", res.Status)
	return res, nil
}

// explainMiss classifies an attempt whose conditional update matched no
// row. Because is_scanned never resets, a ticket of this event found
// here is one that is already scanned.
func (s *AdmissionService) explainMiss(ctx context.Context, eventID, code string) (types.ValidationResult, error) {
	t, err := s.store.FindTicketByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return types.ValidationResult{
			Status:  types.StatusNotFound,
			Message: "Ticket not found",
		}, nil
	}
	if err != nil {
		return types.ValidationResult{}, err
	}
	if t.EventID != eventID {
		return types.ValidationResult{
			Status:  types.StatusInvalidEvent,
			Message: "Ticket belongs to a different event",
		}, nil
	}
	if !t.IsScanned {
		return types.ValidationResult{}, fmt.Errorf("ticket %s unscanned after failed conditional update", t.ID)
	}
	msg := "Ticket already scanned"
	if t.ScannedAt != nil {
		msg = "Ticket already scanned at " + t.ScannedAt.Format(time.RFC3339)
	}
	return types.ValidationResult{
		Status:    types.StatusAlreadyScanned,
		Message:   msg,
		ScannedAt: t.ScannedAt,
	}, nil
}

func (s *AdmissionService) newLog(a store.ScanAttempt, status types.ScanStatus, msg string) types.ScanLog {
	return types.ScanLog{
		ID:         uuid.NewString(),
		EventID:    a.EventID,
		TicketCode: a.Code,
		StaffID:    a.StaffID,
		Status:     status,
		Message:    msg,
		CreatedAt:  a.At,
	}
}

func (s *AdmissionService) fail(op string, err error) (types.ValidationResult, error) {
	s.deps.Metrics.Transient(op)
	s.deps.Logger.Warn("admission store failure", "err", err)
	return types.ValidationResult{}, transient("Admit", err)
}

func successMessage(guest string) string {
	if guest == "" {
		return "Ticket admitted"
	}
	return "Welcome, " + guest
}
