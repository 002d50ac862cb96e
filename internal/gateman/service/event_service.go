package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

type CreateEventInput struct {
	Name        string
	Date        time.Time
	TicketPrice decimal.Decimal
	TicketLimit int
	ArtworkURL  string
}

// EventService covers event administration, including cascade deletion,
// and the per-event read models (ticket list, scan history, leaderboard).
type EventService struct {
	store store.Store
	auth  *Authorizer
	deps  Deps
}

func NewEventService(st store.Store, auth *Authorizer, deps Deps) *EventService {
	return &EventService{store: st, auth: auth, deps: deps.withDefaults()}
}

func (s *EventService) CreateEvent(ctx context.Context, caller types.Caller, in CreateEventInput) (types.Event, error) {
	if err := s.auth.RequireAdmin(caller); err != nil {
		return types.Event{}, err
	}
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return types.Event{}, ErrInvalidEventName
	case in.Date.IsZero():
		return types.Event{}, ErrInvalidEventDate
	case in.TicketLimit <= 0:
		return types.Event{}, ErrInvalidLimit
	case in.TicketPrice.IsNegative():
		return types.Event{}, ErrInvalidPrice
	}

	ev := types.Event{
		ID:          uuid.NewString(),
		Name:        name,
		Date:        in.Date.UTC(),
		TicketPrice: in.TicketPrice.Round(2),
		TicketLimit: in.TicketLimit,
		ArtworkURL:  strings.TrimSpace(in.ArtworkURL),
		AdminID:     strings.TrimSpace(caller.StaffID),
		CreatedAt:   s.deps.Clock.Now(),
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return types.Event{}, transient("CreateEvent", err)
	}
	s.deps.Logger.Info("event created", "event_id", ev.ID, "admin_id", ev.AdminID)
	return ev, nil
}

func (s *EventService) GetEvent(ctx context.Context, caller types.Caller, eventID string) (types.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return types.Event{}, ErrInvalidEventID
	}
	if err := s.auth.RequireEventAccess(ctx, caller, eventID); err != nil {
		return types.Event{}, err
	}
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return types.Event{}, passStore("GetEvent", err)
	}
	return ev, nil
}

// ListEvents returns every event for admins and only assigned events for
// vendors, ordered by date.
func (s *EventService) ListEvents(ctx context.Context, caller types.Caller) ([]types.Event, error) {
	staffID := strings.TrimSpace(caller.StaffID)
	if staffID == "" {
		return nil, ErrInvalidStaffID
	}
	var (
		evs []types.Event
		err error
	)
	if caller.IsAdmin() {
		evs, err = s.store.ListEvents(ctx)
	} else {
		evs, err = s.store.ListEventsForStaff(ctx, staffID)
	}
	if err != nil {
		return nil, transient("ListEvents", err)
	}
	return evs, nil
}

// DeleteEvent removes the event and every dependent row atomically.
// Deleting an absent event succeeds, so a retry after an unknown outcome
// is safe.
func (s *EventService) DeleteEvent(ctx context.Context, caller types.Caller, eventID string) (bool, error) {
	if err := s.auth.RequireAdmin(caller); err != nil {
		return false, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, ErrInvalidEventID
	}
	existed, err := s.store.DeleteEventCascade(ctx, eventID)
	if err != nil {
		s.deps.Metrics.Transient("delete_event")
		return false, transient("DeleteEvent", err)
	}
	if existed {
		s.deps.Metrics.EventDeleted()
		s.deps.Logger.Info("event deleted", "event_id", eventID, "admin_id", caller.StaffID)
	}
	s.deps.publish(ctx, eventID)
	return existed, nil
}

func (s *EventService) ListTickets(ctx context.Context, caller types.Caller, eventID string) ([]types.Ticket, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrInvalidEventID
	}
	if err := s.auth.RequireEventAccess(ctx, caller, eventID); err != nil {
		return nil, err
	}
	out, err := s.store.ListTickets(ctx, eventID)
	if err != nil {
		return nil, transient("ListTickets", err)
	}
	return out, nil
}

// ListScanLogs returns the event's scan history newest first. limit <= 0
// means all rows.
func (s *EventService) ListScanLogs(ctx context.Context, caller types.Caller, eventID string, limit int) ([]types.ScanLog, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrInvalidEventID
	}
	if err := s.auth.RequireEventAccess(ctx, caller, eventID); err != nil {
		return nil, err
	}
	out, err := s.store.ListScanLogs(ctx, eventID, limit)
	if err != nil {
		return nil, transient("ListScanLogs", err)
	}
	return out, nil
}

// StaffStats is the per-staff SUCCESS leaderboard.
func (s *EventService) StaffStats(ctx context.Context, caller types.Caller, eventID string) ([]types.StaffScanCount, error) {
	if err := s.auth.RequireAdmin(caller); err != nil {
		return nil, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrInvalidEventID
	}
	out, err := s.store.StaffScanCounts(ctx, eventID)
	if err != nil {
		return nil, transient("StaffStats", err)
	}
	return out, nil
}

// passStore lets domain sentinels through and marks everything else
// transient.
func passStore(op string, err error) error {
	if errors.Is(err, store.ErrEventNotFound) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return transient(op, err)
}
