package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

type StaffService struct {
	store store.Store
	auth  *Authorizer
	deps  Deps
}

func NewStaffService(st store.Store, auth *Authorizer, deps Deps) *StaffService {
	return &StaffService{store: st, auth: auth, deps: deps.withDefaults()}
}

// Assign grants a vendor access to an event. Assigning the same pair
// twice fails with ErrAlreadyAssigned.
func (s *StaffService) Assign(ctx context.Context, caller types.Caller, staffID, eventID string) (types.StaffAssignment, error) {
	if err := s.auth.RequireAdmin(caller); err != nil {
		return types.StaffAssignment{}, err
	}
	staffID = strings.TrimSpace(staffID)
	eventID = strings.TrimSpace(eventID)
	if staffID == "" {
		return types.StaffAssignment{}, ErrInvalidStaffID
	}
	if eventID == "" {
		return types.StaffAssignment{}, ErrInvalidEventID
	}

	a := types.StaffAssignment{StaffID: staffID, EventID: eventID, CreatedAt: s.deps.Clock.Now()}
	err := s.store.Assign(ctx, a)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrAlreadyAssigned), errors.Is(err, store.ErrEventNotFound):
		return types.StaffAssignment{}, err
	default:
		return types.StaffAssignment{}, transient("Assign", err)
	}
	s.deps.Logger.Info("staff assigned", "staff_id", staffID, "event_id", eventID)
	return a, nil
}

func (s *StaffService) ListAssignments(ctx context.Context, caller types.Caller, eventID string) ([]types.StaffAssignment, error) {
	if err := s.auth.RequireAdmin(caller); err != nil {
		return nil, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrInvalidEventID
	}
	out, err := s.store.ListAssignments(ctx, eventID)
	if err != nil {
		return nil, transient("ListAssignments", err)
	}
	return out, nil
}
