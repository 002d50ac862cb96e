package service

import (
	"context"
	"strings"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

// Authorizer decides whether a caller may act on an event. Identity is
// trusted as supplied; admins pass everywhere, vendors only on events
// they are assigned to.
type Authorizer struct {
	store store.AssignmentStore
}

func NewAuthorizer(st store.AssignmentStore) *Authorizer {
	return &Authorizer{store: st}
}

func (a *Authorizer) RequireAdmin(c types.Caller) error {
	if strings.TrimSpace(c.StaffID) == "" {
		return ErrInvalidStaffID
	}
	if !c.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func (a *Authorizer) RequireEventAccess(ctx context.Context, c types.Caller, eventID string) error {
	staffID := strings.TrimSpace(c.StaffID)
	if staffID == "" {
		return ErrInvalidStaffID
	}
	if c.IsAdmin() {
		return nil
	}
	ok, err := a.store.IsAssigned(ctx, staffID, eventID)
	if err != nil {
		return transient("RequireEventAccess", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
