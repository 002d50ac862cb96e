package service

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

const statsTimeout = 5 * time.Second

// Attendance computes live (scanned, total) counts. Every read is a full
// recount against the store; concurrent reads for the same event share
// one in-flight query.
type Attendance struct {
	store store.TicketStore
	auth  *Authorizer
	group singleflight.Group
	deps  Deps
}

func NewAttendance(st store.TicketStore, auth *Authorizer, deps Deps) *Attendance {
	return &Attendance{store: st, auth: auth, deps: deps.withDefaults()}
}

// Stats returns the event's attendance. An unknown or deleted event
// reports zero counts.
func (a *Attendance) Stats(ctx context.Context, caller types.Caller, eventID string) (types.Stats, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return types.Stats{}, ErrInvalidEventID
	}
	if err := a.auth.RequireEventAccess(ctx, caller, eventID); err != nil {
		return types.Stats{}, err
	}
	return a.recount(ctx, eventID)
}

func (a *Attendance) recount(ctx context.Context, eventID string) (types.Stats, error) {
	ch := a.group.DoChan(eventID, func() (any, error) {
		// Detached so one caller leaving does not fail the others.
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsTimeout)
		defer cancel()
		return a.store.CountTickets(qctx, eventID)
	})
	select {
	case <-ctx.Done():
		return types.Stats{}, transient("Stats", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			a.deps.Metrics.Transient("stats")
			return types.Stats{}, transient("Stats", r.Err)
		}
		return r.Val.(types.Stats), nil
	}
}
