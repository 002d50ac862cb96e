package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Pi-Jeremy/gateman/internal/gateman/codegen"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

const (
	DefaultCodeRetries = 5

	// insertAttempts covers the window between our existence check and
	// the insert, where another batch may claim one of our codes.
	insertAttempts = 3
)

type IssuerConfig struct {
	// CodeRetries caps how often a single colliding code is regenerated.
	CodeRetries int
}

// Issuer creates tickets in all-or-nothing batches.
type Issuer struct {
	store   store.Store
	auth    *Authorizer
	codes   codegen.Generator
	retries int
	deps    Deps
}

func NewIssuer(st store.Store, auth *Authorizer, gen codegen.Generator, cfg IssuerConfig, deps Deps) *Issuer {
	retries := cfg.CodeRetries
	if retries <= 0 {
		retries = DefaultCodeRetries
	}
	return &Issuer{store: st, auth: auth, codes: gen, retries: retries, deps: deps.withDefaults()}
}

// IssueBatch creates quantity tickets for eventID. Nothing is written
// unless the whole batch fits under the event's ticket limit and every
// code is unique across the system.
func (i *Issuer) IssueBatch(ctx context.Context, caller types.Caller, eventID string, quantity int) ([]types.Ticket, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrInvalidEventID
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if err := i.auth.RequireEventAccess(ctx, caller, eventID); err != nil {
		return nil, err
	}

	ev, err := i.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, i.storeErr("IssueBatch", err)
	}
	st, err := i.store.CountTickets(ctx, eventID)
	if err != nil {
		return nil, i.storeErr("IssueBatch", err)
	}
	// Early rejection; InsertBatch re-checks under its own lock.
	if st.Total+quantity > ev.TicketLimit {
		return nil, ErrTicketLimitExceeded
	}

	var tickets []types.Ticket
	for attempt := 0; attempt < insertAttempts; attempt++ {
		tickets, err = i.build(ctx, caller, eventID, quantity)
		if err != nil {
			return nil, err
		}
		err = i.store.InsertBatch(ctx, eventID, tickets)
		if !errors.Is(err, store.ErrCodeConflict) {
			break
		}
		i.deps.Logger.Info("ticket code conflict on insert, regenerating batch",
			"event_id", eventID, "attempt", attempt+1)
	}
	if errors.Is(err, store.ErrCodeConflict) {
		return nil, ErrGenerationExhausted
	}
	if err != nil {
		return nil, i.storeErr("IssueBatch", err)
	}

	i.deps.Metrics.TicketsIssued(len(tickets))
	i.deps.publish(ctx, eventID)
	i.deps.Logger.Info("tickets issued",
		"event_id", eventID, "quantity", len(tickets), "staff_id", caller.StaffID)
	return tickets, nil
}

func (i *Issuer) build(ctx context.Context, caller types.Caller, eventID string, quantity int) ([]types.Ticket, error) {
	now := i.deps.Clock.Now()
	seen := make(map[string]struct{}, quantity)
	out := make([]types.Ticket, 0, quantity)
	for n := 0; n < quantity; n++ {
		code, err := i.uniqueCode(ctx, seen)
		if err != nil {
			return nil, err
		}
		seen[code] = struct{}{}
		out = append(out, types.Ticket{
			ID:          uuid.NewString(),
			EventID:     eventID,
			Code:        code,
			GeneratedBy: strings.TrimSpace(caller.StaffID),
			CreatedAt:   now,
		})
	}
	return out, nil
}

// uniqueCode draws a code that is neither in this batch nor in the store,
// regenerating at most i.retries times.
func (i *Issuer) uniqueCode(ctx context.Context, seen map[string]struct{}) (string, error) {
	for try := 0; try <= i.retries; try++ {
		code, err := i.codes.NextCode()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrGenerationExhausted, err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		exists, err := i.store.CodeExists(ctx, code)
		if err != nil {
			return "", i.storeErr("IssueBatch", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrGenerationExhausted
}

func (i *Issuer) storeErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrEventNotFound),
		errors.Is(err, store.ErrTicketLimitExceeded),
		errors.Is(err, ErrTransient):
		return err
	}
	i.deps.Metrics.Transient(op)
	return transient(op, err)
}
