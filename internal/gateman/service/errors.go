package service

import (
	"errors"
	"fmt"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
)

// Validation errors. Rejected before the store is touched.
var (
	ErrInvalidEventID    = errors.New("event_id is required")
	ErrInvalidTicketCode = errors.New("ticket_code is required")
	ErrInvalidStaffID    = errors.New("staff_id is required")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrInvalidEventName  = errors.New("event name is required")
	ErrInvalidEventDate  = errors.New("event date is required")
	ErrInvalidLimit      = errors.New("ticket_limit must be positive")
	ErrInvalidPrice      = errors.New("ticket_price must not be negative")
)

// Outcome errors shared with the store layer so errors.Is matches either.
var (
	ErrEventNotFound       = store.ErrEventNotFound
	ErrTicketLimitExceeded = store.ErrTicketLimitExceeded
	ErrAlreadyAssigned     = store.ErrAlreadyAssigned
)

var (
	ErrGenerationExhausted = errors.New("ticket code generation exhausted")
	ErrForbidden           = errors.New("caller is not allowed to act on this event")

	// ErrTransient marks an unknown outcome: the store could not be reached
	// or the transaction did not commit. Admission may be retried as is;
	// issuance and deletion must be re-checked first.
	ErrTransient = errors.New("transient store failure")
)

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
