package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is a ticketed occasion. TicketLimit bounds how many tickets may
// ever be issued for it.
type Event struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Date        time.Time       `json:"date"`
	TicketPrice decimal.Decimal `json:"ticket_price"`
	TicketLimit int             `json:"ticket_limit"`
	ArtworkURL  string          `json:"artwork_url,omitempty"`
	AdminID     string          `json:"admin_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

type StaffAssignment struct {
	StaffID   string    `json:"staff_id"`
	EventID   string    `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
}
