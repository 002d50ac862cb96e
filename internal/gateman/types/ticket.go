package types

import "time"

// Ticket is a bearer credential for one admission. IsScanned only ever
// moves from false to true.
type Ticket struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	Code        string     `json:"ticket_code"`
	GuestName   string     `json:"guest_name,omitempty"`
	IsScanned   bool       `json:"is_scanned"`
	ScannedAt   *time.Time `json:"scanned_at,omitempty"`
	ScannedBy   string     `json:"scanned_by,omitempty"`
	GeneratedBy string     `json:"generated_by"`
	CreatedAt   time.Time  `json:"created_at"`
}
