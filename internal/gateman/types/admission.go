package types

import "time"

type ScanStatus string

const (
	StatusSuccess        ScanStatus = "SUCCESS"
	StatusAlreadyScanned ScanStatus = "ALREADY_SCANNED"
	StatusNotFound       ScanStatus = "NOT_FOUND"
	StatusInvalidEvent   ScanStatus = "INVALID_EVENT"
)

func (s ScanStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusAlreadyScanned, StatusNotFound, StatusInvalidEvent:
		return true
	}
	return false
}

type AdmitRequest struct {
	EventID    string `json:"event_id"`
	TicketCode string `json:"ticket_code"`
	StaffID    string `json:"staff_id"`
}

// ValidationResult is the engine's verdict for one admission attempt.
// GuestName is only set on SUCCESS; ScannedAt carries the original scan
// time on SUCCESS and ALREADY_SCANNED.
type ValidationResult struct {
	Status    ScanStatus `json:"status"`
	Message   string     `json:"message"`
	GuestName string     `json:"guest_name,omitempty"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}

func (r ValidationResult) Admitted() bool { return r.Status == StatusSuccess }

// ScanLog is one append-only audit row per admission attempt.
type ScanLog struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	TicketCode string     `json:"ticket_code"`
	StaffID    string     `json:"staff_id"`
	Status     ScanStatus `json:"status"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
}
