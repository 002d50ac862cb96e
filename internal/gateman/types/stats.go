package types

type Stats struct {
	EventID string `json:"event_id"`
	Scanned int    `json:"scanned"`
	Total   int    `json:"total"`
}

func (s Stats) Remaining() int { return s.Total - s.Scanned }

// StaffScanCount is one row of the per-staff admissions leaderboard.
type StaffScanCount struct {
	StaffID string `json:"staff_id"`
	Count   int    `json:"count"`
}
