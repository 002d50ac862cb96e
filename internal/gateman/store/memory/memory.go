package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

// Store is an in-memory implementation of store.Store. A single mutex
// serialises every mutation, which gives MarkScanned the same
// compare-and-swap behaviour a database row lock would.
// It is intended for use in tests and dev environments.
type Store struct {
	mu sync.RWMutex

	events      map[string]types.Event
	tickets     map[string]*types.Ticket // by code
	byEvent     map[string][]string      // event id -> codes in issue order
	logs        []types.ScanLog
	assignments map[assignmentKey]types.StaffAssignment
}

type assignmentKey struct {
	staffID string
	eventID string
}

func New() *Store {
	return &Store{
		events:      make(map[string]types.Event),
		tickets:     make(map[string]*types.Ticket),
		byEvent:     make(map[string][]string),
		assignments: make(map[assignmentKey]types.StaffAssignment),
	}
}

var _ store.Store = (*Store)(nil)

// ── Events ───────────────────────────────────────────────────────────────────

func (s *Store) CreateEvent(_ context.Context, ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events[ev.ID] = ev
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return types.Event{}, store.ErrEventNotFound
	}
	return ev, nil
}

func (s *Store) ListEvents(_ context.Context) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) ListEventsForStaff(_ context.Context, staffID string) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Event
	for k := range s.assignments {
		if k.staffID != staffID {
			continue
		}
		if ev, ok := s.events[k.eventID]; ok {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) DeleteEventCascade(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range s.byEvent[eventID] {
		delete(s.tickets, code)
	}
	delete(s.byEvent, eventID)

	kept := s.logs[:0]
	for _, l := range s.logs {
		if l.EventID != eventID {
			kept = append(kept, l)
		}
	}
	s.logs = kept

	for k := range s.assignments {
		if k.eventID == eventID {
			delete(s.assignments, k)
		}
	}

	_, existed := s.events[eventID]
	delete(s.events, eventID)
	return existed, nil
}

// ── Tickets ──────────────────────────────────────────────────────────────────

func (s *Store) MarkScanned(_ context.Context, a store.ScanAttempt) (types.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[a.Code]
	if !ok || t.EventID != a.EventID || t.IsScanned {
		return types.Ticket{}, false, nil
	}

	at := a.At.UTC()
	t.IsScanned = true
	t.ScannedAt = &at
	t.ScannedBy = a.StaffID

	s.logs = append(s.logs, a.Log)
	return copyTicket(t), true, nil
}

func (s *Store) FindTicketByCode(_ context.Context, code string) (types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[code]
	if !ok {
		return types.Ticket{}, store.ErrNotFound
	}
	return copyTicket(t), nil
}

func (s *Store) CodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tickets[code]
	return ok, nil
}

func (s *Store) InsertBatch(_ context.Context, eventID string, tickets []types.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return store.ErrEventNotFound
	}
	if len(s.byEvent[eventID])+len(tickets) > ev.TicketLimit {
		return store.ErrTicketLimitExceeded
	}

	// Validate the whole batch before touching any state.
	seen := make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		if _, dup := s.tickets[t.Code]; dup {
			return store.ErrCodeConflict
		}
		if _, dup := seen[t.Code]; dup {
			return store.ErrCodeConflict
		}
		seen[t.Code] = struct{}{}
	}

	for _, t := range tickets {
		t := t
		t.EventID = eventID
		s.tickets[t.Code] = &t
		s.byEvent[eventID] = append(s.byEvent[eventID], t.Code)
	}
	return nil
}

func (s *Store) CountTickets(_ context.Context, eventID string) (types.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := types.Stats{EventID: eventID}
	for _, code := range s.byEvent[eventID] {
		st.Total++
		if s.tickets[code].IsScanned {
			st.Scanned++
		}
	}
	return st, nil
}

func (s *Store) ListTickets(_ context.Context, eventID string) ([]types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := s.byEvent[eventID]
	out := make([]types.Ticket, 0, len(codes))
	for _, code := range codes {
		out = append(out, copyTicket(s.tickets[code]))
	}
	return out, nil
}

// ── Scan logs ────────────────────────────────────────────────────────────────

func (s *Store) AppendScanLog(_ context.Context, rec types.ScanLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[rec.EventID]; !ok {
		return store.ErrEventNotFound
	}
	s.logs = append(s.logs, rec)
	return nil
}

func (s *Store) ListScanLogs(_ context.Context, eventID string, limit int) ([]types.ScanLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ScanLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].EventID != eventID {
			continue
		}
		out = append(out, s.logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) StaffScanCounts(_ context.Context, eventID string) ([]types.StaffScanCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, l := range s.logs {
		if l.EventID == eventID && l.Status == types.StatusSuccess {
			counts[l.StaffID]++
		}
	}
	out := make([]types.StaffScanCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, types.StaffScanCount{StaffID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].StaffID < out[j].StaffID
	})
	return out, nil
}

// ScanLogs returns a copy of every recorded log row.  Test-only helper.
func (s *Store) ScanLogs() []types.ScanLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ScanLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// ── Staff assignments ────────────────────────────────────────────────────────

func (s *Store) Assign(_ context.Context, a types.StaffAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[a.EventID]; !ok {
		return store.ErrEventNotFound
	}
	k := assignmentKey{staffID: a.StaffID, eventID: a.EventID}
	if _, dup := s.assignments[k]; dup {
		return store.ErrAlreadyAssigned
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.assignments[k] = a
	return nil
}

func (s *Store) IsAssigned(_ context.Context, staffID, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.assignments[assignmentKey{staffID: staffID, eventID: eventID}]
	return ok, nil
}

func (s *Store) ListAssignments(_ context.Context, eventID string) ([]types.StaffAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.StaffAssignment
	for k, a := range s.assignments {
		if k.eventID == eventID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StaffID < out[j].StaffID })
	return out, nil
}

func sortEvents(evs []types.Event) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].Date.Equal(evs[j].Date) {
			return evs[i].Date.Before(evs[j].Date)
		}
		return evs[i].ID < evs[j].ID
	})
}

func copyTicket(t *types.Ticket) types.Ticket {
	out := *t
	if t.ScannedAt != nil {
		at := *t.ScannedAt
		out.ScannedAt = &at
	}
	return out
}
