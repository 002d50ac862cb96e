package service

import (
	"context"
	"strings"
	"time"

	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

const DefaultPollInterval = 5 * time.Second

// StatsWatcher opens live attendance streams. A stream recounts on every
// change notification for its event and on every poll tick, and emits
// only when the counts differ from the last value sent.
type StatsWatcher struct {
	attendance *Attendance
	interval   time.Duration
	deps       Deps
}

func NewStatsWatcher(att *Attendance, interval time.Duration, deps Deps) *StatsWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &StatsWatcher{attendance: att, interval: interval, deps: deps.withDefaults()}
}

// Stream is one subscriber's view. Read C until it is closed; call Stop
// to end early.
type Stream struct {
	C <-chan types.Stats

	out     chan types.Stats
	eventID string
	w       *StatsWatcher
	changed <-chan struct{}
	unsub   func()
	cancel  context.CancelFunc
	done    chan struct{}
}

// Open authorizes the caller, subscribes to change notifications and
// starts the stream. The first value is the current count.
func (w *StatsWatcher) Open(ctx context.Context, caller types.Caller, eventID string) (*Stream, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrInvalidEventID
	}
	if err := w.attendance.auth.RequireEventAccess(ctx, caller, eventID); err != nil {
		return nil, err
	}
	changed, unsub, err := w.deps.Notifier.Subscribe(ctx, eventID)
	if err != nil {
		return nil, transient("WatchStats", err)
	}

	out := make(chan types.Stats, 1)
	s := &Stream{
		C:       out,
		out:     out,
		eventID: eventID,
		w:       w,
		changed: changed,
		unsub:   unsub,
		done:    make(chan struct{}),
	}
	s.start(ctx)
	return s, nil
}

func (s *Stream) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.w.deps.Metrics.WatcherOpened()
	go s.loop(ctx)
	s.w.deps.Logger.Debug("stats stream opened", "event_id", s.eventID)
}

// Stop ends the stream and waits for its goroutine to exit.
func (s *Stream) Stop() {
	s.cancel()
	<-s.done
}

func (s *Stream) loop(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)
	defer s.w.deps.Metrics.WatcherClosed()
	defer s.unsub()

	var (
		last types.Stats
		sent bool
	)
	emit := func() bool {
		st, err := s.w.attendance.recount(ctx, s.eventID)
		if err != nil {
			if ctx.Err() == nil {
				s.w.deps.Logger.Warn("stats recount failed", "event_id", s.eventID, "err", err)
			}
			return ctx.Err() == nil
		}
		if sent && st == last {
			return true
		}
		select {
		case s.out <- st:
			last, sent = st, true
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit() {
		return
	}

	ticker := time.NewTicker(s.w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.changed:
		}
		if !emit() {
			return
		}
	}
}
