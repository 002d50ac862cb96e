// Package notify carries "event changed" signals from writers (admission,
// issuance, deletion) to stats watchers. Signals carry no payload; a
// receiver recounts from the store.
package notify

import (
	"context"
	"sync"
)

type Notifier interface {
	Publish(ctx context.Context, eventID string) error

	// Subscribe returns a channel that receives a value after one or more
	// publications for eventID. Bursts collapse into a single pending
	// signal. The cancel func releases the subscription.
	Subscribe(ctx context.Context, eventID string) (<-chan struct{}, func(), error)
}

// Hub is an in-process Notifier for single-node deployments.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

var _ Notifier = (*Hub)(nil)

func (h *Hub) Publish(_ context.Context, eventID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[eventID] {
		signal(ch)
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, eventID string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	set, ok := h.subs[eventID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[eventID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[eventID], ch)
			if len(h.subs[eventID]) == 0 {
				delete(h.subs, eventID)
			}
		})
	}
	return ch, cancel, nil
}

// Subscribers reports how many subscriptions are open for eventID.
func (h *Hub) Subscribers(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[eventID])
}

// signal performs a non-blocking send; a full buffer already means
// "changed since you last looked".
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
