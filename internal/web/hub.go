package web

import (
	"sync"

	"github.com/vbonduro/imagelab/internal/session"
)

const subscriberBuffer = 8

// Hub fans session snapshots out to event-stream subscribers. Publish never
// blocks; a subscriber that falls behind misses intermediate snapshots.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan session.Snapshot]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan session.Snapshot]struct{})}
}

// Publish is meant to be used as session.Options.OnChange.
func (h *Hub) Publish(snap session.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribe returns a channel of snapshots and a func that releases it. The
// channel is closed when the hub closes or the subscription is released.
func (h *Hub) Subscribe() (<-chan session.Snapshot, func()) {
	ch := make(chan session.Snapshot, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
