// Package event fans run lifecycle events out to in-process subscribers,
// currently the gateway websocket stream and the outcome notifier.
// Delivery is best-effort: a slow subscriber loses its oldest queued
// events rather than stalling the engine.
package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/baton/internal/run"
)

// Type identifies what happened.
type Type string

// Event types.
const (
	TypeRunStarted     Type = "run_started"
	TypeRunPhase       Type = "run_phase"
	TypeRunFinished    Type = "run_finished"
	TypeRunSkipped     Type = "run_skipped"
	TypeConfigReloaded Type = "config_reloaded"
)

// Event is one lifecycle notification. Fields beyond Type and Time are
// populated where they make sense for the type.
type Event struct {
	Type    Type        `json:"type"`
	Time    time.Time   `json:"time"`
	Job     string      `json:"job,omitempty"`
	RunID   string      `json:"run_id,omitempty"`
	Phase   run.Phase   `json:"phase,omitempty"`
	Outcome run.Outcome `json:"outcome,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

// DefaultBuffer is the per-subscriber queue size used when Subscribe is
// called with a non-positive buffer.
const DefaultBuffer = 64

// Hub distributes events to subscribers. The zero value is not usable;
// call NewHub.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool

	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. Cancel closes the channel; calling it more than once
// is safe. Subscribing to a closed hub yields an already-closed channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers evt to every subscriber without blocking. When a
// subscriber's queue is full its oldest event is discarded to make room,
// so late readers see the newest state. A zero Time is stamped with the
// current time.
func (h *Hub) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- evt:
			continue
		default:
		}
		// Full queue: drop the oldest entry, then try once more. The
		// subscriber may have drained concurrently, in which case the
		// retry lands without a drop.
		select {
		case <-ch:
			h.dropped.Add(1)
		default:
		}
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Dropped returns how many events were discarded because a subscriber
// fell behind.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
