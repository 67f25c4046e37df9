// Package events fans queue notices out to subscribers such as the
// websocket endpoint or a GUI. Delivery is best effort: a subscriber that
// does not keep up loses notices rather than slowing the queue down, so
// consumers must treat every notice as the latest known state.
package events

import (
	"sync"
	"time"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/progress"
)

type NoticeType string

const (
	// NoticeTask is published whenever a task's state changed.
	NoticeTask NoticeType = "task"
	// NoticeProgress is published when a task's byte count moved.
	NoticeProgress NoticeType = "progress"
	// NoticeQueue is published when the queue as a whole changed
	// (started, paused, closed).
	NoticeQueue NoticeType = "queue"
)

// Notice is one event delivered to subscribers.
type Notice struct {
	Type    NoticeType       `json:"type"`
	Task    *data.Task       `json:"task,omitempty"`
	Totals  *progress.Totals `json:"totals,omitempty"`
	Running bool             `json:"running"`
	Closed  bool             `json:"closed,omitempty"`
	At      time.Time        `json:"at"`
}

// Hub is safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Notice
	next    int
	closed  bool
	dropped int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Notice)}
}

// Subscribe registers a subscriber with a buffer of buf notices. The
// returned cancel func unregisters it and closes the channel; the channel
// is also closed when the hub closes.
func (h *Hub) Subscribe(buf int) (<-chan Notice, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Notice, buf)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers n to every subscriber that has room for it.
func (h *Hub) Publish(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.dropped++
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
