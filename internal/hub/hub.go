// Package hub fans out notifications of newly created weather records to all
// currently connected live-update subscribers. Delivery is best effort and
// at most once per subscriber: there is no queue, no replay for late joiners,
// and no ordering guarantee across subscribers.
package hub

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing messages instead of blocking broadcasts.
const subscriberBuffer = 16

// Subscriber is a registered live-update consumer. Messages are delivered on
// the channel returned by Messages; the channel is closed on disconnect.
type Subscriber struct {
	ch chan []byte
}

// Messages returns the subscriber's delivery channel.
func (s *Subscriber) Messages() <-chan []byte {
	return s.ch
}

// Hub is the process-wide subscriber registry. It is the one piece of mutable
// state shared across all concurrent request handlers, so every access goes
// through the mutex.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Connect registers and returns a new subscriber. Returns nil once the hub
// has shut down.
func (h *Hub) Connect() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	sub := &Subscriber{ch: make(chan []byte, subscriberBuffer)}
	h.subs[sub] = struct{}{}
	return sub
}

// Disconnect removes a subscriber and closes its channel. Safe to call with
// nil or an already-removed subscriber.
func (h *Hub) Disconnect(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Broadcast delivers msg to every currently registered subscriber. A full
// subscriber buffer counts as a failed send for that subscriber only: the
// message is dropped there and delivery to the rest continues. Failed sends
// never deregister a subscriber; removal happens only via Disconnect.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Debug("dropping broadcast message for slow subscriber")
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Run blocks until ctx is cancelled, then disconnects every subscriber so
// their live-update handlers unwind during shutdown.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	return nil
}
