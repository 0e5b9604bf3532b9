package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Hub fans notifications out to subscribers.
//
// Notify only enqueues, so it is safe to call while holding a lock. Run
// delivers queued notifications one at a time, in the order they were
// emitted, to the subscribers registered at delivery time.
type Hub struct {
	queue  *queue
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]Sink
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger used for dropped notifications.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates a Hub with no subscribers.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		queue:  newQueue(),
		logger: slog.Default(),
		subs:   make(map[uint64]Sink),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription identifies a registered subscriber.
type Subscription struct {
	hub *Hub
	id  uint64
}

// Unsubscribe removes the subscriber. Notifications already being delivered
// may still reach it; later ones will not.
func (s Subscription) Unsubscribe() {
	if s.hub == nil {
		return
	}
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
}

// Subscribe registers a sink for every notification delivered from now on.
func (h *Hub) Subscribe(sink Sink) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	h.subs[h.nextID] = sink
	return Subscription{hub: h, id: h.nextID}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify implements Sink by queueing n for delivery.
func (h *Hub) Notify(n Notification) {
	if !h.queue.Enqueue(n) {
		h.logger.Debug("notification dropped: hub closed",
			"dataset_id", n.DatasetID,
			"code", n.Kind.String())
	}
}

// Run delivers queued notifications until ctx is cancelled or Close is called.
// Notifications still queued at Close are delivered before Run returns.
func (h *Hub) Run(ctx context.Context) error {
	for {
		if n, ok := h.queue.TryDequeue(); ok {
			h.deliver(n)
			continue
		}

		select {
		case <-ctx.Done():
			h.queue.Close()
			return ctx.Err()

		case <-h.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once closed.
			if h.queue.Len() == 0 && h.isClosed() {
				return nil
			}
		}
	}
}

// Close stops accepting notifications and lets Run drain and return.
func (h *Hub) Close() {
	h.queue.Close()
}

func (h *Hub) isClosed() bool {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	return h.queue.closed
}

func (h *Hub) deliver(n Notification) {
	h.mu.RLock()
	ids := make([]uint64, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	sinks := make([]Sink, 0, len(ids))
	for _, id := range ids {
		sinks = append(sinks, h.subs[id])
	}
	h.mu.RUnlock()

	for _, s := range sinks {
		s.Notify(n)
	}
}
