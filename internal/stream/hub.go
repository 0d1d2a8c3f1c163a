// Package stream distributes stored chain snapshots and runs the background
// quote refresh for a position being built.
package stream

import (
	"context"
	"sync"
	"time"

	"spxopt/internal/models"
)

// Snapshot is one stored chain snapshot.
type Snapshot struct {
	Underlying  string         `json:"underlying"`
	SnapshotUTC time.Time      `json:"snapshot_utc"`
	Quotes      []models.Quote `json:"quotes"`
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{SubscriberBufferSize: 16}
}

// Hub fans snapshots out to in-process subscribers. Sends never block: a
// subscriber whose buffer is full misses the snapshot.
type Hub struct {
	config HubConfig

	mu          sync.RWMutex
	subscribers map[string][]chan Snapshot
	closed      bool

	metricsMu sync.Mutex
	published uint64
	delivered uint64
	dropped   uint64
}

// NewHub creates a hub with the default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.SubscriberBufferSize < 1 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string][]chan Snapshot),
	}
}

// Subscribe returns a channel receiving every snapshot of underlying.
func (h *Hub) Subscribe(underlying string) <-chan Snapshot {
	ch := make(chan Snapshot, h.config.SubscriberBufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[underlying] = append(h.subscribers[underlying], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(underlying string, ch <-chan Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[underlying]
	for i, sub := range subs {
		if sub == ch {
			close(sub)
			h.subscribers[underlying] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[underlying]) == 0 {
		delete(h.subscribers, underlying)
	}
}

// Publish delivers a snapshot to the subscribers of underlying.
func (h *Hub) Publish(_ context.Context, underlying string, quotes []models.Quote, snapshotUTC time.Time) error {
	snap := Snapshot{
		Underlying:  underlying,
		SnapshotUTC: snapshotUTC,
		Quotes:      append([]models.Quote(nil), quotes...),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var delivered, dropped uint64
	for _, sub := range h.subscribers[underlying] {
		select {
		case sub <- snap:
			delivered++
		default:
			dropped++
		}
	}

	h.metricsMu.Lock()
	h.published++
	h.delivered += delivered
	h.dropped += dropped
	h.metricsMu.Unlock()
	return nil
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for underlying, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(h.subscribers, underlying)
	}
}

// SubscriberCount returns the number of subscribers for underlying.
func (h *Hub) SubscriberCount(underlying string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[underlying])
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{Published: h.published, Delivered: h.delivered, Dropped: h.dropped}
}
