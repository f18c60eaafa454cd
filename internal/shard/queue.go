package shard

import (
	"sync"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/model"
)

// IntentQueue buffers intents per zone between ticks. Enqueue is safe from
// many concurrent ingress handlers; Drain is called by the tick engine at
// most once per zone per tick. A single mutex makes the two mutually
// exclusive, so an intent enqueued during a drain lands in the map after the
// drained slice was taken and is preserved for the following tick.
type IntentQueue struct {
	mu      sync.Mutex
	pending map[uuid.UUID][]model.Intent
}

// NewIntentQueue creates an empty queue.
func NewIntentQueue() *IntentQueue {
	return &IntentQueue{pending: make(map[uuid.UUID][]model.Intent)}
}

// Enqueue appends the intent to its zone's buffer. When Enqueue returns, the
// intent is durably placed — the ingress handler may acknowledge.
func (q *IntentQueue) Enqueue(intent model.Intent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[intent.ZoneID] = append(q.pending[intent.ZoneID], intent)
}

// Drain removes and returns all intents enqueued for the zone strictly
// before this call, in enqueue order.
func (q *IntentQueue) Drain(zoneID uuid.UUID) []model.Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	intents := q.pending[zoneID]
	if intents != nil {
		delete(q.pending, zoneID)
	}
	return intents
}

// ZonesWithPending returns the zones that currently have buffered intents.
func (q *IntentQueue) ZonesWithPending() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	zones := make([]uuid.UUID, 0, len(q.pending))
	for zoneID := range q.pending {
		zones = append(zones, zoneID)
	}
	return zones
}

// Pending returns the number of buffered intents for the zone.
func (q *IntentQueue) Pending(zoneID uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[zoneID])
}
