package shard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/game"
	"github.com/udisondev/gridshard/internal/model"
	"github.com/udisondev/gridshard/internal/protocol"
)

// maxFilterFailures is the number of consecutive PlayerState failures at
// which a subscriber is disconnected.
const maxFilterFailures = 3

// Fanout composes the per-zone base state and emits each subscriber's
// filtered view. The filter is always invoked — no client ever receives the
// raw base state. Failures are isolated per subscriber: a bad filter or a
// failed send skips that emission and never blocks the rest of the zone.
type Fanout struct {
	registry *Registry
	adapter  *game.Adapter

	mu             sync.Mutex
	filterFailures map[uint64]int // connectionID → consecutive failures
}

// NewFanout creates a fanout over the given registry and module adapter.
func NewFanout(registry *Registry, adapter *game.Adapter) *Fanout {
	return &Fanout{
		registry:       registry,
		adapter:        adapter,
		filterFailures: make(map[uint64]int),
	}
}

// Broadcast emits the tick to every subscriber of the zone. Each subscriber
// gets its own clone of the base state, filtered through the module.
func (f *Fanout) Broadcast(ctx context.Context, zoneID uuid.UUID, base model.BaseState) {
	for _, sub := range f.registry.SubscribersOf(zoneID) {
		f.emit(ctx, zoneID, base, sub)
	}
}

func (f *Fanout) emit(ctx context.Context, zoneID uuid.UUID, base model.BaseState, sub Subscriber) {
	state, err := f.adapter.PlayerState(ctx, zoneID, sub.PlayerID, base.CloneForSubscriber())
	if err != nil {
		slog.Warn("player state filter failed, skipping emission",
			"zone", zoneID,
			"player", sub.PlayerID,
			"conn", sub.ConnectionID,
			"error", err)
		if f.recordFilterFailure(sub.ConnectionID) {
			slog.Warn("repeated filter failures, disconnecting subscriber",
				"player", sub.PlayerID, "conn", sub.ConnectionID)
			f.registry.Disconnect(sub.PlayerID, sub.ConnectionID)
		}
		return
	}
	f.clearFilterFailures(sub.ConnectionID)

	// Send is bounded by the sink's own write deadline; a slow or dead
	// subscriber costs at most that bound and is then dropped.
	if err := sub.Sink.Send(protocol.Tick(base.TickNumber, state)); err != nil {
		slog.Warn("tick emission failed, disconnecting subscriber",
			"zone", zoneID,
			"player", sub.PlayerID,
			"conn", sub.ConnectionID,
			"error", err)
		f.registry.Disconnect(sub.PlayerID, sub.ConnectionID)
	}
}

// recordFilterFailure bumps the consecutive-failure count and reports
// whether the subscriber crossed the disconnect threshold.
func (f *Fanout) recordFilterFailure(connID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterFailures[connID]++
	if f.filterFailures[connID] >= maxFilterFailures {
		delete(f.filterFailures, connID)
		return true
	}
	return false
}

func (f *Fanout) clearFilterFailures(connID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.filterFailures, connID)
}
