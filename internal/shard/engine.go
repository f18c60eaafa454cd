package shard

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/udisondev/gridshard/internal/db"
	"github.com/udisondev/gridshard/internal/game"
	"github.com/udisondev/gridshard/internal/metrics"
	"github.com/udisondev/gridshard/internal/model"
)

// EngineState is the tick engine lifecycle state.
type EngineState int32

const (
	StateRunning EngineState = iota
	StatePaused
	StateStopping
)

// String implements fmt.Stringer for logs and the admin surface.
func (s EngineState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// EngineConfig carries the engine's tunables.
type EngineConfig struct {
	TickInterval    time.Duration
	ZoneParallelism int // max concurrent zone pipelines per tick; 0 = NumCPU
}

// Engine is the fixed-cadence driver. One logical driver advances the
// process-wide tick number; per-zone pipelines within a tick run in parallel
// up to the configured cap, each isolated in its own transactional scope.
type Engine struct {
	cfg      EngineConfig
	store    db.Store
	queue    *IntentQueue
	registry *Registry
	adapter  *game.Adapter
	fanout   *Fanout
	metrics  *metrics.Metrics

	tickNumber atomic.Int64
	state      atomic.Int32
	stepCh     chan struct{}
}

// NewEngine assembles the tick engine.
func NewEngine(cfg EngineConfig, store db.Store, queue *IntentQueue, registry *Registry, adapter *game.Adapter, m *metrics.Metrics) *Engine {
	if cfg.ZoneParallelism <= 0 {
		cfg.ZoneParallelism = runtime.NumCPU()
	}
	e := &Engine{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		registry: registry,
		adapter:  adapter,
		fanout:   NewFanout(registry, adapter),
		metrics:  m,
		stepCh:   make(chan struct{}, 1),
	}
	e.state.Store(int32(StateRunning))
	return e
}

// TickNumber returns the last executed tick number.
func (e *Engine) TickNumber() int64 {
	return e.tickNumber.Load()
}

// State returns the engine lifecycle state.
func (e *Engine) State() EngineState {
	return EngineState(e.state.Load())
}

// Interval returns the configured tick cadence.
func (e *Engine) Interval() time.Duration {
	return e.cfg.TickInterval
}

// Pause suspends pipeline execution at the next cadence boundary. The loop
// keeps running; only the zone pipelines are skipped.
func (e *Engine) Pause() {
	if e.state.CompareAndSwap(int32(StateRunning), int32(StatePaused)) {
		slog.Info("tick engine paused", "tick", e.TickNumber())
	}
}

// Resume restarts pipeline execution.
func (e *Engine) Resume() {
	if e.state.CompareAndSwap(int32(StatePaused), int32(StateRunning)) {
		slog.Info("tick engine resumed", "tick", e.TickNumber())
	}
}

// Step schedules exactly one pipeline execution while paused. A no-op when
// the engine is running or a step is already pending.
func (e *Engine) Step() {
	if e.State() != StatePaused {
		return
	}
	select {
	case e.stepCh <- struct{}{}:
	default:
	}
}

// Run drives the cadence loop until ctx is cancelled. Shutdown happens at a
// tick boundary: an in-flight tick completes (or rolls back its zones)
// before Run returns.
//
// time.Ticker drops boundaries that pass while a tick overruns, so a slow
// tick is followed by the next boundary, never by a catch-up burst; the
// overrun is recorded as a timing slip.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("tick engine started",
		"interval", e.cfg.TickInterval,
		"zone_parallelism", e.cfg.ZoneParallelism,
		"module", e.adapter.Name())

	for {
		select {
		case <-ctx.Done():
			e.state.Store(int32(StateStopping))
			slog.Info("tick engine stopping", "tick", e.TickNumber())
			return ctx.Err()

		case <-ticker.C:
			if e.State() == StatePaused {
				select {
				case <-e.stepCh:
					// single-step while paused
				default:
					continue
				}
			}

			start := time.Now()
			e.runTick(ctx)
			elapsed := time.Since(start)
			e.metrics.ObserveTick(elapsed.Seconds())
			if elapsed > e.cfg.TickInterval {
				e.metrics.TickSlip()
				slog.Warn("tick overran interval",
					"tick", e.TickNumber(),
					"elapsed", elapsed,
					"interval", e.cfg.TickInterval)
			}
		}
	}
}

// runTick executes one tick: computes the active zone set and runs each
// zone's pipeline, in parallel across zones, isolated per zone.
func (e *Engine) runTick(ctx context.Context) {
	tick := e.tickNumber.Add(1)

	active := e.activeZones()
	e.metrics.SetActiveZones(len(active))
	e.metrics.SetConnections(e.registry.ConnectionCount())
	if len(active) == 0 {
		return
	}

	sem := semaphore.NewWeighted(int64(e.cfg.ZoneParallelism))
	var wg sync.WaitGroup
	for _, zoneID := range active {
		if err := sem.Acquire(ctx, 1); err != nil {
			// shutdown mid-tick: zones not yet started are skipped; the
			// started ones complete or roll back on their own.
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			e.processZone(ctx, zoneID, tick)
		}()
	}
	wg.Wait()
}

// activeZones returns subscribed zones ∪ zones with queued intents.
func (e *Engine) activeZones() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var active []uuid.UUID
	for _, zoneID := range e.registry.SubscribedZoneIDs() {
		if _, ok := seen[zoneID]; !ok {
			seen[zoneID] = struct{}{}
			active = append(active, zoneID)
		}
	}
	for _, zoneID := range e.queue.ZonesWithPending() {
		if _, ok := seen[zoneID]; !ok {
			seen[zoneID] = struct{}{}
			active = append(active, zoneID)
		}
	}
	return active
}

// processZone runs one zone's pipeline for one tick: load, drain, resolve,
// apply, commit, then broadcast. Any failure before commit rolls back this
// zone only; the error is recorded and the zone is processed again on the
// next tick in which it is active (subscribed or with newly queued intents).
// Intents drained by the failed tick are not redelivered.
func (e *Engine) processZone(ctx context.Context, zoneID uuid.UUID, tick int64) {
	var base model.BaseState

	err := e.store.WithZoneTx(ctx, zoneID, func(ctx context.Context, tx db.ZoneTx) error {
		zone, err := tx.Zone(ctx)
		if err != nil {
			return err
		}
		pre, err := tx.Entities(ctx)
		if err != nil {
			return err
		}

		intents := e.queue.Drain(zoneID)

		// The module gets its own copy: the pre-tick list seeds the
		// broadcast snapshot and must not be mutated underneath it.
		result, err := e.adapter.OnTick(ctx, zone, model.CloneEntities(pre), intents, tick)
		if err != nil {
			return err
		}

		deltas, err := NormalizeResult(zone, result, time.Now())
		if err != nil {
			return err
		}
		if err := tx.Apply(ctx, deltas); err != nil {
			return err
		}

		base = model.BaseState{
			TickNumber: tick,
			Entities:   BuildSnapshot(pre, deltas),
			Extras:     result.Extras,
		}
		return nil
	})
	if err != nil {
		e.metrics.ZoneError()
		if errors.Is(err, db.ErrZoneNotFound) {
			// Zone destroyed out of band: discard its buffered intents so it
			// drops out of the active set.
			dropped := e.queue.Drain(zoneID)
			slog.Warn("zone vanished, dropping queued intents",
				"zone", zoneID, "tick", tick, "dropped", len(dropped))
			return
		}
		slog.Error("zone tick rolled back",
			"zone", zoneID, "tick", tick, "error", err)
		return
	}

	// Broadcast strictly after commit so subscribers observe only the
	// post-apply state of this zone.
	e.fanout.Broadcast(ctx, zoneID, base)
}
