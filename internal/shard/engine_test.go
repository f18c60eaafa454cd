package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gridshard/internal/db"
	"github.com/udisondev/gridshard/internal/game"
	"github.com/udisondev/gridshard/internal/model"
	"github.com/udisondev/gridshard/internal/protocol"
)

// fakeModule is a configurable game.Module for pipeline tests. The zero
// value returns empty deltas and an identity filter.
type fakeModule struct {
	onTick      func(zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error)
	playerState func(zoneID uuid.UUID, playerID string, base model.BaseState) (json.RawMessage, error)
}

func (m *fakeModule) OnInit(ctx context.Context, h game.Handle) error { return nil }

func (m *fakeModule) OnTick(ctx context.Context, zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error) {
	if m.onTick == nil {
		return model.TickResult{}, nil
	}
	return m.onTick(zone, entities, intents, tick)
}

func (m *fakeModule) PlayerState(ctx context.Context, zoneID uuid.UUID, playerID string, base model.BaseState) (json.RawMessage, error) {
	if m.playerState == nil {
		return json.Marshal(base)
	}
	return m.playerState(zoneID, playerID, base)
}

// countingStore wraps a Store and counts zone-scoped sessions per zone.
type countingStore struct {
	db.Store
	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func newCountingStore(inner db.Store) *countingStore {
	return &countingStore{Store: inner, calls: make(map[uuid.UUID]int)}
}

func (s *countingStore) WithZoneTx(ctx context.Context, zoneID uuid.UUID, fn func(ctx context.Context, tx db.ZoneTx) error) error {
	s.mu.Lock()
	s.calls[zoneID]++
	s.mu.Unlock()
	return s.Store.WithZoneTx(ctx, zoneID, fn)
}

func (s *countingStore) callsFor(zoneID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[zoneID]
}

type engineFixture struct {
	store    *countingStore
	queue    *IntentQueue
	registry *Registry
	engine   *Engine
}

func newEngineFixture(t *testing.T, mod game.Module) *engineFixture {
	t.Helper()
	store := newCountingStore(db.NewMemoryStore())
	queue := NewIntentQueue()
	registry := NewRegistry()
	engine := NewEngine(EngineConfig{
		TickInterval:    10 * time.Millisecond,
		ZoneParallelism: 4,
	}, store, queue, registry, game.WrapModule("fake", mod), nil)
	return &engineFixture{store: store, queue: queue, registry: registry, engine: engine}
}

func (f *engineFixture) createZone(t *testing.T, name string) model.Zone {
	t.Helper()
	zone, err := f.store.CreateZone(context.Background(), model.Zone{Name: name, Width: 10, Height: 10})
	require.NoError(t, err)
	return zone
}

func (f *engineFixture) subscribe(t *testing.T, playerID string, zoneID uuid.UUID) (uint64, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	connID, err := f.registry.Register(playerID, sink)
	require.NoError(t, err)
	require.NoError(t, f.registry.Subscribe(playerID, connID, zoneID))
	return connID, sink
}

func (f *engineFixture) zoneEntities(t *testing.T, zoneID uuid.UUID) []model.Entity {
	t.Helper()
	var entities []model.Entity
	err := f.store.WithZoneTx(context.Background(), zoneID, func(ctx context.Context, tx db.ZoneTx) error {
		var err error
		entities, err = tx.Entities(ctx)
		return err
	})
	require.NoError(t, err)
	return entities
}

func decodeTickState(t *testing.T, msg protocol.ServerMessage) model.BaseState {
	t.Helper()
	var state model.BaseState
	require.NoError(t, json.Unmarshal(msg.State, &state))
	return state
}

// Same-tick create visibility: an intent that spawns an entity at (3,4) is
// visible in the tick message of the very tick that applied it.
func TestEngine_SameTickCreateVisibility(t *testing.T) {
	mod := &fakeModule{
		onTick: func(zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error) {
			if len(intents) == 0 {
				return model.TickResult{}, nil
			}
			return model.TickResult{Creates: []model.Entity{{X: 3, Y: 4}}}, nil
		},
	}
	f := newEngineFixture(t, mod)
	zone := f.createZone(t, "z")
	connID, sink := f.subscribe(t, "p1", zone.ID)

	f.queue.Enqueue(model.Intent{PlayerID: "p1", ConnectionID: connID, ZoneID: zone.ID, Body: []byte(`{}`)})
	f.engine.runTick(context.Background())

	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	state := decodeTickState(t, msgs[0])
	assert.Equal(t, int64(1), state.TickNumber)
	require.Len(t, state.Entities, 1)
	assert.Equal(t, int32(3), state.Entities[0].X)
	assert.Equal(t, int32(4), state.Entities[0].Y)

	// The committed store state matches the emitted snapshot.
	committed := f.zoneEntities(t, zone.ID)
	require.Len(t, committed, 1)
	assert.Equal(t, state.Entities[0].ID, committed[0].ID)
}

// Same-tick delete visibility: an entity deleted this tick is absent from
// this tick's emission, with no one-tick lag.
func TestEngine_SameTickDeleteVisibility(t *testing.T) {
	var victim uuid.UUID
	mod := &fakeModule{
		onTick: func(zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error) {
			if len(intents) == 0 || len(entities) == 0 {
				return model.TickResult{}, nil
			}
			victim = entities[0].ID
			return model.TickResult{Deletes: []uuid.UUID{victim}}, nil
		},
	}
	f := newEngineFixture(t, mod)
	zone := f.createZone(t, "z")

	require.NoError(t, f.store.WithZoneTx(context.Background(), zone.ID, func(ctx context.Context, tx db.ZoneTx) error {
		return tx.Apply(ctx, db.Deltas{Creates: []model.Entity{{ID: uuid.New(), X: 1, Y: 1, Width: 1, Height: 1}}})
	}))

	connID, sink := f.subscribe(t, "p1", zone.ID)
	f.queue.Enqueue(model.Intent{PlayerID: "p1", ConnectionID: connID, ZoneID: zone.ID, Body: []byte(`{}`)})
	f.engine.runTick(context.Background())

	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	state := decodeTickState(t, msgs[0])
	assert.Empty(t, state.Entities)
	assert.Empty(t, f.zoneEntities(t, zone.ID))
}

// Per-zone failure isolation: a module failure in one zone rolls that zone
// back; a sibling zone in the same tick commits normally.
func TestEngine_ZoneFailureIsolation(t *testing.T) {
	var failZone uuid.UUID
	mod := &fakeModule{
		onTick: func(zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error) {
			if zone.ID == failZone {
				return model.TickResult{}, errors.New("boom")
			}
			if len(intents) > 0 {
				return model.TickResult{Creates: []model.Entity{{X: 1, Y: 1}}}, nil
			}
			return model.TickResult{}, nil
		},
	}
	f := newEngineFixture(t, mod)
	zone1 := f.createZone(t, "z1")
	zone2 := f.createZone(t, "z2")
	failZone = zone1.ID

	conn1, _ := f.subscribe(t, "p1", zone1.ID)
	conn2, _ := f.subscribe(t, "p2", zone2.ID)

	f.queue.Enqueue(model.Intent{PlayerID: "p1", ConnectionID: conn1, ZoneID: zone1.ID, Body: []byte(`{}`)})
	f.queue.Enqueue(model.Intent{PlayerID: "p2", ConnectionID: conn2, ZoneID: zone2.ID, Body: []byte(`{}`)})
	f.engine.runTick(context.Background())

	assert.Empty(t, f.zoneEntities(t, zone1.ID), "failed zone must roll back")
	assert.Len(t, f.zoneEntities(t, zone2.ID), 1, "sibling zone must commit")

	// Both zones stay in the active set while subscribed.
	before1, before2 := f.store.callsFor(zone1.ID), f.store.callsFor(zone2.ID)
	f.engine.runTick(context.Background())
	assert.Equal(t, before1+1, f.store.callsFor(zone1.ID), "failed zone retried next tick")
	assert.Equal(t, before2+1, f.store.callsFor(zone2.ID))
}

// Active-zone scoping: zones with neither subscribers nor queued intents are
// not loaded at all.
func TestEngine_ActiveZoneScoping(t *testing.T) {
	f := newEngineFixture(t, &fakeModule{})

	var idle []model.Zone
	for i := range 50 {
		idle = append(idle, f.createZone(t, fmt.Sprintf("idle-%d", i)))
	}
	hot := f.createZone(t, "hot")

	// Empty active set: the loop still runs, no zone is touched.
	f.engine.runTick(context.Background())
	for _, z := range idle {
		assert.Zero(t, f.store.callsFor(z.ID))
	}
	assert.Equal(t, int64(1), f.engine.TickNumber())

	f.subscribe(t, "p1", hot.ID)
	f.engine.runTick(context.Background())

	assert.Equal(t, 1, f.store.callsFor(hot.ID))
	for _, z := range idle {
		assert.Zero(t, f.store.callsFor(z.ID), "idle zone %s must not be loaded", z.Name)
	}
}

// Fog-of-war divergence: two subscribers of the same zone receive different
// states on the same tick number.
func TestEngine_PerPlayerFilterDivergence(t *testing.T) {
	mod := &fakeModule{
		playerState: func(zoneID uuid.UUID, playerID string, base model.BaseState) (json.RawMessage, error) {
			// Each player sees only their own marker.
			return json.Marshal(map[string]any{
				"tick_number": base.TickNumber,
				"visible_to":  playerID,
			})
		},
	}
	f := newEngineFixture(t, mod)
	zone := f.createZone(t, "z")
	_, sink1 := f.subscribe(t, "p1", zone.ID)
	_, sink2 := f.subscribe(t, "p2", zone.ID)

	f.engine.runTick(context.Background())

	msgs1, msgs2 := sink1.Messages(), sink2.Messages()
	require.Len(t, msgs1, 1)
	require.Len(t, msgs2, 1)
	assert.Equal(t, msgs1[0].TickNumber, msgs2[0].TickNumber)
	assert.NotEqual(t, string(msgs1[0].State), string(msgs2[0].State))
	assert.Contains(t, string(msgs1[0].State), "p1")
	assert.Contains(t, string(msgs2[0].State), "p2")
}

// The tick number is process-wide: every zone processed in one tick observes
// the same value.
func TestEngine_TickNumberSharedAcrossZones(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[uuid.UUID]int64)
	mod := &fakeModule{
		onTick: func(zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error) {
			mu.Lock()
			seen[zone.ID] = tick
			mu.Unlock()
			return model.TickResult{}, nil
		},
	}
	f := newEngineFixture(t, mod)
	zone1 := f.createZone(t, "z1")
	zone2 := f.createZone(t, "z2")
	f.subscribe(t, "p1", zone1.ID)
	f.subscribe(t, "p2", zone2.ID)

	f.engine.runTick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen[zone1.ID], seen[zone2.ID])
	assert.Equal(t, f.engine.TickNumber(), seen[zone1.ID])
}

// Intents drain exactly once: the batch delivered to OnTick is gone on the
// next tick.
func TestEngine_IntentsDrainedExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	var batches [][]model.Intent
	mod := &fakeModule{
		onTick: func(zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error) {
			mu.Lock()
			batches = append(batches, intents)
			mu.Unlock()
			return model.TickResult{}, nil
		},
	}
	f := newEngineFixture(t, mod)
	zone := f.createZone(t, "z")
	connID, _ := f.subscribe(t, "p1", zone.ID)

	for i := range 5 {
		f.queue.Enqueue(model.Intent{
			PlayerID: "p1", ConnectionID: connID, ZoneID: zone.ID,
			Body: fmt.Appendf(nil, "%d", i),
		})
	}
	f.engine.runTick(context.Background())
	f.engine.runTick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 5)
	for i, intent := range batches[0] {
		assert.Equal(t, fmt.Sprintf("%d", i), string(intent.Body))
	}
	assert.Empty(t, batches[1])
}

// A zone destroyed out of band drops its queued intents instead of staying
// active forever.
func TestEngine_VanishedZoneDropsIntents(t *testing.T) {
	f := newEngineFixture(t, &fakeModule{})
	ghost := uuid.New()

	f.queue.Enqueue(model.Intent{PlayerID: "p1", ZoneID: ghost, Body: []byte(`{}`)})
	f.engine.runTick(context.Background())

	assert.Empty(t, f.queue.ZonesWithPending())
}

func TestEngine_PauseStepResume(t *testing.T) {
	f := newEngineFixture(t, &fakeModule{})
	zone := f.createZone(t, "z")
	f.subscribe(t, "p1", zone.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	waitForTicks := func(min int64) {
		deadline := time.Now().Add(2 * time.Second)
		for f.engine.TickNumber() < min && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		require.GreaterOrEqual(t, f.engine.TickNumber(), min)
	}

	waitForTicks(2)

	f.engine.Pause()
	assert.Equal(t, StatePaused, f.engine.State())
	paused := f.engine.TickNumber()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, paused, f.engine.TickNumber(), "no pipeline runs while paused")

	f.engine.Step()
	waitForTicks(paused + 1)
	stepped := f.engine.TickNumber()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stepped, f.engine.TickNumber(), "exactly one pipeline per step")

	f.engine.Resume()
	assert.Equal(t, StateRunning, f.engine.State())
	waitForTicks(stepped + 2)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop at tick boundary")
	}
	assert.Equal(t, StateStopping, f.engine.State())
}

// Intents buffered during a pause all drain on the first pipeline run after
// resume.
func TestEngine_PausedIntentsDrainOnResume(t *testing.T) {
	var mu sync.Mutex
	var batches [][]model.Intent
	mod := &fakeModule{
		onTick: func(zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error) {
			mu.Lock()
			if len(intents) > 0 {
				batches = append(batches, intents)
			}
			mu.Unlock()
			return model.TickResult{}, nil
		},
	}
	f := newEngineFixture(t, mod)
	zone := f.createZone(t, "z")
	connID, _ := f.subscribe(t, "p1", zone.ID)

	f.engine.Pause()
	for i := range 7 {
		f.queue.Enqueue(model.Intent{
			PlayerID: "p1", ConnectionID: connID, ZoneID: zone.ID,
			Body: fmt.Appendf(nil, "%d", i),
		})
	}

	f.engine.Resume()
	f.engine.runTick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1, "single drain on the first tick after resume")
	assert.Len(t, batches[0], 7)
}
