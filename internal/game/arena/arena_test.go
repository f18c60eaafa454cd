package arena

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gridshard/internal/model"
)

func arenaZone() model.Zone {
	return model.Zone{ID: uuid.New(), Name: "arena", Width: 10, Height: 10}
}

func intent(playerID, body string) model.Intent {
	return model.Intent{PlayerID: playerID, Body: []byte(body)}
}

func avatarFor(t *testing.T, playerID string, x, y int32, zoneID uuid.UUID) model.Entity {
	t.Helper()
	meta, err := json.Marshal(avatarMeta{Kind: "avatar", PlayerID: playerID})
	require.NoError(t, err)
	return model.Entity{ID: uuid.New(), ZoneID: zoneID, X: x, Y: y, Width: 1, Height: 1, Metadata: meta}
}

func TestOnTick_Spawn(t *testing.T) {
	m := New()
	zone := arenaZone()

	result, err := m.OnTick(context.Background(), zone, nil,
		[]model.Intent{intent("p1", `{"op":"spawn","x":3,"y":4}`)}, 1)
	require.NoError(t, err)

	require.Len(t, result.Creates, 1)
	assert.Equal(t, int32(3), result.Creates[0].X)
	assert.Equal(t, int32(4), result.Creates[0].Y)

	var meta avatarMeta
	require.NoError(t, json.Unmarshal(result.Creates[0].Metadata, &meta))
	assert.Equal(t, "avatar", meta.Kind)
	assert.Equal(t, "p1", meta.PlayerID)

	var ex extras
	require.NoError(t, json.Unmarshal(result.Extras, &ex))
	assert.Equal(t, 1, ex.Processed)
	assert.Zero(t, ex.Rejected)
}

func TestOnTick_SpawnRejections(t *testing.T) {
	m := New()
	zone := arenaZone()
	existing := avatarFor(t, "p1", 0, 0, zone.ID)

	tests := []struct {
		name     string
		entities []model.Entity
		body     string
	}{
		{"out of bounds", nil, `{"op":"spawn","x":10,"y":0}`},
		{"already spawned", []model.Entity{existing}, `{"op":"spawn","x":1,"y":1}`},
		{"garbage body", nil, `not json`},
		{"unknown op", nil, `{"op":"fly"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := m.OnTick(context.Background(), zone, tt.entities,
				[]model.Intent{intent("p1", tt.body)}, 1)
			require.NoError(t, err)
			assert.Empty(t, result.Creates)

			var ex extras
			require.NoError(t, json.Unmarshal(result.Extras, &ex))
			assert.Equal(t, 1, ex.Rejected)
		})
	}
}

func TestOnTick_MoveRejectedOutOfBounds(t *testing.T) {
	m := New()
	zone := arenaZone()
	avatar := avatarFor(t, "p1", 0, 0, zone.ID)

	// A move off the grid is rejected, leaving the avatar in place.
	result, err := m.OnTick(context.Background(), zone, []model.Entity{avatar},
		[]model.Intent{intent("p1", `{"op":"move","dx":-1,"dy":0}`)}, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Updates)

	result, err = m.OnTick(context.Background(), zone, []model.Entity{avatar},
		[]model.Intent{intent("p1", `{"op":"move","dx":1,"dy":2}`)}, 2)
	require.NoError(t, err)
	require.Len(t, result.Updates, 1)
	assert.Equal(t, int32(1), result.Updates[0].X)
	assert.Equal(t, int32(2), result.Updates[0].Y)
}

// Later intents in a tick observe earlier moves: two steps accumulate.
func TestOnTick_SequentialMovesSameTick(t *testing.T) {
	m := New()
	zone := arenaZone()
	avatar := avatarFor(t, "p1", 0, 0, zone.ID)

	result, err := m.OnTick(context.Background(), zone, []model.Entity{avatar},
		[]model.Intent{
			intent("p1", `{"op":"move","dx":1,"dy":0}`),
			intent("p1", `{"op":"move","dx":1,"dy":0}`),
		}, 1)
	require.NoError(t, err)
	require.Len(t, result.Updates, 1)
	assert.Equal(t, int32(2), result.Updates[0].X)
}

func TestOnTick_SpawnThenMoveSameTick(t *testing.T) {
	m := New()
	zone := arenaZone()

	result, err := m.OnTick(context.Background(), zone, nil,
		[]model.Intent{
			intent("p1", `{"op":"spawn","x":3,"y":3}`),
			intent("p1", `{"op":"move","dx":0,"dy":1}`),
		}, 1)
	require.NoError(t, err)
	require.Len(t, result.Creates, 1)
	assert.Empty(t, result.Updates, "move folds into the pending create")
	assert.Equal(t, int32(4), result.Creates[0].Y)
}

func TestOnTick_Despawn(t *testing.T) {
	m := New()
	zone := arenaZone()
	avatar := avatarFor(t, "p1", 2, 2, zone.ID)

	result, err := m.OnTick(context.Background(), zone, []model.Entity{avatar},
		[]model.Intent{intent("p1", `{"op":"despawn"}`)}, 1)
	require.NoError(t, err)
	require.Len(t, result.Deletes, 1)
	assert.Equal(t, avatar.ID, result.Deletes[0])
}

func TestPlayerState_FogOfWar(t *testing.T) {
	m := New()
	zoneID := uuid.New()

	p1 := avatarFor(t, "p1", 5, 5, zoneID)
	near := avatarFor(t, "p2", 6, 6, zoneID)
	far := avatarFor(t, "p3", 9, 9, zoneID)

	base := model.BaseState{
		TickNumber: 4,
		Entities:   []model.Entity{p1, near, far},
	}

	raw, err := m.PlayerState(context.Background(), zoneID, "p1", base)
	require.NoError(t, err)

	var view model.BaseState
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, int64(4), view.TickNumber)
	require.Len(t, view.Entities, 2, "p1 sees itself and the near avatar only")

	ids := []uuid.UUID{view.Entities[0].ID, view.Entities[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{p1.ID, near.ID}, ids)
}

func TestPlayerState_DivergesPerPlayer(t *testing.T) {
	m := New()
	zoneID := uuid.New()

	p1 := avatarFor(t, "p1", 0, 0, zoneID)
	p2 := avatarFor(t, "p2", 9, 9, zoneID)
	base := model.BaseState{TickNumber: 1, Entities: []model.Entity{p1, p2}}

	raw1, err := m.PlayerState(context.Background(), zoneID, "p1", base)
	require.NoError(t, err)
	raw2, err := m.PlayerState(context.Background(), zoneID, "p2", base)
	require.NoError(t, err)

	assert.NotEqual(t, string(raw1), string(raw2))
}

func TestPlayerState_NoAvatarSeesNothing(t *testing.T) {
	m := New()
	zoneID := uuid.New()
	other := avatarFor(t, "p2", 1, 1, zoneID)

	raw, err := m.PlayerState(context.Background(), zoneID, "ghost", model.BaseState{
		Entities: []model.Entity{other},
	})
	require.NoError(t, err)

	var view model.BaseState
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Empty(t, view.Entities)
}
