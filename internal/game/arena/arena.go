// Package arena is the built-in reference game module. Players spawn a single
// avatar entity into a zone, step it around the grid, and see the world
// through a visibility-radius fog of war centered on their own avatar.
package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/game"
	"github.com/udisondev/gridshard/internal/model"
)

// DefaultVisibilityRadius bounds what a player sees around their avatar when
// the zone does not configure its own radius.
const DefaultVisibilityRadius = 2

func init() {
	game.Register("arena", func() game.Module { return New() })
}

// Module implements game.Module.
type Module struct {
	handle game.Handle

	// radius cache: zone metadata is stable for a zone's lifetime, so the
	// per-zone visibility radius is resolved once. PlayerState runs
	// concurrently across subscribers; the cache tolerates that.
	radiusMu sync.RWMutex
	radius   map[uuid.UUID]int32
}

// New creates an arena module instance.
func New() *Module {
	return &Module{radius: make(map[uuid.UUID]int32)}
}

// avatarMeta is the entity metadata the arena writes for player avatars.
type avatarMeta struct {
	Kind     string `json:"kind"`
	PlayerID string `json:"player_id"`
}

// zoneMeta is the optional zone metadata the arena understands.
type zoneMeta struct {
	VisibilityRadius *int32 `json:"visibility_radius"`
}

// intentBody is the wire shape of arena intents.
type intentBody struct {
	Op string `json:"op"` // spawn, move, despawn
	X  int32  `json:"x"`
	Y  int32  `json:"y"`
	DX int32  `json:"dx"`
	DY int32  `json:"dy"`
}

// extras is the opaque payload the arena attaches to each tick result.
type extras struct {
	Processed int `json:"processed"`
	Rejected  int `json:"rejected"`
}

// OnInit keeps the framework handle for out-of-tick reads.
func (m *Module) OnInit(ctx context.Context, h game.Handle) error {
	m.handle = h
	slog.Info("arena module initialized")
	return nil
}

// OnTick applies the tick's intents to the zone's avatars.
func (m *Module) OnTick(ctx context.Context, zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error) {
	// Index avatars by owning player. Positions mutate as intents apply so
	// later intents in the same tick observe earlier moves.
	avatars := make(map[string]*model.Entity, len(entities))
	for i := range entities {
		var meta avatarMeta
		if err := json.Unmarshal(entities[i].Metadata, &meta); err != nil || meta.Kind != "avatar" {
			continue
		}
		avatars[meta.PlayerID] = &entities[i]
	}

	var result model.TickResult
	ex := extras{}
	created := make(map[string]*model.Entity)
	deleted := make(map[uuid.UUID]bool)
	updated := make(map[uuid.UUID]*model.Entity)

	for _, intent := range intents {
		var body intentBody
		if err := json.Unmarshal(intent.Body, &body); err != nil {
			ex.Rejected++
			continue
		}

		avatar := avatars[intent.PlayerID]
		if avatar != nil && deleted[avatar.ID] {
			avatar = nil
		}
		if avatar == nil {
			avatar = created[intent.PlayerID]
		}

		switch body.Op {
		case "spawn":
			if avatar != nil || !zone.Contains(body.X, body.Y) {
				ex.Rejected++
				continue
			}
			meta, err := json.Marshal(avatarMeta{Kind: "avatar", PlayerID: intent.PlayerID})
			if err != nil {
				return model.TickResult{}, fmt.Errorf("marshaling avatar metadata: %w", err)
			}
			e := model.Entity{
				ID:       uuid.New(),
				ZoneID:   zone.ID,
				X:        body.X,
				Y:        body.Y,
				Width:    1,
				Height:   1,
				Metadata: meta,
			}
			created[intent.PlayerID] = &e
			ex.Processed++

		case "move":
			if avatar == nil {
				ex.Rejected++
				continue
			}
			nx, ny := avatar.X+body.DX, avatar.Y+body.DY
			if !zone.Contains(nx, ny) {
				ex.Rejected++
				continue
			}
			avatar.X, avatar.Y = nx, ny
			if created[intent.PlayerID] == nil {
				updated[avatar.ID] = avatar
			}
			ex.Processed++

		case "despawn":
			if avatar == nil {
				ex.Rejected++
				continue
			}
			if created[intent.PlayerID] != nil {
				delete(created, intent.PlayerID)
			} else {
				deleted[avatar.ID] = true
				delete(updated, avatar.ID)
			}
			ex.Processed++

		default:
			ex.Rejected++
		}
	}

	for _, e := range created {
		result.Creates = append(result.Creates, *e)
	}
	for _, e := range updated {
		result.Updates = append(result.Updates, *e)
	}
	for id := range deleted {
		result.Deletes = append(result.Deletes, id)
	}

	raw, err := json.Marshal(ex)
	if err != nil {
		return model.TickResult{}, fmt.Errorf("marshaling extras: %w", err)
	}
	result.Extras = raw
	return result, nil
}

// PlayerState redacts the base state down to what the player's avatar can
// see. A player without an avatar sees no entities. A zone may override the
// radius via metadata; a non-positive radius disables the fog entirely.
func (m *Module) PlayerState(ctx context.Context, zoneID uuid.UUID, playerID string, base model.BaseState) (json.RawMessage, error) {
	radius := m.radiusFor(ctx, zoneID)

	view := base
	if radius > 0 {
		view.Entities = visibleTo(playerID, base.Entities, radius)
	}

	raw, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("marshaling player state for %s: %w", playerID, err)
	}
	return raw, nil
}

func (m *Module) radiusFor(ctx context.Context, zoneID uuid.UUID) int32 {
	m.radiusMu.RLock()
	r, ok := m.radius[zoneID]
	m.radiusMu.RUnlock()
	if ok {
		return r
	}

	r = DefaultVisibilityRadius
	if m.handle != nil {
		if zone, err := m.handle.Zone(ctx, zoneID); err == nil {
			var meta zoneMeta
			if err := json.Unmarshal(zone.Metadata, &meta); err == nil && meta.VisibilityRadius != nil {
				r = *meta.VisibilityRadius
			}
		}
	}

	m.radiusMu.Lock()
	m.radius[zoneID] = r
	m.radiusMu.Unlock()
	return r
}

// visibleTo returns the entities within Chebyshev distance radius of the
// player's avatar. No avatar means nothing is visible.
func visibleTo(playerID string, entities []model.Entity, radius int32) []model.Entity {
	var self *model.Entity
	for i := range entities {
		var meta avatarMeta
		if err := json.Unmarshal(entities[i].Metadata, &meta); err == nil &&
			meta.Kind == "avatar" && meta.PlayerID == playerID {
			self = &entities[i]
			break
		}
	}
	if self == nil {
		return []model.Entity{}
	}

	visible := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if chebyshev(e.X-self.X, e.Y-self.Y) <= radius {
			visible = append(visible, e)
		}
	}
	return visible
}

func chebyshev(dx, dy int32) int32 {
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
