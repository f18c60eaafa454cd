// Package game defines the pluggable game-logic contract and the adapter the
// framework calls it through. The framework owns zones and entities; a module
// owns rule resolution and per-player visibility, nothing else.
package game

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/model"
)

// Handle is the capability set a module receives at init time: read-only
// access to zones and their entities outside the tick pipeline.
type Handle interface {
	Zone(ctx context.Context, zoneID uuid.UUID) (model.Zone, error)
	Entities(ctx context.Context, zoneID uuid.UUID) ([]model.Entity, error)
}

// Module is the polymorphic game-logic contract, loaded once at startup.
//
// OnTick is treated as a pure function over its arguments: the only contracted
// effect is the returned deltas and extras. The framework never invokes OnTick
// for the same zone concurrently with itself.
//
// PlayerState is the sole place per-player visibility is enforced. It may be
// invoked concurrently for different subscribers and must be safe for that.
type Module interface {
	OnInit(ctx context.Context, h Handle) error
	OnTick(ctx context.Context, zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (model.TickResult, error)
	PlayerState(ctx context.Context, zoneID uuid.UUID, playerID string, base model.BaseState) (json.RawMessage, error)
}
