package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// TickResult is the game module's return value for one (zone, tick): three
// entity-delta sets plus an opaque extras payload. Entity authority stays
// with the framework — Extras must not carry an entity snapshot.
type TickResult struct {
	Creates []Entity
	Updates []Entity
	Deletes []uuid.UUID
	Extras  json.RawMessage
}

// Empty reports whether the result carries no deltas and no extras.
func (r TickResult) Empty() bool {
	return len(r.Creates) == 0 && len(r.Updates) == 0 && len(r.Deletes) == 0 && len(r.Extras) == 0
}

// BaseState is the framework-composed per-zone per-tick view handed to the
// module's per-player filter. Entities is the authoritative post-apply
// snapshot; same-tick creates and deletes are already reflected.
type BaseState struct {
	TickNumber int64           `json:"tick_number"`
	Entities   []Entity        `json:"entities"`
	Extras     json.RawMessage `json:"extras,omitempty"`
}

// CloneForSubscriber returns a copy whose entity slice is independent, so a
// module filter mutating its argument cannot leak into sibling emissions.
func (b BaseState) CloneForSubscriber() BaseState {
	return BaseState{
		TickNumber: b.TickNumber,
		Entities:   CloneEntities(b.Entities),
		Extras:     b.Extras,
	}
}
