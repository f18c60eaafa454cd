package model

import (
	"time"

	"github.com/google/uuid"
)

// Entity is a positioned object inside exactly one zone. The framework owns
// position and footprint; Metadata is an opaque payload interpreted only by
// the game module. An entity never changes zones — moving one across a zone
// boundary is a delete in the old zone and a create in the new one.
type Entity struct {
	ID        uuid.UUID `json:"id"`
	ZoneID    uuid.UUID `json:"zone_id"`
	X         int32     `json:"x"`
	Y         int32     `json:"y"`
	Width     int32     `json:"width"`
	Height    int32     `json:"height"`
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InBounds reports whether the entity's position lies within the given zone.
func (e Entity) InBounds(z Zone) bool {
	return z.Contains(e.X, e.Y)
}

// CloneEntities returns a shallow copy of the slice. Entity values are copied;
// Metadata byte slices stay shared and must be treated as read-only by
// consumers.
func CloneEntities(entities []Entity) []Entity {
	if entities == nil {
		return nil
	}
	out := make([]Entity, len(entities))
	copy(out, entities)
	return out
}
