package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Zone is a uniquely named rectangular simulation region. Zones are created
// and destroyed through the administrative path only; the tick pipeline never
// mutates them.
type Zone struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Width     int32     `json:"width"`
	Height    int32     `json:"height"`
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the zone invariants: non-empty name, positive dimensions.
func (z Zone) Validate() error {
	if z.Name == "" {
		return fmt.Errorf("zone name must not be empty")
	}
	if z.Width <= 0 || z.Height <= 0 {
		return fmt.Errorf("zone %q dimensions must be positive, got %dx%d", z.Name, z.Width, z.Height)
	}
	return nil
}

// Contains reports whether the point (x, y) lies within the zone bounds.
func (z Zone) Contains(x, y int32) bool {
	return x >= 0 && y >= 0 && x < z.Width && y < z.Height
}
