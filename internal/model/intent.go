package model

import "github.com/google/uuid"

// Intent is an opaque player-originated command targeting one zone. It is
// buffered until the next tick of its zone, delivered to the game module at
// most once, then discarded. ConnectionID records provenance only; delivery
// is keyed by zone.
type Intent struct {
	PlayerID     string
	ConnectionID uint64
	ZoneID       uuid.UUID
	Body         []byte
}
