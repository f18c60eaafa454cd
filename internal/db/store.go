package db

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/model"
)

// Sentinel errors for the spec's conflict/not-found taxonomy. Callers match
// with errors.Is after any amount of wrapping.
var (
	// ErrConflict marks unique-constraint violations (duplicate zone name).
	ErrConflict = errors.New("conflict")
	// ErrZoneNotFound marks operations against a zone id that does not exist.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrEntityNotFound marks updates against a missing entity.
	ErrEntityNotFound = errors.New("entity not found")
)

// Deltas groups one tick's entity writes for a single zone.
type Deltas struct {
	Creates []model.Entity
	Updates []model.Entity
	Deletes []uuid.UUID
}

// Empty reports whether there is nothing to apply.
func (d Deltas) Empty() bool {
	return len(d.Creates) == 0 && len(d.Updates) == 0 && len(d.Deletes) == 0
}

// ZoneTx is a transactional session scoped to a single zone. All reads see
// the same snapshot; Apply stages writes that become visible to other
// sessions only when the enclosing WithZoneTx commits.
type ZoneTx interface {
	// Zone loads the scoped zone. Returns ErrZoneNotFound if it was
	// destroyed out of band.
	Zone(ctx context.Context) (model.Zone, error)
	// Entities lists the zone's entities as of the transaction snapshot.
	Entities(ctx context.Context) ([]model.Entity, error)
	// Apply stages the delta sets. It does not commit.
	Apply(ctx context.Context, deltas Deltas) error
}

// Store is the persistence gateway. WithZoneTx is the only mutation path the
// tick pipeline uses; the zone CRUD operations serve the administrative
// surface.
type Store interface {
	// WithZoneTx runs fn inside a transaction scoped to zoneID and commits
	// iff fn returns nil; any error (or panic) rolls back everything staged
	// within the scope. A failed scope never poisons sibling scopes.
	WithZoneTx(ctx context.Context, zoneID uuid.UUID, fn func(ctx context.Context, tx ZoneTx) error) error

	// CreateZone inserts a new zone. Duplicate names surface ErrConflict.
	CreateZone(ctx context.Context, zone model.Zone) (model.Zone, error)
	// DeleteZone removes a zone and its entities.
	DeleteZone(ctx context.Context, id uuid.UUID) error
	// ListZones returns all zones.
	ListZones(ctx context.Context) ([]model.Zone, error)
}
