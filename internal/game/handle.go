package game

import (
	"context"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/db"
	"github.com/udisondev/gridshard/internal/model"
)

// StoreHandle implements Handle over the persistence gateway, using the same
// per-zone transactional read path as the tick pipeline.
type StoreHandle struct {
	store db.Store
}

// NewStoreHandle creates the framework handle handed to modules at init.
func NewStoreHandle(store db.Store) *StoreHandle {
	return &StoreHandle{store: store}
}

func (h *StoreHandle) Zone(ctx context.Context, zoneID uuid.UUID) (model.Zone, error) {
	var zone model.Zone
	err := h.store.WithZoneTx(ctx, zoneID, func(ctx context.Context, tx db.ZoneTx) error {
		var err error
		zone, err = tx.Zone(ctx)
		return err
	})
	return zone, err
}

func (h *StoreHandle) Entities(ctx context.Context, zoneID uuid.UUID) ([]model.Entity, error) {
	var entities []model.Entity
	err := h.store.WithZoneTx(ctx, zoneID, func(ctx context.Context, tx db.ZoneTx) error {
		var err error
		entities, err = tx.Entities(ctx)
		return err
	})
	return entities, err
}
