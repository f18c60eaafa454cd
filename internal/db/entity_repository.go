package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/udisondev/gridshard/internal/model"
)

// EntityRepository reads and writes entity rows. All operations run inside a
// caller-owned transaction so that a zone's deltas land atomically.
type EntityRepository struct{}

// NewEntityRepository creates a new entity repository.
func NewEntityRepository() *EntityRepository {
	return &EntityRepository{}
}

// ListByZoneTx lists a zone's entities as of the transaction snapshot.
func (r *EntityRepository) ListByZoneTx(ctx context.Context, tx pgx.Tx, zoneID uuid.UUID) ([]model.Entity, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, zone_id, x, y, width, height, metadata, created_at, updated_at
		 FROM entities WHERE zone_id = $1 ORDER BY created_at, id`, zoneID)
	if err != nil {
		return nil, fmt.Errorf("listing entities for zone %s: %w", zoneID, err)
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		var e model.Entity
		if err := rows.Scan(&e.ID, &e.ZoneID, &e.X, &e.Y, &e.Width, &e.Height, &e.Metadata, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// ApplyTx stages creates, updates and deletes for one zone in a single batch.
// It does not commit — that happens at the zone-processing boundary.
func (r *EntityRepository) ApplyTx(ctx context.Context, tx pgx.Tx, zoneID uuid.UUID, deltas Deltas) error {
	if deltas.Empty() {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range deltas.Creates {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		// Timestamps come from the caller so the broadcast snapshot and the
		// committed rows agree.
		batch.Queue(
			`INSERT INTO entities (id, zone_id, x, y, width, height, metadata, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, zoneID, e.X, e.Y, e.Width, e.Height, e.Metadata, e.CreatedAt, e.UpdatedAt,
		)
	}
	for _, e := range deltas.Updates {
		batch.Queue(
			`UPDATE entities SET x = $1, y = $2, width = $3, height = $4, metadata = $5, updated_at = $6
			 WHERE id = $7 AND zone_id = $8`,
			e.X, e.Y, e.Width, e.Height, e.Metadata, e.UpdatedAt, e.ID, zoneID,
		)
	}
	for _, id := range deltas.Deletes {
		batch.Queue(`DELETE FROM entities WHERE id = $1 AND zone_id = $2`, id, zoneID)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("applying entity deltas for zone %s: %w", zoneID, err)
		}
	}
	return nil
}
