package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/gridshard/internal/model"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint breaks.
const uniqueViolation = "23505"

// ZoneRepository reads and writes zone rows.
type ZoneRepository struct {
	pool *pgxpool.Pool
}

// NewZoneRepository creates a new zone repository over the given pool.
func NewZoneRepository(pool *pgxpool.Pool) *ZoneRepository {
	return &ZoneRepository{pool: pool}
}

// Create inserts a new zone. A duplicate name surfaces ErrConflict.
func (r *ZoneRepository) Create(ctx context.Context, zone model.Zone) (model.Zone, error) {
	if zone.ID == uuid.Nil {
		zone.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO zones (id, name, width, height, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		zone.ID, zone.Name, zone.Width, zone.Height, zone.Metadata,
	)
	if err := row.Scan(&zone.CreatedAt, &zone.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.Zone{}, fmt.Errorf("zone name %q: %w", zone.Name, ErrConflict)
		}
		return model.Zone{}, fmt.Errorf("creating zone %q: %w", zone.Name, err)
	}
	return zone, nil
}

// Delete removes a zone; entities cascade at the schema level.
func (r *ZoneRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM zones WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting zone %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("zone %s: %w", id, ErrZoneNotFound)
	}
	return nil
}

// List returns all zones ordered by name.
func (r *ZoneRepository) List(ctx context.Context) ([]model.Zone, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, width, height, metadata, created_at, updated_at
		 FROM zones ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing zones: %w", err)
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Width, &z.Height, &z.Metadata, &z.CreatedAt, &z.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// GetTx loads one zone inside an open transaction.
func (r *ZoneRepository) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (model.Zone, error) {
	var z model.Zone
	err := tx.QueryRow(ctx,
		`SELECT id, name, width, height, metadata, created_at, updated_at
		 FROM zones WHERE id = $1`, id,
	).Scan(&z.ID, &z.Name, &z.Width, &z.Height, &z.Metadata, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Zone{}, fmt.Errorf("zone %s: %w", id, ErrZoneNotFound)
		}
		return model.Zone{}, fmt.Errorf("querying zone %s: %w", id, err)
	}
	return z, nil
}
