package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/gridshard/internal/model"
)

// PostgresStore implements Store over a pgx pool. Each WithZoneTx scope is a
// repeatable-read transaction, giving snapshot reads for the duration of one
// zone pipeline without touching sibling zones.
type PostgresStore struct {
	pool     *pgxpool.Pool
	zones    *ZoneRepository
	entities *EntityRepository
}

// NewPostgresStore creates a Store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:     pool,
		zones:    NewZoneRepository(pool),
		entities: NewEntityRepository(),
	}
}

// WithZoneTx runs fn inside a zone-scoped transaction. Commit happens iff fn
// returns nil; every other path, including a panic inside fn, rolls back.
func (s *PostgresStore) WithZoneTx(ctx context.Context, zoneID uuid.UUID, fn func(ctx context.Context, tx ZoneTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin transaction for zone %s: %w", zoneID, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "zone", zoneID, "error", err)
		}
	}()

	session := &pgZoneTx{tx: tx, zoneID: zoneID, store: s}
	if err := fn(ctx, session); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit for zone %s: %w", zoneID, err)
	}
	committed = true
	return nil
}

// CreateZone inserts a new zone after validating its invariants.
func (s *PostgresStore) CreateZone(ctx context.Context, zone model.Zone) (model.Zone, error) {
	if err := zone.Validate(); err != nil {
		return model.Zone{}, err
	}
	return s.zones.Create(ctx, zone)
}

// DeleteZone removes a zone and, via cascade, its entities.
func (s *PostgresStore) DeleteZone(ctx context.Context, id uuid.UUID) error {
	return s.zones.Delete(ctx, id)
}

// ListZones returns all zones.
func (s *PostgresStore) ListZones(ctx context.Context) ([]model.Zone, error) {
	return s.zones.List(ctx)
}

// pgZoneTx is the per-zone transactional session handed to pipeline code.
type pgZoneTx struct {
	tx     pgx.Tx
	zoneID uuid.UUID
	store  *PostgresStore
}

func (t *pgZoneTx) Zone(ctx context.Context) (model.Zone, error) {
	return t.store.zones.GetTx(ctx, t.tx, t.zoneID)
}

func (t *pgZoneTx) Entities(ctx context.Context) ([]model.Entity, error) {
	return t.store.entities.ListByZoneTx(ctx, t.tx, t.zoneID)
}

func (t *pgZoneTx) Apply(ctx context.Context, deltas Deltas) error {
	return t.store.entities.ApplyTx(ctx, t.tx, t.zoneID, deltas)
}
