package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/model"
)

// MemoryStore is an in-process Store used by tests and by local runs without
// PostgreSQL. Scopes are serialized per store; a failed scope discards its
// staged writes and leaves committed state untouched, matching the
// transactional contract.
type MemoryStore struct {
	mu       sync.Mutex
	zones    map[uuid.UUID]model.Zone
	entities map[uuid.UUID]map[uuid.UUID]model.Entity // zoneID → entityID → entity
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		zones:    make(map[uuid.UUID]model.Zone),
		entities: make(map[uuid.UUID]map[uuid.UUID]model.Entity),
	}
}

// WithZoneTx runs fn against a staged view of one zone and merges the staged
// writes iff fn returns nil.
func (s *MemoryStore) WithZoneTx(ctx context.Context, zoneID uuid.UUID, fn func(ctx context.Context, tx ZoneTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &memZoneTx{store: s, zoneID: zoneID}
	if err := fn(ctx, session); err != nil {
		return err
	}
	return session.commit()
}

// CreateZone inserts a new zone. Duplicate names surface ErrConflict.
func (s *MemoryStore) CreateZone(ctx context.Context, zone model.Zone) (model.Zone, error) {
	if err := zone.Validate(); err != nil {
		return model.Zone{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, z := range s.zones {
		if z.Name == zone.Name {
			return model.Zone{}, fmt.Errorf("zone name %q: %w", zone.Name, ErrConflict)
		}
	}
	if zone.ID == uuid.Nil {
		zone.ID = uuid.New()
	}
	now := time.Now()
	zone.CreatedAt = now
	zone.UpdatedAt = now
	s.zones[zone.ID] = zone
	s.entities[zone.ID] = make(map[uuid.UUID]model.Entity)
	return zone, nil
}

// DeleteZone removes a zone and all its entities.
func (s *MemoryStore) DeleteZone(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[id]; !ok {
		return fmt.Errorf("zone %s: %w", id, ErrZoneNotFound)
	}
	delete(s.zones, id)
	delete(s.entities, id)
	return nil
}

// ListZones returns all zones.
func (s *MemoryStore) ListZones(ctx context.Context) ([]model.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zones := make([]model.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		zones = append(zones, z)
	}
	return zones, nil
}

// memZoneTx stages writes against the store until commit.
type memZoneTx struct {
	store  *MemoryStore
	zoneID uuid.UUID
	staged []Deltas
}

func (t *memZoneTx) Zone(ctx context.Context) (model.Zone, error) {
	z, ok := t.store.zones[t.zoneID]
	if !ok {
		return model.Zone{}, fmt.Errorf("zone %s: %w", t.zoneID, ErrZoneNotFound)
	}
	return z, nil
}

func (t *memZoneTx) Entities(ctx context.Context) ([]model.Entity, error) {
	byID, ok := t.store.entities[t.zoneID]
	if !ok {
		return nil, fmt.Errorf("zone %s: %w", t.zoneID, ErrZoneNotFound)
	}
	entities := make([]model.Entity, 0, len(byID))
	for _, e := range byID {
		entities = append(entities, e)
	}
	return entities, nil
}

func (t *memZoneTx) Apply(ctx context.Context, deltas Deltas) error {
	if _, ok := t.store.zones[t.zoneID]; !ok {
		return fmt.Errorf("zone %s: %w", t.zoneID, ErrZoneNotFound)
	}
	t.staged = append(t.staged, deltas)
	return nil
}

func (t *memZoneTx) commit() error {
	committed, ok := t.store.entities[t.zoneID]
	if !ok {
		return fmt.Errorf("zone %s: %w", t.zoneID, ErrZoneNotFound)
	}

	// Apply onto a copy so a bad delta set leaves committed state untouched.
	byID := make(map[uuid.UUID]model.Entity, len(committed))
	for id, e := range committed {
		byID[id] = e
	}
	now := time.Now()
	for _, deltas := range t.staged {
		for _, e := range deltas.Creates {
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			e.ZoneID = t.zoneID
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			if e.UpdatedAt.IsZero() {
				e.UpdatedAt = now
			}
			byID[e.ID] = e
		}
		for _, e := range deltas.Updates {
			cur, ok := byID[e.ID]
			if !ok {
				return fmt.Errorf("entity %s: %w", e.ID, ErrEntityNotFound)
			}
			cur.X, cur.Y = e.X, e.Y
			cur.Width, cur.Height = e.Width, e.Height
			cur.Metadata = e.Metadata
			cur.UpdatedAt = e.UpdatedAt
			if cur.UpdatedAt.IsZero() {
				cur.UpdatedAt = now
			}
			byID[e.ID] = cur
		}
		for _, id := range deltas.Deletes {
			delete(byID, id)
		}
	}
	t.store.entities[t.zoneID] = byID
	return nil
}
