package shard

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/db"
	"github.com/udisondev/gridshard/internal/model"
)

// NormalizeResult turns a module's tick result into the delta set the
// gateway applies: ids assigned to creates, zone ownership stamped,
// footprints defaulted, timestamps fixed, and every position checked against
// the zone bounds. Assigning ids here keeps the in-memory snapshot and the
// committed rows identical.
func NormalizeResult(zone model.Zone, result model.TickResult, now time.Time) (db.Deltas, error) {
	deltas := db.Deltas{
		Creates: make([]model.Entity, 0, len(result.Creates)),
		Updates: make([]model.Entity, 0, len(result.Updates)),
		Deletes: result.Deletes,
	}

	for _, e := range result.Creates {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.ZoneID = zone.ID
		if e.Width <= 0 {
			e.Width = 1
		}
		if e.Height <= 0 {
			e.Height = 1
		}
		if !e.InBounds(zone) {
			return db.Deltas{}, fmt.Errorf("create for entity %s out of bounds at (%d,%d) in zone %s", e.ID, e.X, e.Y, zone.ID)
		}
		e.CreatedAt = now
		e.UpdatedAt = now
		deltas.Creates = append(deltas.Creates, e)
	}

	for _, e := range result.Updates {
		if e.ID == uuid.Nil {
			return db.Deltas{}, fmt.Errorf("update without entity id in zone %s", zone.ID)
		}
		e.ZoneID = zone.ID
		if !e.InBounds(zone) {
			return db.Deltas{}, fmt.Errorf("update for entity %s out of bounds at (%d,%d) in zone %s", e.ID, e.X, e.Y, zone.ID)
		}
		e.UpdatedAt = now
		deltas.Updates = append(deltas.Updates, e)
	}

	return deltas, nil
}

// BuildSnapshot applies the deltas in-memory against the pre-tick entity
// list, producing the authoritative post-apply view for this tick's
// broadcast. Same-tick creates and deletes are visible immediately — there
// is no one-tick lag.
func BuildSnapshot(pre []model.Entity, deltas db.Deltas) []model.Entity {
	deleted := make(map[uuid.UUID]bool, len(deltas.Deletes))
	for _, id := range deltas.Deletes {
		deleted[id] = true
	}
	updated := make(map[uuid.UUID]model.Entity, len(deltas.Updates))
	for _, e := range deltas.Updates {
		updated[e.ID] = e
	}

	snapshot := make([]model.Entity, 0, len(pre)+len(deltas.Creates))
	for _, e := range pre {
		if deleted[e.ID] {
			continue
		}
		if u, ok := updated[e.ID]; ok {
			u.CreatedAt = e.CreatedAt
			snapshot = append(snapshot, u)
			continue
		}
		snapshot = append(snapshot, e)
	}
	for _, e := range deltas.Creates {
		if !deleted[e.ID] {
			snapshot = append(snapshot, e)
		}
	}
	return snapshot
}
