package shard

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/protocol"
)

var (
	// ErrStaleConnection marks operations carrying a connection id that no
	// longer matches the player's registered connection.
	ErrStaleConnection = errors.New("stale connection")
	// ErrRegistryClosed marks registration attempts after shutdown began.
	ErrRegistryClosed = errors.New("registry closed")
)

// Sink is the outbound half of a connection. Send must bound its own write
// attempt (queue + deadline); Close must be idempotent and non-blocking.
type Sink interface {
	Send(msg protocol.ServerMessage) error
	Close() error
}

// Subscriber is one fanout target: a connection subscribed to a zone.
type Subscriber struct {
	PlayerID     string
	ConnectionID uint64
	Sink         Sink
}

// SubscriptionInfo is the administrative view of one registered connection.
type SubscriptionInfo struct {
	PlayerID     string     `json:"player_id"`
	ConnectionID uint64     `json:"connection_id"`
	ZoneID       *uuid.UUID `json:"zone_id,omitempty"`
}

type binding struct {
	connID uint64
	zoneID uuid.UUID // uuid.Nil = not subscribed
	sink   Sink
}

// Registry is the process-wide subscription state: players to connections,
// zones to subscribers. All mutations are serialized under one lock; reads
// return snapshots. Every connection-scoped mutation is gated on a matching
// (player id, connection id) pair, so a stale handler can never touch a
// newer session.
type Registry struct {
	nextConnID atomic.Uint64

	mu     sync.Mutex
	conns  map[string]*binding                 // playerID → binding
	zones  map[uuid.UUID]map[string]struct{}   // zoneID → playerIDs
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*binding),
		zones: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Register installs a fresh connection for the player and returns its
// connection id, unique for the process lifetime. A prior connection for the
// same player is unregistered atomically and its sink closed best-effort —
// the newer connection supersedes.
func (r *Registry) Register(playerID string, sink Sink) (uint64, error) {
	connID := r.nextConnID.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}

	if prior, ok := r.conns[playerID]; ok {
		r.removeZoneBindingLocked(playerID, prior.zoneID)
		if err := prior.sink.Close(); err != nil {
			slog.Debug("closing superseded connection", "player", playerID, "conn", prior.connID, "error", err)
		}
		slog.Info("connection superseded", "player", playerID, "old_conn", prior.connID, "new_conn", connID)
	}

	r.conns[playerID] = &binding{connID: connID, sink: sink}
	return connID, nil
}

// Subscribe moves the connection into the target zone, removing it from any
// prior zone. Valid only while connID matches the stored connection.
func (r *Registry) Subscribe(playerID string, connID uint64, zoneID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[playerID]
	if !ok || b.connID != connID {
		return ErrStaleConnection
	}

	r.removeZoneBindingLocked(playerID, b.zoneID)
	b.zoneID = zoneID
	subs, ok := r.zones[zoneID]
	if !ok {
		subs = make(map[string]struct{})
		r.zones[zoneID] = subs
	}
	subs[playerID] = struct{}{}
	return nil
}

// Disconnect removes the binding iff connID matches the stored connection;
// otherwise it is a no-op. Idempotent: the reconnect-safety property rests
// here. Returns true when a binding was actually removed.
func (r *Registry) Disconnect(playerID string, connID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[playerID]
	if !ok || b.connID != connID {
		return false
	}

	r.removeZoneBindingLocked(playerID, b.zoneID)
	delete(r.conns, playerID)
	if err := b.sink.Close(); err != nil {
		slog.Debug("closing disconnected sink", "player", playerID, "conn", connID, "error", err)
	}
	return true
}

// SubscribedZone returns the zone the connection is subscribed to, gated on
// the connection id.
func (r *Registry) SubscribedZone(playerID string, connID uint64) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[playerID]
	if !ok || b.connID != connID || b.zoneID == uuid.Nil {
		return uuid.Nil, false
	}
	return b.zoneID, true
}

// SubscribedZoneIDs returns a snapshot of all zones with at least one
// subscriber.
func (r *Registry) SubscribedZoneIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	zones := make([]uuid.UUID, 0, len(r.zones))
	for zoneID := range r.zones {
		zones = append(zones, zoneID)
	}
	return zones
}

// SubscribersOf returns a snapshot of the zone's subscribers for fanout.
func (r *Registry) SubscribersOf(zoneID uuid.UUID) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	playerIDs, ok := r.zones[zoneID]
	if !ok {
		return nil
	}
	subs := make([]Subscriber, 0, len(playerIDs))
	for playerID := range playerIDs {
		b := r.conns[playerID]
		if b == nil {
			continue
		}
		subs = append(subs, Subscriber{PlayerID: playerID, ConnectionID: b.connID, Sink: b.sink})
	}
	return subs
}

// Snapshot returns the administrative view of every registered connection.
func (r *Registry) Snapshot() []SubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]SubscriptionInfo, 0, len(r.conns))
	for playerID, b := range r.conns {
		info := SubscriptionInfo{PlayerID: playerID, ConnectionID: b.connID}
		if b.zoneID != uuid.Nil {
			zone := b.zoneID
			info.ZoneID = &zone
		}
		infos = append(infos, info)
	}
	return infos
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close tears the registry down at shutdown: all sinks are closed and
// further registrations rejected.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for playerID, b := range r.conns {
		if err := b.sink.Close(); err != nil {
			slog.Debug("closing sink on shutdown", "player", playerID, "error", err)
		}
	}
	r.conns = make(map[string]*binding)
	r.zones = make(map[uuid.UUID]map[string]struct{})
}

// removeZoneBindingLocked drops the player from a zone's subscriber set.
// Caller holds r.mu.
func (r *Registry) removeZoneBindingLocked(playerID string, zoneID uuid.UUID) {
	if zoneID == uuid.Nil {
		return
	}
	subs, ok := r.zones[zoneID]
	if !ok {
		return
	}
	delete(subs, playerID)
	if len(subs) == 0 {
		delete(r.zones, zoneID)
	}
}
