// Package gateway owns the push-channel message boundary: WebSocket
// handshake, player identity resolution, typed message dispatch, and the
// single place the disconnect path lives.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/udisondev/gridshard/internal/db"
	"github.com/udisondev/gridshard/internal/metrics"
	"github.com/udisondev/gridshard/internal/model"
	"github.com/udisondev/gridshard/internal/protocol"
	"github.com/udisondev/gridshard/internal/shard"
)

// maxProtocolErrors is the number of unparseable frames after which the
// server closes the connection: the frame that reaches it is answered with
// an error and then the connection closes.
const maxProtocolErrors = 5

// TokenVerifier resolves a handshake token to a player id. Implemented by
// the auth service; the gateway never sees credentials.
type TokenVerifier interface {
	Verify(token string) (playerID string, err error)
}

// Config carries the gateway tunables.
type Config struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
}

// Gateway accepts player connections and feeds the core: intents into the
// queue, subscription changes into the registry.
type Gateway struct {
	cfg      Config
	registry *shard.Registry
	queue    *shard.IntentQueue
	store    db.Store
	verifier TokenVerifier
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// New creates a gateway.
func New(cfg Config, registry *shard.Registry, queue *shard.IntentQueue, store db.Store, verifier TokenVerifier, m *metrics.Metrics) *Gateway {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
		store:    store,
		verifier: verifier,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS is the /ws endpoint: authenticate, register, then loop on typed
// messages until the connection dies.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	playerID, err := g.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		slog.Info("handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, g.cfg.SendQueueSize, g.cfg.WriteTimeout)
	go client.writePump()

	connID, err := g.registry.Register(playerID, client)
	if err != nil {
		slog.Warn("registration rejected", "player", playerID, "error", err)
		client.Close()
		return
	}
	slog.Info("player connected", "player", playerID, "conn", connID, "remote", r.RemoteAddr)

	// The connection handler owns the disconnect path. Inner routines report
	// errors upward; only this scope calls Disconnect, with its own
	// connection id, exactly once.
	defer func() {
		g.registry.Disconnect(playerID, connID)
		client.Close()
		slog.Info("player disconnected", "player", playerID, "conn", connID)
	}()

	g.readLoop(r.Context(), conn, client, playerID, connID)
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, playerID string, connID uint64) {
	protocolErrors := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout)); err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("read failed", "player", playerID, "conn", connID, "error", err)
			}
			return
		}

		msg, err := protocol.ParseClientMessage(raw)
		if err != nil {
			protocolErrors++
			if sendErr := client.Send(protocol.Error(err.Error())); sendErr != nil {
				return
			}
			if protocolErrors >= maxProtocolErrors {
				slog.Warn("too many protocol errors, closing connection",
					"player", playerID, "conn", connID)
				return
			}
			continue
		}

		switch msg.Type {
		case protocol.TypeSubscribe:
			if err := g.handleSubscribe(ctx, client, playerID, connID, msg.ZoneID); err != nil {
				return
			}
		case protocol.TypeIntent:
			if err := g.handleIntent(client, playerID, connID, msg.Data); err != nil {
				return
			}
		}
	}
}

// handleSubscribe validates the zone and moves the connection into it. A
// returned error means the connection is beyond use and should close.
func (g *Gateway) handleSubscribe(ctx context.Context, client *Client, playerID string, connID uint64, zoneID uuid.UUID) error {
	// Validation reads go through the same per-zone transactional path as
	// the tick pipeline.
	err := g.store.WithZoneTx(ctx, zoneID, func(ctx context.Context, tx db.ZoneTx) error {
		_, err := tx.Zone(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrZoneNotFound) {
			return client.Send(protocol.Error("unknown zone"))
		}
		slog.Error("zone validation failed", "zone", zoneID, "error", err)
		return client.Send(protocol.Error("zone temporarily unavailable"))
	}

	if err := g.registry.Subscribe(playerID, connID, zoneID); err != nil {
		// Superseded by a newer connection; this handler's session is over.
		slog.Info("subscribe on stale connection", "player", playerID, "conn", connID)
		return err
	}
	return client.Send(protocol.Subscribed(zoneID))
}

// handleIntent enqueues the intent for the player's subscribed zone and
// acknowledges only after the enqueue completed.
func (g *Gateway) handleIntent(client *Client, playerID string, connID uint64, body []byte) error {
	zoneID, ok := g.registry.SubscribedZone(playerID, connID)
	if !ok {
		return client.Send(protocol.Error("not subscribed to a zone"))
	}

	g.queue.Enqueue(model.Intent{
		PlayerID:     playerID,
		ConnectionID: connID,
		ZoneID:       zoneID,
		Body:         body,
	})
	g.metrics.IntentEnqueued()

	// Enqueue returned: the intent is durably buffered, safe to acknowledge.
	return client.Send(protocol.IntentReceived())
}
