// Package admin exposes the operational surface: tick engine control, zone
// lifecycle, and read-only inspection of zone entities and subscriptions.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/db"
	"github.com/udisondev/gridshard/internal/model"
	"github.com/udisondev/gridshard/internal/shard"
)

// Engine is the slice of the tick engine the admin surface drives.
type Engine interface {
	Pause()
	Resume()
	Step()
	State() shard.EngineState
	TickNumber() int64
	Interval() time.Duration
}

// Handler serves the /admin sub-router.
type Handler struct {
	engine   Engine
	store    db.Store
	registry *shard.Registry
	token    string
}

// NewHandler creates the admin handler. With an empty token the surface is
// open; production configs set one.
func NewHandler(engine Engine, store db.Store, registry *shard.Registry, token string) *Handler {
	return &Handler{engine: engine, store: store, registry: registry, token: token}
}

// Routes returns the /admin sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireToken)

	r.Get("/engine", h.engineState)
	r.Post("/engine/pause", h.enginePause)
	r.Post("/engine/resume", h.engineResume)
	r.Post("/engine/step", h.engineStep)

	r.Get("/zones", h.listZones)
	r.Post("/zones", h.createZone)
	r.Delete("/zones/{id}", h.deleteZone)
	r.Get("/zones/{id}/entities", h.zoneEntities)

	r.Get("/subscriptions", h.subscriptions)
	return r
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) engineState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":            h.engine.State().String(),
		"tick_number":      h.engine.TickNumber(),
		"tick_interval_ms": h.engine.Interval().Milliseconds(),
	})
}

func (h *Handler) enginePause(w http.ResponseWriter, r *http.Request) {
	h.engine.Pause()
	h.engineState(w, r)
}

func (h *Handler) engineResume(w http.ResponseWriter, r *http.Request) {
	h.engine.Resume()
	h.engineState(w, r)
}

func (h *Handler) engineStep(w http.ResponseWriter, r *http.Request) {
	h.engine.Step()
	h.engineState(w, r)
}

func (h *Handler) listZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.store.ListZones(r.Context())
	if err != nil {
		slog.Error("listing zones", "error", err)
		writeError(w, http.StatusInternalServerError, "listing zones failed")
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

type createZoneRequest struct {
	Name     string          `json:"name"`
	Width    int32           `json:"width"`
	Height   int32           `json:"height"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (h *Handler) createZone(w http.ResponseWriter, r *http.Request) {
	var req createZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	zone := model.Zone{Name: req.Name, Width: req.Width, Height: req.Height, Metadata: req.Metadata}
	created, err := h.store.CreateZone(r.Context(), zone)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrConflict):
			writeError(w, http.StatusConflict, "zone name already in use")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) deleteZone(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid zone id")
		return
	}
	if err := h.store.DeleteZone(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrZoneNotFound) {
			writeError(w, http.StatusNotFound, "zone not found")
			return
		}
		slog.Error("deleting zone", "zone", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deleting zone failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// zoneEntities inspects a zone through the same per-zone transactional read
// path the tick pipeline uses.
func (h *Handler) zoneEntities(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid zone id")
		return
	}

	var entities []model.Entity
	err = h.store.WithZoneTx(r.Context(), id, func(ctx context.Context, tx db.ZoneTx) error {
		var err error
		entities, err = tx.Entities(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrZoneNotFound) {
			writeError(w, http.StatusNotFound, "zone not found")
			return
		}
		slog.Error("inspecting zone entities", "zone", id, "error", err)
		writeError(w, http.StatusInternalServerError, "inspection failed")
		return
	}
	if entities == nil {
		entities = []model.Entity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

func (h *Handler) subscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
