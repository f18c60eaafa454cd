package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/udisondev/gridshard/internal/model"
)

// Adapter is the only component that calls the module. It converts module
// panics into errors so that a misbehaving module aborts at most one zone
// tick or one subscriber emission, never the process.
type Adapter struct {
	name string
	mod  Module
}

// NewAdapter wraps the named registered module.
func NewAdapter(name string) (*Adapter, error) {
	mod, err := New(name)
	if err != nil {
		return nil, err
	}
	return &Adapter{name: name, mod: mod}, nil
}

// WrapModule wraps an already-constructed module, bypassing the registry.
func WrapModule(name string, mod Module) *Adapter {
	return &Adapter{name: name, mod: mod}
}

// Name returns the configured module identifier.
func (a *Adapter) Name() string {
	return a.name
}

// OnInit runs the module's one-time initialization with the framework handle.
func (a *Adapter) OnInit(ctx context.Context, h Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module %s panicked in OnInit: %v", a.name, r)
		}
	}()
	if err := a.mod.OnInit(ctx, h); err != nil {
		return fmt.Errorf("module %s OnInit: %w", a.name, err)
	}
	return nil
}

// OnTick resolves one (zone, tick). A panic or error aborts that zone's tick
// only.
func (a *Adapter) OnTick(ctx context.Context, zone model.Zone, entities []model.Entity, intents []model.Intent, tick int64) (result model.TickResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = model.TickResult{}
			err = fmt.Errorf("module %s panicked in OnTick for zone %s: %v", a.name, zone.ID, r)
		}
	}()
	result, err = a.mod.OnTick(ctx, zone, entities, intents, tick)
	if err != nil {
		return model.TickResult{}, fmt.Errorf("module %s OnTick for zone %s: %w", a.name, zone.ID, err)
	}
	return result, nil
}

// PlayerState produces the filtered per-subscriber view. A panic or error
// aborts that subscriber's emission only.
func (a *Adapter) PlayerState(ctx context.Context, zoneID uuid.UUID, playerID string, base model.BaseState) (state json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			state = nil
			err = fmt.Errorf("module %s panicked in PlayerState for player %s: %v", a.name, playerID, r)
		}
	}()
	state, err = a.mod.PlayerState(ctx, zoneID, playerID, base)
	if err != nil {
		return nil, fmt.Errorf("module %s PlayerState for player %s: %w", a.name, playerID, err)
	}
	return state, nil
}
