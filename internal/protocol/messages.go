// Package protocol defines the self-describing tagged envelopes exchanged
// over the push channel. The envelope is framework-owned; intent bodies and
// filtered state stay opaque.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Client → server message types.
const (
	TypeSubscribe = "subscribe"
	TypeIntent    = "intent"
)

// Server → client message types.
const (
	TypeSubscribed     = "subscribed"
	TypeIntentReceived = "intent_received"
	TypeTick           = "tick"
	TypeError          = "error"
)

// ClientMessage is the inbound envelope.
type ClientMessage struct {
	Type   string          `json:"type"`
	ZoneID uuid.UUID       `json:"zone_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("parsing client message: %w", err)
	}
	switch msg.Type {
	case TypeSubscribe:
		if msg.ZoneID == uuid.Nil {
			return ClientMessage{}, fmt.Errorf("subscribe requires zone_id")
		}
	case TypeIntent:
		if len(msg.Data) == 0 {
			return ClientMessage{}, fmt.Errorf("intent requires data")
		}
	default:
		return ClientMessage{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}

// ServerMessage is the outbound envelope. Exactly the fields relevant to the
// message type are set; the rest are omitted on the wire.
type ServerMessage struct {
	Type       string          `json:"type"`
	ZoneID     *uuid.UUID      `json:"zone_id,omitempty"`
	TickNumber *int64          `json:"tick_number,omitempty"`
	State      json.RawMessage `json:"state,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Subscribed acknowledges a subscription change.
func Subscribed(zoneID uuid.UUID) ServerMessage {
	return ServerMessage{Type: TypeSubscribed, ZoneID: &zoneID}
}

// IntentReceived acknowledges a durably enqueued intent.
func IntentReceived() ServerMessage {
	return ServerMessage{Type: TypeIntentReceived}
}

// Tick carries one subscriber's filtered state for one tick.
func Tick(tickNumber int64, state json.RawMessage) ServerMessage {
	return ServerMessage{Type: TypeTick, TickNumber: &tickNumber, State: state}
}

// Error reports a non-fatal problem to the client.
func Error(message string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: message}
}

// Encode marshals the envelope for the wire.
func (m ServerMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", m.Type, err)
	}
	return data, nil
}
