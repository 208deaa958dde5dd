// Package hub maintains the authenticated WebSocket session to the
// Home Assistant instance: state snapshot kept live by the event stream,
// service invocation, notification send.
package hub

import (
	"encoding/json"
	"time"
)

// EntityState is one entity's current state row.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Event is one hub event as delivered by the subscription.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChange is the payload of a state_changed event.
type StateChange struct {
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state"`
	NewState *EntityState `json:"new_state"`
}

// ServiceDescriptor describes one service of a domain.
type ServiceDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Fields      map[string]any `json:"fields"`
	Target      map[string]any `json:"target,omitempty"`
}

// Target addresses a service call.
type Target struct {
	EntityID []string `json:"entity_id,omitempty"`
	DeviceID []string `json:"device_id,omitempty"`
	AreaID   []string `json:"area_id,omitempty"`
}

// Call is one service invocation.
type Call struct {
	Domain  string
	Service string
	Target  Target
	Data    map[string]any
}
