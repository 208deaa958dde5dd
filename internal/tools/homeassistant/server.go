// Package homeassistant exposes the hub to the model: entity lookups,
// service listings and service calls.
package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/hub"
)

// Hub is the slice of the hub client the tools need.
type Hub interface {
	FetchStates(ctx context.Context) (map[string]hub.EntityState, error)
	FetchServices(ctx context.Context) (map[string]map[string]hub.ServiceDescriptor, error)
	CallService(ctx context.Context, call hub.Call, testMode bool) error
}

// Mode selects which tools the server exposes. Scheduling conversations
// get read-only access; execution conversations may call services.
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeFull
)

// Server is the home-assistant tool server.
type Server struct {
	hub      Hub
	mode     Mode
	testMode bool
}

// NewServer builds the server. With testMode set, call-service validates
// without side effects.
func NewServer(h Hub, mode Mode, testMode bool) *Server {
	return &Server{hub: h, mode: mode, testMode: testMode}
}

// Name returns the server label.
func (s *Server) Name() string { return "home-assistant" }

// Tools lists the exposed tools; call-service only in full mode.
func (s *Server) Tools() []agent.Tool {
	tools := []agent.Tool{
		&entitiesByPrefixTool{server: s},
		&stateForEntityTool{server: s},
		&allEntitiesTool{server: s},
		&servicesForEntitiesTool{server: s},
	}
	if s.mode == ModeFull {
		tools = append(tools, &callServiceTool{server: s})
	}
	return tools
}

// entitySummary is the compact row handed back to the model.
type entitySummary struct {
	EntityID     string `json:"entityId"`
	State        string `json:"state"`
	FriendlyName string `json:"friendlyName,omitempty"`
	LastChanged  string `json:"lastChanged,omitempty"`
}

func summarize(state hub.EntityState) entitySummary {
	summary := entitySummary{
		EntityID: state.EntityID,
		State:    state.State,
	}
	if !state.LastChanged.IsZero() {
		summary.LastChanged = state.LastChanged.Format("2006-01-02 15:04:05 MST")
	}
	if name, ok := state.Attributes["friendly_name"].(string); ok {
		summary.FriendlyName = name
	}
	return summary
}

func summarizeAll(states map[string]hub.EntityState) []entitySummary {
	out := make([]entitySummary, 0, len(states))
	for _, state := range states {
		out = append(out, summarize(state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

type entitiesByPrefixTool struct {
	server *Server
}

func (t *entitiesByPrefixTool) Name() string { return "get-entities-by-prefix" }

func (t *entitiesByPrefixTool) Description() string {
	return "List entities whose ID starts with the given prefix (e.g. \"light.\" or \"sensor.kitchen\")."
}

func (t *entitiesByPrefixTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "prefix": { "type": "string", "description": "Entity ID prefix, matched case-insensitively." }
  },
  "required": ["prefix"]
}`)
}

func (t *entitiesByPrefixTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Prefix string `json:"prefix"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	prefix := strings.ToLower(strings.TrimSpace(input.Prefix))
	if prefix == "" {
		return toolError("prefix is required"), nil
	}

	states, err := t.server.hub.FetchStates(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	matched := make(map[string]hub.EntityState)
	for id, state := range states {
		if strings.HasPrefix(strings.ToLower(id), prefix) {
			matched[id] = state
		}
	}
	return jsonResult(summarizeAll(matched))
}

type stateForEntityTool struct {
	server *Server
}

func (t *stateForEntityTool) Name() string { return "get-state-for-entity" }

func (t *stateForEntityTool) Description() string {
	return "Get the full state and attributes of one entity."
}

func (t *stateForEntityTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "entityId": { "type": "string", "description": "Entity ID (e.g. light.kitchen)." }
  },
  "required": ["entityId"]
}`)
}

func (t *stateForEntityTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		EntityID string `json:"entityId"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	states, err := t.server.hub.FetchStates(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	state, ok := states[input.EntityID]
	if !ok {
		return toolError(fmt.Sprintf("no entity %q", input.EntityID)), nil
	}
	return jsonResult(state)
}

type allEntitiesTool struct {
	server *Server
}

func (t *allEntitiesTool) Name() string { return "get-all-entities" }

func (t *allEntitiesTool) Description() string {
	return "List all entities, with low-value domains and stale entities filtered out."
}

func (t *allEntitiesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "includeUnavailable": {
      "type": "boolean",
      "description": "Also include unavailable, unknown and long-unchanged entities."
    }
  }
}`)
}

func (t *allEntitiesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		IncludeUnavailable bool `json:"includeUnavailable"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	states, err := t.server.hub.FetchStates(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return jsonResult(summarizeAll(hub.FilterUncommon(states, input.IncludeUnavailable)))
}

type servicesForEntitiesTool struct {
	server *Server
}

func (t *servicesForEntitiesTool) Name() string { return "list-services-for-entities" }

func (t *servicesForEntitiesTool) Description() string {
	return "List the services available for the domains of the given entities."
}

func (t *servicesForEntitiesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "entityIds": {
      "type": "array",
      "items": { "type": "string" },
      "description": "Entity IDs whose domains to look up."
    }
  },
  "required": ["entityIds"]
}`)
}

func (t *servicesForEntitiesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		EntityIDs []string `json:"entityIds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if len(input.EntityIDs) == 0 {
		return toolError("entityIds is required"), nil
	}

	services, err := t.server.hub.FetchServices(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	domains := make(map[string]bool)
	for _, id := range input.EntityIDs {
		if domain, _, ok := strings.Cut(id, "."); ok {
			domains[domain] = true
		}
	}

	type serviceRow struct {
		Service     string `json:"service"`
		Name        string `json:"name,omitempty"`
		Description string `json:"description,omitempty"`
	}
	out := make(map[string][]serviceRow)
	for domain := range domains {
		byName, ok := services[domain]
		if !ok {
			continue
		}
		rows := make([]serviceRow, 0, len(byName))
		for svc, desc := range byName {
			rows = append(rows, serviceRow{Service: svc, Name: desc.Name, Description: desc.Description})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Service < rows[j].Service })
		out[domain] = rows
	}
	return jsonResult(out)
}

type callServiceTool struct {
	server *Server
}

func (t *callServiceTool) Name() string { return "call-service" }

func (t *callServiceTool) Description() string {
	return "Call a service (domain + service) against target entities with optional data."
}

func (t *callServiceTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "domain": { "type": "string", "description": "Service domain (e.g. light)." },
    "service": { "type": "string", "description": "Service name (e.g. turn_on)." },
    "entityIds": {
      "type": "array",
      "items": { "type": "string" },
      "description": "Target entity IDs."
    },
    "data": {
      "type": "object",
      "description": "Service data payload.",
      "additionalProperties": true
    }
  },
  "required": ["domain", "service"]
}`)
}

func (t *callServiceTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Domain    string         `json:"domain"`
		Service   string         `json:"service"`
		EntityIDs []string       `json:"entityIds"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Domain == "" || input.Service == "" {
		return toolError("domain and service are required"), nil
	}

	call := hub.Call{
		Domain:  input.Domain,
		Service: input.Service,
		Target:  hub.Target{EntityID: input.EntityIDs},
		Data:    input.Data,
	}
	if err := t.server.hub.CallService(ctx, call, t.server.testMode); err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("called %s.%s", input.Domain, input.Service)}, nil
}

func jsonResult(value any) (*agent.ToolResult, error) {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(encoded)}, nil
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
