// Package notify lets the model send notifications through the hub and
// resolve which notifier belongs to which person.
package notify

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
	NotifyTargets(ctx context.Context) ([]string, error)
	SendNotification(ctx context.Context, target, message, title string, testMode bool) error
}

// Server is the notify tool server.
type Server struct {
	hub      Hub
	testMode bool
}

// NewServer builds the server.
func NewServer(h Hub, testMode bool) *Server {
	return &Server{hub: h, testMode: testMode}
}

// Name returns the server label.
func (s *Server) Name() string { return "notify" }

// Tools lists the exposed tools.
func (s *Server) Tools() []agent.Tool {
	return []agent.Tool{
		&listTargetsTool{server: s},
		&listPeopleTool{server: s},
		&sendToPersonTool{server: s},
		&sendTool{server: s},
	}
}

type listTargetsTool struct {
	server *Server
}

func (t *listTargetsTool) Name() string { return "list-notify-targets" }

func (t *listTargetsTool) Description() string {
	return "List the notification targets the hub can deliver to."
}

func (t *listTargetsTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *listTargetsTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	targets, err := t.server.hub.NotifyTargets(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	sort.Strings(targets)
	return jsonResult(targets)
}

type listPeopleTool struct {
	server *Server
}

func (t *listPeopleTool) Name() string { return "list-people" }

func (t *listPeopleTool) Description() string {
	return "List the people the hub tracks, with their presence state."
}

func (t *listPeopleTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *listPeopleTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	states, err := t.server.hub.FetchStates(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	type person struct {
		EntityID string `json:"entityId"`
		Name     string `json:"name,omitempty"`
		State    string `json:"state"`
	}
	var people []person
	for id, state := range states {
		if !strings.HasPrefix(id, "person.") {
			continue
		}
		p := person{EntityID: id, State: state.State}
		if name, ok := state.Attributes["friendly_name"].(string); ok {
			p.Name = name
		}
		people = append(people, p)
	}
	sort.Slice(people, func(i, j int) bool { return people[i].EntityID < people[j].EntityID })
	return jsonResult(people)
}

type sendToPersonTool struct {
	server *Server
}

func (t *sendToPersonTool) Name() string { return "send-notification-to-person" }

func (t *sendToPersonTool) Description() string {
	return "Send a notification to a person's devices, resolving the notifier from the person's name."
}

func (t *sendToPersonTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "person": { "type": "string", "description": "Person name or person.* entity ID." },
    "message": { "type": "string", "description": "Notification body." },
    "title": { "type": "string", "description": "Optional notification title." }
  },
  "required": ["person", "message"]
}`)
}

func (t *sendToPersonTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Person  string `json:"person"`
		Message string `json:"message"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Person == "" || input.Message == "" {
		return toolError("person and message are required"), nil
	}

	target, err := t.resolveTarget(ctx, input.Person)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if err := t.server.hub.SendNotification(ctx, target, input.Message, input.Title, t.server.testMode); err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("notified %s via %s", input.Person, target)}, nil
}

// resolveTarget maps a person name to a notifier by slug containment:
// person "Jane Doe" matches targets like mobile_app_janes_phone.
func (t *sendToPersonTool) resolveTarget(ctx context.Context, person string) (string, error) {
	targets, err := t.server.hub.NotifyTargets(ctx)
	if err != nil {
		return "", err
	}

	candidates := []string{slug(strings.TrimPrefix(person, "person."))}
	if first, _, ok := strings.Cut(strings.TrimSpace(person), " "); ok {
		candidates = append(candidates, slug(first))
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		for _, target := range targets {
			if strings.Contains(slug(target), candidate) {
				return target, nil
			}
		}
	}
	return "", fmt.Errorf("no notify target matches person %q (targets: %s)", person, strings.Join(targets, ", "))
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, s)
}

type sendTool struct {
	server *Server
}

func (t *sendTool) Name() string { return "send-notification" }

func (t *sendTool) Description() string {
	return "Send a notification to a specific notify target."
}

func (t *sendTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "target": { "type": "string", "description": "Notify target (e.g. mobile_app_janes_phone)." },
    "message": { "type": "string", "description": "Notification body." },
    "title": { "type": "string", "description": "Optional notification title." }
  },
  "required": ["target", "message"]
}`)
}

func (t *sendTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Target  string `json:"target"`
		Message string `json:"message"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Target == "" || input.Message == "" {
		return toolError("target and message are required"), nil
	}

	if err := t.server.hub.SendNotification(ctx, input.Target, input.Message, input.Title, t.server.testMode); err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolResult{Content: "notification sent to " + input.Target}, nil
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
