// Package scheduler lets the model create and cancel the trigger signals
// that carry an automation across restarts. Every tool is bound to one
// automation fingerprint.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/signal"
)

// Store is the slice of the signal store the tools need.
type Store interface {
	InsertSignal(ctx context.Context, sig signal.Signal) (int64, error)
	ListSignalsByFingerprint(ctx context.Context, fingerprint string) ([]signal.Signal, error)
	MarkSignalsDeadByFingerprint(ctx context.Context, fingerprint string) (int64, error)
	HasLiveSignal(ctx context.Context, fingerprint string, typ signal.Type, data []byte) (bool, error)
}

// Mode selects which tools the server exposes. The scheduling
// conversation creates triggers; the execution conversation may only
// cancel them (one-shot cleanup).
type Mode int

const (
	ModeFull Mode = iota
	ModeCancelOnly
)

// Server is the scheduler tool server.
type Server struct {
	store       Store
	fingerprint string
	mode        Mode
	location    *time.Location
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer builds the server bound to one automation fingerprint.
func NewServer(store Store, fingerprint string, mode Mode, location *time.Location, logger *slog.Logger, opts ...Option) *Server {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:       store,
		fingerprint: fingerprint,
		mode:        mode,
		location:    location,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the server label.
func (s *Server) Name() string { return "scheduler" }

// Tools lists the exposed tools; creation only in full mode.
func (s *Server) Tools() []agent.Tool {
	tools := []agent.Tool{
		&listTriggersTool{server: s},
		&cancelAllTool{server: s},
	}
	if s.mode == ModeFull {
		tools = append(tools,
			&createCronTool{server: s},
			&createStateRegexTool{server: s},
			&createRelativeTimeTool{server: s},
			&createAbsoluteTimeTool{server: s},
		)
	}
	return tools
}

// insert persists one signal unless an identical live one already
// exists for this fingerprint; the duplicate is skipped and logged.
func (s *Server) insert(ctx context.Context, typ signal.Type, data []byte, notes string) (*agent.ToolResult, error) {
	exists, err := s.store.HasLiveSignal(ctx, s.fingerprint, typ, data)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if exists {
		s.logger.Info("skipping duplicate trigger",
			"fingerprint", s.fingerprint, "type", string(typ))
		return &agent.ToolResult{Content: "an identical trigger already exists; nothing created"}, nil
	}

	id, err := s.store.InsertSignal(ctx, signal.Signal{
		AutomationFingerprint: s.fingerprint,
		Type:                  typ,
		Data:                  data,
		ExecutionNotes:        notes,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("created %s trigger (id %d)", typ, id)}, nil
}

type listTriggersTool struct {
	server *Server
}

func (t *listTriggersTool) Name() string { return "list-scheduled-triggers" }

func (t *listTriggersTool) Description() string {
	return "List the triggers currently stored for this automation."
}

func (t *listTriggersTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *listTriggersTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	signals, err := t.server.store.ListSignalsByFingerprint(ctx, t.server.fingerprint)
	if err != nil {
		return toolError(err.Error()), nil
	}

	type row struct {
		ID             int64           `json:"id"`
		Type           string          `json:"type"`
		Data           json.RawMessage `json:"data"`
		ExecutionNotes string          `json:"executionNotes,omitempty"`
		IsDead         bool            `json:"isDead"`
	}
	rows := make([]row, 0, len(signals))
	for _, sig := range signals {
		rows = append(rows, row{
			ID:             sig.ID,
			Type:           string(sig.Type),
			Data:           sig.Data,
			ExecutionNotes: sig.ExecutionNotes,
			IsDead:         sig.IsDead,
		})
	}
	encoded, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(encoded)}, nil
}

type cancelAllTool struct {
	server *Server
}

func (t *cancelAllTool) Name() string { return "cancel-all-scheduled-triggers" }

func (t *cancelAllTool) Description() string {
	return "Cancel every live trigger for this automation. Use when the automation is complete or being rescheduled."
}

func (t *cancelAllTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *cancelAllTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	n, err := t.server.store.MarkSignalsDeadByFingerprint(ctx, t.server.fingerprint)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("cancelled %d trigger(s)", n)}, nil
}

type createCronTool struct {
	server *Server
}

func (t *createCronTool) Name() string { return "create-cron-trigger" }

func (t *createCronTool) Description() string {
	return "Create a recurring trigger from a standard 5-field cron expression, evaluated in the configured timezone."
}

func (t *createCronTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "cron": { "type": "string", "description": "Standard cron expression (minute hour dom month dow)." },
    "executionNotes": { "type": "string", "description": "Notes carried to the execution conversation." }
  },
  "required": ["cron"]
}`)
}

func (t *createCronTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Cron           string `json:"cron"`
		ExecutionNotes string `json:"executionNotes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if _, err := cron.ParseStandard(input.Cron); err != nil {
		return toolError(fmt.Sprintf("invalid cron expression %q: %v", input.Cron, err)), nil
	}

	data, err := signal.EncodeData(signal.CronData{Cron: input.Cron})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return t.server.insert(ctx, signal.TypeCron, data, input.ExecutionNotes)
}

type createStateRegexTool struct {
	server *Server
}

func (t *createStateRegexTool) Name() string { return "create-state-regex-trigger" }

func (t *createStateRegexTool) Description() string {
	return "Create a trigger that fires when any of the given entities' state starts matching a case-insensitive regex."
}

func (t *createStateRegexTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "entityIds": {
      "type": "array",
      "items": { "type": "string" },
      "description": "Entity IDs to watch."
    },
    "regex": { "type": "string", "description": "Regex matched against the state value." },
    "delay": { "type": "integer", "description": "Debounce window in milliseconds (default 750)." },
    "executionNotes": { "type": "string", "description": "Notes carried to the execution conversation." }
  },
  "required": ["entityIds", "regex"]
}`)
}

func (t *createStateRegexTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		EntityIDs      []string `json:"entityIds"`
		Regex          string   `json:"regex"`
		Delay          *int     `json:"delay"`
		ExecutionNotes string   `json:"executionNotes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if len(input.EntityIDs) == 0 {
		return toolError("entityIds is required"), nil
	}
	if _, err := regexp.Compile("(?i)" + input.Regex); err != nil {
		return toolError(fmt.Sprintf("invalid regex %q: %v", input.Regex, err)), nil
	}

	data, err := signal.EncodeData(signal.StateData{
		EntityIDs: input.EntityIDs,
		Regex:     input.Regex,
		DelayMS:   input.Delay,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return t.server.insert(ctx, signal.TypeState, data, input.ExecutionNotes)
}

type createRelativeTimeTool struct {
	server *Server
}

func (t *createRelativeTimeTool) Name() string { return "create-relative-time-trigger" }

func (t *createRelativeTimeTool) Description() string {
	return "Create a one-shot trigger that fires a number of seconds from now."
}

func (t *createRelativeTimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "offsetInSeconds": { "type": "integer", "description": "Seconds from now; must be positive." },
    "executionNotes": { "type": "string", "description": "Notes carried to the execution conversation." }
  },
  "required": ["offsetInSeconds"]
}`)
}

func (t *createRelativeTimeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		OffsetInSeconds int    `json:"offsetInSeconds"`
		ExecutionNotes  string `json:"executionNotes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.OffsetInSeconds <= 0 {
		return toolError("offsetInSeconds must be positive"), nil
	}

	data, err := signal.EncodeData(signal.OffsetData{OffsetInSeconds: input.OffsetInSeconds})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return t.server.insert(ctx, signal.TypeOffset, data, input.ExecutionNotes)
}

type createAbsoluteTimeTool struct {
	server *Server
}

func (t *createAbsoluteTimeTool) Name() string { return "create-absolute-time-trigger" }

func (t *createAbsoluteTimeTool) Description() string {
	return "Create a one-shot trigger that fires at an absolute instant (ISO 8601)."
}

func (t *createAbsoluteTimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "iso8601Time": { "type": "string", "description": "Instant in RFC 3339 form (e.g. 2026-09-01T08:00:00-04:00)." },
    "executionNotes": { "type": "string", "description": "Notes carried to the execution conversation." }
  },
  "required": ["iso8601Time"]
}`)
}

func (t *createAbsoluteTimeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		ISO8601Time    string `json:"iso8601Time"`
		ExecutionNotes string `json:"executionNotes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	at, err := time.Parse(time.RFC3339, input.ISO8601Time)
	if err != nil {
		return toolError(fmt.Sprintf("invalid instant %q: %v", input.ISO8601Time, err)), nil
	}
	if !at.After(t.server.now()) {
		return toolError(fmt.Sprintf("instant %s is in the past", at.In(t.server.location).Format(time.RFC3339))), nil
	}

	data, err := signal.EncodeData(signal.TimeData{ISO8601Time: input.ISO8601Time})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return t.server.insert(ctx, signal.TypeTime, data, input.ExecutionNotes)
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
