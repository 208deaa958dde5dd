// Package cue lets the model leave itself a one-shot automation: a file
// written under cues/ that the catalogue picks up like any other.
package cue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/hearth/internal/agent"
)

// Server is the cue tool server.
type Server struct {
	dir string
	now func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer builds the server over the cues directory.
func NewServer(dir string, opts ...Option) *Server {
	s := &Server{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the server label.
func (s *Server) Name() string { return "cue" }

// Tools lists the exposed tools.
func (s *Server) Tools() []agent.Tool {
	return []agent.Tool{&createTool{server: s}}
}

type createTool struct {
	server *Server
}

func (t *createTool) Name() string { return "create-automation-cue" }

func (t *createTool) Description() string {
	return "Create a one-time automation for the future. Write it as a full natural-language automation, including when it should run."
}

func (t *createTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": { "type": "string", "description": "Short name used for the file." },
    "contents": { "type": "string", "description": "The automation text, including its trigger condition." }
  },
  "required": ["contents"]
}`)
}

func (t *createTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Name     string `json:"name"`
		Contents string `json:"contents"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	contents := strings.TrimSpace(input.Contents)
	if contents == "" {
		return toolError("contents is required"), nil
	}

	name := slug(input.Name)
	if name == "" {
		name = uuid.NewString()[:8]
	}
	filename := fmt.Sprintf("%s-%s.md", t.server.now().Format("20060102-150405"), name)

	if err := os.MkdirAll(t.server.dir, 0o755); err != nil {
		return toolError(err.Error()), nil
	}
	path := filepath.Join(t.server.dir, filename)
	if err := os.WriteFile(path, []byte(contents+"\n"), 0o644); err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolResult{Content: "cue created: " + filename}, nil
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, s)
	mapped = strings.Trim(mapped, "-")
	if len(mapped) > 40 {
		mapped = mapped[:40]
	}
	return mapped
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
