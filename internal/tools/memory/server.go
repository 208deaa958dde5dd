// Package memory gives the model a long-lived notebook: one append-only
// text file of timestamped observations.
package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/hearth/internal/agent"
)

// Server is the memory tool server.
type Server struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer builds the server over one observations file.
func NewServer(path string, opts ...Option) *Server {
	s := &Server{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the server label.
func (s *Server) Name() string { return "memory" }

// Tools lists the exposed tools.
func (s *Server) Tools() []agent.Tool {
	return []agent.Tool{
		&saveTool{server: s},
		&searchTool{server: s},
	}
}

// Observations reads every saved line. Missing file means no
// observations yet, not an error.
func (s *Server) Observations() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (s *Server) append(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(line + "\n")
	return err
}

type saveTool struct {
	server *Server
}

func (t *saveTool) Name() string { return "save-observation" }

func (t *saveTool) Description() string {
	return "Save an observation about the home or its residents for future automations to use."
}

func (t *saveTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "observation": { "type": "string", "description": "One-line fact worth remembering." }
  },
  "required": ["observation"]
}`)
}

func (t *saveTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Observation string `json:"observation"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	observation := strings.TrimSpace(strings.ReplaceAll(input.Observation, "\n", " "))
	if observation == "" {
		return toolError("observation is required"), nil
	}

	line := fmt.Sprintf("- [%s] %s", t.server.now().Format("2006-01-02 15:04"), observation)
	if err := t.server.append(line); err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolResult{Content: "observation saved"}, nil
}

type searchTool struct {
	server *Server
}

func (t *searchTool) Name() string { return "search-observations" }

func (t *searchTool) Description() string {
	return "Search saved observations by case-insensitive substring. An empty query returns everything."
}

func (t *searchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": { "type": "string", "description": "Substring to look for." }
  }
}`)
}

func (t *searchTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	lines, err := t.server.Observations()
	if err != nil {
		return toolError(err.Error()), nil
	}
	query := strings.ToLower(strings.TrimSpace(input.Query))
	var matched []string
	for _, line := range lines {
		if query == "" || strings.Contains(strings.ToLower(line), query) {
			matched = append(matched, line)
		}
	}
	if len(matched) == 0 {
		return &agent.ToolResult{Content: "no observations found"}, nil
	}
	return &agent.ToolResult{Content: strings.Join(matched, "\n")}, nil
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
