package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/hearth/internal/agent"
)

// DefaultOllamaHost is used when no host is configured.
const DefaultOllamaHost = "http://localhost:11434"

// Ollama drives a local Ollama daemon over its chat API. Requests are
// non-streaming; the engine owns the call timeout, so the HTTP client
// carries none of its own.
type Ollama struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

var _ agent.Driver = (*Ollama)(nil)

// OllamaConfig configures the driver.
type OllamaConfig struct {
	Host   string
	Logger *slog.Logger
}

// NewOllama builds the driver.
func NewOllama(cfg OllamaConfig) *Ollama {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaHost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{client: &http.Client{}, baseURL: baseURL, logger: logger}
}

// Name returns "ollama".
func (p *Ollama) Name() string { return "ollama" }

// Models lists the tags the daemon has pulled.
func (p *Ollama) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := p.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ContextLength reports the model's context window, or 0 when the
// daemon does not expose one.
func (p *Ollama) ContextLength(ctx context.Context, model string) (int, error) {
	payload, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return 0, fmt.Errorf("ollama: marshal show request: %w", err)
	}
	var out struct {
		ModelInfo map[string]any `json:"model_info"`
	}
	if err := p.postJSON(ctx, "/api/show", payload, &out); err != nil {
		return 0, err
	}
	for key, value := range out.ModelInfo {
		if strings.HasSuffix(key, ".context_length") {
			if n, ok := value.(float64); ok {
				return int(n), nil
			}
		}
	}
	return 0, nil
}

// Complete performs one chat call.
func (p *Ollama) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	payload := ollamaChatRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.System, req.Messages),
		Stream:   false,
	}
	if len(req.Tools) > 0 {
		payload.Tools = toOpenAITools(req.Tools)
	}
	options := map[string]any{
		"temperature": req.Temperature,
		"top_p":       req.TopP,
		"top_k":       req.TopK,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	payload.Options = options

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	var resp ollamaChatResponse
	if err := p.postJSON(ctx, "/api/chat", body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama: %s", resp.Error)
	}
	if resp.Message == nil {
		return nil, errors.New("ollama: response has no message")
	}

	return &agent.Response{
		Message:      fromOllamaMessage(resp.Message),
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}

func (p *Ollama) getJSON(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	return p.do(httpReq, out)
}

func (p *Ollama) postJSON(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return p.do(httpReq, out)
}

func (p *Ollama) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}
	return nil
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// toOllamaMessages flattens the block history into the chat wire form.
// Tool results become tool-role messages carrying the originating tool
// name, which the daemon wants instead of a call ID.
func toOllamaMessages(system string, messages []agent.Message) []ollamaChatMessage {
	toolNames := map[string]string{}
	for _, msg := range messages {
		for _, call := range msg.ToolCalls() {
			if call.ID != "" && call.Name != "" {
				toolNames[call.ID] = call.Name
			}
		}
	}

	result := make([]ollamaChatMessage, 0, len(messages)+1)
	if system = strings.TrimSpace(system); system != "" {
		result = append(result, ollamaChatMessage{Role: "system", Content: system})
	}
	for _, msg := range messages {
		if msg.Role == agent.RoleAssistant {
			out := ollamaChatMessage{Role: "assistant", Content: msg.Text()}
			for _, call := range msg.ToolCalls() {
				args := call.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: ollamaToolFunction{Name: call.Name, Arguments: args},
				})
			}
			result = append(result, out)
			continue
		}

		var text strings.Builder
		for _, block := range msg.Blocks {
			switch block.Type {
			case agent.BlockText:
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(block.Text)
			case agent.BlockToolResult:
				if block.ToolResult == nil {
					continue
				}
				result = append(result, ollamaChatMessage{
					Role:     "tool",
					Content:  block.ToolResult.Content,
					ToolName: toolNames[block.ToolResult.CallID],
				})
			}
		}
		if text.Len() > 0 {
			result = append(result, ollamaChatMessage{Role: "user", Content: text.String()})
		}
	}
	return result
}

// fromOllamaMessage converts a daemon reply. Local models often omit
// tool-call IDs; those get fresh UUIDs so result pairing stays intact.
func fromOllamaMessage(msg *ollamaChatMessage) agent.Message {
	out := agent.Message{Role: agent.RoleAssistant}
	if msg.Content != "" {
		out.Blocks = append(out.Blocks, agent.Block{Type: agent.BlockText, Text: msg.Content})
	}
	for _, call := range msg.ToolCalls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = uuid.NewString()
		}
		input := call.Function.Arguments
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		out.Blocks = append(out.Blocks, agent.Block{
			Type: agent.BlockToolUse,
			ToolCall: &agent.ToolCall{
				ID:    id,
				Name:  strings.TrimSpace(call.Function.Name),
				Input: input,
			},
		})
	}
	return out
}
