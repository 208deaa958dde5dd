// Package providers binds the conversation engine to the concrete LLM
// vendors: Anthropic, OpenAI-compatible endpoints and Ollama.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/hearth/internal/agent"
)

// anthropicModels is the static enumeration surfaced by Models.
var anthropicModels = []string{
	"claude-3-7-sonnet-latest",
	"claude-3-5-sonnet-latest",
	"claude-3-5-haiku-latest",
	"claude-3-opus-latest",
}

// Anthropic drives Claude models through the official SDK, one
// non-streaming Messages call per engine iteration.
type Anthropic struct {
	client anthropic.Client
	logger *slog.Logger
}

var _ agent.Driver = (*Anthropic)(nil)

// AnthropicConfig configures the driver.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// NewAnthropic builds the driver.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Anthropic{client: anthropic.NewClient(options...), logger: logger}, nil
}

// Name returns "anthropic".
func (p *Anthropic) Name() string { return "anthropic" }

// Models enumerates the supported model IDs.
func (p *Anthropic) Models(context.Context) ([]string, error) {
	out := make([]string, len(anthropicModels))
	copy(out, anthropicModels)
	return out, nil
}

// Complete performs one model call.
func (p *Anthropic) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		TopP:        anthropic.Float(req.TopP),
		TopK:        anthropic.Int(int64(req.TopK)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return fromAnthropicMessage(msg), nil
}

// toAnthropicMessages translates the canonical history to the wire form.
// Tool results live in user turns; tool-use blocks keep their IDs.
func toAnthropicMessages(messages []agent.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Blocks {
			switch block.Type {
			case agent.BlockText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case agent.BlockToolUse:
				if block.ToolCall == nil {
					continue
				}
				var input map[string]any
				if err := json.Unmarshal(block.ToolCall.Input, &input); err != nil {
					return nil, fmt.Errorf("tool call %s input: %w", block.ToolCall.ID, err)
				}
				content = append(content,
					anthropic.NewToolUseBlock(block.ToolCall.ID, input, block.ToolCall.Name))
			case agent.BlockToolResult:
				if block.ToolResult == nil {
					continue
				}
				content = append(content, anthropic.NewToolResultBlock(
					block.ToolResult.CallID, block.ToolResult.Content, block.ToolResult.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == agent.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func toAnthropicTools(specs []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", spec.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", spec.Name)
		}
		param.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, param)
	}
	return result, nil
}

func fromAnthropicMessage(msg *anthropic.Message) *agent.Response {
	out := agent.Message{Role: agent.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				out.Blocks = append(out.Blocks, agent.Block{Type: agent.BlockText, Text: block.Text})
			}
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			out.Blocks = append(out.Blocks, agent.Block{
				Type: agent.BlockToolUse,
				ToolCall: &agent.ToolCall{
					ID:    block.ID,
					Name:  block.Name,
					Input: input,
				},
			})
		}
	}
	return &agent.Response{
		Message:      out,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
}
