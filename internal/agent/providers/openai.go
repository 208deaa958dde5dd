package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/hearth/internal/agent"
)

// OpenAI drives any OpenAI-compatible chat completion endpoint. One
// instance per configured provider; the driver name carries the
// provider label so routing stays unambiguous when several are live.
type OpenAI struct {
	client *openai.Client
	name   string
	logger *slog.Logger
}

var _ agent.Driver = (*OpenAI)(nil)

// OpenAIConfig configures the driver.
type OpenAIConfig struct {
	// Name is the provider label from configuration; empty means "openai".
	Name    string
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// NewOpenAI builds the driver.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider %q: API key is required", cfg.Name)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), name: name, logger: logger}, nil
}

// Name returns the provider label.
func (p *OpenAI) Name() string { return p.name }

// Models lists the model IDs the endpoint reports.
func (p *OpenAI) Models(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: list models: %w", p.name, err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Complete performs one non-streaming chat completion.
func (p *OpenAI) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", p.name)
	}
	return &agent.Response{
		Message:      fromOpenAIMessage(resp.Choices[0].Message),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// toOpenAIMessages flattens the block history into the chat wire form.
// The system prompt rides in the messages array; each tool result
// becomes its own tool-role message keyed by tool_call_id.
func toOpenAIMessages(system string, messages []agent.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		if msg.Role == agent.RoleAssistant {
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, call := range msg.ToolCalls() {
				args := string(call.Input)
				if args == "" {
					args = "{}"
				}
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: args,
					},
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
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.ToolResult.Content,
					ToolCallID: block.ToolResult.CallID,
				})
			}
		}
		if text.Len() > 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: text.String(),
			})
		}
	}
	return result
}

func toOpenAITools(specs []agent.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schema map[string]any
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) agent.Message {
	out := agent.Message{Role: agent.RoleAssistant}
	if msg.Content != "" {
		out.Blocks = append(out.Blocks, agent.Block{Type: agent.BlockText, Text: msg.Content})
	}
	for _, call := range msg.ToolCalls {
		input := json.RawMessage(call.Function.Arguments)
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		out.Blocks = append(out.Blocks, agent.Block{
			Type: agent.BlockToolUse,
			ToolCall: &agent.ToolCall{
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: input,
			},
		})
	}
	return out
}
