// Package agent holds the driver-agnostic LLM conversation engine and the
// tool registry it dispatches through.
package agent

import (
	"context"
	"encoding/json"
)

// Role stamps a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates message content blocks.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Message is one conversation turn in canonical form. Drivers translate to
// and from their wire shapes at the boundary.
type Message struct {
	Role   Role    `json:"role"`
	Blocks []Block `json:"blocks"`
}

// Block is one content block of a message.
type Block struct {
	Type       BlockType        `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolCall   *ToolCall        `json:"toolCall,omitempty"`
	ToolResult *ToolResultBlock `json:"toolResult,omitempty"`
}

// ToolCall is the model requesting one tool invocation.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock pairs a tool's output back to its call by ID.
type ToolResultBlock struct {
	CallID  string `json:"callId"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// TextMessage builds a single-text-block message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Blocks: []Block{{Type: BlockText, Text: text}}}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the message's tool-use blocks in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// MarshalLog serialises a message slice for the automation log.
func MarshalLog(messages []Message) string {
	data, err := json.Marshal(messages)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Tool is one callable exposed to the model.
type Tool interface {
	Name() string
	Description() string

	// Schema is the tool's JSON input schema.
	Schema() json.RawMessage

	Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool's textual outcome.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolServer bundles related tools under one name.
type ToolServer interface {
	Name() string
	Tools() []Tool
}

// ToolSpec is the driver-facing description of a tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Driver is one LLM vendor binding. Complete performs a single
// non-streaming model call; the engine owns the loop around it.
type Driver interface {
	Name() string
	Models(ctx context.Context) ([]string, error)
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is one model call.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec

	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// Response is the model's turn. Zero token counts mean the provider did
// not report usage and the engine estimates instead.
type Response struct {
	Message      Message
	InputTokens  int
	OutputTokens int
}
