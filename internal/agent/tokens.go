package agent

import (
	"context"
	"strings"
)

// ContextReporter is implemented by drivers that can ask the provider
// for a model's real context window (ollama reports it per model). A
// reported length beats the static tables; explicit overrides still win.
type ContextReporter interface {
	ContextLength(ctx context.Context, model string) (int, error)
}

// Built-in context budgets. Config can override per model.
var defaultTokenBudgets = map[string]int{
	"claude-3-7-sonnet": 200_000,
	"gpt-4-turbo":       128_000,
	"gpt-4":             8_192,
	"gpt-3.5-turbo":     16_385,
}

// Driver fallbacks when the model is not in the table.
const (
	anthropicFallbackBudget = 150_000
	openAIFallbackBudget    = 16_000
	ollamaFallbackBudget    = 8_192
)

// TokenBudget resolves the context budget for driver/model. Overrides win,
// then the longest matching table prefix, then the driver fallback.
func TokenBudget(driver, model string, overrides map[string]int) int {
	if n, ok := overrides[model]; ok && n > 0 {
		return n
	}

	bestLen, best := 0, 0
	for name, budget := range defaultTokenBudgets {
		if strings.HasPrefix(model, name) && len(name) > bestLen {
			bestLen, best = len(name), budget
		}
	}
	if best > 0 {
		return best
	}

	switch driver {
	case "anthropic":
		return anthropicFallbackBudget
	case "ollama":
		return ollamaFallbackBudget
	default:
		return openAIFallbackBudget
	}
}

// EstimateTokens approximates the cost of a text chunk when the provider
// reports no usage: len/4 plus a flat overhead per chunk.
func EstimateTokens(text string) int {
	return len(text)/4 + 10
}

// estimateMessage sums the estimates of a message's text-bearing blocks.
func estimateMessage(m Message) int {
	var total int
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			total += EstimateTokens(b.Text)
		case BlockToolResult:
			if b.ToolResult != nil {
				total += EstimateTokens(b.ToolResult.Content)
			}
		case BlockToolUse:
			if b.ToolCall != nil {
				total += EstimateTokens(string(b.ToolCall.Input))
			}
		}
	}
	return total
}
