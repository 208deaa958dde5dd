package agent

import "testing"

func TestTokenBudget(t *testing.T) {
	tests := []struct {
		driver, model string
		overrides     map[string]int
		want          int
	}{
		{"anthropic", "claude-3-7-sonnet-latest", nil, 200_000},
		{"openai", "gpt-4-turbo", nil, 128_000},
		{"openai", "gpt-4", nil, 8_192},
		{"openai", "gpt-4-turbo-preview", nil, 128_000},
		{"openai", "gpt-3.5-turbo", nil, 16_385},
		{"anthropic", "claude-9-experimental", nil, 150_000},
		{"openai", "mistral-large", nil, 16_000},
		{"ollama", "qwen2.5:14b", nil, 8_192},
		{"openai", "gpt-4", map[string]int{"gpt-4": 32_000}, 32_000},
	}
	for _, tt := range tests {
		if got := TokenBudget(tt.driver, tt.model, tt.overrides); got != tt.want {
			t.Errorf("TokenBudget(%s, %s) = %d, want %d", tt.driver, tt.model, got, tt.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 10 {
		t.Errorf("EstimateTokens(empty) = %d, want 10", got)
	}
	if got := EstimateTokens("abcdefgh"); got != 12 {
		t.Errorf("EstimateTokens(8 chars) = %d, want 12", got)
	}
}

func TestEstimateMessage(t *testing.T) {
	m := Message{Role: RoleUser, Blocks: []Block{
		{Type: BlockText, Text: "abcd"},
		{Type: BlockToolResult, ToolResult: &ToolResultBlock{Content: "abcdefgh"}},
	}}
	// 4/4+10 + 8/4+10 = 11 + 12
	if got := estimateMessage(m); got != 23 {
		t.Errorf("estimateMessage() = %d, want 23", got)
	}
}
