package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := []string{"serve", "eval", "config", "tool"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q missing", name)
		}
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "schema"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "haBaseUrl") {
		t.Fatalf("schema output missing haBaseUrl: %s", out.String())
	}
}

func TestSplitProviderModel(t *testing.T) {
	tests := []struct {
		in, provider, model string
	}{
		{"gpt-4o", "openai", "gpt-4o"},
		{"groq:llama-3.3-70b", "groq", "llama-3.3-70b"},
		{"openai:gpt-4o-mini", "openai", "gpt-4o-mini"},
	}
	for _, tt := range tests {
		provider, model := splitProviderModel(tt.in)
		if provider != tt.provider || model != tt.model {
			t.Errorf("splitProviderModel(%q) = %q, %q, want %q, %q",
				tt.in, provider, model, tt.provider, tt.model)
		}
	}
}
