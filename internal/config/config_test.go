package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
haBaseUrl = "http://ha.lan:8123"
haToken = "file-token"
timezone = "America/New_York"
automationModel = "ollama/qwen2.5:14b"

[[openAIProviders]]
providerName = "local"
baseURL = "http://127.0.0.1:8080/v1"
apiKey = "sk-local"
`)
	t.Setenv("HEARTH_HA_TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HABaseURL != "http://ha.lan:8123" {
		t.Errorf("HABaseURL = %q, want file value", cfg.HABaseURL)
	}
	if cfg.HAToken != "env-token" {
		t.Errorf("HAToken = %q, want env override", cfg.HAToken)
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if got := cfg.AutomationModelRef(); got.Driver != "ollama" || got.Model != "qwen2.5:14b" {
		t.Errorf("AutomationModelRef() = %+v", got)
	}
	if cfg.OllamaHost == "" {
		t.Error("OllamaHost default missing")
	}
	if cfg.MemoryPath != filepath.Join(filepath.Dir(cfg.DBPath), "memory.md") {
		t.Errorf("MemoryPath = %q, want default beside dbPath", cfg.MemoryPath)
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("HEARTH_HA_TOKEN", "env-only")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HAToken != "env-only" {
		t.Errorf("HAToken = %q", cfg.HAToken)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := writeConfig(t, "haBaseUrl = [broken")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted unparseable file")
	}
}

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		in      string
		driver  string
		model   string
		wantErr bool
	}{
		{"anthropic/claude-3-7-sonnet-latest", "anthropic", "claude-3-7-sonnet-latest", false},
		{"openai/gpt-4-turbo", "openai", "gpt-4-turbo", false},
		{"ollama/qwen2.5:14b", "ollama", "qwen2.5:14b", false},
		{"ollama/library/llama3", "ollama", "library/llama3", false},
		{"gpt-4", "", "", true},
		{"bedrock/claude", "", "", true},
		{"/model", "", "", true},
		{"openai/", "", "", true},
	}
	for _, tt := range tests {
		ref, err := ParseModelRef(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseModelRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && (ref.Driver != tt.driver || ref.Model != tt.model) {
			t.Errorf("ParseModelRef(%q) = %+v", tt.in, ref)
		}
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.HAToken = "tok"

	cfg := base
	cfg.Timezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted bad timezone")
	}

	cfg = base
	cfg.AutomationModel = "not-a-ref"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted bad automationModel")
	}

	cfg = base
	cfg.OpenAIProviders = []OpenAIProvider{{APIKey: "a"}, {ProviderName: "openai", APIKey: "b"}}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted duplicate default-named providers")
	}

	cfg = base
	cfg.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted bad logLevel")
	}

	if err := base.Validate(); err != nil {
		t.Errorf("Validate() on complete config = %v", err)
	}
}

func TestOpenAIProviderByName(t *testing.T) {
	cfg := Default()
	cfg.OpenAIProviders = []OpenAIProvider{
		{APIKey: "default-key"},
		{ProviderName: "groq", BaseURL: "https://api.groq.com/openai/v1", APIKey: "gk"},
	}
	if p, ok := cfg.OpenAIProviderByName(""); !ok || p.APIKey != "default-key" {
		t.Errorf("OpenAIProviderByName(\"\") = %+v, %v", p, ok)
	}
	if p, ok := cfg.OpenAIProviderByName("openai"); !ok || p.APIKey != "default-key" {
		t.Errorf("OpenAIProviderByName(openai) = %+v, %v", p, ok)
	}
	if p, ok := cfg.OpenAIProviderByName("groq"); !ok || p.BaseURL == "" {
		t.Errorf("OpenAIProviderByName(groq) = %+v, %v", p, ok)
	}
	if _, ok := cfg.OpenAIProviderByName("missing"); ok {
		t.Error("OpenAIProviderByName(missing) found a provider")
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("JSONSchema() returned empty document")
	}
	for _, key := range []string{"haBaseUrl", "openAIProviders", "modelTokenBudgets"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("schema missing key %q", key)
		}
	}
}
