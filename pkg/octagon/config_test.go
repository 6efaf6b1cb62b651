package octagon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
	if cfg.Agent.CallTimeoutMS != 30000 {
		t.Errorf("call timeout default = %d", cfg.Agent.CallTimeoutMS)
	}
	if cfg.Agent.MaxAttempts != 2 {
		t.Errorf("max attempts default = %d", cfg.Agent.MaxAttempts)
	}
	if cfg.Stats.BaseURL != "http://ufcstats.com" {
		t.Errorf("stats base url default = %q", cfg.Stats.BaseURL)
	}
	if cfg.Transports.Provider != "stdio" {
		t.Errorf("transport default = %q", cfg.Transports.Provider)
	}
	if !cfg.Privacy.RedactPII {
		t.Errorf("redaction should default on")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_OCTAGON_KEY", "sk-from-env")
	path := writeConfig(t, `
llm:
  provider: anthropic
  settings:
    api_key: ${TEST_OCTAGON_KEY}
    model: claude-sonnet-4-5
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.Settings["api_key"] != "sk-from-env" {
		t.Fatalf("api_key = %v", cfg.LLM.Settings["api_key"])
	}
}

func TestLoadConfigRequiresProvider(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "llm.provider") {
		t.Fatalf("expected llm.provider error, got %v", err)
	}
}

func TestProviderRegistryRejectsUnknown(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultLLMs(reg)

	if _, err := reg.BuildLLM("nonexistent", Config{}); err == nil {
		t.Fatalf("expected unregistered provider error")
	}
	adapter, err := reg.BuildLLM("Mock", Config{})
	if err != nil {
		t.Fatalf("lookup should be case insensitive: %v", err)
	}
	if adapter.Name() != "mock" {
		t.Fatalf("adapter = %q", adapter.Name())
	}
}

func TestAnthropicFactoryValidatesSettings(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultLLMs(reg)

	cfg := Config{LLM: LLMConfig{
		Provider: "anthropic",
		Settings: map[string]any{"model": "claude-sonnet-4-5"},
	}}
	if _, err := reg.BuildLLM("anthropic", cfg); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected api_key error, got %v", err)
	}

	cfg.LLM.Settings["api_key"] = "sk-test"
	cfg.LLM.Settings["thinking_budget_tokens"] = 2048
	adapter, err := reg.BuildLLM("anthropic", cfg)
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}
	if adapter.Name() != "anthropic" {
		t.Fatalf("adapter = %q", adapter.Name())
	}

	cfg.LLM.Settings["voice"] = "alloy"
	if _, err := reg.BuildLLM("anthropic", cfg); err == nil || !strings.Contains(err.Error(), "voice") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestBuildAppWithMockProvider(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultLLMs(reg)

	cfg := Config{
		LLM:        LLMConfig{Provider: "mock"},
		Transports: TransportsConfig{Provider: "stdio"},
		Observability: ObservabilityConfig{
			ArtifactsDir: t.TempDir(),
		},
	}
	app, err := BuildApp(cfg, reg, nil)
	if err != nil {
		t.Fatalf("BuildApp: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()
	if app.Loop == nil || app.Stats == nil {
		t.Fatalf("app not fully wired: %+v", app)
	}
	if app.Registry.Len() != 2 {
		t.Fatalf("tool count = %d", app.Registry.Len())
	}
}
