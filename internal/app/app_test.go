package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ContentCrew/internal/config"
	"ContentCrew/internal/crew"
	"ContentCrew/internal/tools/scrape"
	"ContentCrew/internal/tools/serper"
)

const extraCrew = `
name: resumo
agents:
  - role: Resumidor
    goal: Resumir {tema}
    backstory: Editor experiente
tasks:
  - name: resumir
    description: Resuma {tema}
    expected_output: Um parágrafo
    agent: Resumidor
`

func TestNewCatalogLoadsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resumo.yaml")
	if err := os.WriteFile(path, []byte(extraCrew), 0o600); err != nil {
		t.Fatalf("write crew: %v", err)
	}
	catalog, err := NewCatalog(config.CrewsConfig{Files: []string{path}, Default: crew.DefaultName})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if _, ok := catalog.Get("resumo"); !ok {
		t.Fatalf("crew from file not registered")
	}
	if len(catalog.List()) != 2 {
		t.Fatalf("unexpected crews: %d", len(catalog.List()))
	}

	if _, err := NewCatalog(config.CrewsConfig{Default: "ausente"}); err == nil {
		t.Fatalf("expected error for unknown default crew")
	}
}

func TestNewInvokerRegistersTools(t *testing.T) {
	inv, closer, err := NewInvoker(context.Background(), config.ToolsConfig{
		Serper:             config.SerperConfig{APIKey: "key"},
		Scrape:             config.ScrapeConfig{TimeoutSeconds: 30},
		Cache:              config.CacheConfig{Driver: "memory", TTLSeconds: 60},
		CallTimeoutSeconds: 7,
	})
	if err != nil {
		t.Fatalf("invoker: %v", err)
	}
	if closer != nil {
		t.Fatalf("memory cache should not need closing")
	}
	if inv.CallTimeout() != 7*time.Second {
		t.Fatalf("call timeout should come from tools.call_timeout_seconds, got %s", inv.CallTimeout())
	}
	for _, name := range []string{serper.ToolName, scrape.ToolName} {
		if _, ok := inv.Registry().Get(name); !ok {
			t.Fatalf("tool %s not registered", name)
		}
	}

	if _, _, err := NewInvoker(context.Background(), config.ToolsConfig{}); err == nil {
		t.Fatalf("expected error without serper key")
	}
}

func TestClientRetries(t *testing.T) {
	zero, three := 0, 3
	cases := []struct {
		in   *int
		want int
	}{
		{nil, 0},
		{&zero, -1},
		{&three, 3},
	}
	for _, tc := range cases {
		if got := clientRetries(tc.in); got != tc.want {
			t.Fatalf("clientRetries(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNewEngineRequiresAPIKey(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{APIKeyEnv: "OPENAI_API_KEY"}}
	if _, err := NewEngine(context.Background(), cfg); err == nil {
		t.Fatalf("expected error without api key")
	}
}
