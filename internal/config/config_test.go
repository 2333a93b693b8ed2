package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crew.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_MODEL_NAME", "")
	t.Setenv("OPENAI_API_BASE", "")
	t.Setenv("CONTENTCREW_ADDR", "")
	t.Setenv("CONTENTCREW_LOG_LEVEL", "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Storage.JobStore.Driver != "memory" || cfg.Queue.Driver != "memory" || cfg.Tools.Cache.Driver != "memory" {
		t.Fatalf("unexpected drivers: %+v", cfg)
	}
	if cfg.Crews.Default != "linkedin" || cfg.Tools.Serper.Results != 10 || cfg.Tools.Scrape.MaxChars != 20000 {
		t.Fatalf("unexpected tool defaults: %+v", cfg)
	}
	if cfg.Tools.CallTimeoutSeconds != 60 {
		t.Fatalf("unexpected tool call timeout: %d", cfg.Tools.CallTimeoutSeconds)
	}
	if cfg.LLM.Retries == nil || *cfg.LLM.Retries != 2 {
		t.Fatalf("unexpected default retries: %v", cfg.LLM.Retries)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for explicit missing file")
	}
}

func TestLoadExpandsEnvAndOverrides(t *testing.T) {
	t.Setenv("TEST_DSN", "user:pass@tcp(db:3306)/crew")
	t.Setenv("MY_KEY", "sk-file")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_MODEL_NAME", "gpt-4.1")
	t.Setenv("OPENAI_API_BASE", "")
	t.Setenv("SERPER_API_KEY", "serper-key")
	t.Setenv("CONTENTCREW_ADDR", ":9090")
	t.Setenv("CONTENTCREW_LOG_LEVEL", "debug")

	path := writeConfig(t, `
server:
  address: ":7000"
llm:
  model: gpt-4o
  api_key_env: MY_KEY
  retries: 0
tools:
  call_timeout_seconds: 15
  scrape:
    timeout_seconds: 45
crews:
  files: [crews/extra.yaml]
knowledge:
  source: knowledge.json
storage:
  job_store:
    driver: mysql
    dsn: ${TEST_DSN}
queue:
  driver: redis
  workers: 4
  redis:
    address: localhost:6379
log:
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base := filepath.Dir(path)
	if cfg.Storage.JobStore.DSN != "user:pass@tcp(db:3306)/crew" {
		t.Fatalf("dsn not expanded: %q", cfg.Storage.JobStore.DSN)
	}
	if cfg.LLM.APIKey != "sk-file" || cfg.LLM.Model != "gpt-4.1" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Tools.Serper.APIKey != "serper-key" {
		t.Fatalf("serper key not read from env")
	}
	if cfg.Server.Address != ":9090" || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Server, cfg.Log)
	}
	if cfg.Crews.Files[0] != filepath.Join(base, "crews/extra.yaml") || cfg.Knowledge.Source != filepath.Join(base, "knowledge.json") {
		t.Fatalf("relative paths not resolved: %+v %+v", cfg.Crews, cfg.Knowledge)
	}
	if cfg.LLM.Retries == nil || *cfg.LLM.Retries != 0 {
		t.Fatalf("explicit zero retries must be kept: %v", cfg.LLM.Retries)
	}
	if cfg.Tools.CallTimeoutSeconds != 15 || cfg.Tools.Scrape.TimeoutSeconds != 45 {
		t.Fatalf("tool timeouts not read: %+v", cfg.Tools)
	}
	if cfg.Queue.Workers != 4 {
		t.Fatalf("unexpected workers: %d", cfg.Queue.Workers)
	}
}

func TestValidateRejectsBadDrivers(t *testing.T) {
	path := writeConfig(t, `
storage:
  job_store:
    driver: mysql
queue:
  driver: kafka
tools:
  cache:
    driver: redis
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"dsn", "kafka", "tools.cache.redis.address"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %q", err, want)
		}
	}
}
