package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.SQLite.Path != "padawan.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Caller.MaxRetries != 6 {
		t.Errorf("max retries = %d", cfg.Caller.MaxRetries)
	}
	if cfg.Mission.DefaultMaxSteps != 5 {
		t.Errorf("default max steps = %d", cfg.Mission.DefaultMaxSteps)
	}
	if cfg.Tokens.CacheTTL != 5*time.Minute {
		t.Errorf("cache ttl = %v", cfg.Tokens.CacheTTL)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "padawan.yaml")
	yaml := `
store:
  driver: postgres
  postgres:
    host: db.internal
    dbname: missions
llm:
  provider: openai
  model: gpt-4o
caller:
  base_delay: 1s
  max_delay: 10s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PADAWAN_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("PADAWAN_MISSION_DEFAULT_MAX_STEPS", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Mission.DefaultMaxSteps != 12 {
		t.Errorf("default max steps = %d", cfg.Mission.DefaultMaxSteps)
	}
	if cfg.Caller.BaseDelay != time.Second {
		t.Errorf("base delay = %v", cfg.Caller.BaseDelay)
	}
	dsn := cfg.Store.Postgres.DSN()
	if !strings.HasPrefix(dsn, "postgres://") || !strings.Contains(dsn, "db.internal:5432/missions") {
		t.Errorf("dsn = %s", dsn)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PADAWAN_REPORT_BACKEND=none\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PADAWAN_REPORT_BACKEND") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Report.Backend != "none" {
		t.Errorf("report backend = %q", cfg.Report.Backend)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())

	cases := map[string]map[string]string{
		"bad driver":           {"PADAWAN_STORE_DRIVER": "mysql"},
		"bad provider":         {"PADAWAN_LLM_PROVIDER": "llama"},
		"postgres no host":     {"PADAWAN_STORE_DRIVER": "postgres", "PADAWAN_STORE_POSTGRES_HOST": " "},
		"http report no url":   {"PADAWAN_REPORT_BACKEND": "http"},
		"redis tokens no addr": {"PADAWAN_TOKENS_BACKEND": "redis", "PADAWAN_TOKENS_REDIS_ADDR": " "},
		"bad log level":        {"PADAWAN_LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPostgresDSNPrefersURL(t *testing.T) {
	p := PostgresConfig{URL: "postgres://x@y/z", Host: "ignored"}
	if p.DSN() != "postgres://x@y/z" {
		t.Errorf("dsn = %s", p.DSN())
	}
}
