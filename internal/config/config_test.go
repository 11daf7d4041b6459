package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func noEnv(string) string { return "" }

func TestLoadYAMLOverDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "kvpush.yaml", `
site:
  base_url: https://example.test/
telegram:
  token: "123:abc"
  chat_id: "@kvideo"
pipeline:
  max_per_run: 3
storage:
  driver: sqlite
  path: ./x.db
`)
	m := NewManager(p)
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Site.BaseURL != "https://example.test" {
		t.Fatalf("BaseURL = %q, want trailing slash trimmed", cfg.Site.BaseURL)
	}
	if cfg.Pipeline.MaxPerRun != 3 {
		t.Fatalf("MaxPerRun = %d, want 3", cfg.Pipeline.MaxPerRun)
	}
	if cfg.Pipeline.PaceDuration() != 2*time.Second {
		t.Fatalf("pace = %v, want 2s default", cfg.Pipeline.PaceDuration())
	}
	if cfg.Dedup.Key != "sent_videos" || cfg.Dedup.Cap != 200 {
		t.Fatalf("dedup defaults = %+v", cfg.Dedup)
	}
	if !cfg.Logging.Console {
		t.Fatal("console logging should stay on when the file omits it")
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit the parsed config")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "yaml", file: "c.yaml", body: "pipeline:\n  max_per_runs: 3\n"},
		{name: "json", file: "c.json", body: `{"telegram":{"tokn":"x"}}`},
		{name: "trailing", file: "c.json", body: `{} {}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatalf("Decode(%s) should fail", tt.body)
			}
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "c.json", `{"telegram":{"token":"file-token","chat_id":"@file"},"http":{"secret":"a"}}`)
	env := map[string]string{
		"TG_BOT_TOKEN":       "env-token",
		"KVPUSH_TG_CHAT_ID":  "-1001",
		"TG_CHAT_ID":         "@ignored",
		"SECRET_KEY":         "s3cret",
		"HTTPS_PROXY":        "http://127.0.0.1:7890",
		"KVPUSH_MAX_PER_RUN": "5",
	}
	m := NewManager(p)
	m.SetEnv(func(k string) string { return env[k] })
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != "-1001" {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.HTTP.Secret != "s3cret" || cfg.Pipeline.MaxPerRun != 5 {
		t.Fatalf("secret=%q max=%d", cfg.HTTP.Secret, cfg.Pipeline.MaxPerRun)
	}
	if cfg.Telegram.Proxy != "http://127.0.0.1:7890" {
		t.Fatalf("proxy = %q", cfg.Telegram.Proxy)
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Pipeline.MaxPerRun != 0 {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Storage, cfg.Pipeline)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Pipeline.Pace = "soon"
	cfg.Storage.Driver = "mongo"
	cfg.Pipeline.MaxPerRun = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"pipeline.pace", "storage.driver", "max_per_run"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %s", err, want)
		}
	}
}

func TestPaceZeroDisables(t *testing.T) {
	t.Parallel()
	if d := (PipelineConfig{Pace: "0s"}).PaceDuration(); d != 0 {
		t.Fatalf("pace = %v, want 0", d)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Telegram.Token = "super-secret"
	b.Pipeline.MaxPerRun = 3
	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "telegram,pipeline" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if RestartRequired(changed) {
		t.Fatal("telegram/pipeline changes apply live")
	}
	if !RestartRequired([]string{"storage"}) {
		t.Fatal("storage change needs restart")
	}
}
