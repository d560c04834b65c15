package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ControlTool != "/usr/local/bin/procmon" {
		t.Fatalf("control tool = %q", cfg.ControlTool)
	}
	if cfg.MaxPostLength != 1024 {
		t.Fatalf("max post length = %d", cfg.MaxPostLength)
	}
	if cfg.Journal.Backend != "memory" {
		t.Fatalf("journal backend = %q", cfg.Journal.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
control_tool: /opt/bin/procmon
max_post_length: 4096
journal:
  backend: sqlite
  path: /var/lib/procgate/journal.db
  retention:
    max_age: 720h
    prune_interval: 1h
admin:
  addr: 127.0.0.1:9901
  tokens:
    - secret-a
    - secret-b
observability:
  log_level: debug
  tracing_endpoint: http://otel:4318
  tracing_insecure: true
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ControlTool != "/opt/bin/procmon" || cfg.MaxPostLength != 4096 {
		t.Fatalf("unexpected core settings: %+v", cfg)
	}
	if cfg.Journal.Backend != "sqlite" || cfg.Journal.Path != "/var/lib/procgate/journal.db" {
		t.Fatalf("unexpected journal: %+v", cfg.Journal)
	}
	if cfg.Journal.Retention.MaxAge.Std() != 720*time.Hour {
		t.Fatalf("max_age = %v", cfg.Journal.Retention.MaxAge.Std())
	}
	if cfg.Journal.Retention.PruneInterval.Std() != time.Hour {
		t.Fatalf("prune_interval = %v", cfg.Journal.Retention.PruneInterval.Std())
	}
	if !reflect.DeepEqual(cfg.Admin.Tokens, []string{"secret-a", "secret-b"}) {
		t.Fatalf("tokens = %v", cfg.Admin.Tokens)
	}
	if cfg.Observability.LogLevel != "debug" || !cfg.Observability.TracingInsecure {
		t.Fatalf("observability = %+v", cfg.Observability)
	}
}

func TestParse_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("max_post_length: 2048\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MaxPostLength != 2048 {
		t.Fatalf("max post length = %d", cfg.MaxPostLength)
	}
	if cfg.ControlTool != DefaultControlTool {
		t.Fatalf("control tool default lost: %q", cfg.ControlTool)
	}
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("controll_tool: /oops\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte("journal:\n  retention:\n    max_age: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty control tool", func(c *Config) { c.ControlTool = " " }, "control_tool"},
		{"zero max post length", func(c *Config) { c.MaxPostLength = 0 }, "max_post_length"},
		{"negative max post length", func(c *Config) { c.MaxPostLength = -1 }, "max_post_length"},
		{"unknown backend", func(c *Config) { c.Journal.Backend = "cassandra" }, "unknown journal backend"},
		{"sqlite without path", func(c *Config) { c.Journal.Backend = "sqlite" }, "journal.path"},
		{"postgres without dsn", func(c *Config) { c.Journal.Backend = "postgres" }, "journal.dsn"},
		{"negative retention", func(c *Config) { c.Journal.Retention.MaxAge = Duration(-time.Hour) }, "retention"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: err = %v, want containing %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procgate.yaml")
	if err := os.WriteFile(path, []byte("control_tool: /opt/procmon\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ControlTool != "/opt/procmon" {
		t.Fatalf("control tool = %q", cfg.ControlTool)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNonReloadableDiff(t *testing.T) {
	old := Default()

	next := old
	next.ControlTool = "/other/procmon"
	next.MaxPostLength = 9000
	if diff := NonReloadableDiff(old, next); len(diff) != 0 {
		t.Fatalf("reloadable settings must not be reported: %v", diff)
	}

	next = old
	next.Journal.Backend = "sqlite"
	next.Journal.Path = "/tmp/j.db"
	next.Journal.Retention.MaxAge = Duration(time.Hour)
	next.Admin.Addr = "127.0.0.1:9901"
	next.Admin.Tokens = []string{"tok"}
	next.Observability.TracingEndpoint = "http://otel:4318"
	diff := NonReloadableDiff(old, next)
	want := []string{"journal backend", "journal retention", "admin.addr", "admin.tokens", "observability tracing"}
	if !reflect.DeepEqual(diff, want) {
		t.Fatalf("diff = %v, want %v", diff, want)
	}
}
