// Package config loads and validates the procgate configuration file.
//
// The file is optional: every setting has a default and most can also
// be set by flag (flags win). A subset of settings is reloadable at
// runtime; the rest requires a restart and is reported by
// NonReloadableDiff when a reload tries to change it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultControlTool   = "/usr/local/bin/procmon"
	DefaultMaxPostLength = 1024
)

type Config struct {
	// ControlTool is the path of the external process-control binary.
	ControlTool string `yaml:"control_tool"`

	// MaxPostLength bounds the POST body size in bytes.
	MaxPostLength int64 `yaml:"max_post_length"`

	Journal       Journal       `yaml:"journal"`
	Admin         Admin         `yaml:"admin"`
	Observability Observability `yaml:"observability"`
}

type Journal struct {
	// Backend selects where action records go: memory, sqlite, postgres.
	Backend string `yaml:"backend"`
	// Path is the sqlite database file (sqlite backend only).
	Path string `yaml:"path"`
	// DSN is the postgres connection string (postgres backend only).
	DSN       string    `yaml:"dsn"`
	Retention Retention `yaml:"retention"`
}

type Retention struct {
	MaxAge        Duration `yaml:"max_age"`
	PruneInterval Duration `yaml:"prune_interval"`
}

type Admin struct {
	// Addr enables the operator endpoints when non-empty, e.g.
	// "127.0.0.1:9901".
	Addr string `yaml:"addr"`
	// Tokens are bearer tokens accepted by the admin endpoints. Empty
	// means unauthenticated (bind to loopback in that case).
	Tokens []string `yaml:"tokens"`
}

type Observability struct {
	LogLevel        string `yaml:"log_level"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingInsecure bool   `yaml:"tracing_insecure"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "720h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Default() Config {
	return Config{
		ControlTool:   DefaultControlTool,
		MaxPostLength: DefaultMaxPostLength,
		Journal: Journal{
			Backend: "memory",
		},
	}
}

// Parse decodes data over the defaults, rejecting unknown keys.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.ControlTool) == "" {
		return errors.New("control_tool must not be empty")
	}
	if c.MaxPostLength <= 0 {
		return fmt.Errorf("max_post_length must be positive, got %d", c.MaxPostLength)
	}
	switch c.Journal.Backend {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.Journal.Path) == "" {
			return errors.New("journal backend sqlite requires journal.path")
		}
	case "postgres":
		if strings.TrimSpace(c.Journal.DSN) == "" {
			return errors.New("journal backend postgres requires journal.dsn")
		}
	default:
		return fmt.Errorf("unknown journal backend %q (use: memory|sqlite|postgres)", c.Journal.Backend)
	}
	if c.Journal.Retention.MaxAge < 0 || c.Journal.Retention.PruneInterval < 0 {
		return errors.New("journal retention durations must not be negative")
	}
	return nil
}

// NonReloadableDiff names the settings that differ between old and next
// but only take effect on restart. Reloadable settings (control_tool,
// max_post_length) are not reported.
func NonReloadableDiff(old, next Config) []string {
	var changed []string
	if old.Journal.Backend != next.Journal.Backend ||
		old.Journal.Path != next.Journal.Path ||
		old.Journal.DSN != next.Journal.DSN {
		changed = append(changed, "journal backend")
	}
	if old.Journal.Retention != next.Journal.Retention {
		changed = append(changed, "journal retention")
	}
	if old.Admin.Addr != next.Admin.Addr {
		changed = append(changed, "admin.addr")
	}
	if !equalStrings(old.Admin.Tokens, next.Admin.Tokens) {
		changed = append(changed, "admin.tokens")
	}
	if old.Observability.TracingEndpoint != next.Observability.TracingEndpoint ||
		old.Observability.TracingInsecure != next.Observability.TracingInsecure {
		changed = append(changed, "observability tracing")
	}
	return changed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
