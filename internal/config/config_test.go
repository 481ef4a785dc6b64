package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/kozaktomas/face-search/internal/descriptor"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Descriptor.Layout() != descriptor.DefaultLayout() {
		t.Errorf("default layout = %s, want %s", cfg.Descriptor.Layout(), descriptor.DefaultLayout())
	}
	if cfg.Store.Backend != BackendBolt {
		t.Errorf("default backend = %q, want %q", cfg.Store.Backend, BackendBolt)
	}
	if cfg.Web.Addr() != "0.0.0.0:8080" {
		t.Errorf("default addr = %q", cfg.Web.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestDescriptorConfig_LayoutTracksExtraction(t *testing.T) {
	base := Defaults().Descriptor

	tests := []struct {
		name   string
		modify func(c *DescriptorConfig)
		want   string
	}{
		{"bit depth", func(c *DescriptorConfig) { c.BitDepth = 4 }, "lbp:8x8x256:clip:b4"},
		{"dog", func(c *DescriptorConfig) { c.DoG = true }, "lbp:8x8x256:clip:dog1/2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.modify(&c)
			if got := c.Layout().String(); got != tt.want {
				t.Errorf("Layout() = %q, want %q", got, tt.want)
			}
			if c.Layout() == base.Layout() {
				t.Error("layout unchanged")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GRID_ROWS", "4")
	t.Setenv("GRID_COLS", "6")
	t.Setenv("BLOCK_POLICY", "pad")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("QUERY_LIMIT", "25")
	t.Setenv("HNSW_ENABLED", "true")
	t.Setenv("WEB_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := descriptor.Layout{GridRows: 4, GridCols: 6, BinCount: 256, Policy: descriptor.PolicyPad}
	if cfg.Descriptor.Layout() != want {
		t.Errorf("layout = %s, want %s", cfg.Descriptor.Layout(), want)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if !cfg.Store.HNSWEnabled {
		t.Error("expected HNSW enabled")
	}
	if cfg.Query.Limit != 25 {
		t.Errorf("limit = %d, want 25", cfg.Query.Limit)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Web.Port)
	}
	// Values without an env var keep their defaults.
	if cfg.Store.MaxOpenConns != 25 {
		t.Errorf("max open conns = %d, want default 25", cfg.Store.MaxOpenConns)
	}
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("GRID_ROWS", "eight")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric GRID_ROWS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero grid", func(c *Config) { c.Descriptor.GridRows = 0 }, "invalid descriptor layout"},
		{"unknown policy", func(c *Config) { c.Descriptor.BlockPolicy = "round" }, "unknown block policy"},
		{"bit depth", func(c *Config) { c.Descriptor.BitDepth = 9 }, "bit depth"},
		{"dog sigmas", func(c *Config) { c.Descriptor.DoG = true; c.Descriptor.DoGSigma2 = 0.5 }, "DoG sigmas"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "unknown store backend"},
		{"postgres without url", func(c *Config) { c.Store.Backend = BackendPostgres }, "DATABASE_URL"},
		{"mariadb without dsn", func(c *Config) { c.Store.Backend = BackendMariaDB }, "MARIADB_DSN"},
		{"bolt without path", func(c *Config) { c.Store.BoltPath = "" }, "BOLT_PATH"},
		{"negative limit", func(c *Config) { c.Query.Limit = -1 }, "QUERY_LIMIT"},
		{"bad port", func(c *Config) { c.Web.Port = 70000 }, "WEB_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_LayoutErrorIsWrapped(t *testing.T) {
	cfg := Defaults()
	cfg.Descriptor.BinCount = 0
	if err := cfg.Validate(); !errors.Is(err, descriptor.ErrInvalidLayout) {
		t.Errorf("error = %v, want ErrInvalidLayout", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("unexpected JSON output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"verbose": "INFO",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
