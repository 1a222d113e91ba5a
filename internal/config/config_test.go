package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Engine.NodeCapacity != 30 {
		t.Errorf("NodeCapacity = %d, want 30", cfg.Engine.NodeCapacity)
	}
	if cfg.Engine.ConnectionCapacity != 50 {
		t.Errorf("ConnectionCapacity = %d, want 50", cfg.Engine.ConnectionCapacity)
	}
	if cfg.Engine.ConnectionTTL() != 30*time.Second {
		t.Errorf("ConnectionTTL = %v, want 30s", cfg.Engine.ConnectionTTL())
	}
	if cfg.Engine.DecayStepPerTick != 2 {
		t.Errorf("DecayStepPerTick = %g, want 2", cfg.Engine.DecayStepPerTick)
	}
	if cfg.Engine.LinkRadius != 150 {
		t.Errorf("LinkRadius = %g, want 150", cfg.Engine.LinkRadius)
	}
	if cfg.Engine.LinkAcceptProbability != 0.3 {
		t.Errorf("LinkAcceptProbability = %g, want 0.3", cfg.Engine.LinkAcceptProbability)
	}
	if cfg.Engine.MaxLinksPerInsert != 2 {
		t.Errorf("MaxLinksPerInsert = %d, want 2", cfg.Engine.MaxLinksPerInsert)
	}
	if cfg.Engine.HitRadiusPx != 15 {
		t.Errorf("HitRadiusPx = %g, want 15", cfg.Engine.HitRadiusPx)
	}
	if cfg.Render.HighIntensityThreshold != 80 {
		t.Errorf("HighIntensityThreshold = %g, want 80", cfg.Render.HighIntensityThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if got := cfg.ListenAddr(); got != "127.0.0.1:37780" {
		t.Errorf("ListenAddr = %q", got)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.NodeCapacity != 30 {
		t.Errorf("NodeCapacity = %d, want default 30", cfg.Engine.NodeCapacity)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heatmap.yaml")
	body := `
engine:
  nodeCapacity: 10
  linkAcceptProbability: 1.0
stream:
  url: ws://localhost:9000/feed
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.NodeCapacity != 10 {
		t.Errorf("NodeCapacity = %d, want 10", cfg.Engine.NodeCapacity)
	}
	if cfg.Engine.LinkAcceptProbability != 1.0 {
		t.Errorf("LinkAcceptProbability = %g, want 1.0", cfg.Engine.LinkAcceptProbability)
	}
	if cfg.Engine.ConnectionCapacity != 50 {
		t.Errorf("ConnectionCapacity = %d, want untouched default 50", cfg.Engine.ConnectionCapacity)
	}
	if cfg.Stream.URL != "ws://localhost:9000/feed" {
		t.Errorf("Stream.URL = %q", cfg.Stream.URL)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heatmap.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  nodeCapacityy: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoadCamelCaseKeysEverywhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heatmap.yaml")
	body := `
server:
  allowedOrigins: ["https://dash.example"]
ingest:
  ratePerSecond: 5
  maxMessageBytes: 1024
stats:
  sampleIntervalMs: 500
  retentionHours: 2
  pushIntervalMs: 100
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://dash.example" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Ingest.RatePerSecond != 5 || cfg.Ingest.MaxMessage != 1024 {
		t.Errorf("Ingest = %+v", cfg.Ingest)
	}
	if cfg.Stats.SampleIntervalMs != 500 || cfg.Stats.RetentionHours != 2 || cfg.Stats.PushIntervalMs != 100 {
		t.Errorf("Stats = %+v", cfg.Stats)
	}

	// The old snake_case spelling is now an unknown key.
	if err := os.WriteFile(path, []byte("ingest:\n  rate_per_second: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for snake_case key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero node capacity", func(c *Config) { c.Engine.NodeCapacity = 0 }},
		{"zero connection capacity", func(c *Config) { c.Engine.ConnectionCapacity = 0 }},
		{"probability above one", func(c *Config) { c.Engine.LinkAcceptProbability = 1.5 }},
		{"negative probability", func(c *Config) { c.Engine.LinkAcceptProbability = -0.1 }},
		{"zero ttl", func(c *Config) { c.Engine.ConnectionTTLMs = 0 }},
		{"zero frame interval", func(c *Config) { c.Render.FrameIntervalMs = 0 }},
		{"empty surface", func(c *Config) { c.Render.SurfaceWidth = 0 }},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HEATMAP_DB", "/tmp/heatmap-test.db")
	t.Setenv("HEATMAP_STREAM_URL", "ws://example/feed")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Database.Path != "/tmp/heatmap-test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Stream.URL != "ws://example/feed" {
		t.Errorf("Stream.URL = %q", cfg.Stream.URL)
	}
}
