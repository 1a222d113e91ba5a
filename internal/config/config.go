package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all heatmap configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Render   RenderConfig   `yaml:"render"`
	Stream   StreamConfig   `yaml:"stream"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Stats    StatsConfig    `yaml:"stats"`
}

type ServerConfig struct {
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty: store.DefaultDBPath()
}

// EngineConfig carries the graph tunables. Field names mirror the
// recognized configuration keys of the visualization engine.
type EngineConfig struct {
	NodeCapacity          int     `yaml:"nodeCapacity"`
	ConnectionCapacity    int     `yaml:"connectionCapacity"`
	ConnectionTTLMs       int     `yaml:"connectionTtlMs"`
	DecayStepPerTick      float64 `yaml:"decayStepPerTick"`
	DecayIntervalMs       int     `yaml:"decayIntervalMs"`
	PruneIntervalMs       int     `yaml:"pruneIntervalMs"`
	FrameCoupledDecay     bool    `yaml:"frameCoupledDecay"`
	LinkRadius            float64 `yaml:"linkRadius"`
	LinkAcceptProbability float64 `yaml:"linkAcceptProbability"`
	MaxLinksPerInsert     int     `yaml:"maxLinksPerInsert"`
	MaxNeighbors          int     `yaml:"maxNeighbors"`
	HitRadiusPx           float64 `yaml:"hitRadiusPx"`
	Seed                  int64   `yaml:"seed"`      // 0 seeds from the clock
	SeedCount             int     `yaml:"seedCount"` // synthetic nodes inserted on start
}

type RenderConfig struct {
	SurfaceWidth            int     `yaml:"surfaceWidth"`
	SurfaceHeight           int     `yaml:"surfaceHeight"`
	FrameIntervalMs         int     `yaml:"frameIntervalMs"`
	HighIntensityThreshold  float64 `yaml:"highIntensityThreshold"`
	LabelMagnitudeThreshold float64 `yaml:"labelMagnitudeThreshold"`
}

type StreamConfig struct {
	URL       string `yaml:"url"`       // upstream websocket; empty disables the subscription
	Subscribe string `yaml:"subscribe"` // optional frame sent right after connecting
}

type IngestConfig struct {
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
	MaxMessage    int64   `yaml:"maxMessageBytes"`
}

type StatsConfig struct {
	SampleIntervalMs int `yaml:"sampleIntervalMs"`
	RetentionHours   int `yaml:"retentionHours"`
	PushIntervalMs   int `yaml:"pushIntervalMs"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Engine: EngineConfig{
			NodeCapacity:          30,
			ConnectionCapacity:    50,
			ConnectionTTLMs:       30000,
			DecayStepPerTick:      2,
			DecayIntervalMs:       100,
			PruneIntervalMs:       2000,
			LinkRadius:            150,
			LinkAcceptProbability: 0.3,
			MaxLinksPerInsert:     2,
			MaxNeighbors:          3,
			HitRadiusPx:           15,
			SeedCount:             12,
		},
		Render: RenderConfig{
			SurfaceWidth:            960,
			SurfaceHeight:           540,
			FrameIntervalMs:         33,
			HighIntensityThreshold:  80,
			LabelMagnitudeThreshold: 100,
		},
		Ingest: IngestConfig{
			RatePerSecond: 50,
			Burst:         100,
			MaxMessage:    64 * 1024,
		},
		Stats: StatsConfig{
			SampleIntervalMs: 10000,
			RetentionHours:   24,
			PushIntervalMs:   250,
		},
	}
}

// Load reads the YAML file at path on top of Default(). An empty path
// returns the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from HEATMAP_* environment variables.
func (c *Config) ApplyEnv() {
	if p := os.Getenv("HEATMAP_DB"); p != "" {
		c.Database.Path = p
	}
	if u := os.Getenv("HEATMAP_STREAM_URL"); u != "" {
		c.Stream.URL = u
	}
}

// Validate rejects tunables the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	e := c.Engine
	if e.NodeCapacity < 1 {
		errs = append(errs, fmt.Errorf("engine.nodeCapacity must be >= 1, got %d", e.NodeCapacity))
	}
	if e.ConnectionCapacity < 1 {
		errs = append(errs, fmt.Errorf("engine.connectionCapacity must be >= 1, got %d", e.ConnectionCapacity))
	}
	if e.ConnectionTTLMs <= 0 {
		errs = append(errs, fmt.Errorf("engine.connectionTtlMs must be > 0"))
	}
	if e.DecayStepPerTick < 0 {
		errs = append(errs, fmt.Errorf("engine.decayStepPerTick must be >= 0"))
	}
	if e.DecayIntervalMs <= 0 || e.PruneIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("engine decay/prune intervals must be > 0"))
	}
	if e.LinkAcceptProbability < 0 || e.LinkAcceptProbability > 1 {
		errs = append(errs, fmt.Errorf("engine.linkAcceptProbability must be in [0,1], got %g", e.LinkAcceptProbability))
	}
	if e.MaxLinksPerInsert < 0 || e.MaxNeighbors < 0 {
		errs = append(errs, fmt.Errorf("engine link limits must be >= 0"))
	}
	if c.Render.SurfaceWidth < 1 || c.Render.SurfaceHeight < 1 {
		errs = append(errs, fmt.Errorf("render surface must be at least 1x1"))
	}
	if c.Render.FrameIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("render.frameIntervalMs must be > 0"))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

func (e EngineConfig) ConnectionTTL() time.Duration {
	return time.Duration(e.ConnectionTTLMs) * time.Millisecond
}

func (e EngineConfig) DecayInterval() time.Duration {
	return time.Duration(e.DecayIntervalMs) * time.Millisecond
}

func (e EngineConfig) PruneInterval() time.Duration {
	return time.Duration(e.PruneIntervalMs) * time.Millisecond
}

func (r RenderConfig) FrameInterval() time.Duration {
	return time.Duration(r.FrameIntervalMs) * time.Millisecond
}

func (s StatsConfig) SampleInterval() time.Duration {
	return time.Duration(s.SampleIntervalMs) * time.Millisecond
}

func (s StatsConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

func (s StatsConfig) PushInterval() time.Duration {
	return time.Duration(s.PushIntervalMs) * time.Millisecond
}
