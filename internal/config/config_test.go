package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	t.Setenv(configPathEnv, "")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Tracking.MinInterval != time.Second {
		t.Fatalf("minInterval = %v, want 1s", cfg.Tracking.MinInterval)
	}
	if cfg.Orbit.Step != 20*time.Second || cfg.Orbit.WrapThresholdDeg != 100 {
		t.Fatalf("orbit defaults = %+v", cfg.Orbit)
	}
	if cfg.Tracing.Enabled || cfg.Tracing.Exporter != ExporterStdout || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("tracing defaults = %+v", cfg.Tracing)
	}
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
view:
  center: {lat: 40.5, long: -3.7}
  zoom: 6
feed:
  source: https://example.org/tle.txt
  strict: true
  timeout: 5s
orbit:
  step: 30s
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.View.Center.Lat != 40.5 || cfg.View.Center.Long != -3.7 || cfg.View.Zoom != 6 {
		t.Fatalf("view = %+v", cfg.View)
	}
	if !strings.HasPrefix(cfg.View.TileSource, "https://") {
		t.Fatalf("tile source default lost: %q", cfg.View.TileSource)
	}
	if cfg.Feed.Source != "https://example.org/tle.txt" || !cfg.Feed.Strict || cfg.Feed.Timeout != 5*time.Second {
		t.Fatalf("feed = %+v", cfg.Feed)
	}
	if cfg.Orbit.Step != 30*time.Second || cfg.Orbit.Before != 45*time.Minute {
		t.Fatalf("orbit = %+v", cfg.Orbit)
	}
}

func TestLoadFromEnvPath(t *testing.T) {
	t.Setenv(configPathEnv, writeFile(t, "server: {httpAddr: \":9999\"}\n"))
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9999" || cfg.Server.GRPCAddr != ":50051" {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "orbit: {step: soon}\n"), nil); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(feedSourceEnv, "/tmp/feed.txt")
	t.Setenv(minIntervalEnv, "250ms")
	t.Setenv(frameRateEnv, "not-a-number")
	t.Setenv(feedStrictEnv, "true")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.Source != "/tmp/feed.txt" || !cfg.Feed.Strict {
		t.Fatalf("feed = %+v", cfg.Feed)
	}
	if cfg.Tracking.MinInterval != 250*time.Millisecond {
		t.Fatalf("minInterval = %v", cfg.Tracking.MinInterval)
	}
	if cfg.Tracking.FrameRate != 60 {
		t.Fatalf("invalid frame rate override should be ignored, got %d", cfg.Tracking.FrameRate)
	}
}

func TestTracingSettings(t *testing.T) {
	t.Setenv(configPathEnv, writeFile(t, `
tracing:
  enabled: true
  serviceName: tracker-staging
  sampleRatio: 0.5
`))
	t.Setenv(tracingExporterEnv, "OTLP")
	t.Setenv(tracingEndpointEnv, "collector:4317")
	t.Setenv(tracingRatioEnv, "lots")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := TracingConfig{
		Enabled:     true,
		Exporter:    ExporterOTLP,
		Endpoint:    "collector:4317",
		ServiceName: "tracker-staging",
		SampleRatio: 0.5,
	}
	if cfg.Tracing != want {
		t.Fatalf("tracing = %+v, want %+v", cfg.Tracing, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	t.Setenv(tracingEnabledEnv, "false")
	cfg, err = Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracing.Enabled {
		t.Fatalf("environment should switch tracing off")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty source", func(c *Config) { c.Feed.Source = "" }, "feed.source"},
		{"latitude", func(c *Config) { c.View.Center.Lat = 91 }, "view.center.lat"},
		{"zoom", func(c *Config) { c.View.Zoom = 30 }, "view.zoom"},
		{"interval", func(c *Config) { c.Tracking.MinInterval = 0 }, "tracking.minInterval"},
		{"step", func(c *Config) { c.Orbit.Step = 0 }, "orbit.step"},
		{"threshold", func(c *Config) { c.Orbit.WrapThresholdDeg = 200 }, "wrapThresholdDeg"},
		{"exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sampleRatio"},
		{"service name", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.ServiceName = "" }, "tracing.serviceName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
