// Package config loads tracker settings: built-in defaults, then an optional
// YAML file, then TRACKER_* environment overrides. Command-line flags are
// applied last by the binary.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skypies/geo"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
)

const (
	configPathEnv   = "TRACKER_CONFIG"
	feedSourceEnv   = "TRACKER_FEED_SOURCE"
	feedCacheDirEnv = "TRACKER_FEED_CACHE_DIR"
	feedStrictEnv   = "TRACKER_FEED_STRICT"
	minIntervalEnv  = "TRACKER_MIN_INTERVAL"
	frameRateEnv    = "TRACKER_FRAME_RATE"
	httpAddrEnv     = "TRACKER_HTTP_ADDR"
	grpcAddrEnv     = "TRACKER_GRPC_ADDR"

	tracingEnabledEnv  = "TRACKER_TRACING_ENABLED"
	tracingExporterEnv = "TRACKER_TRACING_EXPORTER"
	tracingEndpointEnv = "TRACKER_OTLP_ENDPOINT"
	tracingServiceEnv  = "TRACKER_TRACING_SERVICE_NAME"
	tracingRatioEnv    = "TRACKER_TRACING_SAMPLE_RATIO"
)

// Trace exporters understood by TracingConfig.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config holds every tracker setting.
type Config struct {
	View     ViewConfig     `yaml:"view"`
	Feed     FeedConfig     `yaml:"feed"`
	Tracking TrackingConfig `yaml:"tracking"`
	Orbit    OrbitConfig    `yaml:"orbit"`
	Server   ServerConfig   `yaml:"server"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ViewConfig is the initial map view handed to clients.
type ViewConfig struct {
	Center     geo.Latlong `yaml:"center"`
	Zoom       int         `yaml:"zoom"`
	TileSource string      `yaml:"tileSource"`
}

// FeedConfig says where element sets come from.
type FeedConfig struct {
	Source string `yaml:"source"`
	Strict bool   `yaml:"strict"`
	// CacheDir enables the on-disk snapshot store when non-empty.
	CacheDir string        `yaml:"cacheDir"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TrackingConfig controls the live update loop.
type TrackingConfig struct {
	MinInterval time.Duration `yaml:"minInterval"`
	FrameRate   int           `yaml:"frameRate"`
}

// OrbitConfig shapes the orbit path drawn for a selected object.
type OrbitConfig struct {
	Before           time.Duration `yaml:"before"`
	After            time.Duration `yaml:"after"`
	Step             time.Duration `yaml:"step"`
	WrapThresholdDeg float64       `yaml:"wrapThresholdDeg"`
}

// ServerConfig holds listen addresses. An empty address disables that server.
type ServerConfig struct {
	HTTPAddr string `yaml:"httpAddr"`
	GRPCAddr string `yaml:"grpcAddr"`
}

// TracingConfig selects where spans go. Tracing is off unless Enabled.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"` // otlp collector, host:port
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		View: ViewConfig{
			Center:     geo.Latlong{Lat: 48.13, Long: 11.57},
			Zoom:       4,
			TileSource: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		},
		Feed: FeedConfig{
			Source:  "tles.txt",
			Timeout: 30 * time.Second,
		},
		Tracking: TrackingConfig{
			MinInterval: time.Second,
			FrameRate:   60,
		},
		Orbit: OrbitConfig{
			Before:           45 * time.Minute,
			After:            45 * time.Minute,
			Step:             20 * time.Second,
			WrapThresholdDeg: 100,
		},
		Server: ServerConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":50051",
		},
		Tracing: TracingConfig{
			Exporter:    ExporterStdout,
			Endpoint:    "localhost:4317",
			ServiceName: "orbit-tracker",
			SampleRatio: 1,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or
// $TRACKER_CONFIG when path is empty) and the environment. A missing or
// malformed file is an error; a malformed environment value is logged and
// ignored.
func Load(path string, log logging.Logger) (Config, error) {
	if log == nil {
		log = logging.Noop()
	}
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides(log)
	return cfg, nil
}

func (c *Config) applyEnvOverrides(log logging.Logger) {
	if v := os.Getenv(feedSourceEnv); v != "" {
		c.Feed.Source = v
	}
	if v := os.Getenv(feedCacheDirEnv); v != "" {
		c.Feed.CacheDir = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv(grpcAddrEnv); v != "" {
		c.Server.GRPCAddr = v
	}

	if v := os.Getenv(tracingExporterEnv); v != "" {
		c.Tracing.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv(tracingEndpointEnv); v != "" {
		c.Tracing.Endpoint = v
	}
	if v := os.Getenv(tracingServiceEnv); v != "" {
		c.Tracing.ServiceName = v
	}

	if v := os.Getenv(feedStrictEnv); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Feed.Strict = b
		} else {
			warnEnv(log, feedStrictEnv, v, err)
		}
	}
	if v := os.Getenv(minIntervalEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Tracking.MinInterval = d
		} else {
			warnEnv(log, minIntervalEnv, v, err)
		}
	}
	if v := os.Getenv(frameRateEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tracking.FrameRate = n
		} else {
			warnEnv(log, frameRateEnv, v, err)
		}
	}
	if v := os.Getenv(tracingEnabledEnv); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = b
		} else {
			warnEnv(log, tracingEnabledEnv, v, err)
		}
	}
	if v := os.Getenv(tracingRatioEnv); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = r
		} else {
			warnEnv(log, tracingRatioEnv, v, err)
		}
	}
}

func warnEnv(log logging.Logger, key, value string, err error) {
	log.Warn(context.Background(), "ignoring invalid environment override",
		logging.String("key", key),
		logging.String("value", value),
		logging.Err(err),
	)
}

// Validate reports every setting that cannot be used.
func (c Config) Validate() error {
	var errs []error
	if c.Feed.Source == "" {
		errs = append(errs, errors.New("feed.source is required"))
	}
	if c.Feed.Timeout < 0 {
		errs = append(errs, errors.New("feed.timeout must not be negative"))
	}
	if lat := c.View.Center.Lat; lat < -90 || lat > 90 {
		errs = append(errs, fmt.Errorf("view.center.lat %v out of range", lat))
	}
	if long := c.View.Center.Long; long < -180 || long > 180 {
		errs = append(errs, fmt.Errorf("view.center.long %v out of range", long))
	}
	if c.View.Zoom < 0 || c.View.Zoom > 22 {
		errs = append(errs, fmt.Errorf("view.zoom %d out of range 0-22", c.View.Zoom))
	}
	if c.View.TileSource == "" {
		errs = append(errs, errors.New("view.tileSource is required"))
	}
	if c.Tracking.MinInterval <= 0 {
		errs = append(errs, errors.New("tracking.minInterval must be positive"))
	}
	if c.Tracking.FrameRate <= 0 {
		errs = append(errs, errors.New("tracking.frameRate must be positive"))
	}
	if c.Orbit.Before < 0 || c.Orbit.After < 0 {
		errs = append(errs, errors.New("orbit.before and orbit.after must not be negative"))
	}
	if c.Orbit.Step <= 0 {
		errs = append(errs, errors.New("orbit.step must be positive"))
	}
	if t := c.Orbit.WrapThresholdDeg; t <= 0 || t > 180 {
		errs = append(errs, fmt.Errorf("orbit.wrapThresholdDeg %v out of range (0, 180]", t))
	}
	switch c.Tracing.Exporter {
	case ExporterStdout, ExporterOTLP:
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q must be %s or %s", c.Tracing.Exporter, ExporterStdout, ExporterOTLP))
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampleRatio %v out of range [0, 1]", r))
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		errs = append(errs, errors.New("tracing.serviceName is required when tracing is enabled"))
	}
	return errors.Join(errs...)
}
