package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/feed"
	"github.com/signalsfoundry/orbit-tracker/internal/config"
	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/mapview"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/rpc"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/session"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
)

const tracerName = "github.com/signalsfoundry/orbit-tracker/cmd/tracker"

// CLI is the command line. Non-empty flags override the loaded config.
type CLI struct {
	Config    string `help:"YAML config file (defaults to $TRACKER_CONFIG)." type:"path"`
	Feed      string `help:"Element-set feed URL or file path."`
	Offline   bool   `help:"Start from the newest cached feed snapshot instead of fetching."`
	Strict    bool   `help:"Reject feeds with an incomplete trailing element group."`
	CacheDir  string `name:"cache-dir" help:"Directory for cached feed snapshots." type:"path"`
	HTTPAddr  string `name:"http-addr" help:"Map server listen address."`
	GRPCAddr  string `name:"grpc-addr" help:"gRPC health server listen address."`
	LogLevel  string `name:"log-level" help:"debug, info, warn or error (defaults to $LOG_LEVEL)."`
	LogFormat string `name:"log-format" help:"text or json (defaults to $LOG_FORMAT)."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("tracker"),
		kong.Description("Tracks satellites from a published element-set feed and serves them on a live map."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.FatalIfErrorf(run(ctx, cli))
}

// apply overlays the flags that were set onto cfg.
func (c CLI) apply(cfg *config.Config) {
	if c.Feed != "" {
		cfg.Feed.Source = c.Feed
	}
	if c.Strict {
		cfg.Feed.Strict = true
	}
	if c.CacheDir != "" {
		cfg.Feed.CacheDir = c.CacheDir
	}
	if c.HTTPAddr != "" {
		cfg.Server.HTTPAddr = c.HTTPAddr
	}
	if c.GRPCAddr != "" {
		cfg.Server.GRPCAddr = c.GRPCAddr
	}
}

func run(ctx context.Context, cli CLI) error {
	log := logging.NewFromEnv(cli.LogLevel, cli.LogFormat)

	cfg, err := config.Load(cli.Config, log)
	if err != nil {
		return err
	}
	cli.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	flushTraces, err := observability.SetupTracing(ctx, cfg.Tracing, os.Stderr, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer flushTraces()

	collector, err := observability.NewTrackerCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	f, err := loadFeed(ctx, cfg.Feed, cli.Offline, log)
	if err != nil {
		return err
	}
	collector.SetFeedRecords(len(f.Records))

	// Health stays NOT_SERVING until the session loop is running.
	var grpcSrv *rpc.Server
	var onRunning func(bool)
	if cfg.Server.GRPCAddr != "" {
		grpcSrv = rpc.NewServer(rpc.Options{Logger: log, Metrics: collector})
		onRunning = grpcSrv.SetServing
	}

	layer := mapview.NewLayer()
	sess, err := session.New(ctx, f, core.NewSGP4Propagator(), layer, session.Options{
		MinInterval: cfg.Tracking.MinInterval,
		Orbit: &core.OrbitPathBuilder{
			Before:           cfg.Orbit.Before,
			After:            cfg.Orbit.After,
			Step:             cfg.Orbit.Step,
			WrapThresholdDeg: cfg.Orbit.WrapThresholdDeg,
		},
		Logger:    log,
		Metrics:   collector,
		OnRunning: onRunning,
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	frames := timectrl.NewTickerFrameSource(cfg.Tracking.FrameRate)
	defer frames.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		runErr error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, name+" stopped", logging.Err(err))
				errMu.Lock()
				if runErr == nil {
					runErr = fmt.Errorf("%s: %w", name, err)
				}
				errMu.Unlock()
			}
			cancel()
		}()
	}

	start("session", func(ctx context.Context) error { return sess.Run(ctx, frames) })

	if cfg.Server.HTTPAddr != "" {
		srv := mapview.NewServer(layer, mapview.Options{
			Addr: cfg.Server.HTTPAddr,
			View: mapview.ViewConfig{
				Center:     cfg.View.Center,
				Zoom:       cfg.View.Zoom,
				TileSource: cfg.View.TileSource,
			},
			Logger:  log,
			Metrics: collector.Handler(),
			Ready:   sess.Running,
		})
		srv.SetAttribution(f.Epoch.Attribution())
		start("map server", srv.Run)
	}

	if grpcSrv != nil {
		start("gRPC server", func(ctx context.Context) error {
			return grpcSrv.Run(ctx, cfg.Server.GRPCAddr)
		})
	}

	log.Info(ctx, "tracker running",
		logging.Int("objects", sess.Len()),
		logging.String("attribution", f.Epoch.Attribution()),
	)

	wg.Wait()
	return runErr
}

// loadFeed fetches and parses the feed. With a cache directory every fetch is
// stored as a snapshot; offline mode reads the newest snapshot instead.
func loadFeed(ctx context.Context, cfg config.FeedConfig, offline bool, log logging.Logger) (_ model.Feed, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "feed.Load",
		attribute.String("feed.source", cfg.Source),
		attribute.Bool("feed.offline", offline),
	)
	defer func() { span.Finish(err) }()

	raw, err := readFeed(ctx, cfg, offline, log)
	if err != nil {
		return model.Feed{}, err
	}

	f, err := feed.ParseWithOptions(string(raw), feed.ParseOptions{Strict: cfg.Strict, Logger: log})
	if err != nil {
		return model.Feed{}, fmt.Errorf("parse feed: %w", err)
	}
	span.SetAttributes(attribute.Int("feed.records", len(f.Records)))
	log.Info(ctx, "loaded feed",
		logging.Int("records", len(f.Records)),
		logging.Time("epoch", f.Epoch.Time()),
	)
	return f, nil
}

func readFeed(ctx context.Context, cfg config.FeedConfig, offline bool, log logging.Logger) ([]byte, error) {
	var store *feed.SnapshotStore
	if cfg.CacheDir != "" {
		s, err := feed.OpenSnapshotStore(cfg.CacheDir, 0)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		store = s
	}

	if offline {
		if store == nil {
			return nil, errors.New("offline start needs a feed cache directory")
		}
		raw, fetchedAt, err := store.Latest()
		if err != nil {
			return nil, fmt.Errorf("read cached feed: %w", err)
		}
		log.Info(ctx, "using cached feed", logging.Time("fetched_at", fetchedAt))
		return raw, nil
	}

	raw, err := feed.NewFetcher(cfg.Source, cfg.Timeout).Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.Put(raw, time.Now()); err != nil {
			log.Warn(ctx, "could not cache feed snapshot", logging.Err(err))
		}
	}
	return raw, nil
}
