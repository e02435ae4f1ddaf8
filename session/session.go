// Package session owns one tracking session: the catalog built from a feed,
// the point features and markers derived from it, the live refresh loop, and
// the reactions to marker events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/render"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
)

const tracerName = "github.com/signalsfoundry/orbit-tracker/session"

// eventQueueSize bounds select/deselect events waiting for the loop.
const eventQueueSize = 64

// Metrics is the set of measurements a session reports.
type Metrics interface {
	core.FailureRecorder
	timectrl.UpdateRecorder
	SetTrackedObjects(n int)
	ObserveOrbitBuild(segments int)
}

// Options configures a Session. Zero values select defaults.
type Options struct {
	Clock       timectrl.Clock
	MinInterval time.Duration
	Orbit       *core.OrbitPathBuilder
	Logger      logging.Logger
	Metrics     Metrics

	// OnRunning is called with true once Run has started and with false
	// when it returns.
	OnRunning func(running bool)
}

// Session is the tracking context. All mutation of features and markers
// happens on the goroutine running Run, or during New before Run starts.
type Session struct {
	log     logging.Logger
	metrics Metrics
	clock   timectrl.Clock

	epoch    model.FeedEpoch
	catalog  *core.Catalog
	sampler  *core.Sampler
	orbits   *core.OrbitPathBuilder
	renderer render.Renderer
	features *geojson.FeatureCollection
	markers  []render.Marker
	sched    *timectrl.Scheduler

	events      chan render.Event
	unsubscribe func()

	onRunning func(bool)

	mu       sync.RWMutex
	selected int
	running  bool
}

// New builds the catalog from feed, samples every object once, drops those
// that cannot be propagated, and creates one marker per remaining feature.
func New(ctx context.Context, feed model.Feed, prop core.Propagator, renderer render.Renderer, opts Options) (_ *Session, err error) {
	if renderer == nil {
		return nil, errors.New("session requires a renderer")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timectrl.SystemClock{}
	}
	orbits := opts.Orbit
	if orbits == nil {
		orbits = core.NewOrbitPathBuilder()
	}
	var failures core.FailureRecorder
	if opts.Metrics != nil {
		failures = opts.Metrics
		if orbits.Metrics == nil {
			orbits.Metrics = opts.Metrics
		}
	}
	if orbits.Logger == nil {
		orbits.Logger = log
	}

	ctx, span := observability.StartSpan(ctx, tracerName, "session.New")
	defer func() { span.Finish(err) }()

	catalog, err := core.NewCatalog(prop, feed.Records, core.CatalogOptions{Logger: log, Metrics: failures})
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	sampler := core.NewSampler(log, failures)
	samples := sampler.Sample(catalog, clock.Now())
	// Keyed by feed index, which Retain preserves.
	first := make(map[int]model.GeodeticState, len(samples))
	for _, s := range samples {
		if s.OK {
			e, _ := catalog.Entry(s.Index)
			first[e.FeedIndex] = s.State
		}
	}
	initial := len(samples)
	catalog = catalog.Retain(func(e core.CatalogEntry) bool {
		_, ok := first[e.FeedIndex]
		return ok
	})
	if dropped := initial - catalog.Len(); dropped > 0 {
		log.Warn(ctx, "dropping objects that failed initial propagation", logging.Int("dropped", dropped))
	}
	samples = make([]core.Sample, catalog.Len())
	for i, e := range catalog.Entries() {
		samples[i] = core.Sample{Index: e.Index, State: first[e.FeedIndex], OK: true}
	}

	features := core.BuildFeatures(catalog, samples)
	markers, err := renderer.AddMarkers(features)
	if err != nil {
		return nil, fmt.Errorf("add markers: %w", err)
	}
	if len(markers) != len(features.Features) {
		return nil, fmt.Errorf("renderer created %d markers for %d features", len(markers), len(features.Features))
	}

	s := &Session{
		log:      log,
		metrics:  opts.Metrics,
		clock:    clock,
		epoch:    feed.Epoch,
		catalog:  catalog,
		sampler:  sampler,
		orbits:   orbits,
		renderer: renderer,
		features: features,
		markers:  markers,
		events:   make(chan render.Event, eventQueueSize),
		selected: -1,

		onRunning: opts.OnRunning,
	}
	s.sched = timectrl.NewScheduler(s.update,
		timectrl.WithClock(clock),
		timectrl.WithMinInterval(opts.MinInterval),
		timectrl.WithRecorder(opts.Metrics),
	)
	s.unsubscribe = renderer.Subscribe(s.onEvent)

	if opts.Metrics != nil {
		opts.Metrics.SetTrackedObjects(len(markers))
	}
	span.SetAttributes(
		attribute.Int("feed.records", len(feed.Records)),
		attribute.Int("session.tracked", len(markers)),
	)
	log.Info(ctx, "tracking session ready",
		logging.Int("records", len(feed.Records)),
		logging.Int("tracked", len(markers)),
		logging.String("attribution", feed.Epoch.Attribution()),
	)
	return s, nil
}

// Epoch returns the feed epoch the session was built from.
func (s *Session) Epoch() model.FeedEpoch { return s.epoch }

// Catalog returns the tracked objects.
func (s *Session) Catalog() *core.Catalog { return s.catalog }

// Len returns the number of markers.
func (s *Session) Len() int { return len(s.markers) }

// Selected returns the index of the selected marker, or -1.
func (s *Session) Selected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Running reports whether Run is active.
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Scheduler exposes the refresh scheduler.
func (s *Session) Scheduler() *timectrl.Scheduler { return s.sched }

// Run services frame opportunities and queued marker events until ctx is
// cancelled. It is the only goroutine that mutates markers after New.
func (s *Session) Run(ctx context.Context, frames timectrl.FrameSource) error {
	s.setRunning(true)
	defer s.setRunning(false)
	defer s.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.sched.Await(frames):
			s.sched.OnFrame(ctx)
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

// update moves every marker whose object propagated and refreshes its
// feature. Failing objects keep their previous position.
func (s *Session) update(ctx context.Context, now time.Time) {
	for _, sample := range s.sampler.Sample(s.catalog, now) {
		if !sample.OK || sample.Index >= len(s.markers) {
			continue
		}
		m := s.markers[sample.Index]
		core.UpdatePointFeature(m.Feature(), sample.State)
		m.SetPosition(sample.State.Latitude, sample.State.Longitude)
	}
}

// onEvent is the renderer subscription. Move events arrive synchronously on
// the goroutine that moved the marker, which is the Run goroutine; the rest
// are queued for Run.
func (s *Session) onEvent(ev render.Event) {
	if ev.Type == render.EventMove {
		s.refreshPopup(ev.Index)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn(context.Background(), "marker event queue full; dropping event",
			logging.String("type", ev.Type.String()),
			logging.Int("index", ev.Index),
		)
	}
}

func (s *Session) handle(ctx context.Context, ev render.Event) {
	switch ev.Type {
	case render.EventSelect:
		s.selectMarker(ctx, ev.Index)
	case render.EventDeselect:
		s.setSelected(-1)
		s.renderer.Overlay().Clear()
	}
}

// selectMarker shows the orbit of marker i, replacing any previous overlay.
func (s *Session) selectMarker(ctx context.Context, i int) {
	entry, ok := s.catalog.Entry(i)
	if !ok || i >= len(s.markers) {
		s.log.Debug(ctx, "select for unknown marker", logging.Int("index", i))
		return
	}
	s.setSelected(i)
	m := s.markers[i]
	m.SetPopup(core.PopupText(m.Feature()))

	ctx, span := observability.StartSpan(ctx, tracerName, "session.BuildOrbit",
		attribute.Int("object.index", i),
		attribute.String("object.name", entry.Name()),
	)

	overlay := s.renderer.Overlay()
	segments, err := s.orbits.Build(s.catalog.Propagator(), entry, s.clock.Now())
	if err != nil {
		span.Finish(err)
		s.log.Warn(ctx, "orbit unavailable",
			logging.Int("index", i),
			logging.String("name", entry.Name()),
			logging.Err(err),
		)
		overlay.Clear()
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveOrbitBuild(len(segments))
	}
	span.SetAttributes(attribute.Int("orbit.segments", len(segments)))
	span.Finish(nil)
	overlay.Show(core.SegmentFeatures(segments))
}

// refreshPopup rewrites the popup of the selected marker after it moves.
func (s *Session) refreshPopup(i int) {
	if i != s.Selected() || i < 0 || i >= len(s.markers) {
		return
	}
	m := s.markers[i]
	m.SetPopup(core.PopupText(m.Feature()))
}

func (s *Session) setSelected(i int) {
	s.mu.Lock()
	s.selected = i
	s.mu.Unlock()
}

func (s *Session) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
	if s.onRunning != nil {
		s.onRunning(v)
	}
}
