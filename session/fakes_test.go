package session

import (
	"errors"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/render"
)

type trackFunc func(time.Time) (model.GeodeticState, error)

// stubPropagator returns canned geodetic positions keyed by line1.
type stubPropagator struct {
	tracks map[string]trackFunc
}

func (s *stubPropagator) InitState(line1, _ string) (core.OrbitState, error) {
	fn, ok := s.tracks[line1]
	if !ok {
		return nil, core.ErrInvalidElements
	}
	return fn, nil
}

func (s *stubPropagator) Propagate(state core.OrbitState, at time.Time) (model.StateVector, error) {
	geo, err := state.(trackFunc)(at)
	if err != nil {
		return model.StateVector{}, err
	}
	return model.StateVector{Position: model.Vector3{X: geo.Latitude, Y: geo.Longitude, Z: geo.Height}}, nil
}

func (s *stubPropagator) SiderealTime(time.Time) float64 { return 0 }

func (s *stubPropagator) ECIToGeodetic(p model.Vector3, _ float64) model.GeodeticState {
	return model.GeodeticState{Latitude: p.X, Longitude: p.Y, Height: p.Z}
}

func fixed(geo model.GeodeticState) trackFunc {
	return func(time.Time) (model.GeodeticState, error) { return geo, nil }
}

var errDecayed = errors.New("decayed")

type fakeMarker struct {
	r       *fakeRenderer
	index   int
	feature *geojson.Feature

	mu       sync.Mutex
	lat, lon float64
	popup    string
	moves    int
}

func (m *fakeMarker) SetPosition(lat, lon float64) {
	m.mu.Lock()
	m.lat, m.lon = lat, lon
	m.moves++
	m.mu.Unlock()
	m.r.emit(render.Event{Type: render.EventMove, Index: m.index})
}

func (m *fakeMarker) Feature() *geojson.Feature { return m.feature }

func (m *fakeMarker) SetPopup(text string) {
	m.mu.Lock()
	m.popup = text
	m.mu.Unlock()
}

func (m *fakeMarker) state() (lat, lon float64, popup string, moves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lat, m.lon, m.popup, m.moves
}

type fakeOverlay struct {
	mu      sync.Mutex
	current *geojson.FeatureCollection
	shows   int
	clears  int
}

func (o *fakeOverlay) Show(fc *geojson.FeatureCollection) {
	o.mu.Lock()
	o.current = fc
	o.shows++
	o.mu.Unlock()
}

func (o *fakeOverlay) Clear() {
	o.mu.Lock()
	o.current = nil
	o.clears++
	o.mu.Unlock()
}

func (o *fakeOverlay) lines() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return 0
	}
	return len(o.current.Features)
}

type fakeRenderer struct {
	mu      sync.Mutex
	markers []*fakeMarker
	overlay fakeOverlay
	subs    map[int]func(render.Event)
	nextSub int
	addErr  error
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{subs: make(map[int]func(render.Event))}
}

func (r *fakeRenderer) AddMarkers(fc *geojson.FeatureCollection) ([]render.Marker, error) {
	if r.addErr != nil {
		return nil, r.addErr
	}
	out := make([]render.Marker, 0, len(fc.Features))
	for i, f := range fc.Features {
		m := &fakeMarker{r: r, index: i, feature: f, lat: f.Geometry.Point[1], lon: f.Geometry.Point[0], popup: core.PopupText(f)}
		r.markers = append(r.markers, m)
		out = append(out, m)
	}
	return out, nil
}

func (r *fakeRenderer) Overlay() render.Overlay { return &r.overlay }

func (r *fakeRenderer) Subscribe(fn func(render.Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *fakeRenderer) emit(ev render.Event) {
	r.mu.Lock()
	subs := make([]func(render.Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (r *fakeRenderer) subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

type fakeMetrics struct {
	mu       sync.Mutex
	failures map[string]int
	updates  int
	skipped  int
	tracked  int
	orbits   []int
}

func (f *fakeMetrics) IncPropagationFailure(stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = make(map[string]int)
	}
	f.failures[stage]++
}

func (f *fakeMetrics) ObserveUpdate(time.Duration) {
	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
}

func (f *fakeMetrics) IncFramesSkipped() {
	f.mu.Lock()
	f.skipped++
	f.mu.Unlock()
}

func (f *fakeMetrics) SetTrackedObjects(n int) {
	f.mu.Lock()
	f.tracked = n
	f.mu.Unlock()
}

func (f *fakeMetrics) ObserveOrbitBuild(segments int) {
	f.mu.Lock()
	f.orbits = append(f.orbits, segments)
	f.mu.Unlock()
}
