// Package mapview is the tracker's map surface: an in-memory marker layer
// that implements render.Renderer, served to browsers over HTTP and a
// websocket.
package mapview

import (
	"encoding/json"
	"errors"
	"sync"

	geojson "github.com/paulmach/go.geojson"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/render"
)

// MarkerView is a point-in-time copy of one marker.
type MarkerView struct {
	Index int     `json:"index"`
	Name  string  `json:"name"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Popup string  `json:"popup"`
	Open  bool    `json:"open"`
}

// Layer holds the markers and the orbit overlay. Readers take copies under
// its lock; the features handed to AddMarkers are never read by Layer after
// creation, so their owner may keep mutating them.
type Layer struct {
	// selMu orders selection changes with their events. mu is never held
	// while subscribers run, since they may call back into markers.
	selMu sync.Mutex

	mu      sync.RWMutex
	markers []*marker
	open    int
	orbit   []byte

	subsMu  sync.Mutex
	subs    map[int]func(render.Event)
	nextSub int

	changed chan struct{}
}

// NewLayer returns an empty layer.
func NewLayer() *Layer {
	return &Layer{
		open:    -1,
		subs:    make(map[int]func(render.Event)),
		changed: make(chan struct{}, 1),
	}
}

// AddMarkers creates one marker per point feature. It may be called once.
func (l *Layer) AddMarkers(fc *geojson.FeatureCollection) ([]render.Marker, error) {
	if fc == nil {
		return nil, errors.New("nil feature collection")
	}
	l.mu.Lock()
	if l.markers != nil {
		l.mu.Unlock()
		return nil, errors.New("markers already added")
	}
	created := make([]*marker, 0, len(fc.Features))
	out := make([]render.Marker, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil || !f.Geometry.IsPoint() || len(f.Geometry.Point) < 2 {
			l.mu.Unlock()
			return nil, errors.New("feature is not a point")
		}
		name, _ := f.PropertyString(core.PropName)
		m := &marker{
			layer:   l,
			index:   i,
			feature: f,
			name:    name,
			lon:     f.Geometry.Point[0],
			lat:     f.Geometry.Point[1],
			popup:   core.PopupText(f),
		}
		created = append(created, m)
		out = append(out, m)
	}
	l.markers = created
	l.mu.Unlock()

	l.notify()
	return out, nil
}

// Overlay returns the orbit overlay.
func (l *Layer) Overlay() render.Overlay { return (*overlay)(l) }

// Subscribe registers fn for marker events.
func (l *Layer) Subscribe(fn func(render.Event)) func() {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn

	return func() {
		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		delete(l.subs, id)
	}
}

// Select opens the popup of marker i and raises EventSelect. Any other open
// popup is closed first, raising EventDeselect for it.
func (l *Layer) Select(i int) error {
	l.selMu.Lock()
	defer l.selMu.Unlock()

	l.mu.Lock()
	if i < 0 || i >= len(l.markers) {
		l.mu.Unlock()
		return errors.New("marker index out of range")
	}
	prev := l.open
	l.open = i
	l.mu.Unlock()

	if prev >= 0 && prev != i {
		l.emit(render.Event{Type: render.EventDeselect, Index: prev})
	}
	l.emit(render.Event{Type: render.EventSelect, Index: i})
	l.notify()
	return nil
}

// Deselect closes the open popup, if any.
func (l *Layer) Deselect() {
	l.selMu.Lock()
	defer l.selMu.Unlock()

	l.mu.Lock()
	prev := l.open
	l.open = -1
	l.mu.Unlock()

	if prev >= 0 {
		l.emit(render.Event{Type: render.EventDeselect, Index: prev})
		l.notify()
	}
}

// Markers returns a copy of every marker.
func (l *Layer) Markers() []MarkerView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]MarkerView, len(l.markers))
	for i, m := range l.markers {
		out[i] = MarkerView{
			Index: i,
			Name:  m.name,
			Lat:   m.lat,
			Lon:   m.lon,
			Popup: m.popup,
			Open:  i == l.open,
		}
	}
	return out
}

// FeatureCollection renders the current marker positions as point features.
func (l *Layer) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range l.Markers() {
		f := geojson.NewPointFeature([]float64{m.Lon, m.Lat})
		f.SetProperty(core.PropName, m.Name)
		f.SetProperty(core.PropIndex, m.Index)
		f.SetProperty("popup", m.Popup)
		fc.AddFeature(f)
	}
	return fc
}

// OrbitJSON returns the encoded overlay, or nil when it is empty.
func (l *Layer) OrbitJSON() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orbit
}

// Changed delivers a signal after the layer changes. Signals coalesce.
func (l *Layer) Changed() <-chan struct{} { return l.changed }

func (l *Layer) notify() {
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

func (l *Layer) emit(ev render.Event) {
	l.subsMu.Lock()
	subs := make([]func(render.Event), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.subsMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

type marker struct {
	layer   *Layer
	index   int
	feature *geojson.Feature
	name    string

	// guarded by layer.mu
	lat, lon float64
	popup    string
}

func (m *marker) SetPosition(lat, lon float64) {
	m.layer.mu.Lock()
	m.lat, m.lon = lat, lon
	m.layer.mu.Unlock()

	m.layer.notify()
	m.layer.emit(render.Event{Type: render.EventMove, Index: m.index})
}

func (m *marker) Feature() *geojson.Feature { return m.feature }

func (m *marker) SetPopup(text string) {
	m.layer.mu.Lock()
	m.popup = text
	m.layer.mu.Unlock()
	m.layer.notify()
}

type overlay Layer

func (o *overlay) Show(fc *geojson.FeatureCollection) {
	var raw []byte
	if fc != nil {
		var err error
		if raw, err = json.Marshal(fc); err != nil {
			raw = nil
		}
	}
	o.mu.Lock()
	o.orbit = raw
	o.mu.Unlock()
	(*Layer)(o).notify()
}

func (o *overlay) Clear() {
	o.mu.Lock()
	o.orbit = nil
	o.mu.Unlock()
	(*Layer)(o).notify()
}
