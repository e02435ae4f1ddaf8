// Package render defines what the tracker needs from a map: markers it can
// move, a single overlay for the selected orbit, and a stream of user
// events. Implementations live elsewhere; see internal/mapview.
package render

import (
	geojson "github.com/paulmach/go.geojson"
)

// EventType identifies a user interaction with a marker.
type EventType int

const (
	// EventSelect is raised when the user opens a marker.
	EventSelect EventType = iota
	// EventDeselect is raised when the open marker is closed.
	EventDeselect
	// EventMove is raised after a marker's position changes.
	EventMove
)

func (t EventType) String() string {
	switch t {
	case EventSelect:
		return "select"
	case EventDeselect:
		return "deselect"
	case EventMove:
		return "move"
	default:
		return "unknown"
	}
}

// Event reports an interaction with the marker at Index.
type Event struct {
	Type  EventType
	Index int
}

// Marker is the on-map representation of one point feature. A marker is
// created once per feature and lives for the whole session.
type Marker interface {
	// SetPosition moves the marker and raises EventMove synchronously on
	// the caller's goroutine.
	SetPosition(lat, lon float64)
	// Feature returns the feature the marker was created from.
	Feature() *geojson.Feature
	// SetPopup replaces the popup text.
	SetPopup(text string)
}

// Overlay shows at most one feature collection at a time.
type Overlay interface {
	Show(fc *geojson.FeatureCollection)
	Clear()
}

// Renderer is the map surface.
type Renderer interface {
	// AddMarkers creates one marker per feature, in order.
	AddMarkers(fc *geojson.FeatureCollection) ([]Marker, error)
	// Overlay returns the orbit overlay.
	Overlay() Overlay
	// Subscribe registers fn for marker events and returns a function that
	// removes it.
	Subscribe(fn func(Event)) (unsubscribe func())
}
