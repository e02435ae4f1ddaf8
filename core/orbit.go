package core

import (
	"context"
	"errors"
	"math"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/model"
)

// Default orbit window and sampling.
const (
	DefaultOrbitBefore      = 45 * time.Minute
	DefaultOrbitAfter       = 45 * time.Minute
	DefaultOrbitStep        = 20 * time.Second
	DefaultWrapThresholdDeg = 100.0
)

// ErrNoTrack is returned when no sample in the window could be propagated.
var ErrNoTrack = errors.New("no orbit samples")

// OrbitPathBuilder samples one object over a window around now and splits
// the resulting ground track where it crosses the antimeridian.
type OrbitPathBuilder struct {
	Before           time.Duration
	After            time.Duration
	Step             time.Duration
	WrapThresholdDeg float64

	Logger  logging.Logger
	Metrics FailureRecorder
}

// NewOrbitPathBuilder returns a builder with the default window.
func NewOrbitPathBuilder() *OrbitPathBuilder {
	return &OrbitPathBuilder{
		Before:           DefaultOrbitBefore,
		After:            DefaultOrbitAfter,
		Step:             DefaultOrbitStep,
		WrapThresholdDeg: DefaultWrapThresholdDeg,
	}
}

// Track samples [now-Before, now+After] inclusive every Step and returns the
// successful points in time order. Failing samples are skipped.
func (b *OrbitPathBuilder) Track(prop Propagator, e CatalogEntry, now time.Time) []model.LonLat {
	step := b.Step
	if step <= 0 {
		step = DefaultOrbitStep
	}
	log := b.Logger
	if log == nil {
		log = logging.Noop()
	}

	start := now.Add(-b.Before)
	end := now.Add(b.After)
	points := make([]model.LonLat, 0, int(end.Sub(start)/step)+1)
	failed := 0
	for t := start; !t.After(end); t = t.Add(step) {
		geo, err := safePosition(prop, e.State, t)
		if err != nil {
			failed++
			continue
		}
		points = append(points, geo.LonLat())
	}
	if failed > 0 {
		log.Debug(context.Background(), "orbit samples skipped",
			logging.Int("index", e.Index),
			logging.Int("skipped", failed),
		)
		if b.Metrics != nil {
			b.Metrics.IncPropagationFailure("orbit")
		}
	}
	return points
}

// Build returns the segmented ground track of e around now.
func (b *OrbitPathBuilder) Build(prop Propagator, e CatalogEntry, now time.Time) ([]model.OrbitSegment, error) {
	points := b.Track(prop, e, now)
	if len(points) == 0 {
		return nil, ErrNoTrack
	}
	threshold := b.WrapThresholdDeg
	if threshold <= 0 {
		threshold = DefaultWrapThresholdDeg
	}
	return SegmentTrack(points, threshold), nil
}

// SegmentTrack splits a ground track into segments that do not cross the
// antimeridian. A new segment starts at a point whose longitude sign differs
// from the previous point's while the previous longitude's magnitude exceeds
// thresholdDeg. Sign is taken from the sign bit, so -0 counts as negative.
func SegmentTrack(points []model.LonLat, thresholdDeg float64) []model.OrbitSegment {
	if len(points) == 0 {
		return nil
	}
	segments := []model.OrbitSegment{{points[0]}}
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Lon()
		cur := points[i].Lon()
		if math.Signbit(prev) != math.Signbit(cur) && math.Abs(prev) > thresholdDeg {
			segments = append(segments, model.OrbitSegment{})
		}
		last := len(segments) - 1
		segments[last] = append(segments[last], points[i])
	}
	return segments
}

// SegmentFeatures renders segments as property-less LineString features.
func SegmentFeatures(segments []model.OrbitSegment) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, seg := range segments {
		f := geojson.NewLineStringFeature(seg.Coordinates())
		fc.AddFeature(f)
	}
	return fc
}
