package core

import (
	"errors"
	"time"

	"github.com/signalsfoundry/orbit-tracker/model"
)

// trackFunc describes a fake object's ground position over time.
type trackFunc func(t time.Time) (model.GeodeticState, error)

// stubPropagator maps element lines to canned tracks. Geodetic values are
// smuggled through the state vector so ECIToGeodetic can read them back.
type stubPropagator struct {
	tracks map[string]trackFunc
}

func newStubPropagator() *stubPropagator {
	return &stubPropagator{tracks: make(map[string]trackFunc)}
}

func (s *stubPropagator) fixed(line1 string, geo model.GeodeticState) {
	s.tracks[line1] = func(time.Time) (model.GeodeticState, error) { return geo, nil }
}

func (s *stubPropagator) InitState(line1, line2 string) (OrbitState, error) {
	fn, ok := s.tracks[line1]
	if !ok {
		return nil, ErrInvalidElements
	}
	return fn, nil
}

func (s *stubPropagator) Propagate(state OrbitState, at time.Time) (model.StateVector, error) {
	fn, ok := state.(trackFunc)
	if !ok {
		return model.StateVector{}, errors.New("foreign state")
	}
	geo, err := fn(at)
	if err != nil {
		return model.StateVector{}, err
	}
	return model.StateVector{Position: model.Vector3{X: geo.Latitude, Y: geo.Longitude, Z: geo.Height}}, nil
}

func (s *stubPropagator) SiderealTime(time.Time) float64 { return 0 }

func (s *stubPropagator) ECIToGeodetic(pos model.Vector3, _ float64) model.GeodeticState {
	return model.GeodeticState{Latitude: pos.X, Longitude: pos.Y, Height: pos.Z}
}

type countingRecorder struct {
	stages map[string]int
}

func (c *countingRecorder) IncPropagationFailure(stage string) {
	if c.stages == nil {
		c.stages = make(map[string]int)
	}
	c.stages[stage]++
}
