package core

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/model"
)

// Sample is one object's position at a sampling instant. OK is false when
// the object could not be propagated; State is then the zero value and the
// caller should keep whatever it showed before.
type Sample struct {
	Index int
	State model.GeodeticState
	OK    bool
}

// Sampler computes the geodetic position of every catalog entry at a single
// instant.
type Sampler struct {
	log     logging.Logger
	metrics FailureRecorder
}

// NewSampler creates a Sampler. Both arguments may be nil.
func NewSampler(log logging.Logger, metrics FailureRecorder) *Sampler {
	if log == nil {
		log = logging.Noop()
	}
	return &Sampler{log: log, metrics: metrics}
}

// Sample returns one Sample per entry, in catalog order. A failing entry
// never aborts the batch.
func (s *Sampler) Sample(cat *Catalog, at time.Time) []Sample {
	out := make([]Sample, cat.Len())
	if cat.Len() == 0 {
		return out
	}
	prop := cat.Propagator()
	for i, e := range cat.entries {
		out[i].Index = e.Index
		geo, err := safePosition(prop, e.State, at)
		if err != nil {
			s.log.Debug(context.Background(), "sample failed",
				logging.Int("index", e.Index),
				logging.String("name", e.Record.Name),
				logging.Err(err),
			)
			if s.metrics != nil {
				s.metrics.IncPropagationFailure("sample")
			}
			continue
		}
		out[i].State = geo
		out[i].OK = true
	}
	return out
}

// safePosition runs Position, turning a panic or a non-finite result into
// ErrPropagation.
func safePosition(prop Propagator, state OrbitState, at time.Time) (geo model.GeodeticState, err error) {
	defer func() {
		if r := recover(); r != nil {
			geo = model.GeodeticState{}
			err = fmt.Errorf("%w: %v", ErrPropagation, r)
		}
	}()
	geo, err = Position(prop, state, at)
	if err != nil {
		return model.GeodeticState{}, err
	}
	if !finite(geo.Latitude, geo.Longitude, geo.Height) {
		return model.GeodeticState{}, fmt.Errorf("%w: non-finite geodetic result", ErrPropagation)
	}
	return geo, nil
}
