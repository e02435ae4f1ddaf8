package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/orbit-tracker/model"
)

var (
	// ErrInvalidElements means a record's element lines could not be turned
	// into an orbit state.
	ErrInvalidElements = errors.New("invalid element set")

	// ErrPropagation means an orbit state could not be advanced to the
	// requested instant.
	ErrPropagation = errors.New("propagation failed")
)

// OrbitState is the propagator's per-object state. Callers treat it as
// opaque and hand it back to the Propagator that created it.
type OrbitState interface{}

// Propagator converts element lines into orbit states and orbit states into
// geodetic positions. Implementations may report failures either as errors or
// by panicking; the core treats both the same way.
type Propagator interface {
	InitState(line1, line2 string) (OrbitState, error)
	Propagate(state OrbitState, at time.Time) (model.StateVector, error)
	SiderealTime(at time.Time) float64
	ECIToGeodetic(pos model.Vector3, gmst float64) model.GeodeticState
}

// Position runs the full chain for one instant: propagate, sidereal time,
// geodetic conversion.
func Position(p Propagator, state OrbitState, at time.Time) (model.GeodeticState, error) {
	sv, err := p.Propagate(state, at)
	if err != nil {
		return model.GeodeticState{}, err
	}
	return p.ECIToGeodetic(sv.Position, p.SiderealTime(at)), nil
}

const (
	minOrbitRadiusKM = 6200.0
	maxOrbitRadiusKM = 50000.0
)

// SGP4Propagator implements Propagator with the SGP4 model from go-satellite
// using WGS72 constants.
type SGP4Propagator struct{}

// NewSGP4Propagator returns the SGP4 propagator.
func NewSGP4Propagator() *SGP4Propagator {
	return &SGP4Propagator{}
}

type sgp4State struct {
	sat satellite.Satellite
}

// InitState parses the two element lines. go-satellite aborts the process on
// malformed lines, so their shape is checked first.
func (p *SGP4Propagator) InitState(line1, line2 string) (OrbitState, error) {
	if err := validateElementLines(line1, line2); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidElements, err)
	}
	sat := satellite.TLEToSat(strings.TrimSpace(line1), strings.TrimSpace(line2), satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init code %d %s", ErrInvalidElements, sat.Error, sat.ErrorStr)
	}
	return &sgp4State{sat: sat}, nil
}

// Propagate advances state to at (whole-second resolution) and returns the
// inertial state in km and km/s.
func (p *SGP4Propagator) Propagate(state OrbitState, at time.Time) (model.StateVector, error) {
	s, ok := state.(*sgp4State)
	if !ok || s == nil {
		return model.StateVector{}, fmt.Errorf("%w: state %T not created by SGP4Propagator", ErrPropagation, state)
	}

	at = at.UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()
	pos, vel := satellite.Propagate(s.sat, year, int(month), day, hour, min, sec)

	if !finite(pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z) {
		return model.StateVector{}, fmt.Errorf("%w: output is NaN/Inf", ErrPropagation)
	}
	r := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if r < minOrbitRadiusKM || r > maxOrbitRadiusKM {
		return model.StateVector{}, fmt.Errorf("%w: implausible radius %.1f km", ErrPropagation, r)
	}

	return model.StateVector{
		Position: model.Vector3{X: pos.X, Y: pos.Y, Z: pos.Z},
		Velocity: model.Vector3{X: vel.X, Y: vel.Y, Z: vel.Z},
	}, nil
}

// SiderealTime returns Greenwich mean sidereal time in radians.
func (p *SGP4Propagator) SiderealTime(at time.Time) float64 {
	at = at.UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()
	return satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
}

// ECIToGeodetic converts an inertial position to latitude/longitude in
// degrees and height in km. Longitude is wrapped into [-180, 180].
func (p *SGP4Propagator) ECIToGeodetic(pos model.Vector3, gmst float64) model.GeodeticState {
	alt, _, ll := satellite.ECIToLLA(satellite.Vector3{X: pos.X, Y: pos.Y, Z: pos.Z}, gmst)
	return model.GeodeticState{
		Latitude:  ll.Latitude * 180 / math.Pi,
		Longitude: NormalizeLongitude(ll.Longitude * 180 / math.Pi),
		Height:    alt,
	}
}

// NormalizeLongitude wraps degrees into [-180, 180].
func NormalizeLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func validateElementLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	for _, f := range elementFields {
		line := line1
		if f.line == 2 {
			line = line2
		}
		text := f.text(line)
		var err error
		if f.integer {
			_, err = strconv.ParseInt(text, 10, 64)
		} else {
			_, err = strconv.ParseFloat(text, 64)
		}
		if err != nil {
			return fmt.Errorf("line%d %s %q is not numeric", f.line, f.name, text)
		}
	}
	return nil
}

// elementFields rebuild every value go-satellite parses, exactly as the
// library builds it. The library exits the process when any of them fails.
var elementFields = []struct {
	line    int
	name    string
	integer bool
	text    func(line string) string
}{
	{1, "satellite number", true, func(l string) string { return strings.TrimSpace(l[2:7]) }},
	{1, "epoch year", true, func(l string) string { return l[18:20] }},
	{1, "epoch day", false, func(l string) string { return l[20:32] }},
	{1, "mean motion derivative", false, func(l string) string { return stripSpaces(l[33:43]) }},
	{1, "second derivative", false, func(l string) string { return impliedDecimal(l[44:52]) }},
	{1, "drag term", false, func(l string) string { return impliedDecimal(l[53:61]) }},
	{2, "inclination", false, func(l string) string { return stripSpaces(l[8:16]) }},
	{2, "right ascension", false, func(l string) string { return stripSpaces(l[17:25]) }},
	{2, "eccentricity", false, func(l string) string { return "." + l[26:33] }},
	{2, "argument of perigee", false, func(l string) string { return stripSpaces(l[34:42]) }},
	{2, "mean anomaly", false, func(l string) string { return stripSpaces(l[43:51]) }},
	{2, "mean motion", false, func(l string) string { return stripSpaces(l[52:63]) }},
}

// stripSpaces drops at most two spaces, matching the library.
func stripSpaces(s string) string {
	return strings.Replace(s, " ", "", 2)
}

// impliedDecimal rebuilds an assumed-point field: " 10270-4" becomes
// ".10270e-4".
func impliedDecimal(field string) string {
	return stripSpaces(field[0:1] + "." + field[1:6] + "e" + field[6:8])
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
