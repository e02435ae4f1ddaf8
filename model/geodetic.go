package model

// Vector3 is a Cartesian vector in the inertial frame (km or km/s).
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

// StateVector is the inertial position and velocity produced by propagation.
type StateVector struct {
	Position Vector3
	Velocity Vector3
}

// GeodeticState is an object's position above the reference ellipsoid at a
// single instant. Latitude and Longitude are degrees, Height is km.
// Longitude is normalised to [-180, 180].
type GeodeticState struct {
	Latitude  float64
	Longitude float64
	Height    float64
}

// LonLat returns the state as a map coordinate pair.
func (g GeodeticState) LonLat() LonLat {
	return LonLat{g.Longitude, g.Latitude}
}
