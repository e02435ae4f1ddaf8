package model

import "github.com/skypies/geo"

// LonLat is a map coordinate in GeoJSON order: longitude first.
type LonLat [2]float64

// Lon returns the longitude in degrees.
func (p LonLat) Lon() float64 { return p[0] }

// Lat returns the latitude in degrees.
func (p LonLat) Lat() float64 { return p[1] }

// Latlong converts the point for great-circle maths.
func (p LonLat) Latlong() geo.Latlong {
	return geo.Latlong{Lat: p[1], Long: p[0]}
}

// OrbitSegment is one continuous stretch of a ground track that never crosses
// the antimeridian. A full ground track is a slice of segments.
type OrbitSegment []LonLat

// Coordinates returns the segment in the nested-slice form used by GeoJSON
// LineString geometries.
func (s OrbitSegment) Coordinates() [][]float64 {
	coords := make([][]float64, len(s))
	for i, p := range s {
		coords[i] = []float64{p[0], p[1]}
	}
	return coords
}

// LengthKM is the great-circle length of the segment.
func (s OrbitSegment) LengthKM() float64 {
	var total float64
	for i := 1; i < len(s); i++ {
		total += s[i-1].Latlong().DistKM(s[i].Latlong())
	}
	return total
}
