// Package geo provides the geodesic primitives shared by the accessibility and
// aggregation engines.
package geo

import (
	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"
)

// EarthRadiusKm is the mean Earth radius used for all persisted distances.
const EarthRadiusKm = 6371.0

// Point is a WGS84 longitude/latitude pair in decimal degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// LatLng converts p to an S2 LatLng.
func (p Point) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

// S2 returns the unit-sphere embedding of p.
func (p Point) S2() s2.Point {
	return s2.PointFromLatLng(p.LatLng())
}

// Distance returns the haversine great-circle distance between a and b in
// kilometers.
func Distance(a, b Point) float64 {
	return a.LatLng().Distance(b.LatLng()).Radians() * EarthRadiusKm
}

// Distances computes Distance(from[i], to[i]) for every pair.
func Distances(from, to []Point) ([]float64, error) {
	if len(from) != len(to) {
		return nil, eris.Errorf("geo: distances: %d origins but %d destinations", len(from), len(to))
	}
	out := make([]float64, len(from))
	for i := range from {
		out[i] = Distance(from[i], to[i])
	}
	return out, nil
}
