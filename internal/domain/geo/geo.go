// Package geo provides coordinates and great-circle distance.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6_371_000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RangeError reports a coordinate component outside its valid range.
type RangeError struct {
	Field string
	Value float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %v out of range", e.Field, e.Value)
}

// Validate checks that the latitude is within [-90, 90] and the longitude
// within [-180, 180]. NaN and infinities are rejected.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return &RangeError{Field: "lat", Value: p.Lat}
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return &RangeError{Field: "lng", Value: p.Lng}
	}
	return nil
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", p.Lat, p.Lng)
}
