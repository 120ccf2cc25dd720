package domain

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6_371_000.0

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both components are finite and within world ranges.
func (c Coordinates) Valid() bool {
	return isFinite(c.Lat) && isFinite(c.Lng) &&
		c.Lat >= -90 && c.Lat <= 90 &&
		c.Lng >= -180 && c.Lng <= 180
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// DistanceMeters returns the haversine great-circle distance between two
// points. NaN inputs propagate to the result; callers guard.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a slightly above 1 for antipodal points.
	a = math.Min(1, a)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceKm is DistanceMeters in kilometres.
func DistanceKm(a, b Coordinates) float64 {
	return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng) / 1000
}

// Bounds is a lat/lng rectangle. Bounds crossing the antimeridian are not
// supported.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Validate checks that the rectangle is finite, ordered, and on the globe.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.South, b.West, b.North, b.East} {
		if !isFinite(v) {
			return NewValidationError(CodeInvalidBounds, "bounds must be finite numbers")
		}
	}
	if b.South > b.North || b.West > b.East {
		return NewValidationError(CodeInvalidBounds, "bounds must satisfy south <= north and west <= east")
	}
	if !(Coordinates{Lat: b.South, Lng: b.West}).Valid() || !(Coordinates{Lat: b.North, Lng: b.East}).Valid() {
		return NewValidationError(CodeInvalidBounds, "bounds must lie within lat [-90,90] and lng [-180,180]")
	}
	return nil
}

// Contains reports whether c lies inside the rectangle, edges included.
func (b Bounds) Contains(c Coordinates) bool {
	return c.Lat >= b.South && c.Lat <= b.North && c.Lng >= b.West && c.Lng <= b.East
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
