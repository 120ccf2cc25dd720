package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		expected               float64
		delta                  float64
	}{
		{"same point", 32.7157, -117.1611, 32.7157, -117.1611, 0, 1e-9},
		{"one degree of longitude at equator", 0, 0, 0, 1, 111194.93, 0.01},
		{"san diego to los angeles", 32.7157, -117.1611, 34.0522, -118.2437, 179410.43, 0.01},
		{"antipodal", 0, 0, 0, 180, 20015086.80, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			assert.InDelta(t, tt.expected, got, tt.delta)
			assert.GreaterOrEqual(t, got, 0.0)
		})
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	a := DistanceMeters(40.7128, -74.0060, 51.5074, -0.1278)
	b := DistanceMeters(51.5074, -0.1278, 40.7128, -74.0060)
	assert.InDelta(t, a, b, 1e-6)
}

func TestDistanceMeters_NaNPropagates(t *testing.T) {
	assert.True(t, math.IsNaN(DistanceMeters(math.NaN(), 0, 0, 0)))
}

func TestDistanceKm(t *testing.T) {
	got := DistanceKm(Coordinates{Lat: 0, Lng: 0}, Coordinates{Lat: 0, Lng: 1})
	assert.InDelta(t, 111.195, got, 0.001)
}

func TestCoordinatesValid(t *testing.T) {
	tests := []struct {
		name  string
		c     Coordinates
		valid bool
	}{
		{"origin", Coordinates{}, true},
		{"corner", Coordinates{Lat: -90, Lng: 180}, true},
		{"lat too high", Coordinates{Lat: 90.1, Lng: 0}, false},
		{"lng too low", Coordinates{Lat: 0, Lng: -180.5}, false},
		{"nan", Coordinates{Lat: math.NaN(), Lng: 0}, false},
		{"inf", Coordinates{Lat: 0, Lng: math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.c.Valid())
		})
	}
}

func TestBoundsValidate(t *testing.T) {
	tests := []struct {
		name    string
		b       Bounds
		wantErr bool
	}{
		{"ok", Bounds{South: 32.6, West: -117.3, North: 32.8, East: -117.0}, false},
		{"degenerate point", Bounds{South: 1, West: 1, North: 1, East: 1}, false},
		{"inverted lat", Bounds{South: 33, West: -117.3, North: 32, East: -117.0}, true},
		{"inverted lng", Bounds{South: 32, West: -117.0, North: 33, East: -117.3}, true},
		{"off globe", Bounds{South: -91, West: 0, North: 0, East: 1}, true},
		{"nan", Bounds{South: math.NaN(), West: 0, North: 1, East: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.b.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, CodeInvalidBounds, verr.Code)
			}
		})
	}
}
