package scoring

import (
	"math"

	"github.com/couchcryptid/needmap-service/internal/domain"
)

// Params tunes the need-scoring grid walk. Distances in degrees apply to
// both axes.
type Params struct {
	GridStep          float64 // degrees between candidate cell centres
	Radius            float64 // half-width of the square density window, degrees
	Threshold         float64 // cells scoring at or below this are discarded
	FarDistanceKm     float64 // beyond this, density counts double
	ShelterDistanceKm float64 // beyond this, suggest a shelter
	FoodBankDensity   float64
	MedicalDensity    float64
	PeopleFactor      float64 // share of density counted as people helped
	MaxResults        int
	MaxCells          int // largest grid a single query may walk
}

// DefaultParams returns the production defaults: a ~1 km grid with a ~500 m
// density window.
func DefaultParams() Params {
	return Params{
		GridStep:          0.01,
		Radius:            0.005,
		Threshold:         50,
		FarDistanceKm:     2,
		ShelterDistanceKm: 3,
		FoodBankDensity:   100,
		MedicalDensity:    50,
		PeopleFactor:      0.7,
		MaxResults:        5,
		MaxCells:          250_000,
	}
}

// Validate rejects parameters that would make the grid walk meaningless.
func (p Params) Validate() error {
	if !(p.GridStep > 0) || math.IsInf(p.GridStep, 0) {
		return domain.NewValidationError(domain.CodeInvalidParameter, "gridStep must be a positive number", "gridStep")
	}
	if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
		return domain.NewValidationError(domain.CodeInvalidParameter, "density radius must be a positive number", "radius")
	}
	if p.MaxResults < 1 {
		return domain.NewValidationError(domain.CodeInvalidParameter, "maxResults must be at least 1", "maxResults")
	}
	return nil
}

// score applies the distance multiplier to a cell's density.
func (p Params) score(density, nearestKm float64) float64 {
	if nearestKm > p.FarDistanceKm {
		return density * 2
	}
	return density
}

// suggest picks the service type by ordered rule; the first match wins.
func (p Params) suggest(density, nearestKm float64) domain.ServiceType {
	switch {
	case nearestKm > p.ShelterDistanceKm:
		return domain.ServiceShelter
	case density > p.FoodBankDensity:
		return domain.ServiceFoodBank
	case density > p.MedicalDensity:
		return domain.ServiceMedical
	default:
		return domain.ServiceDayCenter
	}
}
