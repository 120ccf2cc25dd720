package domain

// ServiceType is the kind of new service a recommendation suggests.
type ServiceType string

const (
	ServiceShelter   ServiceType = "shelter"
	ServiceFoodBank  ServiceType = "food_bank"
	ServiceMedical   ServiceType = "medical"
	ServiceDayCenter ServiceType = "day_center"
)

// Recommendation is a scored grid cell proposed as a location for a new
// service. Recommendations are computed per request and never stored.
type Recommendation struct {
	Coordinates              Coordinates `json:"coordinates"`
	ServiceTypeSuggested     ServiceType `json:"serviceTypeSuggested"`
	NeedScore                float64     `json:"needScore"`
	EstimatedPeopleHelped    int         `json:"estimatedPeopleHelped"`
	PopulationDensity        float64     `json:"populationDensity"`
	NearestServiceDistanceKm *float64    `json:"nearestServiceDistanceKm"`
}
