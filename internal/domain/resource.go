package domain

import (
	"strings"
	"time"
)

// ResourceType is the canonical service category of a Resource.
type ResourceType string

const (
	TypeShelter ResourceType = "shelter"
	TypeFood    ResourceType = "food"
	TypeMedical ResourceType = "medical"
	TypeHygiene ResourceType = "hygiene"
	TypeOther   ResourceType = "other"
)

// Valid reports whether t is one of the canonical resource types.
func (t ResourceType) Valid() bool {
	switch t {
	case TypeShelter, TypeFood, TypeMedical, TypeHygiene, TypeOther:
		return true
	}
	return false
}

// StaleAfter is how long a provider confirmation stays fresh.
const StaleAfter = 7 * 24 * time.Hour

// categoryKeywords maps lower-case provider category fragments to canonical
// types. Entries are checked in order; the first fragment contained in the
// provider value wins.
var categoryKeywords = []struct {
	fragment string
	typ      ResourceType
}{
	{"shelter", TypeShelter},
	{"housing", TypeShelter},
	{"warming", TypeShelter},
	{"cooling", TypeShelter},
	{"food", TypeFood},
	{"pantry", TypeFood},
	{"meal", TypeFood},
	{"kitchen", TypeFood},
	{"medical", TypeMedical},
	{"clinic", TypeMedical},
	{"health", TypeMedical},
	{"hospital", TypeMedical},
	{"hygiene", TypeHygiene},
	{"shower", TypeHygiene},
	{"laundry", TypeHygiene},
	{"restroom", TypeHygiene},
	{"toilet", TypeHygiene},
}

// ParseResourceType maps a free-form provider category onto a canonical type.
// Unknown or empty categories map to TypeOther.
func ParseResourceType(category string) ResourceType {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return TypeOther
	}
	for _, kw := range categoryKeywords {
		if strings.Contains(c, kw.fragment) {
			return kw.typ
		}
	}
	return TypeOther
}

// Resource is a service location normalized from any provider feed.
type Resource struct {
	Source            string       `json:"source"`
	Name              string       `json:"name"`
	Type              ResourceType `json:"type"`
	Coordinates       Coordinates  `json:"coordinates"`
	Address           string       `json:"address,omitempty"`
	Contact           string       `json:"contact,omitempty"`
	HoursDescription  string       `json:"hours,omitempty"`
	Status            string       `json:"status,omitempty"`
	CapacityAvailable *int         `json:"capacityAvailable"`
	WaitMinutes       *int         `json:"waitMinutes"`
	LastVerifiedAt    *time.Time   `json:"lastVerifiedAt,omitempty"`
}

// IsStale reports whether the provider last confirmed the record more than
// StaleAfter before now. Records without a confirmation time are not stale.
func (r Resource) IsStale(now time.Time) bool {
	if r.LastVerifiedAt == nil {
		return false
	}
	return now.Sub(*r.LastVerifiedAt) > StaleAfter
}

// Snapshot is the unified catalog payload served by the catalog cache.
type Snapshot struct {
	Results     []Resource     `json:"results"`
	Sources     map[string]int `json:"sources"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// Locations extracts the coordinates of every resource in the snapshot.
func (s Snapshot) Locations() []Coordinates {
	out := make([]Coordinates, len(s.Results))
	for i, r := range s.Results {
		out[i] = r.Coordinates
	}
	return out
}
