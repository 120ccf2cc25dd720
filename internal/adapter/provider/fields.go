package provider

import (
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/spf13/cast"
)

// FieldMap lists, per logical field, the provider keys to try in priority
// order. Keys match case-insensitively; the first key holding a non-empty
// value wins. New provider quirks are added here, not in parsing code.
type FieldMap struct {
	Name     []string
	Category []string
	Lat      []string
	Lng      []string
	Address  []string
	Contact  []string
	Hours    []string
	Status   []string
	Capacity []string
	Wait     []string
	Verified []string
}

// DefaultFieldMap covers the field-name conventions seen across provider feeds.
var DefaultFieldMap = FieldMap{
	Name:     []string{"name", "title", "site_name", "sitename", "facility_name", "facility", "organization", "org_name", "agency"},
	Category: []string{"type", "category", "service_type", "servicetype", "services", "kind", "resource_type"},
	Lat:      []string{"latitude", "lat", "y"},
	Lng:      []string{"longitude", "lng", "lon", "long", "x"},
	Address:  []string{"address", "full_address", "street_address", "street", "location_address"},
	Contact:  []string{"contact", "phone", "phone_number", "telephone", "email", "website", "url"},
	Hours:    []string{"hours", "hours_description", "opening_hours", "schedule", "open_hours"},
	Status:   []string{"status", "operational_status", "open_status"},
	Capacity: []string{"capacity_available", "capacityavailable", "beds_available", "available_beds", "capacity"},
	Wait:     []string{"wait_minutes", "waitminutes", "wait_time", "wait"},
	Verified: []string{"last_verified_at", "lastverifiedat", "last_verified", "verified_at", "updated_at", "last_updated", "lastupdated"},
}

// record is a flattened provider record with lower-cased keys.
type record map[string]any

// newRecord lower-cases keys and lifts one level of nested objects (e.g. a
// "location": {"lat": ..} block) into the top level. Top-level keys win.
func newRecord(raw map[string]any) record {
	r := make(record, len(raw))
	for k, v := range raw {
		r[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, v := range raw {
		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for nk, nv := range nested {
			key := strings.ToLower(strings.TrimSpace(nk))
			if _, exists := r[key]; !exists {
				r[key] = nv
			}
		}
	}
	return r
}

func (r record) lookup(keys []string) (any, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		if _, isMap := v.(map[string]any); isMap {
			continue
		}
		return v, true
	}
	return nil, false
}

func (r record) str(keys []string) string {
	v, ok := r.lookup(keys)
	if !ok {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// float coerces the first matching value to a finite float64.
func (r record) float(keys []string) (float64, bool) {
	v, ok := r.lookup(keys)
	if !ok {
		return 0, false
	}
	switch tv := v.(type) {
	case bool:
		return 0, false
	case string:
		v = strings.TrimSpace(tv)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// intPtr returns nil when the provider does not report a usable non-negative number.
func (r record) intPtr(keys []string) *int {
	f, ok := r.float(keys)
	if !ok || f < 0 {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

func (r record) timePtr(keys []string) *time.Time {
	v, ok := r.lookup(keys)
	if !ok {
		return nil
	}
	if s, isStr := v.(string); isStr {
		v = strings.TrimSpace(s)
	}
	t, err := cast.ToTimeE(v)
	if err != nil || t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// normalize maps a provider record onto the canonical schema. It reports
// false when latitude or longitude is missing, non-numeric, or off the globe.
func normalize(source string, r record, fm FieldMap) (domain.Resource, bool) {
	lat, okLat := r.float(fm.Lat)
	lng, okLng := r.float(fm.Lng)
	if !okLat || !okLng {
		return domain.Resource{}, false
	}
	return buildResource(source, r, fm, domain.Coordinates{Lat: lat, Lng: lng})
}

// unlocated reports whether a record has no coordinates at all but does have
// an address, and returns it with zero coordinates for the geocoder to fill.
func unlocated(source string, r record, fm FieldMap) (domain.Resource, bool) {
	if _, has := r.lookup(fm.Lat); has {
		return domain.Resource{}, false
	}
	if _, has := r.lookup(fm.Lng); has {
		return domain.Resource{}, false
	}
	if r.str(fm.Address) == "" {
		return domain.Resource{}, false
	}
	return resourceFrom(source, r, fm, domain.Coordinates{}), true
}

func buildResource(source string, r record, fm FieldMap, coords domain.Coordinates) (domain.Resource, bool) {
	if !coords.Valid() {
		return domain.Resource{}, false
	}
	return resourceFrom(source, r, fm, coords), true
}

func resourceFrom(source string, r record, fm FieldMap, coords domain.Coordinates) domain.Resource {
	return domain.Resource{
		Source:            source,
		Name:              r.str(fm.Name),
		Type:              domain.ParseResourceType(r.str(fm.Category)),
		Coordinates:       coords,
		Address:           r.str(fm.Address),
		Contact:           r.str(fm.Contact),
		HoursDescription:  r.str(fm.Hours),
		Status:            r.str(fm.Status),
		CapacityAvailable: r.intPtr(fm.Capacity),
		WaitMinutes:       r.intPtr(fm.Wait),
		LastVerifiedAt:    r.timePtr(fm.Verified),
	}
}
