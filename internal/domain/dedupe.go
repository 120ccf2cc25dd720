package domain

import (
	"math"
	"strconv"
	"strings"
)

// DefaultDedupPrecision rounds coordinates to 3 decimals (~111 m at the equator).
const DefaultDedupPrecision = 3

// DedupKey derives the key under which two records count as the same site:
// the trimmed lower-case name plus latitude and longitude rounded to
// precision decimal places.
func DedupKey(r Resource, precision int) string {
	name := strings.ToLower(strings.TrimSpace(r.Name))
	return name + "|" + roundString(r.Coordinates.Lat, precision) + "|" + roundString(r.Coordinates.Lng, precision)
}

// Dedupe collapses records sharing a dedup key at the default precision.
func Dedupe(resources []Resource) []Resource {
	return DedupeWithPrecision(resources, DefaultDedupPrecision)
}

// DedupeWithPrecision keeps the first record per dedup key, preserving input
// order. It is idempotent.
func DedupeWithPrecision(resources []Resource, precision int) []Resource {
	seen := make(map[string]struct{}, len(resources))
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		key := DedupKey(r, precision)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// roundString rounds half away from zero and formats with a fixed number of
// decimals. -0 is normalized so that tiny negatives share a key with 0.
func roundString(v float64, precision int) string {
	scale := math.Pow(10, float64(precision))
	rounded := math.Round(v*scale) / scale
	if rounded == 0 {
		rounded = 0
	}
	return strconv.FormatFloat(rounded, 'f', precision, 64)
}
