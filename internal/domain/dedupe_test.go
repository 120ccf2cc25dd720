package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resourceAt(source, name string, lat, lng float64) Resource {
	return Resource{
		Source:      source,
		Name:        name,
		Type:        TypeShelter,
		Coordinates: Coordinates{Lat: lat, Lng: lng},
	}
}

func TestDedupe_DowntownShelter(t *testing.T) {
	in := []Resource{
		resourceAt("county", "Downtown Shelter", 32.7157, -117.1611),
		resourceAt("211", "downtown shelter", 32.71571, -117.16109),
	}

	out := Dedupe(in)

	require.Len(t, out, 1)
	assert.Equal(t, "county", out[0].Source, "first occurrence wins")
}

func TestDedupe_KeyCollapse(t *testing.T) {
	tests := []struct {
		name     string
		in       []Resource
		expected int
	}{
		{
			name: "case and whitespace insensitive",
			in: []Resource{
				resourceAt("a", "  Food Pantry ", 10.1234, 20.5678),
				resourceAt("b", "food pantry", 10.1231, 20.5681),
			},
			expected: 1,
		},
		{
			name: "different names same cell",
			in: []Resource{
				resourceAt("a", "Food Pantry", 10.1234, 20.5678),
				resourceAt("b", "Soup Kitchen", 10.1234, 20.5678),
			},
			expected: 2,
		},
		{
			name: "same name different cell",
			in: []Resource{
				resourceAt("a", "Clinic", 10.123, 20.567),
				resourceAt("b", "Clinic", 10.125, 20.567),
			},
			expected: 2,
		},
		{
			name: "unnamed records in one cell over-merge",
			in: []Resource{
				resourceAt("a", "", 1.0001, 2.0001),
				resourceAt("b", "", 1.0002, 2.0002),
			},
			expected: 1,
		},
		{
			name: "negative zero shares key with zero",
			in: []Resource{
				resourceAt("a", "Origin", -0.0001, 0.0001),
				resourceAt("b", "Origin", 0.0001, -0.0001),
			},
			expected: 1,
		},
		{
			name:     "empty input",
			in:       nil,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Dedupe(tt.in), tt.expected)
		})
	}
}

func TestDedupe_PreservesOrder(t *testing.T) {
	in := []Resource{
		resourceAt("a", "C", 3, 3),
		resourceAt("a", "A", 1, 1),
		resourceAt("b", "C", 3, 3),
		resourceAt("a", "B", 2, 2),
	}

	out := Dedupe(in)

	names := make([]string, len(out))
	for i, r := range out {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"C", "A", "B"}, names)
}

func TestDedupe_Idempotent(t *testing.T) {
	in := []Resource{
		resourceAt("a", "Downtown Shelter", 32.7157, -117.1611),
		resourceAt("b", "DOWNTOWN SHELTER", 32.7159, -117.1614),
		resourceAt("c", "Harbor Clinic", 32.7, -117.17),
		resourceAt("d", "", 32.70001, -117.17001),
		resourceAt("e", "", 32.70002, -117.17002),
		resourceAt("f", "Harbor Clinic", 32.7004, -117.1704),
	}

	once := Dedupe(in)
	twice := Dedupe(once)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("dedupe not idempotent (-once +twice):\n%s", diff)
	}
}

func TestDedupeWithPrecision(t *testing.T) {
	in := []Resource{
		resourceAt("a", "Shelter", 32.71, -117.16),
		resourceAt("b", "Shelter", 32.74, -117.16),
	}

	assert.Len(t, DedupeWithPrecision(in, 2), 2)
	assert.Len(t, DedupeWithPrecision(in, 1), 1)
}

func TestDedupKey(t *testing.T) {
	r := resourceAt("a", " Downtown Shelter ", 32.7157, -117.1611)
	assert.Equal(t, "downtown shelter|32.716|-117.161", DedupKey(r, 3))
}
