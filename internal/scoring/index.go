package scoring

import (
	"math"

	"github.com/couchcryptid/needmap-service/internal/domain"
)

type bucketKey struct {
	row, col int
}

type weightedPoint struct {
	lat, lng, weight float64
}

// densityIndex buckets observations into a uniform lat/lng grid whose edge
// equals the window radius, so a window query only visits the 3x3 block of
// buckets around its centre.
type densityIndex struct {
	edge    float64
	buckets map[bucketKey][]weightedPoint
}

func newDensityIndex(observations []domain.Observation, edge float64) *densityIndex {
	idx := &densityIndex{
		edge:    edge,
		buckets: make(map[bucketKey][]weightedPoint),
	}
	for _, o := range observations {
		k := idx.key(o.Coordinates.Lat, o.Coordinates.Lng)
		idx.buckets[k] = append(idx.buckets[k], weightedPoint{
			lat:    o.Coordinates.Lat,
			lng:    o.Coordinates.Lng,
			weight: o.Weight(),
		})
	}
	return idx
}

func (idx *densityIndex) key(lat, lng float64) bucketKey {
	return bucketKey{
		row: int(math.Floor(lat / idx.edge)),
		col: int(math.Floor(lng / idx.edge)),
	}
}

// density sums the weights of observations whose latitude and longitude
// deltas from the centre are both strictly below radius.
func (idx *densityIndex) density(lat, lng, radius float64) float64 {
	center := idx.key(lat, lng)
	total := 0.0
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			for _, p := range idx.buckets[bucketKey{row: center.row + dr, col: center.col + dc}] {
				if math.Abs(p.lat-lat) < radius && math.Abs(p.lng-lng) < radius {
					total += p.weight
				}
			}
		}
	}
	return total
}

// nearestKm returns the haversine distance to the closest service, or +Inf
// when there are none.
func nearestKm(lat, lng float64, services []domain.Coordinates) float64 {
	best := math.Inf(1)
	for _, s := range services {
		if d := domain.DistanceMeters(lat, lng, s.Lat, s.Lng) / 1000; d < best {
			best = d
		}
	}
	return best
}
