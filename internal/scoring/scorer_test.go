package scoring

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sanDiego = domain.Bounds{South: 32.70, West: -117.20, North: 32.75, East: -117.15}

func cluster(n int, lat, lng float64) []domain.Observation {
	out := make([]domain.Observation, n)
	for i := range out {
		out[i] = domain.Observation{
			ID:          int64(i + 1),
			Type:        "unsheltered",
			Coordinates: domain.Coordinates{Lat: lat, Lng: lng},
			Count:       1,
		}
	}
	return out
}

func requireValidationCode(t *testing.T, err error, code string) {
	t.Helper()
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	assert.Equal(t, code, ve.Code)
}

func TestRecommend_ClusterWithNoServicesSuggestsShelter(t *testing.T) {
	recs, err := Recommend(cluster(150, 32.72, -117.17), nil, sanDiego, DefaultParams())
	require.NoError(t, err)

	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, domain.ServiceShelter, r.ServiceTypeSuggested)
	assert.Equal(t, 300.0, r.NeedScore)
	assert.Equal(t, 150.0, r.PopulationDensity)
	assert.Equal(t, 105, r.EstimatedPeopleHelped)
	assert.Nil(t, r.NearestServiceDistanceKm)
	assert.InDelta(t, 32.72, r.Coordinates.Lat, 1e-9)
	assert.InDelta(t, -117.17, r.Coordinates.Lng, 1e-9)
}

func TestRecommend_ScoreExactlyAtThresholdIsExcluded(t *testing.T) {
	services := []domain.Coordinates{{Lat: 32.72, Lng: -117.17}}

	recs, err := Recommend(cluster(50, 32.72, -117.17), services, sanDiego, DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = Recommend(cluster(51, 32.72, -117.17), services, sanDiego, DefaultParams())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 51.0, recs[0].NeedScore)
	assert.Equal(t, domain.ServiceMedical, recs[0].ServiceTypeSuggested)
	require.NotNil(t, recs[0].NearestServiceDistanceKm)
	assert.InDelta(t, 0, *recs[0].NearestServiceDistanceKm, 1e-6)
}

func TestRecommend_ZeroDensityAndNoServicesIsDiscarded(t *testing.T) {
	recs, err := Recommend(nil, nil, sanDiego, DefaultParams())
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestRecommend_FarServiceDoublesScore(t *testing.T) {
	// ~2.5 km north of the cluster: beyond the doubling distance, inside the shelter distance.
	services := []domain.Coordinates{{Lat: 32.7425, Lng: -117.17}}

	recs, err := Recommend(cluster(30, 32.72, -117.17), services, sanDiego, DefaultParams())
	require.NoError(t, err)

	require.Len(t, recs, 1)
	assert.Equal(t, 60.0, recs[0].NeedScore)
	assert.Equal(t, domain.ServiceDayCenter, recs[0].ServiceTypeSuggested)
	assert.Equal(t, 21, recs[0].EstimatedPeopleHelped)
}

func TestRecommend_WindowIsStrictSquare(t *testing.T) {
	// Binary-exact values so the boundary delta is exactly the radius.
	p := DefaultParams()
	p.GridStep = 0.5
	p.Radius = 0.25

	var obs []domain.Observation
	obs = append(obs, cluster(60, 0.5, 0.5)...)
	obs = append(obs, cluster(60, 0.75, 0.5)...)
	obs = append(obs, cluster(60, 0.5, 0.25)...)
	services := []domain.Coordinates{{Lat: 0.5, Lng: 0.5}}

	recs, err := Recommend(obs, services, domain.Bounds{South: 0.5, West: 0.5, North: 0.5, East: 0.5}, p)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 60.0, recs[0].PopulationDensity)
}

func TestRecommend_CountWeightsDensity(t *testing.T) {
	obs := []domain.Observation{{Coordinates: domain.Coordinates{Lat: 32.72, Lng: -117.17}, Count: 40}}

	recs, err := Recommend(obs, nil, sanDiego, DefaultParams())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 40.0, recs[0].PopulationDensity)
	assert.Equal(t, 80.0, recs[0].NeedScore)
}

func TestRecommend_SortsAndTruncates(t *testing.T) {
	var obs []domain.Observation
	obs = append(obs, cluster(60, 32.71, -117.19)...)
	obs = append(obs, cluster(90, 32.73, -117.16)...)
	obs = append(obs, cluster(70, 32.74, -117.18)...)

	p := DefaultParams()
	p.MaxResults = 2
	recs, err := Recommend(obs, nil, sanDiego, p)
	require.NoError(t, err)

	require.Len(t, recs, 2)
	assert.Equal(t, 180.0, recs[0].NeedScore)
	assert.Equal(t, 140.0, recs[1].NeedScore)
}

func TestRecommend_TiesKeepGridOrder(t *testing.T) {
	var obs []domain.Observation
	obs = append(obs, cluster(60, 32.74, -117.18)...)
	obs = append(obs, cluster(60, 32.71, -117.19)...)

	recs, err := Recommend(obs, nil, sanDiego, DefaultParams())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.InDelta(t, 32.71, recs[0].Coordinates.Lat, 1e-9, "southern row is walked first")
	assert.InDelta(t, 32.74, recs[1].Coordinates.Lat, 1e-9)
}

func TestParams_ScoreIsMonotonicInDensity(t *testing.T) {
	p := DefaultParams()
	for _, nearest := range []float64{0, 1.5, 2, 2.0001, 10, math.Inf(1)} {
		prev := -1.0
		for density := 0.0; density <= 500; density += 7 {
			score := p.score(density, nearest)
			assert.GreaterOrEqual(t, score, prev, "nearest=%v density=%v", nearest, density)
			prev = score
		}
	}
}

func TestParams_SuggestRuleOrder(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name     string
		density  float64
		nearest  float64
		expected domain.ServiceType
	}{
		{"distance beats density", 500, 3.1, domain.ServiceShelter},
		{"no services at all", 10, math.Inf(1), domain.ServiceShelter},
		{"exactly 3 km is not far", 500, 3, domain.ServiceFoodBank},
		{"dense", 101, 1, domain.ServiceFoodBank},
		{"exactly 100 is medical", 100, 1, domain.ServiceMedical},
		{"moderate", 51, 1, domain.ServiceMedical},
		{"exactly 50 is day center", 50, 1, domain.ServiceDayCenter},
		{"sparse", 5, 0, domain.ServiceDayCenter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.suggest(tt.density, tt.nearest))
		})
	}
}

func TestRecommend_InvalidInput(t *testing.T) {
	t.Run("inverted bounds", func(t *testing.T) {
		_, err := Recommend(nil, nil, domain.Bounds{South: 33, West: -117.2, North: 32, East: -117.1}, DefaultParams())
		requireValidationCode(t, err, domain.CodeInvalidBounds)
	})

	t.Run("non-finite bounds", func(t *testing.T) {
		_, err := Recommend(nil, nil, domain.Bounds{South: math.NaN(), West: -117.2, North: 32, East: -117.1}, DefaultParams())
		requireValidationCode(t, err, domain.CodeInvalidBounds)
	})

	t.Run("too many cells", func(t *testing.T) {
		_, err := Recommend(nil, nil, domain.Bounds{South: -60, West: -170, North: 60, East: 170}, DefaultParams())
		requireValidationCode(t, err, domain.CodeInvalidBounds)
	})

	t.Run("grid step too small to count", func(t *testing.T) {
		p := DefaultParams()
		p.GridStep = 1e-300
		_, err := Recommend(nil, nil, sanDiego, p)
		requireValidationCode(t, err, domain.CodeInvalidBounds)
	})

	t.Run("zero grid step", func(t *testing.T) {
		p := DefaultParams()
		p.GridStep = 0
		_, err := Recommend(nil, nil, sanDiego, p)
		requireValidationCode(t, err, domain.CodeInvalidParameter)
	})

	t.Run("zero max results", func(t *testing.T) {
		p := DefaultParams()
		p.MaxResults = 0
		_, err := Recommend(nil, nil, sanDiego, p)
		requireValidationCode(t, err, domain.CodeInvalidParameter)
	})
}

func TestScorer_TiledMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	bounds := domain.Bounds{South: 32.60, West: -117.30, North: 32.90, East: -117.00}

	obs := make([]domain.Observation, 0, 4000)
	for i := range 4000 {
		// Skew towards a few hot spots so several cells clear the threshold.
		hot := []domain.Coordinates{{Lat: 32.72, Lng: -117.16}, {Lat: 32.80, Lng: -117.25}, {Lat: 32.65, Lng: -117.05}}[i%3]
		obs = append(obs, domain.Observation{
			ID:          int64(i + 1),
			Coordinates: domain.Coordinates{Lat: hot.Lat + rng.NormFloat64()*0.01, Lng: hot.Lng + rng.NormFloat64()*0.01},
			Count:       1 + rng.IntN(3),
		})
	}
	services := []domain.Coordinates{{Lat: 32.71, Lng: -117.15}, {Lat: 32.85, Lng: -117.10}}

	p := DefaultParams()
	p.MaxResults = 25

	want, err := Recommend(obs, services, bounds, p)
	require.NoError(t, err)
	require.NotEmpty(t, want)

	for _, workers := range []int{1, 2, 3, 8, 64} {
		s := NewScorer(p, workers, observability.NewMetricsForTesting())
		got, err := s.Recommend(context.Background(), obs, services, bounds, s.Params())
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("workers=%d mismatch (-sequential +tiled):\n%s", workers, diff)
		}
	}
}

func TestScorer_CancelledContext(t *testing.T) {
	s := NewScorer(DefaultParams(), 4, observability.NewMetricsForTesting())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Recommend(ctx, cluster(150, 32.72, -117.17), nil, sanDiego, s.Params())
	require.ErrorIs(t, err, context.Canceled)
}

func TestScorer_ValidatesBounds(t *testing.T) {
	s := NewScorer(DefaultParams(), 4, observability.NewMetricsForTesting())
	_, err := s.Recommend(context.Background(), nil, nil, domain.Bounds{South: 1, West: 1, North: 0, East: 2}, s.Params())
	requireValidationCode(t, err, domain.CodeInvalidBounds)
}

func TestScorer_RejectsGridStepBeyondCellLimit(t *testing.T) {
	s := NewScorer(DefaultParams(), 4, observability.NewMetricsForTesting())
	p := s.Params()
	p.GridStep = 1e-300

	var recs []domain.Recommendation
	var err error
	require.NotPanics(t, func() {
		recs, err = s.Recommend(context.Background(), cluster(150, 32.72, -117.17), nil, sanDiego, p)
	})
	requireValidationCode(t, err, domain.CodeInvalidBounds)
	assert.Nil(t, recs)
}

func TestNewGrid_UncappedStillBoundsCellCount(t *testing.T) {
	p := DefaultParams()
	p.MaxCells = 0
	p.GridStep = 1e-12

	_, err := newGrid(sanDiego, p)
	requireValidationCode(t, err, domain.CodeInvalidBounds)
}

func TestDensityIndex_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	obs := make([]domain.Observation, 500)
	for i := range obs {
		obs[i] = domain.Observation{Coordinates: domain.Coordinates{Lat: 10 + rng.Float64()*0.1, Lng: 20 + rng.Float64()*0.1}, Count: 1}
	}
	const radius = 0.005
	idx := newDensityIndex(obs, radius)

	for range 200 {
		lat, lng := 10+rng.Float64()*0.1, 20+rng.Float64()*0.1
		want := 0.0
		for _, o := range obs {
			if math.Abs(o.Coordinates.Lat-lat) < radius && math.Abs(o.Coordinates.Lng-lng) < radius {
				want += o.Weight()
			}
		}
		assert.Equal(t, want, idx.density(lat, lng, radius))
	}
}
