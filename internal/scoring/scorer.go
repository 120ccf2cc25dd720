package scoring

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
	"golang.org/x/sync/errgroup"
)

// gridEpsilon absorbs floating-point error when counting grid steps so a
// bound that is an exact multiple of the step is included.
const gridEpsilon = 1e-9

// grid is the set of candidate cell centres for one query, walked row by row
// from the south-west corner.
type grid struct {
	bounds     domain.Bounds
	step       float64
	rows, cols int
}

func newGrid(b domain.Bounds, p Params) (grid, error) {
	if err := b.Validate(); err != nil {
		return grid{}, err
	}
	// Count in float64 so a tiny step cannot overflow int before the cap check.
	rowsF := math.Floor((b.North-b.South)/p.GridStep+gridEpsilon) + 1
	colsF := math.Floor((b.East-b.West)/p.GridStep+gridEpsilon) + 1
	limit := float64(p.MaxCells)
	if p.MaxCells <= 0 {
		limit = math.MaxInt32
	}
	if rowsF > limit || colsF > limit || rowsF*colsF > limit {
		return grid{}, domain.NewValidationError(domain.CodeInvalidBounds,
			fmt.Sprintf("bounds span %.0f grid cells at step %g; the limit is %.0f", rowsF*colsF, p.GridStep, limit))
	}
	return grid{bounds: b, step: p.GridStep, rows: int(rowsF), cols: int(colsF)}, nil
}

func (g grid) lat(row int) float64 { return g.bounds.South + float64(row)*g.step }
func (g grid) lng(col int) float64 { return g.bounds.West + float64(col)*g.step }

// Recommend scores every grid cell inside bounds and returns the highest
// need cells, best first. Ties keep grid order.
func Recommend(observations []domain.Observation, services []domain.Coordinates, bounds domain.Bounds, p Params) ([]domain.Recommendation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g, err := newGrid(bounds, p)
	if err != nil {
		return nil, err
	}
	idx := newDensityIndex(observations, p.Radius)
	return rank(scoreRows(g, 0, g.rows, idx, services, p), p.MaxResults), nil
}

// Scorer runs Recommend with the grid split into row tiles scored
// concurrently. Results are identical to the sequential pass.
type Scorer struct {
	params  Params
	workers int
	metrics *observability.Metrics
}

// NewScorer creates a tiled scorer. Workers below 1 are treated as 1.
func NewScorer(params Params, workers int, metrics *observability.Metrics) *Scorer {
	return &Scorer{
		params:  params,
		workers: max(workers, 1),
		metrics: metrics,
	}
}

// Params returns the scorer's configured defaults, for callers that override
// individual fields per query.
func (s *Scorer) Params() Params {
	return s.params
}

// Recommend is the tiled equivalent of the package-level Recommend.
func (s *Scorer) Recommend(ctx context.Context, observations []domain.Observation, services []domain.Coordinates, bounds domain.Bounds, p Params) ([]domain.Recommendation, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecommendationDuration.Observe(time.Since(start).Seconds())
	}()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	g, err := newGrid(bounds, p)
	if err != nil {
		return nil, err
	}
	idx := newDensityIndex(observations, p.Radius)

	tileRows := (g.rows + s.workers - 1) / s.workers
	tiles := (g.rows + tileRows - 1) / tileRows
	results := make([][]domain.Recommendation, tiles)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for t := range tiles {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			from := t * tileRows
			to := min(from+tileRows, g.rows)
			results[t] = scoreRows(g, from, to, idx, services, p)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	merged := make([]domain.Recommendation, 0)
	for _, r := range results {
		merged = append(merged, r...)
	}
	return rank(merged, p.MaxResults), nil
}

// scoreRows evaluates grid rows [from, to) and keeps cells above threshold,
// in grid order.
func scoreRows(g grid, from, to int, idx *densityIndex, services []domain.Coordinates, p Params) []domain.Recommendation {
	var out []domain.Recommendation
	for row := from; row < to; row++ {
		lat := g.lat(row)
		for col := range g.cols {
			lng := g.lng(col)

			density := idx.density(lat, lng, p.Radius)
			nearest := nearestKm(lat, lng, services)
			score := p.score(density, nearest)
			if score <= p.Threshold {
				continue
			}

			rec := domain.Recommendation{
				Coordinates:           domain.Coordinates{Lat: lat, Lng: lng},
				ServiceTypeSuggested:  p.suggest(density, nearest),
				NeedScore:             score,
				EstimatedPeopleHelped: int(math.Round(density * p.PeopleFactor)),
				PopulationDensity:     density,
			}
			if !math.IsInf(nearest, 1) {
				rec.NearestServiceDistanceKm = &nearest
			}
			out = append(out, rec)
		}
	}
	return out
}

// rank sorts by descending score, stable on grid order, and truncates.
func rank(recs []domain.Recommendation, maxResults int) []domain.Recommendation {
	slices.SortStableFunc(recs, func(a, b domain.Recommendation) int {
		return cmp.Compare(b.NeedScore, a.NeedScore)
	})
	if len(recs) > maxResults {
		recs = recs[:maxResults]
	}
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	return recs
}
