package hotspot

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

const (
	// minCellSizeKm keeps hexagon vertices distinguishable in float64 degrees.
	minCellSizeKm = 0.001
	// maxHexesPerAxis bounds the lattice so axial coordinates stay exact ints.
	maxHexesPerAxis = 1e6
)

// kmPerDegreeLat is the length of one degree of latitude on the haversine sphere.
const kmPerDegreeLat = domain.EarthRadiusMeters / 1000 * math.Pi / 180

// Cell is one non-empty hexagon of the aggregation grid.
type Cell struct {
	Polygon orb.Polygon
	Center  domain.Coordinates
	Count   int
}

// axial identifies a hexagon in axial (q, r) coordinates.
type axial struct {
	q, r int
}

// projection is a local equirectangular projection anchored at the south-west
// corner of the input bounding box, in kilometres.
type projection struct {
	origin   orb.Point
	kmPerLng float64
}

func newProjection(bound orb.Bound) projection {
	midLat := (bound.Min.Lat() + bound.Max.Lat()) / 2
	kmPerLng := kmPerDegreeLat * math.Cos(midLat*math.Pi/180)
	// Keep the projection invertible near the poles.
	kmPerLng = math.Max(kmPerLng, 1e-6)
	return projection{origin: bound.Min, kmPerLng: kmPerLng}
}

func (p projection) forward(pt orb.Point) (x, y float64) {
	return (pt.Lon() - p.origin.Lon()) * p.kmPerLng, (pt.Lat() - p.origin.Lat()) * kmPerDegreeLat
}

func (p projection) inverse(x, y float64) orb.Point {
	return orb.Point{p.origin.Lon() + x/p.kmPerLng, p.origin.Lat() + y/kmPerDegreeLat}
}

// lattice is a pointy-top hexagon grid whose side length is size kilometres.
type lattice struct {
	proj projection
	size float64
}

func (l lattice) locate(pt orb.Point) axial {
	x, y := l.proj.forward(pt)
	q := (math.Sqrt(3)/3*x - y/3) / l.size
	r := (2.0 / 3 * y) / l.size
	return cubeRound(q, r)
}

func (l lattice) center(h axial) (x, y float64) {
	x = l.size * math.Sqrt(3) * (float64(h.q) + float64(h.r)/2)
	y = l.size * 1.5 * float64(h.r)
	return x, y
}

func (l lattice) polygon(h axial) orb.Polygon {
	cx, cy := l.center(h)
	ring := make(orb.Ring, 0, 7)
	for i := range 6 {
		angle := math.Pi / 180 * float64(60*i-30)
		ring = append(ring, l.proj.inverse(cx+l.size*math.Cos(angle), cy+l.size*math.Sin(angle)))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

var neighbours = [6]axial{{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1}}

// assign returns the hexagon containing pt. Rounding picks the hexagon; the
// polygon test settles points that land on a shared edge.
func (l lattice) assign(pt orb.Point, polygons map[axial]orb.Polygon) axial {
	h := l.locate(pt)
	if planar.PolygonContains(l.cached(h, polygons), pt) {
		return h
	}
	for _, d := range neighbours {
		n := axial{h.q + d.q, h.r + d.r}
		if planar.PolygonContains(l.cached(n, polygons), pt) {
			return n
		}
	}
	return h
}

func (l lattice) cached(h axial, polygons map[axial]orb.Polygon) orb.Polygon {
	if p, ok := polygons[h]; ok {
		return p
	}
	p := l.polygon(h)
	polygons[h] = p
	return p
}

// cubeRound snaps fractional axial coordinates to the nearest hexagon.
func cubeRound(q, r float64) axial {
	s := -q - r
	rq, rr, rs := math.Round(q), math.Round(r), math.Round(s)
	dq, dr, ds := math.Abs(rq-q), math.Abs(rr-r), math.Abs(rs-s)
	switch {
	case dq > dr && dq > ds:
		rq = -rr - rs
	case dr > ds:
		rr = -rq - rs
	}
	return axial{q: int(rq), r: int(rr)}
}

// Hexbin counts points per hexagon of side cellSizeKm over the points'
// bounding box. Every point lands in exactly one cell, empty cells are
// omitted, and cells are ordered by descending count. Empty input yields an
// empty result.
func Hexbin(points []domain.Coordinates, cellSizeKm float64) ([]Cell, error) {
	if !(cellSizeKm > 0) || math.IsInf(cellSizeKm, 0) {
		return nil, domain.NewValidationError(domain.CodeInvalidParameter, "cellKm must be a positive number", "cellKm")
	}
	if cellSizeKm < minCellSizeKm {
		return nil, domain.NewValidationError(domain.CodeInvalidParameter,
			fmt.Sprintf("cellKm must be at least %g", minCellSizeKm), "cellKm")
	}
	if len(points) == 0 {
		return []Cell{}, nil
	}

	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.Lng, p.Lat}
	}
	bound := mp.Bound()
	l := lattice{proj: newProjection(bound), size: cellSizeKm}
	if w, h := l.proj.forward(bound.Max); math.Max(w, h)/cellSizeKm > maxHexesPerAxis {
		return nil, domain.NewValidationError(domain.CodeInvalidParameter,
			fmt.Sprintf("cellKm %g is too small for reports spread over %.0f km", cellSizeKm, math.Max(w, h)), "cellKm")
	}

	polygons := make(map[axial]orb.Polygon)
	counts := make(map[axial]int)
	for _, pt := range mp {
		counts[l.assign(pt, polygons)]++
	}

	cells := make([]Cell, 0, len(counts))
	keys := make([]axial, 0, len(counts))
	for h := range counts {
		keys = append(keys, h)
	}
	slices.SortFunc(keys, func(a, b axial) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		if c := cmp.Compare(a.r, b.r); c != 0 {
			return c
		}
		return cmp.Compare(a.q, b.q)
	})
	for _, h := range keys {
		cx, cy := l.center(h)
		c := l.proj.inverse(cx, cy)
		cells = append(cells, Cell{
			Polygon: l.cached(h, polygons),
			Center:  domain.Coordinates{Lat: c.Lat(), Lng: c.Lon()},
			Count:   counts[h],
		})
	}
	return cells, nil
}

// FeatureCollection renders cells as GeoJSON polygons carrying their count.
func FeatureCollection(cells []Cell) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range cells {
		f := geojson.NewFeature(c.Polygon)
		f.Properties["count"] = c.Count
		fc.Append(f)
	}
	return fc
}
