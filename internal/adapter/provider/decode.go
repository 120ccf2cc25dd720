package provider

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// decoded is the result of parsing one provider payload.
type decoded struct {
	resources []domain.Resource
	unlocated []domain.Resource // address but no coordinates; candidates for geocoding
	dropped   int
}

// keep files a normalized record under the right bucket. Records that lack
// coordinates entirely but carry an address are held back for geocoding.
func (d *decoded) keep(source string, rec record, fm FieldMap, res domain.Resource, ok bool) {
	switch {
	case ok:
		d.resources = append(d.resources, res)
	default:
		if u, pending := unlocated(source, rec, fm); pending {
			d.unlocated = append(d.unlocated, u)
			return
		}
		d.dropped++
	}
}

// decodeFunc parses a raw provider payload.
type decodeFunc func(source string, data []byte, fm FieldMap) (decoded, error)

// wrapperKeys are the object keys under which record feeds nest their array.
var wrapperKeys = []string{"results", "data", "items", "records", "services", "locations", "features"}

// decodeGeoJSON reads a FeatureCollection. Point geometries supply the
// coordinates; other geometries use the centre of their bounding box; features
// without geometry fall back to lat/lng properties.
func decodeGeoJSON(source string, data []byte, fm FieldMap) (decoded, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return decoded{}, fmt.Errorf("decode geojson: %w", err)
	}

	d := decoded{resources: make([]domain.Resource, 0, len(fc.Features))}
	for _, f := range fc.Features {
		rec := newRecord(map[string]any(f.Properties))

		if f.Geometry == nil {
			res, ok := normalize(source, rec, fm)
			d.keep(source, rec, fm, res, ok)
			continue
		}

		var pt orb.Point
		if p, isPoint := f.Geometry.(orb.Point); isPoint {
			pt = p
		} else {
			pt = f.Geometry.Bound().Center()
		}
		// A geometry that is off the globe is bad data, not a geocoding candidate.
		res, ok := buildResource(source, rec, fm, domain.Coordinates{Lat: pt.Lat(), Lng: pt.Lon()})
		if !ok {
			d.dropped++
			continue
		}
		d.resources = append(d.resources, res)
	}
	return d, nil
}

// decodeRecords reads a JSON array of flat objects, or an object wrapping such
// an array under one of wrapperKeys.
func decodeRecords(source string, data []byte, fm FieldMap) (decoded, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return decoded{}, fmt.Errorf("decode records: %w", err)
	}

	items, err := unwrapRecords(doc)
	if err != nil {
		return decoded{}, err
	}

	d := decoded{resources: make([]domain.Resource, 0, len(items))}
	for _, item := range items {
		obj, isObj := item.(map[string]any)
		if !isObj {
			d.dropped++
			continue
		}
		rec := newRecord(obj)
		res, ok := normalize(source, rec, fm)
		d.keep(source, rec, fm, res, ok)
	}
	return d, nil
}

func unwrapRecords(doc any) ([]any, error) {
	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range wrapperKeys {
			if arr, ok := v[key].([]any); ok {
				return arr, nil
			}
		}
		return nil, errors.New("decode records: object has no record array")
	default:
		return nil, errors.New("decode records: expected array or object")
	}
}

// decodeCSV reads a header row followed by data rows. Rows with missing or
// non-finite coordinates are skipped unless they carry an address.
func decodeCSV(source string, data []byte, fm FieldMap) (decoded, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return decoded{}, fmt.Errorf("decode csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var d decoded
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return decoded{}, fmt.Errorf("decode csv row: %w", err)
		}

		rec := make(record, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		res, ok := normalize(source, rec, fm)
		d.keep(source, rec, fm, res, ok)
	}
	return d, nil
}
