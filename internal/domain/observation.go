package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxNoteLength is the longest note kept on an observation, in characters.
const MaxNoteLength = 140

// Observation is an immutable point report of need.
type Observation struct {
	ID          int64       `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Type        string      `json:"type"`
	Coordinates Coordinates `json:"coordinates"`
	Note        string      `json:"note,omitempty"`
	Count       int         `json:"count"`
}

// Weight is the observation's contribution to population density.
func (o Observation) Weight() float64 {
	if o.Count < 1 {
		return 1
	}
	return float64(o.Count)
}

// Report is a submitted observation before the store assigns ID and time.
type Report struct {
	Type        string
	Coordinates Coordinates
	Note        string
	Count       int
}

// reportPayload is the wire shape shared by POST /report and the ingest topic.
// Pointer fields distinguish an absent value from a zero value.
type reportPayload struct {
	Type  *string  `json:"type"`
	Lat   *float64 `json:"lat"`
	Lng   *float64 `json:"lng"`
	Note  string   `json:"note"`
	Count *int     `json:"count"`
}

// ParseReport decodes and validates a report payload. All errors are
// *ValidationError.
func ParseReport(data []byte) (Report, error) {
	var p reportPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		return Report{}, NewValidationError(CodeInvalidJSON, "request body is not a valid report: "+err.Error())
	}

	var missing []string
	if p.Type == nil || strings.TrimSpace(*p.Type) == "" {
		missing = append(missing, "type")
	}
	if p.Lat == nil {
		missing = append(missing, "lat")
	}
	if p.Lng == nil {
		missing = append(missing, "lng")
	}
	if len(missing) > 0 {
		return Report{}, NewValidationError(CodeMissingFields, "type, lat and lng are required", missing...)
	}

	coords := Coordinates{Lat: *p.Lat, Lng: *p.Lng}
	if !coords.Valid() {
		return Report{}, NewValidationError(CodeInvalidCoordinates, "lat must be in [-90,90] and lng in [-180,180]", "lat", "lng")
	}

	count := 1
	if p.Count != nil {
		if *p.Count < 1 {
			return Report{}, NewValidationError(CodeInvalidParameter, "count must be a positive integer", "count")
		}
		count = *p.Count
	}

	return Report{
		Type:        strings.TrimSpace(*p.Type),
		Coordinates: coords,
		Note:        TruncateNote(p.Note),
		Count:       count,
	}, nil
}

// TruncateNote cuts a note to MaxNoteLength characters without splitting a
// multi-byte rune.
func TruncateNote(note string) string {
	if utf8.RuneCountInString(note) <= MaxNoteLength {
		return note
	}
	runes := []rune(note)
	return string(runes[:MaxNoteLength])
}

// NewObservation stamps a report with its store-assigned ID and time.
func NewObservation(id int64, at time.Time, r Report) Observation {
	count := r.Count
	if count < 1 {
		count = 1
	}
	return Observation{
		ID:          id,
		Timestamp:   at,
		Type:        r.Type,
		Coordinates: r.Coordinates,
		Note:        TruncateNote(r.Note),
		Count:       count,
	}
}

// ObservationPoints extracts the coordinates of each observation.
func ObservationPoints(observations []Observation) []Coordinates {
	out := make([]Coordinates, len(observations))
	for i, o := range observations {
		out[i] = o.Coordinates
	}
	return out
}
