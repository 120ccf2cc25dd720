package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/hotspot"
)

// maxBodyBytes caps request bodies on POST endpoints.
const maxBodyBytes = 1 << 20

const codeInternal = "internal_error"

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

type resourcesResponse struct {
	Count       int               `json:"count"`
	Results     []domain.Resource `json:"results"`
	Sources     map[string]int    `json:"sources"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

type reportResponse struct {
	OK       bool  `json:"ok"`
	ReportID int64 `json:"reportId"`
}

type reportsResponse struct {
	Count   int                  `json:"count"`
	Results []domain.Observation `json:"results"`
}

type recommendationsRequest struct {
	Bounds           *domain.Bounds        `json:"bounds"`
	ExistingServices *[]domain.Coordinates `json:"existingServices"`
	GridStep         *float64              `json:"gridStep"`
	MaxResults       *int                  `json:"maxResults"`
}

type recommendationsResponse struct {
	Count   int                     `json:"count"`
	Results []domain.Recommendation `json:"results"`
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	snap, err := s.api.Catalog.Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resourcesResponse{
		Count:       len(snap.Results),
		Results:     snap.Results,
		Sources:     snap.Sources,
		LastUpdated: snap.LastUpdated,
	})
}

func (s *Server) handleHotspots(w http.ResponseWriter, r *http.Request) {
	cellKm := s.api.HexCellKm
	if raw := r.URL.Query().Get("cellKm"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, r, domain.NewValidationError(domain.CodeInvalidParameter, "cellKm must be a number", "cellKm"))
			return
		}
		cellKm = v
	}

	observations, err := s.api.Store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	cells, err := hotspot.Hexbin(domain.ObservationPoints(observations), cellKm)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.HotspotDuration.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, hotspot.FeatureCollection(cells))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := domain.ParseReport(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	obs, err := s.api.Store.Append(r.Context(), report)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.ObservationsIngested.WithLabelValues("http").Inc()

	writeJSON(w, http.StatusOK, reportResponse{OK: true, ReportID: obs.ID})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	observations, err := s.api.Store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reportsResponse{Count: len(observations), Results: observations})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req recommendationsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, domain.NewValidationError(domain.CodeInvalidJSON, "request body is not valid JSON: "+err.Error()))
		return
	}
	if req.Bounds == nil {
		s.writeError(w, r, domain.NewValidationError(domain.CodeMissingFields, "bounds is required", "bounds"))
		return
	}

	params := s.api.Scorer.Params()
	if req.GridStep != nil {
		params.GridStep = *req.GridStep
	}
	if req.MaxResults != nil {
		params.MaxResults = *req.MaxResults
	}

	var services []domain.Coordinates
	if req.ExistingServices != nil {
		services = *req.ExistingServices
		for _, c := range services {
			if !c.Valid() {
				s.writeError(w, r, domain.NewValidationError(domain.CodeInvalidCoordinates,
					"existingServices entries must have lat in [-90,90] and lng in [-180,180]", "existingServices"))
				return
			}
		}
	} else {
		snap, err := s.api.Catalog.Get(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		services = snap.Locations()
	}

	observations, err := s.api.Store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	recs, err := s.api.Scorer.Recommend(r.Context(), observations, services, *req.Bounds, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{Count: len(recs), Results: recs})
}

// readBody reads a size-limited request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.NewValidationError(domain.CodeInvalidJSON, "request body exceeds 1 MiB")
		}
		return nil, err
	}
	return body, nil
}

// writeError maps validation failures to 400 and anything else to 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		if r.Method == http.MethodPost && r.URL.Path == "/report" {
			s.metrics.ObservationsRejected.WithLabelValues(ve.Code).Inc()
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   ve.Code,
			Message: ve.Message,
			Fields:  ve.Fields,
		})
		return
	}

	requestLogger(r, s.logger).Error("request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   codeInternal,
		Message: "internal error",
	})
}
