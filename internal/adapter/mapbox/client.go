package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
)

// MinRelevance is the lowest Mapbox relevance score accepted as a match.
// Weaker matches usually land on the wrong block or the city centroid.
const MinRelevance = 0.6

// Client implements domain.Geocoder using the Mapbox forward geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.mapbox.com/geocoding/v5/mapbox.places",
		metrics: metrics,
		logger:  logger,
	}
}

// Geocode resolves a street address to coordinates.
func (c *Client) Geocode(ctx context.Context, address string) (domain.Coordinates, bool, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(address))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"address,poi"},
	}

	start := time.Now()
	f, err := c.lookup(ctx, u+"?"+params.Encode())
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.Coordinates{}, false, err
	}

	if f == nil || len(f.Center) != 2 || f.Relevance < MinRelevance {
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return domain.Coordinates{}, false, nil
	}

	// Mapbox returns [lon, lat].
	coords := domain.Coordinates{Lat: f.Center[1], Lng: f.Center[0]}
	if !coords.Valid() {
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return domain.Coordinates{}, false, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	c.logger.Debug("address geocoded", "address", address, "place", f.PlaceName, "relevance", f.Relevance)
	return coords, true, nil
}

// lookup returns the best feature, or nil when Mapbox found nothing.
func (c *Client) lookup(ctx context.Context, fullURL string) (*feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(mapboxResp.Features) == 0 {
		return nil, nil
	}
	return &mapboxResp.Features[0], nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Relevance float64   `json:"relevance"`
}
