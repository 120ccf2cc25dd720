package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/needmap-service/internal/config"
	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
)

// maxPayloadBytes caps how much of a provider response is read.
const maxPayloadBytes = 32 << 20

// Feed fetches one provider's payload and normalizes it into canonical
// resources. Fetch never fails: outages are logged, counted, and degrade to
// the last-known-good snapshot or to an empty list.
type Feed struct {
	name       string
	location   string
	snapshot   string
	decode     decodeFunc
	fields     FieldMap
	httpClient *http.Client
	geocoder   domain.Geocoder
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// FeedOption configures optional Feed behaviour.
type FeedOption func(*Feed)

// WithGeocoder enables geocoding of records that have an address but no
// coordinates. Without it such records are dropped.
func WithGeocoder(g domain.Geocoder) FeedOption {
	return func(f *Feed) { f.geocoder = g }
}

// NewFeed creates the adapter for one configured source.
func NewFeed(sc config.SourceConfig, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...FeedOption) (*Feed, error) {
	var decode decodeFunc
	switch sc.Kind {
	case config.SourceKindGeoJSON:
		decode = decodeGeoJSON
	case config.SourceKindRecords:
		decode = decodeRecords
	case config.SourceKindCSV:
		decode = decodeCSV
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", sc.Name, sc.Kind)
	}

	f := &Feed{
		name:     sc.Name,
		location: sc.Location,
		snapshot: sc.Snapshot,
		decode:   decode,
		fields:   DefaultFieldMap,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger.With("source", sc.Name),
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// NewFeeds creates adapters for every configured source, in order.
func NewFeeds(sources []config.SourceConfig, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...FeedOption) ([]*Feed, error) {
	feeds := make([]*Feed, 0, len(sources))
	for _, sc := range sources {
		f, err := NewFeed(sc, timeout, logger, metrics, opts...)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// Name identifies the source in catalog payloads and metrics.
func (f *Feed) Name() string { return f.name }

// Fetch retrieves and normalizes the provider payload.
func (f *Feed) Fetch(ctx context.Context) []domain.Resource {
	start := time.Now()
	defer func() {
		f.metrics.SourceFetchDuration.WithLabelValues(f.name).Observe(time.Since(start).Seconds())
	}()

	data, err := f.read(ctx)
	if err == nil {
		d, decodeErr := f.decode(f.name, data, f.fields)
		if decodeErr == nil {
			resources := f.locate(ctx, d)
			f.metrics.SourceFetches.WithLabelValues(f.name, "success").Inc()
			f.logger.Debug("source fetched", "resources", len(resources), "dropped", d.dropped)
			if f.isRemote() && len(resources) > 0 {
				f.saveSnapshot(data)
			}
			return resources
		}
		err = decodeErr
	}

	f.logger.Warn("source unavailable", "location", f.location, "error", err)
	return f.fallback(ctx)
}

// fallback serves the last-known-good snapshot, if one is configured.
func (f *Feed) fallback(ctx context.Context) []domain.Resource {
	if f.snapshot == "" {
		f.metrics.SourceFetches.WithLabelValues(f.name, "error").Inc()
		return []domain.Resource{}
	}

	data, err := os.ReadFile(f.snapshot)
	if err != nil {
		f.metrics.SourceFetches.WithLabelValues(f.name, "error").Inc()
		f.logger.Warn("snapshot unavailable", "snapshot", f.snapshot, "error", err)
		return []domain.Resource{}
	}

	d, err := f.decode(f.name, data, f.fields)
	if err != nil {
		f.metrics.SourceFetches.WithLabelValues(f.name, "error").Inc()
		f.logger.Warn("snapshot unreadable", "snapshot", f.snapshot, "error", err)
		return []domain.Resource{}
	}

	resources := f.locate(ctx, d)
	f.metrics.SourceFetches.WithLabelValues(f.name, "fallback").Inc()
	f.logger.Info("serving snapshot", "snapshot", f.snapshot, "resources", len(resources))
	return resources
}

// locate geocodes address-only records when a geocoder is configured and
// records every record that ends up unusable as dropped.
func (f *Feed) locate(ctx context.Context, d decoded) []domain.Resource {
	resources := d.resources
	dropped := d.dropped
	if f.geocoder == nil {
		dropped += len(d.unlocated)
	} else {
		located := 0
		for _, res := range d.unlocated {
			if ctx.Err() != nil {
				dropped++
				continue
			}
			coords, found, err := f.geocoder.Geocode(ctx, res.Address)
			if err != nil {
				f.logger.Debug("geocode failed", "name", res.Name, "error", err)
			}
			if err != nil || !found {
				dropped++
				continue
			}
			res.Coordinates = coords
			resources = append(resources, res)
			located++
		}
		if len(d.unlocated) > 0 {
			f.logger.Debug("address-only records geocoded", "located", located, "candidates", len(d.unlocated))
		}
	}
	f.recordDropped(dropped)
	if resources == nil {
		resources = []domain.Resource{}
	}
	return resources
}

func (f *Feed) read(ctx context.Context) ([]byte, error) {
	if !f.isRemote() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return os.ReadFile(strings.TrimPrefix(f.location, "file://"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/geo+json, text/csv;q=0.9, */*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider error: status %d: %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// saveSnapshot replaces the snapshot file atomically so a crash mid-write
// never leaves a truncated last-known-good copy.
func (f *Feed) saveSnapshot(data []byte) {
	if f.snapshot == "" {
		return
	}

	dir := filepath.Dir(f.snapshot)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		f.logger.Warn("snapshot write failed", "snapshot", f.snapshot, "error", err)
		return
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		f.logger.Warn("snapshot write failed", "snapshot", f.snapshot, "error", errors.Join(writeErr, closeErr))
		return
	}
	if err := os.Rename(tmpName, f.snapshot); err != nil {
		_ = os.Remove(tmpName)
		f.logger.Warn("snapshot write failed", "snapshot", f.snapshot, "error", err)
	}
}

func (f *Feed) recordDropped(n int) {
	if n > 0 {
		f.metrics.SourceRecordsDropped.WithLabelValues(f.name).Add(float64(n))
	}
}

func (f *Feed) isRemote() bool {
	return strings.HasPrefix(f.location, "http://") || strings.HasPrefix(f.location, "https://")
}
