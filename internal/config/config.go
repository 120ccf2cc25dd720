package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Source kinds understood by the provider adapters.
const (
	SourceKindGeoJSON = "geojson"
	SourceKindRecords = "records"
	SourceKindCSV     = "csv"
)

// Store backends for observations.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// SourceConfig describes one provider feed.
type SourceConfig struct {
	Name     string
	Kind     string
	Location string // http(s) URL or local file path
	Snapshot string // optional last-known-good file
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Catalog aggregation.
	Sources        []SourceConfig
	SourceTimeout  time.Duration
	CatalogTTL     time.Duration
	DedupPrecision int

	// Mapbox geocoding of address-only provider records.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Need scoring and hotspots.
	GridStepDegrees      float64
	DensityRadiusDegrees float64
	NeedThreshold        float64
	MaxRecommendations   int
	ScoringWorkers       int
	HexCellKm            float64

	// Observation store.
	StoreBackend         string
	PostgresDSN          string
	ObservationRetention time.Duration

	// Kafka observation ingest.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is loaded first when present;
// real environment variables take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	sourceTimeout, err := parsePositiveDuration("SOURCE_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	catalogTTL, err := parsePositiveDuration("CATALOG_TTL", "5m")
	if err != nil {
		return nil, err
	}

	retention, err := time.ParseDuration(sharedcfg.EnvOrDefault("OBSERVATION_RETENTION", "0s"))
	if err != nil || retention < 0 {
		return nil, errors.New("invalid OBSERVATION_RETENTION")
	}

	sources, err := ParseSources(os.Getenv("SOURCES"))
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Sources:       sources,
		SourceTimeout: sourceTimeout,
		CatalogTTL:    catalogTTL,

		MapboxToken:   mapboxToken,
		MapboxEnabled: mapboxEnabled,
		MapboxTimeout: mapboxTimeout,

		StoreBackend:         strings.ToLower(sharedcfg.EnvOrDefault("STORE_BACKEND", StoreMemory)),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		ObservationRetention: retention,

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-need-reports"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "need-observations"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "needmap"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}

	if cfg.DedupPrecision, err = parseInt("DEDUP_PRECISION", 3, 0, 8); err != nil {
		return nil, err
	}
	if cfg.MapboxCacheSize, err = parseInt("MAPBOX_CACHE_SIZE", 1000, 1, 1_000_000); err != nil {
		return nil, err
	}
	if cfg.MaxRecommendations, err = parseInt("MAX_RECOMMENDATIONS", 5, 1, 1000); err != nil {
		return nil, err
	}
	if cfg.ScoringWorkers, err = parseInt("SCORING_WORKERS", 4, 1, 256); err != nil {
		return nil, err
	}
	if cfg.GridStepDegrees, err = parsePositiveFloat("GRID_STEP_DEGREES", 0.01); err != nil {
		return nil, err
	}
	if cfg.DensityRadiusDegrees, err = parsePositiveFloat("DENSITY_RADIUS_DEGREES", 0.005); err != nil {
		return nil, err
	}
	if cfg.HexCellKm, err = parsePositiveFloat("HEX_CELL_KM", 0.5); err != nil {
		return nil, err
	}
	if cfg.NeedThreshold, err = parseFloat("NEED_THRESHOLD", 50); err != nil {
		return nil, err
	}

	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	switch cfg.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("STORE_BACKEND is postgres but POSTGRES_DSN is not set")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}

	return cfg, nil
}

// ParseSources parses the SOURCES variable: comma-separated entries of the
// form name|kind|location[|snapshot]. Order is preserved and decides which
// provider wins during deduplication.
func ParseSources(raw string) ([]SourceConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var sources []SourceConfig
	seen := make(map[string]struct{})
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("invalid SOURCES entry %q: want name|kind|location[|snapshot]", entry)
		}
		sc := SourceConfig{
			Name:     strings.TrimSpace(parts[0]),
			Kind:     strings.ToLower(strings.TrimSpace(parts[1])),
			Location: strings.TrimSpace(parts[2]),
		}
		if len(parts) == 4 {
			sc.Snapshot = strings.TrimSpace(parts[3])
		}
		if sc.Name == "" || sc.Location == "" {
			return nil, fmt.Errorf("invalid SOURCES entry %q: name and location are required", entry)
		}
		switch sc.Kind {
		case SourceKindGeoJSON, SourceKindRecords, SourceKindCSV:
		default:
			return nil, fmt.Errorf("invalid SOURCES entry %q: unknown kind %q", entry, sc.Kind)
		}
		if _, dup := seen[sc.Name]; dup {
			return nil, fmt.Errorf("invalid SOURCES: duplicate source name %q", sc.Name)
		}
		seen[sc.Name] = struct{}{}
		sources = append(sources, sc)
	}
	return sources, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, minVal, maxVal int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minVal || n > maxVal {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d, %d]", key, minVal, maxVal)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func parsePositiveFloat(key string, def float64) (float64, error) {
	f, err := parseFloat(key, def)
	if err != nil {
		return 0, err
	}
	if f == 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return f, nil
}
