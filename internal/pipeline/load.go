package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
	"github.com/couchcryptid/needmap-service/internal/store"
)

// StoreLoader implements BatchLoader by appending each report to the
// observation store. It stops at the first failed append and reports how
// many reports were stored before it, so the pipeline resumes from there.
type StoreLoader struct {
	store   store.Store
	metrics *observability.Metrics
}

// NewStoreLoader creates a loader that writes into s.
func NewStoreLoader(s store.Store, metrics *observability.Metrics) *StoreLoader {
	return &StoreLoader{store: s, metrics: metrics}
}

func (l *StoreLoader) LoadBatch(ctx context.Context, reports []domain.Report) (int, error) {
	for i, r := range reports {
		if _, err := l.store.Append(ctx, r); err != nil {
			return i, fmt.Errorf("append report %d of %d: %w", i+1, len(reports), err)
		}
		l.metrics.ObservationsIngested.WithLabelValues("kafka").Inc()
	}
	return len(reports), nil
}
