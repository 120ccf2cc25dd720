package store

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/needmap-service/internal/domain"
)

// Publisher forwards accepted observations to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, observations []domain.Observation) error
}

// PublishingStore wraps a Store and publishes every accepted observation.
// The store remains the source of truth: a publish failure is logged and
// does not fail the append.
type PublishingStore struct {
	inner     Store
	publisher Publisher
	logger    *slog.Logger
}

// NewPublishingStore creates a publishing decorator around a store.
func NewPublishingStore(inner Store, publisher Publisher, logger *slog.Logger) *PublishingStore {
	return &PublishingStore{
		inner:     inner,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *PublishingStore) Append(ctx context.Context, r domain.Report) (domain.Observation, error) {
	obs, err := s.inner.Append(ctx, r)
	if err != nil {
		return obs, err
	}
	if err := s.publisher.Publish(ctx, []domain.Observation{obs}); err != nil {
		s.logger.Warn("publish observation failed", "id", obs.ID, "error", err)
	}
	return obs, nil
}

func (s *PublishingStore) List(ctx context.Context) ([]domain.Observation, error) {
	return s.inner.List(ctx)
}
