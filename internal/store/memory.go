package store

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Store persists need observations. Append assigns the ID and timestamp;
// List returns observations in insertion order.
type Store interface {
	Append(ctx context.Context, r domain.Report) (domain.Observation, error)
	List(ctx context.Context) ([]domain.Observation, error)
}

// Memory is a process-local Store. A non-zero retention hides observations
// older than the window from List and compacts them away on Append.
type Memory struct {
	clock     clockwork.Clock
	retention time.Duration

	mu     sync.RWMutex
	nextID int64
	items  []domain.Observation
}

// NewMemory creates an empty in-memory store. Zero retention keeps everything.
func NewMemory(clock clockwork.Clock, retention time.Duration) *Memory {
	return &Memory{
		clock:     clock,
		retention: retention,
		nextID:    1,
	}
}

func (m *Memory) Append(ctx context.Context, r domain.Report) (domain.Observation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Observation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	if m.retention > 0 {
		m.items = m.compact(now)
	}
	obs := domain.NewObservation(m.nextID, now, r)
	m.nextID++
	m.items = append(m.items, obs)
	return obs, nil
}

func (m *Memory) List(ctx context.Context) ([]domain.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Observation, 0, len(m.items))
	for _, o := range m.items {
		if m.retained(o, now) {
			out = append(out, o)
		}
	}
	return out, nil
}

// compact drops expired observations. Items are in timestamp order, so the
// first retained item marks the cut. Callers hold the write lock.
func (m *Memory) compact(now time.Time) []domain.Observation {
	for i, o := range m.items {
		if m.retained(o, now) {
			if i == 0 {
				return m.items
			}
			return append([]domain.Observation(nil), m.items[i:]...)
		}
	}
	return m.items[:0]
}

func (m *Memory) retained(o domain.Observation, now time.Time) bool {
	return m.retention <= 0 || now.Sub(o.Timestamp) <= m.retention
}
