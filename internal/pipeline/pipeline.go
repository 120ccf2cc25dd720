package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw event into a validated report.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.Report, error)
}

// BatchLoader appends reports in order. It returns how many leading reports
// were stored, which is len(reports) when err is nil.
type BatchLoader interface {
	LoadBatch(ctx context.Context, reports []domain.Report) (int, error)
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline feeds agent-pushed reports from the ingest topic into the
// observation store. Offsets are committed per message once its report is
// stored or rejected.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has completed an extract
// without error, i.e. it is connected to the source.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("ingest pipeline has not reached the source yet")
	}
	return nil
}

// backoff is the retry delay shared by extract and load failures. It
// doubles per failure up to maxBackoff and resets on progress.
type backoff struct {
	delay time.Duration
}

func (b *backoff) reset() { b.delay = initialBackoff }

// wait sleeps for the current delay and doubles it. It returns false when
// ctx ends first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	b.delay = min(b.delay*2, maxBackoff)
	return true
}

// Run consumes batches until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	b := &backoff{}
	b.reset()
	for ctx.Err() == nil {
		if !p.cycle(ctx, b) {
			break
		}
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// cycle extracts one batch and stores its valid reports. It returns false
// when the pipeline should stop.
func (p *Pipeline) cycle(ctx context.Context, b *backoff) bool {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err, "retry_in", b.delay)
		return b.wait(ctx)
	}
	p.ready.Store(true)
	if len(batch) == 0 {
		return true
	}
	b.reset()

	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))

	reports, accepted := p.accept(ctx, batch)
	if !p.store(ctx, reports, accepted, b) {
		return false
	}
	if len(reports) > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	}
	return true
}

// accept transforms the batch. Rejected messages are committed at once so a
// malformed payload is never redelivered; the rest are returned in order
// with their source events.
func (p *Pipeline) accept(ctx context.Context, batch []domain.RawEvent) ([]domain.Report, []domain.RawEvent) {
	reports := make([]domain.Report, 0, len(batch))
	accepted := make([]domain.RawEvent, 0, len(batch))
	for _, raw := range batch {
		report, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("report rejected, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.Inc()
			p.commit(ctx, raw)
			continue
		}
		reports = append(reports, report)
		accepted = append(accepted, raw)
	}
	return reports, accepted
}

// store loads reports, committing each offset once its report is stored. A
// failed load is retried in place from the first unstored report until it
// succeeds or ctx ends, so the consumer never moves past an unstored report.
// Only a crash between an append and its commit redelivers a stored report.
func (p *Pipeline) store(ctx context.Context, reports []domain.Report, accepted []domain.RawEvent, b *backoff) bool {
	done := 0
	for done < len(reports) {
		n, err := p.loader.LoadBatch(ctx, reports[done:])
		if err == nil {
			n = len(reports) - done
		}
		n = max(0, min(n, len(reports)-done))
		for _, raw := range accepted[done : done+n] {
			p.commit(ctx, raw)
		}
		done += n
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("load batch failed, retrying",
			"error", err,
			"stored", done,
			"pending", len(reports)-done,
			"retry_in", b.delay,
		)
		if !b.wait(ctx) {
			return false
		}
	}
	return true
}

// commit acknowledges one message if the source supports it.
func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
