package pipeline

import (
	"context"
	"errors"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
)

// ReportTransformer implements Transformer by validating the message body
// with the same rules as POST /report.
type ReportTransformer struct {
	metrics *observability.Metrics
}

// NewTransformer creates a ReportTransformer.
func NewTransformer(metrics *observability.Metrics) *ReportTransformer {
	return &ReportTransformer{metrics: metrics}
}

func (t *ReportTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.Report, error) {
	report, err := domain.ParseReport(raw.Value)
	if err != nil {
		code := "unknown"
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			code = ve.Code
		}
		t.metrics.ObservationsRejected.WithLabelValues(code).Inc()
		return domain.Report{}, err
	}
	return report, nil
}
