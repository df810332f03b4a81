package storage

import (
	"context"
	"errors"

	"github.com/brightatelier/commerce-api/internal/services"
)

// SweepReportWriter stores reconciliation sweep reports as JSON objects.
type SweepReportWriter struct {
	writer *JSONWriter
}

var _ services.SweepReportWriter = (*SweepReportWriter)(nil)

// NewSweepReportWriter wraps a JSON writer bound to the exports bucket.
func NewSweepReportWriter(writer *JSONWriter) (*SweepReportWriter, error) {
	if writer == nil {
		return nil, errors.New("storage: json writer is required")
	}
	return &SweepReportWriter{writer: writer}, nil
}

func (w *SweepReportWriter) WriteSweepReport(ctx context.Context, report services.SweepReport) (string, error) {
	object, err := SweepReportPath(report.RunID, report.StartedAt)
	if err != nil {
		return "", err
	}
	return w.writer.WriteJSON(ctx, object, report)
}
