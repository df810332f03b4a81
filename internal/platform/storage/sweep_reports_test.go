package storage

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/brightatelier/commerce-api/internal/services"
)

func TestSweepReportWriterUsesDatedPath(t *testing.T) {
	obj := &bufferObject{}
	var gotObject string
	jw, err := newJSONWriter("exports", func(_ context.Context, _, object string) io.WriteCloser {
		gotObject = object
		return obj
	})
	if err != nil {
		t.Fatalf("newJSONWriter: %v", err)
	}
	writer, err := NewSweepReportWriter(jw)
	if err != nil {
		t.Fatalf("NewSweepReportWriter: %v", err)
	}

	report := services.SweepReport{
		RunID:     "run-7",
		Mode:      services.SyncModeImport,
		SyncCount: 1,
		Failures:  []services.SweepFailure{{GatewayOrderID: "order_X", Error: "timeout"}},
		StartedAt: time.Date(2024, 1, 31, 22, 0, 0, 0, time.UTC),
	}
	uri, err := writer.WriteSweepReport(context.Background(), report)
	if err != nil {
		t.Fatalf("WriteSweepReport: %v", err)
	}
	if gotObject != "sweeps/2024/01/run-7.json" || uri != "gs://exports/sweeps/2024/01/run-7.json" {
		t.Fatalf("unexpected object %q uri %q", gotObject, uri)
	}
	var decoded services.SweepReport
	if err := json.Unmarshal(obj.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RunID != "run-7" || len(decoded.Failures) != 1 {
		t.Fatalf("unexpected report %+v", decoded)
	}

	if _, err := writer.WriteSweepReport(context.Background(), services.SweepReport{}); err == nil {
		t.Fatalf("expected error for missing run id")
	}
	if _, err := NewSweepReportWriter(nil); err == nil {
		t.Fatalf("expected error for nil writer")
	}
}
