package storage

import (
	"fmt"
	"strings"
	"time"
)

// SweepReportPath returns sweeps/<yyyy>/<mm>/<runID>.json for a run started at startedAt.
func SweepReportPath(runID string, startedAt time.Time) (string, error) {
	id, err := validateSegment("runID", runID)
	if err != nil {
		return "", err
	}
	startedAt = startedAt.UTC()
	return fmt.Sprintf("sweeps/%04d/%02d/%s.json", startedAt.Year(), int(startedAt.Month()), id), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
