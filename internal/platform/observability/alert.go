package observability

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/brightatelier/commerce-api/internal/platform/requestctx"
)

// Alert describes an operator-facing incident.
type Alert struct {
	Title   string
	Tags    map[string]string
	Details map[string]any
}

// Alerter raises Alerts to an error-tracking backend. When no DSN is configured alerts are
// logged only.
type Alerter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// NewAlerter initialises the Sentry client. An empty dsn yields a log-only alerter.
func NewAlerter(dsn, environment string, logger *zap.Logger) (*Alerter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Alerter{logger: logger}
	if dsn == "" {
		return a, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, err
	}
	a.hub = sentry.NewHub(client, sentry.NewScope())
	return a, nil
}

// Raise logs the alert and forwards it to Sentry when configured.
func (a *Alerter) Raise(ctx context.Context, alert Alert) {
	if a == nil {
		return
	}
	fields := []zap.Field{zap.String("alert", alert.Title)}
	for k, v := range alert.Tags {
		fields = append(fields, zap.String(k, v))
	}
	fields = append(fields, zap.Any("details", alert.Details))
	logger := a.logger
	if requestctx.HasLogger(ctx) {
		logger = requestctx.Logger(ctx)
	}
	logger.Error("operator alert", fields...)

	if a.hub == nil {
		return
	}
	hub := a.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		for k, v := range alert.Tags {
			scope.SetTag(k, v)
		}
		if len(alert.Details) > 0 {
			scope.SetContext("details", sentry.Context(alert.Details))
		}
		hub.CaptureMessage(alert.Title)
	})
}

// Flush waits for buffered events to be delivered.
func (a *Alerter) Flush(timeout time.Duration) bool {
	if a == nil || a.hub == nil {
		return true
	}
	return a.hub.Flush(timeout)
}
