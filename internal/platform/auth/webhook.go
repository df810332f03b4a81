package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultGatewaySignatureHeader carries the hex HMAC of the raw webhook body.
	DefaultGatewaySignatureHeader = "X-Razorpay-Signature"
	// DefaultShippingTokenHeader carries the shared API key configured on the provider dashboard.
	DefaultShippingTokenHeader = "X-Api-Key"
)

// ErrSecretNotConfigured is returned by SecretProvider implementations when a secret is simply
// absent, as opposed to unreachable.
var ErrSecretNotConfigured = errors.New("auth: secret not configured")

// SecretProvider resolves shared secrets used for webhook validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", ErrSecretNotConfigured
	}
	return f(ctx, name)
}

// WebhookVerification describes what the guard established about an inbound webhook.
type WebhookVerification struct {
	SecretConfigured bool
	Verified         bool
	Body             []byte
}

type webhookContextKey struct{}

// WithWebhookVerification stores the verification result on the context.
func WithWebhookVerification(ctx context.Context, v *WebhookVerification) context.Context {
	if v == nil {
		return ctx
	}
	return context.WithValue(ctx, webhookContextKey{}, v)
}

// WebhookVerificationFromContext returns the verification result recorded by the guard.
func WebhookVerificationFromContext(ctx context.Context) (*WebhookVerification, bool) {
	v, ok := ctx.Value(webhookContextKey{}).(*WebhookVerification)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// WebhookGuard authenticates inbound webhooks whose secrets are optional defence in depth: an
// unconfigured secret is logged and the request passes, a configured secret must match.
type WebhookGuard struct {
	provider SecretProvider
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time
	maxBody  int64
}

// WebhookOption customises the guard.
type WebhookOption func(*WebhookGuard)

// WithWebhookLogger overrides the guard logger.
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(g *WebhookGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithWebhookMetrics sets the metrics recorder.
func WithWebhookMetrics(metrics MetricsRecorder) WebhookOption {
	return func(g *WebhookGuard) {
		g.metrics = metrics
	}
}

// WithWebhookClock injects a custom clock, primarily for tests.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(g *WebhookGuard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithWebhookMaxBody caps the number of body bytes read for signature computation.
func WithWebhookMaxBody(limit int64) WebhookOption {
	return func(g *WebhookGuard) {
		if limit > 0 {
			g.maxBody = limit
		}
	}
}

// NewWebhookGuard builds a guard backed by the given secret provider.
func NewWebhookGuard(provider SecretProvider, opts ...WebhookOption) *WebhookGuard {
	guard := &WebhookGuard{
		provider: provider,
		logger:   log.Default(),
		now:      time.Now,
		maxBody:  1 << 20,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(guard)
		}
	}
	return guard
}

// RequireSignature verifies header as the hex HMAC-SHA256 of the exact raw body. A mismatch is
// rejected with 400.
func (g *WebhookGuard) RequireSignature(secretName, header string) func(http.Handler) http.Handler {
	if strings.TrimSpace(header) == "" {
		header = DefaultGatewaySignatureHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := g.now()
			ctx := r.Context()

			body, err := readAndRestoreBody(r, g.maxBody)
			if err != nil {
				g.record(ctx, "webhook_signature", false, "body_unreadable", start)
				respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read webhook body")
				return
			}

			secret, configured, err := g.loadSecret(ctx, secretName)
			if err != nil {
				g.logger.Printf("auth: webhook secret %s lookup failed: %v", secretName, err)
				g.record(ctx, "webhook_signature", false, "secret_unavailable", start)
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret unavailable")
				return
			}

			meta := &WebhookVerification{SecretConfigured: configured, Body: body}
			if !configured {
				g.logger.Printf("auth: webhook secret %s not configured; processing unverified event", secretName)
				g.record(ctx, "webhook_signature", true, "secret_not_configured", start)
				next.ServeHTTP(w, r.WithContext(WithWebhookVerification(ctx, meta)))
				return
			}

			signature := strings.TrimSpace(r.Header.Get(header))
			if signature == "" {
				g.record(ctx, "webhook_signature", false, "signature_missing", start)
				respondAuthError(w, http.StatusBadRequest, "signature_missing", "webhook signature header missing")
				return
			}

			ok, _ := VerifySignature(secret, string(body), signature)
			if !ok {
				g.record(ctx, "webhook_signature", false, "signature_mismatch", start)
				respondAuthError(w, http.StatusBadRequest, "signature_mismatch", "webhook signature verification failed")
				return
			}

			meta.Verified = true
			g.record(ctx, "webhook_signature", true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithWebhookVerification(ctx, meta)))
		})
	}
}

// RequireAPIKey compares header with the configured token. A mismatch is rejected with 401.
func (g *WebhookGuard) RequireAPIKey(secretName, header string) func(http.Handler) http.Handler {
	if strings.TrimSpace(header) == "" {
		header = DefaultShippingTokenHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := g.now()
			ctx := r.Context()

			token, configured, err := g.loadSecret(ctx, secretName)
			if err != nil {
				g.logger.Printf("auth: webhook token %s lookup failed: %v", secretName, err)
				g.record(ctx, "webhook_api_key", false, "secret_unavailable", start)
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "webhook token unavailable")
				return
			}
			if !configured {
				g.logger.Printf("auth: webhook token %s not configured; accepting request", secretName)
				g.record(ctx, "webhook_api_key", true, "secret_not_configured", start)
				next.ServeHTTP(w, r.WithContext(WithWebhookVerification(ctx, &WebhookVerification{})))
				return
			}

			received := strings.TrimSpace(r.Header.Get(header))
			if subtle.ConstantTimeCompare([]byte(received), []byte(token)) != 1 {
				g.record(ctx, "webhook_api_key", false, "api_key_mismatch", start)
				respondAuthError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook api key")
				return
			}

			g.record(ctx, "webhook_api_key", true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithWebhookVerification(ctx, &WebhookVerification{SecretConfigured: true, Verified: true})))
		})
	}
}

func (g *WebhookGuard) loadSecret(ctx context.Context, name string) (string, bool, error) {
	if g == nil || g.provider == nil || strings.TrimSpace(name) == "" {
		return "", false, nil
	}
	secret, err := g.provider.GetSecret(ctx, name)
	if err != nil {
		if errors.Is(err, ErrSecretNotConfigured) {
			return "", false, nil
		}
		return "", false, err
	}
	secret = strings.TrimSpace(secret)
	return secret, secret != "", nil
}

func (g *WebhookGuard) record(ctx context.Context, kind string, success bool, reason string, start time.Time) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.RecordVerification(ctx, kind, success, reason, g.now().Sub(start))
}

func readAndRestoreBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}
