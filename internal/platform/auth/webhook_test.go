package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

type recordingMetrics struct {
	mu      sync.Mutex
	records []verificationRecord
}

type verificationRecord struct {
	kind    string
	success bool
	reason  string
}

func (m *recordingMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, verificationRecord{kind: kind, success: success, reason: reason})
}

func (m *recordingMetrics) last() verificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return verificationRecord{}
	}
	return m.records[len(m.records)-1]
}

type mapSecretProvider map[string]string

func (m mapSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := m[name]; ok {
		return secret, nil
	}
	return "", ErrSecretNotConfigured
}

func newTestGuard(secrets mapSecretProvider, metrics *recordingMetrics) *WebhookGuard {
	return NewWebhookGuard(secrets,
		WithWebhookLogger(noopLogger{}),
		WithWebhookMetrics(metrics),
		WithWebhookClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
	)
}

func TestRequireSignature_ValidBodyPassesAndRestoresBody(t *testing.T) {
	metrics := &recordingMetrics{}
	guard := newTestGuard(mapSecretProvider{"gateway-webhook": "whsec"}, metrics)

	body := []byte(`{"event":"payment.captured"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set(DefaultGatewaySignatureHeader, Sign("whsec", string(body)))
	rr := httptest.NewRecorder()

	guard.RequireSignature("gateway-webhook", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := WebhookVerificationFromContext(r.Context())
		if !ok || !meta.Verified || !meta.SecretConfigured {
			t.Fatalf("expected verified metadata, got %+v", meta)
		}
		got, _ := io.ReadAll(r.Body)
		if !bytes.Equal(got, body) {
			t.Fatalf("body not restored: %q", got)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rec := metrics.last(); !rec.success || rec.reason != "ok" {
		t.Fatalf("unexpected metric %+v", rec)
	}
}

func TestRequireSignature_MismatchRejectedWith400(t *testing.T) {
	metrics := &recordingMetrics{}
	guard := newTestGuard(mapSecretProvider{"gateway-webhook": "whsec"}, metrics)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader([]byte(`{"event":"payment.captured"}`)))
	req.Header.Set(DefaultGatewaySignatureHeader, Sign("whsec", `{"event":"payment.failed"}`))
	rr := httptest.NewRecorder()

	called := false
	guard.RequireSignature("gateway-webhook", "")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	if called {
		t.Fatal("handler must not run on signature mismatch")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rec := metrics.last(); rec.success || rec.reason != "signature_mismatch" {
		t.Fatalf("unexpected metric %+v", rec)
	}
}

func TestRequireSignature_MissingSecretStillProcesses(t *testing.T) {
	metrics := &recordingMetrics{}
	guard := newTestGuard(mapSecretProvider{}, metrics)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()

	guard.RequireSignature("gateway-webhook", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := WebhookVerificationFromContext(r.Context())
		if !ok || meta.SecretConfigured || meta.Verified {
			t.Fatalf("expected unverified metadata, got %+v", meta)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rec := metrics.last(); rec.reason != "secret_not_configured" {
		t.Fatalf("unexpected metric %+v", rec)
	}
}

func TestRequireSignature_SecretLookupFailure(t *testing.T) {
	guard := NewWebhookGuard(SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("secret manager down")
	}), WithWebhookLogger(noopLogger{}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	guard.RequireSignature("gateway-webhook", "")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRequireAPIKey(t *testing.T) {
	cases := []struct {
		name     string
		secrets  mapSecretProvider
		header   string
		wantCode int
	}{
		{name: "match", secrets: mapSecretProvider{"shipping-token": "tok"}, header: "tok", wantCode: http.StatusOK},
		{name: "mismatch", secrets: mapSecretProvider{"shipping-token": "tok"}, header: "nope", wantCode: http.StatusUnauthorized},
		{name: "missing header", secrets: mapSecretProvider{"shipping-token": "tok"}, header: "", wantCode: http.StatusUnauthorized},
		{name: "not configured", secrets: mapSecretProvider{}, header: "", wantCode: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			guard := newTestGuard(tc.secrets, &recordingMetrics{})
			req := httptest.NewRequest(http.MethodPost, "/webhooks/shipping", nil)
			if tc.header != "" {
				req.Header.Set(DefaultShippingTokenHeader, tc.header)
			}
			rr := httptest.NewRecorder()
			guard.RequireAPIKey("shipping-token", "")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rr, req)
			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rr.Code)
			}
		})
	}
}
