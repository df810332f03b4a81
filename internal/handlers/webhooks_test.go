package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/services"
)

const capturedWebhook = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","status":"captured"}}}}`

func newWebhookRouter(svc services.WebhookService, secrets map[string]string) chi.Router {
	guard := auth.NewWebhookGuard(auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if value, ok := secrets[name]; ok {
			return value, nil
		}
		return "", auth.ErrSecretNotConfigured
	}))
	router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(svc, WithWebhookGuard(guard)).Routes))
	return router
}

func TestWebhookHandlersPaymentVerifiedSignature(t *testing.T) {
	svc := &stubWebhookService{result: services.WebhookResult{Success: true, OrderID: "ord_1", Changed: true}}
	router := newWebhookRouter(svc, map[string]string{PaymentWebhookSecretName: "whsec"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewBufferString(capturedWebhook))
	req.Header.Set(auth.DefaultGatewaySignatureHeader, auth.Sign("whsec", capturedWebhook))
	req.Header.Set("X-Razorpay-Event-Id", "evt_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.payments) != 1 {
		t.Fatalf("expected one payment event, got %d", len(svc.payments))
	}
	event := svc.payments[0]
	if event.ID != "evt_1" || event.Event != "payment.captured" || event.PaymentID != "pay_1" || event.GatewayOrderID != "order_1" {
		t.Fatalf("unexpected event %#v", event)
	}
	var resp services.WebhookResult
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.OrderID != "ord_1" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestWebhookHandlersPaymentRejectsBadSignature(t *testing.T) {
	svc := &stubWebhookService{}
	router := newWebhookRouter(svc, map[string]string{PaymentWebhookSecretName: "whsec"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewBufferString(capturedWebhook))
	req.Header.Set(auth.DefaultGatewaySignatureHeader, auth.Sign("other", capturedWebhook))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if len(svc.payments) != 0 {
		t.Fatalf("event must not be processed")
	}
}

func TestWebhookHandlersPaymentWithoutSecretStillProcesses(t *testing.T) {
	svc := &stubWebhookService{result: services.WebhookResult{Success: false, Message: "Order not found for order_1"}}
	router := newWebhookRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewBufferString(capturedWebhook))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(svc.payments) != 1 {
		t.Fatalf("expected event processed without a configured secret")
	}
	var resp services.WebhookResult
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.Message != "Order not found for order_1" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestWebhookHandlersPaymentMalformed(t *testing.T) {
	svc := &stubWebhookService{}
	router := newWebhookRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewBufferString(`{"payload":{}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] != "invalid_payload" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestWebhookHandlersPaymentSecretLookupFailure(t *testing.T) {
	svc := &stubWebhookService{}
	guard := auth.NewWebhookGuard(auth.SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("secret manager down")
	}))
	router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(svc, WithWebhookGuard(guard)).Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewBufferString(capturedWebhook))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestWebhookHandlersShipping(t *testing.T) {
	svc := &stubWebhookService{result: services.WebhookResult{Success: true, OrderID: "ord_1", Message: "Order shipped"}}
	router := newWebhookRouter(svc, map[string]string{ShippingWebhookTokenName: "ship-token"})
	payload := `{"order_id":"ord_1","awb":123456,"current_status":"IN TRANSIT"}`

	t.Run("health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/shipping", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/webhooks/shipping", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rr.Code)
		}
	})

	t.Run("wrong api key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/shipping", bytes.NewBufferString(payload))
		req.Header.Set(auth.DefaultShippingTokenHeader, "nope")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
		if len(svc.shipments) != 0 {
			t.Fatalf("event must not be processed")
		}
	})

	t.Run("event", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/shipping", bytes.NewBufferString(payload))
		req.Header.Set(auth.DefaultShippingTokenHeader, "ship-token")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if len(svc.shipments) != 1 {
			t.Fatalf("expected one shipment event, got %d", len(svc.shipments))
		}
		event := svc.shipments[0]
		if event.OrderID != "ord_1" || event.AWB != "123456" || event.Status != "IN TRANSIT" {
			t.Fatalf("unexpected event %#v", event)
		}
	})
}
