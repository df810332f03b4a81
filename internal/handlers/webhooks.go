package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/platform/httpx"
	"github.com/brightatelier/commerce-api/internal/services"
)

const (
	// PaymentWebhookSecretName names the gateway webhook secret resolved through the guard.
	PaymentWebhookSecretName = "gateway_webhook_secret"
	// ShippingWebhookTokenName names the shipping provider's webhook api key.
	ShippingWebhookTokenName = "shipping_webhook_token"

	paymentEventIDHeader  = "X-Razorpay-Event-Id"
	maxWebhookRequestBody = 256 * 1024
)

// WebhookHandlers receives payment gateway and shipping provider callbacks.
type WebhookHandlers struct {
	webhooks services.WebhookService
	guard    *auth.WebhookGuard
}

// WebhookOption customises webhook handlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookGuard enables signature and api key checks.
func WithWebhookGuard(guard *auth.WebhookGuard) WebhookOption {
	return func(h *WebhookHandlers) {
		h.guard = guard
	}
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(webhooks services.WebhookService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{webhooks: webhooks}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers webhook endpoints. Unsupported methods on /shipping fall through to the
// router's 405 handler.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	payments := r.With()
	shipments := r.With()
	if h.guard != nil {
		payments = r.With(h.guard.RequireSignature(PaymentWebhookSecretName, auth.DefaultGatewaySignatureHeader))
		shipments = r.With(h.guard.RequireAPIKey(ShippingWebhookTokenName, auth.DefaultShippingTokenHeader))
	}
	payments.Post("/payments", h.paymentEvent)
	r.Get("/shipping", h.shippingHealth)
	shipments.Post("/shipping", h.shipmentEvent)
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, status, err := webhookBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), status))
		return
	}
	event, err := services.ParsePaymentEvent(body, r.Header.Get(paymentEventIDHeader))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", webhookParseMessage(err), http.StatusBadRequest))
		return
	}

	writeJSONResponse(w, http.StatusOK, h.webhooks.HandlePaymentEvent(ctx, event))
}

func (h *WebhookHandlers) shippingHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Shipping webhook endpoint is active",
	})
}

func (h *WebhookHandlers) shipmentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, status, err := webhookBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), status))
		return
	}
	event, err := services.ParseShipmentEvent(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", webhookParseMessage(err), http.StatusBadRequest))
		return
	}

	writeJSONResponse(w, http.StatusOK, h.webhooks.HandleShipmentEvent(ctx, event))
}

// webhookBody prefers the raw body captured by the signature guard.
func webhookBody(r *http.Request) ([]byte, int, error) {
	if meta, ok := auth.WebhookVerificationFromContext(r.Context()); ok && len(meta.Body) > 0 {
		return meta.Body, 0, nil
	}
	body, err := readLimitedBody(r, maxWebhookRequestBody)
	switch {
	case errors.Is(err, errBodyTooLarge):
		return nil, http.StatusRequestEntityTooLarge, err
	case err != nil:
		return nil, http.StatusBadRequest, err
	}
	return body, 0, nil
}

func webhookParseMessage(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx >= 0 && errors.Is(err, services.ErrWebhookMalformed) {
		return strings.TrimSpace(msg[idx+2:])
	}
	return msg
}
