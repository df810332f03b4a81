package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/services"
)

const maxCheckoutRequestBody = 1 << 20

// CheckoutHandlers exposes the storefront's payment confirmation endpoint. The gateway
// signature is the only credential. Confirm is never throttled: a refused request may carry a
// payment that has already been captured.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/confirm", h.confirm)
}

type checkoutConfirmRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewaySignature string `json:"gateway_signature"`
	// Razorpay Checkout posts its own field names; accepted as aliases.
	RazorpayOrderID   string            `json:"razorpay_order_id"`
	RazorpayPaymentID string            `json:"razorpay_payment_id"`
	RazorpaySignature string            `json:"razorpay_signature"`
	OrderData         checkoutOrderData `json:"orderData"`
}

type checkoutOrderData struct {
	Customer        checkoutCustomer  `json:"customer"`
	Items           []checkoutItem    `json:"items"`
	Subtotal        int64             `json:"subtotal"`
	Shipping        int64             `json:"shipping"`
	Tax             int64             `json:"tax"`
	Total           int64             `json:"total"`
	Currency        string            `json:"currency"`
	Receipt         string            `json:"receipt"`
	ShippingAddress *checkoutAddress  `json:"shippingAddress"`
	BillingAddress  *checkoutAddress  `json:"billingAddress"`
	Notes           map[string]string `json:"notes"`
}

type checkoutCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type checkoutItem struct {
	ProductID string  `json:"productId"`
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     int64   `json:"price"`
	Weight    float64 `json:"weight"`
}

type checkoutAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type checkoutConfirmResponse struct {
	Success          bool             `json:"success"`
	Verified         bool             `json:"verified"`
	Replayed         bool             `json:"replayed,omitempty"`
	FirestoreOrderID string           `json:"firestoreOrderId,omitempty"`
	OrderNumber      string           `json:"orderNumber,omitempty"`
	CustomerID       string           `json:"customerId,omitempty"`
	Shipment         *shipmentPayload `json:"shipment,omitempty"`
	ShipmentError    string           `json:"shipmentError,omitempty"`
	Error            string           `json:"error,omitempty"`
	Message          string           `json:"message,omitempty"`
}

func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, checkoutConfirmResponse{Error: "checkout_unavailable", Message: "checkout service unavailable"})
		return
	}

	var req checkoutConfirmRequest
	if status, err := decodeJSONBody(r, maxCheckoutRequestBody, false, &req); err != nil {
		writeJSONResponse(w, status, checkoutConfirmResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	cmd := services.ConfirmCheckoutCommand{
		GatewayOrderID:   firstNonEmpty(req.GatewayOrderID, req.RazorpayOrderID),
		GatewayPaymentID: firstNonEmpty(req.GatewayPaymentID, req.RazorpayPaymentID),
		Signature:        firstNonEmpty(req.GatewaySignature, req.RazorpaySignature),
		Order:            req.OrderData.toCheckoutOrder(),
	}

	result, err := h.checkout.Confirm(ctx, cmd)
	if err != nil {
		h.writeConfirmError(ctx, w, result, err)
		return
	}

	resp := checkoutConfirmResponse{
		Success:          true,
		Verified:         result.Verified,
		Replayed:         result.Replayed,
		FirestoreOrderID: result.Order.ID,
		OrderNumber:      result.Order.OrderNumber,
		CustomerID:       result.CustomerID,
		ShipmentError:    result.ShipmentError,
	}
	if result.Shipment != nil {
		resp.Shipment = newShipmentPayload(*result.Shipment)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) writeConfirmError(_ context.Context, w http.ResponseWriter, result services.ConfirmCheckoutResult, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		writeJSONResponse(w, http.StatusBadRequest, checkoutConfirmResponse{Error: "invalid_request", Message: "gateway_order_id, gateway_payment_id and gateway_signature are required"})
	case errors.Is(err, services.ErrCheckoutSignatureMismatch):
		writeJSONResponse(w, http.StatusBadRequest, checkoutConfirmResponse{Error: "signature_mismatch", Message: "payment signature verification failed"})
	case errors.Is(err, services.ErrCheckoutConfiguration):
		writeJSONResponse(w, http.StatusInternalServerError, checkoutConfirmResponse{Error: "configuration_error", Message: "payment verification is not configured"})
	case errors.Is(err, services.ErrCheckoutOrderNotRecorded):
		writeJSONResponse(w, http.StatusInternalServerError, checkoutConfirmResponse{
			Verified: result.Verified,
			Error:    "order_not_recorded",
			Message:  "payment verified but the order could not be saved",
		})
	default:
		writeJSONResponse(w, http.StatusInternalServerError, checkoutConfirmResponse{Verified: result.Verified, Error: "checkout_error", Message: "failed to confirm checkout"})
	}
}

func (d checkoutOrderData) toCheckoutOrder() services.CheckoutOrder {
	order := services.CheckoutOrder{
		Contact: domain.Contact{
			Name:  d.Customer.Name,
			Email: d.Customer.Email,
			Phone: d.Customer.Phone,
		},
		Currency: d.Currency,
		Receipt:  d.Receipt,
		Totals: domain.OrderTotals{
			Subtotal: d.Subtotal,
			Shipping: d.Shipping,
			Tax:      d.Tax,
			Total:    d.Total,
		},
		ShippingAddress: d.ShippingAddress.toDomain(),
		BillingAddress:  d.BillingAddress.toDomain(),
		Notes:           d.Notes,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.LineItem{
			ProductID: strings.TrimSpace(item.ProductID),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
			Total:     item.Price * int64(item.Quantity),
			Weight:    item.Weight,
		})
	}
	if order.Totals.Subtotal == 0 {
		for _, item := range order.Items {
			order.Totals.Subtotal += item.Total
		}
	}
	if order.Totals.Total == 0 {
		order.Totals.Total = order.Totals.Subtotal + order.Totals.Shipping + order.Totals.Tax
	}
	return order
}

func (a *checkoutAddress) toDomain() *domain.Address {
	if a == nil {
		return nil
	}
	addr := domain.Address{
		Name:       a.Name,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
	if addr.IsZero() {
		return nil
	}
	return &addr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
