package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/services"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

func newShipmentRouter(svc services.ShipmentService) chi.Router {
	router := chi.NewRouter()
	NewAdminShipmentHandlers(svc).Routes(router)
	return router
}

func decodeAction(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestAdminShipmentHandlersCreate(t *testing.T) {
	var gotOrder string
	svc := &stubShipmentService{
		createFunc: func(_ context.Context, orderID string) (domain.Shipment, error) {
			gotOrder = orderID
			return domain.Shipment{ProviderOrderID: "sr_1", ShipmentID: "shp_1", Status: domain.ShipmentStatusCreated}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/shipment", nil)
	rr := httptest.NewRecorder()
	newShipmentRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotOrder != "ord_1" {
		t.Fatalf("expected order id from path, got %q", gotOrder)
	}
	body := decodeAction(t, rr)
	data, _ := body["data"].(map[string]any)
	if body["success"] != true || data["providerOrderId"] != "sr_1" || data["status"] != "CREATED" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAdminShipmentHandlersAssignAWB(t *testing.T) {
	var gotCourier string
	svc := &stubShipmentService{
		awbFunc: func(_ context.Context, _ string, courierID string) (domain.Shipment, error) {
			gotCourier = courierID
			return domain.Shipment{AWB: "AWB123", CourierName: "Delhivery", Status: domain.ShipmentStatusAWBAssigned}, nil
		},
	}
	router := newShipmentRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/shipment/awb", bytes.NewBufferString(`{"courierId":"24"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotCourier != "24" {
		t.Fatalf("expected courier id passed through, got %q", gotCourier)
	}

	// Courier selection is optional.
	req = httptest.NewRequest(http.MethodPost, "/orders/ord_1/shipment/awb", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || gotCourier != "" {
		t.Fatalf("expected empty body accepted, got %d courier %q", rr.Code, gotCourier)
	}
}

func TestAdminShipmentHandlersLabelAndTrack(t *testing.T) {
	eta := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	svc := &stubShipmentService{
		labelFunc: func(context.Context, string) (shipping.LabelResult, error) {
			return shipping.LabelResult{URL: "https://labels.example/1.pdf"}, nil
		},
		trackFunc: func(context.Context, string) (shipping.TrackingResult, error) {
			return shipping.TrackingResult{
				ShipmentStatus:    "IN TRANSIT",
				EstimatedDelivery: &eta,
				Activities: []shipping.TrackingActivity{
					{At: time.Date(2024, 1, 6, 8, 0, 0, 0, time.UTC), Status: "PICKED UP", Location: "Pune"},
				},
			}, nil
		},
	}
	router := newShipmentRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_1/shipment/label", nil))
	body := decodeAction(t, rr)
	data, _ := body["data"].(map[string]any)
	if rr.Code != http.StatusOK || data["labelUrl"] != "https://labels.example/1.pdf" {
		t.Fatalf("unexpected label response %d %v", rr.Code, body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_1/shipment/track", nil))
	body = decodeAction(t, rr)
	data, _ = body["data"].(map[string]any)
	if rr.Code != http.StatusOK || data["estimatedDelivery"] != "2024-01-09T00:00:00Z" {
		t.Fatalf("unexpected track response %d %v", rr.Code, body)
	}
	activities, _ := data["activities"].([]any)
	if len(activities) != 1 {
		t.Fatalf("expected one activity, got %v", data["activities"])
	}
}

func TestAdminShipmentHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrOrderNotFound, http.StatusNotFound},
		{services.ErrShipmentExists, http.StatusConflict},
		{services.ErrShipmentMissing, http.StatusConflict},
		{fmt.Errorf("%w: shipping address is required", services.ErrShipmentInvalid), http.StatusBadRequest},
		{fmt.Errorf("%w: 502 from provider", services.ErrShipmentProvider), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &stubShipmentService{
			cancelFunc: func(context.Context, string) (domain.Shipment, error) {
				return domain.Shipment{}, tc.err
			},
		}
		rr := httptest.NewRecorder()
		newShipmentRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord_1/shipment/cancel", nil))
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		body := decodeAction(t, rr)
		if body["success"] != false || body["error"] == nil {
			t.Fatalf("%v: unexpected body %v", tc.err, body)
		}
	}
}
