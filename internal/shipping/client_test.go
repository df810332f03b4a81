package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvider struct {
	t          *testing.T
	logins     atomic.Int32
	createHits atomic.Int32
	failFirst  int32
	expireOnce atomic.Bool
	lastCreate createOrderPayload
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := f.logins.Add(1)
		writeJSON(w, map[string]any{"token": "tok-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/v1/external/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.expireOnce.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if hit := f.createHits.Add(1); hit <= f.failFirst {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.lastCreate); err != nil {
			f.t.Errorf("decode create payload: %v", err)
		}
		writeJSON(w, map[string]any{"order_id": 381245517, "shipment_id": "380660813", "status": "NEW"})
	})
	mux.HandleFunc("/v1/external/courier/assign/awb", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"awb_assign_status": 1,
			"response": map[string]any{"data": map[string]any{
				"awb_code": "141123221084922", "courier_name": "Delhivery Surface", "courier_company_id": 12,
			}},
		})
	})
	mux.HandleFunc("/v1/external/courier/track/awb/141123221084922", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"tracking_data": map[string]any{
			"track_url": "https://track.example/141123221084922",
			"etd":       "2024-01-07 18:00:00",
			"shipment_track": []any{map[string]any{
				"current_status": "Delivered", "delivered_date": "2024-01-05 14:22:00",
			}},
			"shipment_track_activities": []any{
				map[string]any{"date": "2024-01-05 14:22:00", "status": "7", "activity": "Delivered", "location": "Pune"},
				map[string]any{"date": "", "activity": "ignored"},
			},
		}})
	})
	mux.HandleFunc("/v1/external/orders/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"order already shipped"}`))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, provider *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		BaseURL:        srv.URL,
		Email:          "ops@example.com",
		Password:       "secret",
		PickupLocation: "Primary",
		HTTPClient:     srv.Client(),
		Clock:          func() time.Time { return time.Date(2024, time.January, 2, 9, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func TestCreateOrderRetriesAndConvertsMoney(t *testing.T) {
	provider := &fakeProvider{t: t, failFirst: 2}
	client := newTestClient(t, provider)

	res, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		OrderID:  "01HQORDER",
		Billing:  Address{Name: "Asha Rao Kulkarni", Line1: "12 MG Road", City: "Pune", PostalCode: "411001", Country: "IN", Email: "asha@example.com", Phone: "9876543210"},
		Items:    []Item{{Name: "Mug", Units: 2, UnitPrice: 45050}},
		SubTotal: 90100,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if res.ProviderOrderID != "381245517" || res.ShipmentID != "380660813" {
		t.Fatalf("unexpected ids %+v", res)
	}
	if provider.createHits.Load() != 3 {
		t.Fatalf("expected 2 retries, got %d hits", provider.createHits.Load())
	}
	if provider.logins.Load() != 1 {
		t.Fatalf("expected cached token, got %d logins", provider.logins.Load())
	}
	got := provider.lastCreate
	if got.SubTotal != 901 || got.OrderItems[0].SellingPrice != 450.5 || got.OrderItems[0].SKU != "Mug" {
		t.Fatalf("unexpected money conversion %+v", got)
	}
	if got.BillingCustomerName != "Asha" || got.BillingLastName != "Rao Kulkarni" || got.BillingCountry != "India" {
		t.Fatalf("unexpected billing fields %+v", got)
	}
	if !got.ShippingIsBilling || got.OrderDate != "2024-01-02 09:30" || got.PickupLocation != "Primary" {
		t.Fatalf("unexpected defaults %+v", got)
	}
}

func TestExpiredTokenIsRefreshedOnce(t *testing.T) {
	provider := &fakeProvider{t: t}
	client := newTestClient(t, provider)
	if _, err := client.CreateOrder(context.Background(), CreateOrderRequest{OrderID: "o1"}); err != nil {
		t.Fatalf("first CreateOrder: %v", err)
	}
	provider.expireOnce.Store(true)
	if _, err := client.CreateOrder(context.Background(), CreateOrderRequest{OrderID: "o2"}); err != nil {
		t.Fatalf("second CreateOrder: %v", err)
	}
	if provider.logins.Load() != 2 {
		t.Fatalf("expected re-login after 401, got %d logins", provider.logins.Load())
	}
}

func TestAssignAWBAndTrack(t *testing.T) {
	client := newTestClient(t, &fakeProvider{t: t})
	awb, err := client.AssignAWB(context.Background(), "380660813", "")
	if err != nil {
		t.Fatalf("AssignAWB: %v", err)
	}
	if awb.AWB != "141123221084922" || awb.CourierID != "12" || awb.CourierName != "Delhivery Surface" {
		t.Fatalf("unexpected awb %+v", awb)
	}

	track, err := client.Track(context.Background(), awb.AWB)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if track.ShipmentStatus != "Delivered" || track.DeliveredAt == nil || track.DeliveredAt.Day() != 5 {
		t.Fatalf("unexpected tracking %+v", track)
	}
	if track.EstimatedDelivery == nil || len(track.Activities) != 1 {
		t.Fatalf("expected eta and one parsed activity, got %+v", track)
	}
}

func TestCancelOrderSurfacesClientErrors(t *testing.T) {
	client := newTestClient(t, &fakeProvider{t: t})
	err := client.CancelOrder(context.Background(), "381245517")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest || statusErr.Retryable() {
		t.Fatalf("expected non-retryable 400, got %v", err)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{Email: "ops@example.com"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	tests := map[string]bool{
		"2024-01-05":                true,
		"2024-01-05 14:22:00":       true,
		"05-01-2024":                true,
		"2024-01-05T10:00:00+05:30": true,
		"":                          false,
		"NA":                        false,
		"0000-00-00 00:00:00":       false,
		"tomorrow":                  false,
	}
	for raw, ok := range tests {
		if got := ParseDate(raw); (got != nil) != ok {
			t.Fatalf("ParseDate(%q) = %v, want parsed=%v", raw, got, ok)
		}
	}
	if got := ParseDate("2024-01-05T10:00:00+05:30"); got.Location() != time.UTC || got.Hour() != 4 {
		t.Fatalf("expected UTC normalisation, got %v", got)
	}
}
