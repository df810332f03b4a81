package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/services"
)

func newSyncRouter(h *SyncHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", h.AdminRoutes)
	router.Route("/internal", h.InternalRoutes)
	return router
}

func TestSyncHandlersAdminRange(t *testing.T) {
	svc := &stubReconciliationService{result: services.SyncResult{
		RunID:      "run-1",
		Mode:       services.SyncModeRange,
		Success:    true,
		Message:    "Synced 4 orders, 1 errors",
		SyncCount:  4,
		ErrorCount: 1,
	}}
	router := newSyncRouter(NewSyncHandlers(svc))

	req := httptest.NewRequest(http.MethodPost, "/admin/sync", bytes.NewBufferString(`{"startDate":"2024-01-01","endDate":"2024-01-31","importMissing":true}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", AdminKey: "ops-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.requests) != 1 {
		t.Fatalf("expected one sync call, got %d", len(svc.requests))
	}
	got := svc.requests[0]
	if !got.StartDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", got.StartDate)
	}
	if !got.EndDate.Equal(time.Date(2024, 1, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC)) {
		t.Fatalf("expected end of day, got %v", got.EndDate)
	}
	if !got.ImportMissing || got.Trigger != "admin:ops-1" {
		t.Fatalf("unexpected request %#v", got)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["success"] != true || body["syncCount"] != float64(4) || body["errorCount"] != float64(1) || body["runId"] != "run-1" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSyncHandlersAdminSingleOrder(t *testing.T) {
	svc := &stubReconciliationService{result: services.SyncResult{Success: true, SyncCount: 1}}
	router := newSyncRouter(NewSyncHandlers(svc))

	req := httptest.NewRequest(http.MethodPost, "/admin/sync", bytes.NewBufferString(`{"orderId":" ord_1 ","startDate":"garbage"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := svc.requests[0]; got.OrderID != "ord_1" || !got.StartDate.IsZero() {
		t.Fatalf("order id should take precedence over dates, got %#v", got)
	}
}

func TestSyncHandlersAdminErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "bad date", body: `{"startDate":"01/02/2024","endDate":"2024-01-31"}`, status: http.StatusBadRequest},
		{name: "empty body", body: ``, status: http.StatusBadRequest},
		{name: "invalid request", body: `{}`, err: fmt.Errorf("%w: orderId or startDate and endDate are required", services.ErrSyncInvalidRequest), status: http.StatusBadRequest},
		{name: "unknown order", body: `{"orderId":"nope"}`, err: services.ErrOrderNotFound, status: http.StatusNotFound},
		{name: "not syncable", body: `{"orderId":"ord_1"}`, err: services.ErrSyncNotSyncable, status: http.StatusUnprocessableEntity},
		{name: "failure", body: `{"orderId":"ord_1"}`, err: fmt.Errorf("list failed"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newSyncRouter(NewSyncHandlers(&stubReconciliationService{err: tc.err}))
			req := httptest.NewRequest(http.MethodPost, "/admin/sync", bytes.NewBufferString(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var body syncErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body.Success || body.Message == "" {
				t.Fatalf("unexpected body %#v", body)
			}
		})
	}
}

func TestSyncHandlersAdminRateLimited(t *testing.T) {
	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	svc := &stubReconciliationService{result: services.SyncResult{Success: true}}
	router := newSyncRouter(NewSyncHandlers(svc,
		WithSyncRateLimit(2, time.Minute),
		WithSyncClock(func() time.Time { return now }),
	))
	post := func(path string) int {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"orderId":"ord_1"}`)))
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := post("/admin/sync"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := post("/admin/sync"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := post("/internal/sweeps/sync"); code != http.StatusOK {
		t.Fatalf("scheduler sweep must not share the operator budget, got %d", code)
	}

	now = now.Add(time.Minute)
	if code := post("/admin/sync"); code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", code)
	}
	if len(svc.requests) != 4 {
		t.Fatalf("expected 4 sync calls, got %d", len(svc.requests))
	}
}

func TestSyncHandlersScheduledDefaultsToLookback(t *testing.T) {
	now := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	svc := &stubReconciliationService{result: services.SyncResult{Success: true}}
	router := newSyncRouter(NewSyncHandlers(svc,
		WithSyncLookback(24*time.Hour),
		WithSyncClock(func() time.Time { return now }),
	))

	req := httptest.NewRequest(http.MethodPost, "/internal/sweeps/sync", nil)
	req = req.WithContext(auth.WithServiceIdentity(req.Context(), &auth.ServiceIdentity{Email: "scheduler@proj.iam.gserviceaccount.com"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got := svc.requests[0]
	if !got.StartDate.Equal(now.Add(-24*time.Hour)) || !got.EndDate.Equal(now) {
		t.Fatalf("unexpected window %v - %v", got.StartDate, got.EndDate)
	}
	if got.Trigger != "scheduler:scheduler@proj.iam.gserviceaccount.com" {
		t.Fatalf("unexpected trigger %q", got.Trigger)
	}
}

func TestParseSyncDate(t *testing.T) {
	got, err := parseSyncDate("2024-01-05T10:30:00+05:30", true)
	if err != nil {
		t.Fatalf("parse rfc3339: %v", err)
	}
	if !got.Equal(time.Date(2024, 1, 5, 5, 0, 0, 0, time.UTC)) || got.Location() != time.UTC {
		t.Fatalf("expected UTC instant, got %v", got)
	}
	if got, _ := parseSyncDate("", false); !got.IsZero() {
		t.Fatalf("expected zero time for blank input")
	}
	if _, err := parseSyncDate("5 Jan", false); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
