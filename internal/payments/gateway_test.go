package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeGateway struct {
	name     string
	lastOp   string
	order    GatewayOrder
	payments []GatewayPayment
	err      error
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) FetchOrder(context.Context, string) (GatewayOrder, error) {
	f.lastOp = "fetch"
	return f.order, f.err
}

func (f *fakeGateway) FetchOrderPayments(context.Context, string) ([]GatewayPayment, error) {
	f.lastOp = "payments"
	return f.payments, f.err
}

func (f *fakeGateway) ListOrders(context.Context, ListOrdersRequest) ([]GatewayOrder, error) {
	f.lastOp = "list"
	return []GatewayOrder{f.order}, f.err
}

func TestEffectiveState(t *testing.T) {
	base := time.Date(2024, time.January, 3, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		attempts []GatewayPayment
		wantID   string
		wantOK   bool
	}{
		{name: "no attempts"},
		{
			name:     "only created",
			attempts: []GatewayPayment{{ID: "pay_a", State: StateCreated}},
		},
		{
			name: "captured beats later failure",
			attempts: []GatewayPayment{
				{ID: "pay_ok", State: StateCaptured, CreatedAt: base},
				{ID: "pay_bad", State: StateFailed, CreatedAt: base.Add(time.Minute)},
			},
			wantID: "pay_ok",
			wantOK: true,
		},
		{
			name: "latest failure wins among failures",
			attempts: []GatewayPayment{
				{ID: "pay_1", State: StateFailed, CreatedAt: base},
				{ID: "pay_2", State: StateFailed, CreatedAt: base.Add(time.Hour)},
				{ID: "pay_3", State: StateAuthorized, CreatedAt: base.Add(2 * time.Hour)},
			},
			wantID: "pay_2",
			wantOK: true,
		},
		{
			name: "refund beats failure",
			attempts: []GatewayPayment{
				{ID: "pay_r", State: StateRefunded, CreatedAt: base},
				{ID: "pay_f", State: StateFailed, CreatedAt: base.Add(time.Hour)},
			},
			wantID: "pay_r",
			wantOK: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := EffectiveState(tc.attempts)
			if ok != tc.wantOK || got.ID != tc.wantID {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tc.wantID, tc.wantOK, got.ID, ok)
			}
		})
	}
}

func TestManagerDefaultsToRazorpay(t *testing.T) {
	razor := &fakeGateway{name: "razorpay"}
	stripe := &fakeGateway{name: "stripe"}
	mgr, err := NewManager(map[string]Gateway{"Razorpay": razor, "stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.FetchOrderPayments(context.Background(), "order_1"); err != nil {
		t.Fatalf("fetch payments: %v", err)
	}
	if razor.lastOp != "payments" || stripe.lastOp != "" {
		t.Fatalf("expected razorpay to serve the call, got razor=%q stripe=%q", razor.lastOp, stripe.lastOp)
	}
	if mgr.Name() != "razorpay" {
		t.Fatalf("expected razorpay name, got %q", mgr.Name())
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	razor := &fakeGateway{name: "razorpay"}
	stripe := &fakeGateway{name: "stripe"}
	mgr, err := NewManager(map[string]Gateway{"razorpay": razor, "stripe": stripe},
		WithCurrencyRoutes(map[string]string{"usd": "Stripe"}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	g, err := mgr.Resolve(PaymentContext{Currency: "USD"})
	if err != nil || g.Name() != "stripe" {
		t.Fatalf("expected stripe for USD, got %v (%v)", g, err)
	}
	g, err = mgr.Resolve(PaymentContext{PreferredProvider: "razorpay", Currency: "USD"})
	if err != nil || g.Name() != "razorpay" {
		t.Fatalf("preferred provider should win, got %v (%v)", g, err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Gateway{"a": &fakeGateway{name: "a"}, "b": &fakeGateway{name: "b"}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Resolve(PaymentContext{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatal("expected error for empty registry")
	}
}
