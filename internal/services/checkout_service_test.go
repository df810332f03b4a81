package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/payments"
	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/repositories"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

const testKeySecret = "rzp_test_secret"

type checkoutFixture struct {
	repo      *memoryOrders
	customers *memoryCustomers
	alerts    *recordingAlerts
	provider  *stubShippingProvider
	orders    OrderService
	svc       CheckoutService
}

func newCheckoutFixture(t *testing.T, secret string, autoCreate bool) checkoutFixture {
	t.Helper()
	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	repo := newMemoryOrders()
	orderSvc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: fixedClock(now), IDGenerator: sequentialIDs("o-")})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	customers := newMemoryCustomers()
	customerSvc, err := NewCustomerService(CustomerServiceDeps{Customers: customers, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("customer service: %v", err)
	}
	provider := &stubShippingProvider{}
	shipmentSvc, err := NewShipmentService(ShipmentServiceDeps{Orders: repo, Provider: provider, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("shipment service: %v", err)
	}
	alerts := &recordingAlerts{}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:             orderSvc,
		Customers:          customerSvc,
		Shipments:          shipmentSvc,
		Alerts:             alerts,
		Gateway:            "razorpay",
		KeySecret:          secret,
		AutoCreateShipment: autoCreate,
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	return checkoutFixture{repo: repo, customers: customers, alerts: alerts, provider: provider, orders: orderSvc, svc: svc}
}

func confirmCommand(signature string) ConfirmCheckoutCommand {
	return ConfirmCheckoutCommand{
		GatewayOrderID:   "order_R1",
		GatewayPaymentID: "pay_R1",
		Signature:        signature,
		Order: CheckoutOrder{
			Contact:  domain.Contact{Name: "Asha Rao", Email: "asha@example.com", Phone: "9876543210"},
			Currency: "INR",
			Receipt:  "R1",
			Items:    []domain.LineItem{{ProductID: "tote", Name: "Tote", Quantity: 1, UnitPrice: 100000, Total: 100000, Weight: 0.4}},
			Totals:   domain.OrderTotals{Subtotal: 100000, Total: 100000},
			ShippingAddress: &domain.Address{
				Name: "Asha Rao", Line1: "12 MG Road", City: "Pune", State: "MH", PostalCode: "411001", Country: "IN",
			},
		},
	}
}

func validSignature() string {
	return auth.Sign(testKeySecret, auth.PaymentMessage("order_R1", "pay_R1"))
}

func TestCheckoutConfirmRecordsOrderThenCaptureConfirms(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t, testKeySecret, false)

	result, err := f.svc.Confirm(ctx, confirmCommand(validSignature()))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !result.Verified || result.Replayed {
		t.Fatalf("unexpected result %+v", result)
	}
	order := result.Order
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected status %s/%s", order.Status, order.PaymentStatus)
	}
	if order.Totals.Total != 100000 || order.Receipt != "R1" || order.GatewayOrderID != "order_R1" {
		t.Fatalf("unexpected order %+v", order)
	}
	if result.CustomerID == "" || order.CustomerID != result.CustomerID {
		t.Fatalf("expected customer link, got %q / %q", result.CustomerID, order.CustomerID)
	}
	if c := f.customers.customers["asha@example.com"]; c.OrderCount != 1 || c.TotalSpent != 100000 {
		t.Fatalf("unexpected customer aggregates %+v", c)
	}

	outcome, err := f.orders.ApplyPaymentStatus(ctx, PaymentUpdate{
		Lookup: repositories.ByGatewayOrderID("order_R1"),
		State:  payments.StateCaptured,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if outcome.Order.Status != domain.OrderStatusConfirmed || len(outcome.Order.StatusHistory) != 2 {
		t.Fatalf("expected confirmed with two history entries, got %s / %d", outcome.Order.Status, len(outcome.Order.StatusHistory))
	}
}

func TestCheckoutConfirmRejectsBadSignature(t *testing.T) {
	f := newCheckoutFixture(t, testKeySecret, false)
	_, err := f.svc.Confirm(context.Background(), confirmCommand("deadbeef"))
	if !errors.Is(err, ErrCheckoutSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	if f.repo.count() != 0 || len(f.customers.customers) != 0 {
		t.Fatalf("rejected confirmation must not write")
	}
}

func TestCheckoutConfirmWithoutSecret(t *testing.T) {
	f := newCheckoutFixture(t, "", false)
	_, err := f.svc.Confirm(context.Background(), confirmCommand(validSignature()))
	if !errors.Is(err, ErrCheckoutConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCheckoutConfirmValidatesInput(t *testing.T) {
	f := newCheckoutFixture(t, testKeySecret, false)
	cmd := confirmCommand("")
	if _, err := f.svc.Confirm(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCheckoutConfirmWriteFailureRaisesAlert(t *testing.T) {
	f := newCheckoutFixture(t, testKeySecret, false)
	f.repo.insertErr = &repoError{msg: "deadline exceeded", unavailable: true}

	result, err := f.svc.Confirm(context.Background(), confirmCommand(validSignature()))
	if !errors.Is(err, ErrCheckoutOrderNotRecorded) {
		t.Fatalf("expected ErrCheckoutOrderNotRecorded, got %v", err)
	}
	if !result.Verified {
		t.Fatalf("verification outcome must be preserved on write failure")
	}
	if len(f.alerts.alerts) != 1 || f.alerts.alerts[0].Tags["gatewayOrderId"] != "order_R1" {
		t.Fatalf("expected one alert, got %+v", f.alerts.alerts)
	}
}

func TestCheckoutConfirmReplayReturnsExistingOrder(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t, testKeySecret, false)
	first, err := f.svc.Confirm(ctx, confirmCommand(validSignature()))
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	second, err := f.svc.Confirm(ctx, confirmCommand(validSignature()))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.Order.ID != first.Order.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Order.ID, second)
	}
	if f.repo.count() != 1 {
		t.Fatalf("replay must not create another order")
	}
	if c := f.customers.customers["asha@example.com"]; c.OrderCount != 1 {
		t.Fatalf("replay must not count the order twice, got %d", c.OrderCount)
	}
}

// lateOrders hides the recorded order from the first lookups, as when two confirmations for
// the same payment race past the replay check.
type lateOrders struct {
	OrderService
	misses int
}

func (o *lateOrders) Find(ctx context.Context, lookup repositories.OrderLookup) (domain.Order, error) {
	if o.misses > 0 {
		o.misses--
		return domain.Order{}, ErrOrderNotFound
	}
	return o.OrderService.Find(ctx, lookup)
}

func TestCheckoutConfirmConcurrentReplayCountsCustomerOnce(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t, testKeySecret, false)
	first, err := f.svc.Confirm(ctx, confirmCommand(validSignature()))
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	customerSvc, err := NewCustomerService(CustomerServiceDeps{Customers: f.customers})
	if err != nil {
		t.Fatalf("customer service: %v", err)
	}
	racing, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:    &lateOrders{OrderService: f.orders, misses: 1},
		Customers: customerSvc,
		Gateway:   "razorpay",
		KeySecret: testKeySecret,
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}

	second, err := racing.Confirm(ctx, confirmCommand(validSignature()))
	if err != nil {
		t.Fatalf("racing confirm: %v", err)
	}
	if !second.Replayed || second.Order.ID != first.Order.ID || second.CustomerID != first.CustomerID {
		t.Fatalf("expected replay of %s, got %+v", first.Order.ID, second)
	}
	if c := f.customers.customers["asha@example.com"]; c.OrderCount != 1 || c.TotalSpent != 100000 {
		t.Fatalf("losing confirmation must not touch aggregates, got %d / %d", c.OrderCount, c.TotalSpent)
	}
}

func TestCheckoutConfirmWithoutCustomerStillRecordsOrder(t *testing.T) {
	f := newCheckoutFixture(t, testKeySecret, false)
	f.customers.err = errors.New("firestore down")

	result, err := f.svc.Confirm(context.Background(), confirmCommand(validSignature()))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.CustomerID != "" || result.Order.CustomerID != "" {
		t.Fatalf("expected no customer link, got %q / %q", result.CustomerID, result.Order.CustomerID)
	}
	if f.repo.count() != 1 {
		t.Fatalf("order must be recorded without a customer")
	}
}

func TestCheckoutConfirmAutoCreatesShipment(t *testing.T) {
	f := newCheckoutFixture(t, testKeySecret, true)
	f.provider.createFunc = func(_ context.Context, req shipping.CreateOrderRequest) (shipping.CreateOrderResult, error) {
		return shipping.CreateOrderResult{ProviderOrderID: "SR-" + req.OrderID, ShipmentID: "SH-1"}, nil
	}

	result, err := f.svc.Confirm(context.Background(), confirmCommand(validSignature()))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Shipment == nil || result.Shipment.ShipmentID != "SH-1" || result.ShipmentError != "" {
		t.Fatalf("expected shipment, got %+v / %q", result.Shipment, result.ShipmentError)
	}
}

func TestCheckoutConfirmShipmentFailureIsReported(t *testing.T) {
	f := newCheckoutFixture(t, testKeySecret, true)
	f.provider.createFunc = func(context.Context, shipping.CreateOrderRequest) (shipping.CreateOrderResult, error) {
		return shipping.CreateOrderResult{}, errors.New("pincode not serviceable")
	}

	result, err := f.svc.Confirm(context.Background(), confirmCommand(validSignature()))
	if err != nil {
		t.Fatalf("shipment failure must not fail checkout: %v", err)
	}
	if result.Shipment != nil || result.ShipmentError == "" {
		t.Fatalf("expected shipment error, got %+v", result)
	}
	if f.repo.count() != 1 {
		t.Fatalf("order must still be recorded")
	}
}
