package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/payments"
	"github.com/brightatelier/commerce-api/internal/platform/observability"
	"github.com/brightatelier/commerce-api/internal/repositories"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string { return e.msg }

func (e *repoError) IsNotFound() bool { return e.notFound }

func (e *repoError) IsConflict() bool { return e.conflict }

func (e *repoError) IsUnavailable() bool { return e.unavailable }

// memoryOrders is an in-memory OrderRepository with the same serialised Mutate semantics as
// the Firestore implementation.
type memoryOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	writes    int
	findErr   error
	insertErr error
}

func newMemoryOrders(orders ...domain.Order) *memoryOrders {
	m := &memoryOrders{orders: map[string]domain.Order{}}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memoryOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.orders[order.ID]; ok {
		return &repoError{msg: "exists", conflict: true}
	}
	for _, existing := range m.orders {
		if order.GatewayOrderID != "" && existing.GatewayOrderID == order.GatewayOrderID {
			return &repoError{msg: "gateway order exists", conflict: true}
		}
	}
	m.orders[order.ID] = cloneOrder(order)
	m.writes++
	return nil
}

func (m *memoryOrders) Find(_ context.Context, lookup repositories.OrderLookup) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return domain.Order{}, m.findErr
	}
	order, ok := m.lookup(lookup)
	if !ok {
		return domain.Order{}, &repoError{msg: "order " + lookup.String() + " not found", notFound: true}
	}
	return cloneOrder(order), nil
}

func (m *memoryOrders) Mutate(_ context.Context, lookup repositories.OrderLookup, fn repositories.OrderMutator) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.lookup(lookup)
	if !ok {
		return domain.Order{}, false, &repoError{msg: "order " + lookup.String() + " not found", notFound: true}
	}
	order := cloneOrder(current)
	changed, err := fn(&order)
	if err != nil {
		return domain.Order{}, false, err
	}
	if !changed {
		return cloneOrder(current), false, nil
	}
	if len(order.StatusHistory) < len(current.StatusHistory) {
		return domain.Order{}, false, fmt.Errorf("history shrank")
	}
	m.orders[order.ID] = cloneOrder(order)
	m.writes++
	return cloneOrder(order), true, nil
}

func (m *memoryOrders) ListForSync(_ context.Context, rng domain.DateRange) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.GatewayOrderID != "" && rng.Contains(o.CreatedAt) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryOrders) get(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

func (m *memoryOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memoryOrders) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memoryOrders) lookup(lookup repositories.OrderLookup) (domain.Order, bool) {
	if lookup.ID != "" {
		o, ok := m.orders[lookup.ID]
		return o, ok
	}
	for _, o := range m.orders {
		if lookup.GatewayOrderID != "" && o.GatewayOrderID == lookup.GatewayOrderID {
			return o, true
		}
		if lookup.GatewayOrderID == "" && lookup.GatewayPaymentID != "" && o.GatewayPaymentID == lookup.GatewayPaymentID {
			return o, true
		}
	}
	return domain.Order{}, false
}

func cloneOrder(o domain.Order) domain.Order {
	o.StatusHistory = append([]domain.StatusEntry(nil), o.StatusHistory...)
	o.Items = append([]domain.LineItem(nil), o.Items...)
	if o.Shipment != nil {
		s := *o.Shipment
		o.Shipment = &s
	}
	return o
}

type memoryCustomers struct {
	mu        sync.Mutex
	customers map[string]domain.Customer
	matches   int
	err       error
}

func newMemoryCustomers() *memoryCustomers {
	return &memoryCustomers{customers: map[string]domain.Customer{}}
}

func (m *memoryCustomers) Upsert(_ context.Context, key repositories.CustomerKey, merge repositories.CustomerMerger) (repositories.CustomerUpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return repositories.CustomerUpsertResult{}, m.err
	}
	email := key.Value
	existing, ok := m.customers[email]
	var customer domain.Customer
	if ok {
		customer = merge(&existing)
		customer.ID = existing.ID
	} else {
		customer = merge(nil)
		customer.ID = "cus_" + email
	}
	m.customers[email] = customer
	matches := m.matches
	if matches == 0 && ok {
		matches = 1
	}
	return repositories.CustomerUpsertResult{Customer: customer, Created: !ok, Matches: matches}, nil
}

type stubCustomerService struct {
	upsertFunc func(ctx context.Context, contact CustomerContact, total int64) (string, bool)
}

func (s *stubCustomerService) Upsert(ctx context.Context, contact CustomerContact, total int64) (string, bool) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, contact, total)
	}
	return "", false
}

type stubShippingProvider struct {
	createFunc func(ctx context.Context, req shipping.CreateOrderRequest) (shipping.CreateOrderResult, error)
	awbFunc    func(ctx context.Context, shipmentID, courierID string) (shipping.AWBResult, error)
	labelFunc  func(ctx context.Context, shipmentID string) (shipping.LabelResult, error)
	trackFunc  func(ctx context.Context, awb string) (shipping.TrackingResult, error)
	cancelFunc func(ctx context.Context, providerOrderID string) error
}

func (s *stubShippingProvider) CreateOrder(ctx context.Context, req shipping.CreateOrderRequest) (shipping.CreateOrderResult, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return shipping.CreateOrderResult{}, fmt.Errorf("unexpected create")
}

func (s *stubShippingProvider) AssignAWB(ctx context.Context, shipmentID, courierID string) (shipping.AWBResult, error) {
	if s.awbFunc != nil {
		return s.awbFunc(ctx, shipmentID, courierID)
	}
	return shipping.AWBResult{}, fmt.Errorf("unexpected awb")
}

func (s *stubShippingProvider) GenerateLabel(ctx context.Context, shipmentID string) (shipping.LabelResult, error) {
	if s.labelFunc != nil {
		return s.labelFunc(ctx, shipmentID)
	}
	return shipping.LabelResult{}, fmt.Errorf("unexpected label")
}

func (s *stubShippingProvider) Track(ctx context.Context, awb string) (shipping.TrackingResult, error) {
	if s.trackFunc != nil {
		return s.trackFunc(ctx, awb)
	}
	return shipping.TrackingResult{}, fmt.Errorf("unexpected track")
}

func (s *stubShippingProvider) CancelOrder(ctx context.Context, providerOrderID string) error {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, providerOrderID)
	}
	return fmt.Errorf("unexpected cancel")
}

type recordingPublisher struct {
	mu            sync.Mutex
	events        []OrderEvent
	notifications []CustomerNotification
	err           error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) PublishNotification(_ context.Context, n CustomerNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
	return p.err
}

type stubGateway struct {
	mu          sync.Mutex
	payments    map[string][]payments.GatewayPayment
	pages       [][]payments.GatewayOrder
	listCalls   []payments.ListOrdersRequest
	paymentsErr map[string]error
}

func (g *stubGateway) Name() string { return "razorpay" }

func (g *stubGateway) FetchOrder(_ context.Context, orderID string) (payments.GatewayOrder, error) {
	return payments.GatewayOrder{ID: orderID}, nil
}

func (g *stubGateway) FetchOrderPayments(_ context.Context, orderID string) ([]payments.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.paymentsErr[orderID]; err != nil {
		return nil, err
	}
	return g.payments[orderID], nil
}

func (g *stubGateway) ListOrders(_ context.Context, req payments.ListOrdersRequest) ([]payments.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls = append(g.listCalls, req)
	idx := len(g.listCalls) - 1
	if idx >= len(g.pages) {
		return nil, nil
	}
	return g.pages[idx], nil
}

type recordingAlerts struct {
	alerts []observability.Alert
}

func (r *recordingAlerts) Raise(_ context.Context, alert observability.Alert) {
	r.alerts = append(r.alerts, alert)
}

type captureLogger struct {
	mu     sync.Mutex
	events []string
}

func (c *captureLogger) log(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%03d", prefix, n)
	}
}
