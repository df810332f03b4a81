package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// State enumerates normalised gateway payment states.
type State string

const (
	StateCreated    State = "created"
	StateAuthorized State = "authorized"
	StateCaptured   State = "captured"
	StateFailed     State = "failed"
	StateRefunded   State = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a gateway.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayOrderNotFound is returned when the gateway has no order with the given id.
	ErrGatewayOrderNotFound = errors.New("payments: gateway order not found")
)

// GatewayOrder is the gateway's view of an order created at checkout.
type GatewayOrder struct {
	ID         string
	Receipt    string
	Status     string
	Amount     int64
	AmountPaid int64
	Currency   string
	Notes      map[string]string
	CreatedAt  time.Time
}

// GatewayPayment is one payment attempt against a gateway order.
type GatewayPayment struct {
	ID        string
	OrderID   string
	State     State
	Amount    int64
	Currency  string
	Method    string
	Email     string
	Contact   string
	CreatedAt time.Time
}

// ListOrdersRequest pages through gateway orders created within [From, To].
type ListOrdersRequest struct {
	From  time.Time
	To    time.Time
	Count int
	Skip  int
}

// Gateway is the read surface used by reconciliation.
type Gateway interface {
	Name() string
	FetchOrder(ctx context.Context, orderID string) (GatewayOrder, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]GatewayPayment, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) ([]GatewayOrder, error)
}

// EffectiveState reduces the payment attempts of one order to the payment that decides its
// state: any captured payment wins, then any refunded payment, then the latest failure.
// ok is false when no attempt carries a decisive state.
func EffectiveState(attempts []GatewayPayment) (GatewayPayment, bool) {
	sorted := append([]GatewayPayment(nil), attempts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	for _, want := range []State{StateCaptured, StateRefunded, StateFailed} {
		for _, p := range sorted {
			if p.State == want {
				return p, true
			}
		}
	}
	return GatewayPayment{}, false
}

// Manager routes calls to registered gateways.
type Manager struct {
	gateways        map[string]Gateway
	defaultProvider string
	currencyRoutes  map[string]string
}

var _ Gateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the gateway used when no route matches.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithCurrencyRoutes maps currencies to gateway names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for k, v := range routes {
			if m.currencyRoutes == nil {
				m.currencyRoutes = make(map[string]string, len(routes))
			}
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
		}
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	registered := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{gateways: registered}
	if _, ok := registered["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext carries hints used to pick a gateway.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Resolve picks the gateway for paymentCtx: preferred provider, then currency route, then default.
func (m *Manager) Resolve(paymentCtx PaymentContext) (Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return nil, errors.New("payments: no gateways registered")
	}
	if g, ok := m.gateways[strings.ToLower(strings.TrimSpace(paymentCtx.PreferredProvider))]; ok {
		return g, nil
	}
	if route, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(paymentCtx.Currency))]; ok {
		if g, ok := m.gateways[route]; ok {
			return g, nil
		}
	}
	if g, ok := m.gateways[m.defaultProvider]; ok {
		return g, nil
	}
	if len(m.gateways) == 1 {
		for _, g := range m.gateways {
			return g, nil
		}
	}
	return nil, ErrUnsupportedProvider
}

func (m *Manager) Name() string {
	g, err := m.Resolve(PaymentContext{})
	if err != nil {
		return ""
	}
	return g.Name()
}

// FetchOrder delegates to the default gateway.
func (m *Manager) FetchOrder(ctx context.Context, orderID string) (GatewayOrder, error) {
	g, err := m.Resolve(PaymentContext{})
	if err != nil {
		return GatewayOrder{}, err
	}
	return g.FetchOrder(ctx, orderID)
}

// FetchOrderPayments delegates to the default gateway.
func (m *Manager) FetchOrderPayments(ctx context.Context, orderID string) ([]GatewayPayment, error) {
	g, err := m.Resolve(PaymentContext{})
	if err != nil {
		return nil, err
	}
	return g.FetchOrderPayments(ctx, orderID)
}

// ListOrders delegates to the default gateway.
func (m *Manager) ListOrders(ctx context.Context, req ListOrdersRequest) ([]GatewayOrder, error) {
	g, err := m.Resolve(PaymentContext{})
	if err != nil {
		return nil, err
	}
	return g.ListOrders(ctx, req)
}
