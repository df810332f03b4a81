package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/payments"
	"github.com/brightatelier/commerce-api/internal/platform/textutil"
	"github.com/brightatelier/commerce-api/internal/repositories"
)

const orderNumberPrefix = "BA-"

var (
	// ErrOrderInvalidInput indicates the request payload failed validation.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates no order matched the lookup.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderExists indicates an order with the same gateway order id is already stored.
	ErrOrderExists = errors.New("order: already exists")
	// ErrOrderUnavailable indicates the store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

// CreateOrderInput carries a verified checkout. Line items and totals are trusted as sent.
type CreateOrderInput struct {
	Gateway          string
	GatewayOrderID   string
	GatewayPaymentID string
	Receipt          string
	Currency         string
	CustomerID       string
	Contact          domain.Contact
	Items            []domain.LineItem
	Totals           domain.OrderTotals
	ShippingAddress  *domain.Address
	BillingAddress   *domain.Address
	Notes            map[string]string
}

// ImportOrderInput synthesizes a local order from a gateway order missing locally.
type ImportOrderInput struct {
	Gateway    string
	Remote     payments.GatewayOrder
	Payment    *payments.GatewayPayment
	CustomerID string
	Contact    domain.Contact
}

// PaymentUpdate applies a gateway payment state to the order identified by Lookup.
type PaymentUpdate struct {
	Lookup           repositories.OrderLookup
	State            payments.State
	GatewayPaymentID string
	Trigger          string
}

// PaymentOutcome reports what ApplyPaymentStatus did.
type PaymentOutcome struct {
	Order                 domain.Order
	Changed               bool
	PreviousStatus        domain.OrderStatus
	PreviousPaymentStatus domain.PaymentStatus
}

// OrderServiceDeps bundles collaborators for the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type orderService struct {
	orders repositories.OrderRepository
	events OrderEventPublisher
	clock  func() time.Time
	newID  func() string
	logger Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs the order writer.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderService{
		orders: deps.Orders,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateFromCheckout(ctx context.Context, input CreateOrderInput) (domain.Order, error) {
	gatewayOrderID := strings.TrimSpace(input.GatewayOrderID)
	gatewayPaymentID := strings.TrimSpace(input.GatewayPaymentID)
	if gatewayOrderID == "" || gatewayPaymentID == "" {
		return domain.Order{}, fmt.Errorf("%w: gateway order id and payment id are required", ErrOrderInvalidInput)
	}

	now := s.clock()
	paidAt := now
	order := domain.Order{
		ID:               s.newID(),
		OrderNumber:      orderNumber(now),
		Gateway:          strings.TrimSpace(input.Gateway),
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Receipt:          strings.TrimSpace(input.Receipt),
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusPaid,
		CustomerID:       strings.TrimSpace(input.CustomerID),
		Contact:          cleanContact(input.Contact),
		Currency:         strings.ToUpper(strings.TrimSpace(input.Currency)),
		Items:            append([]domain.LineItem(nil), input.Items...),
		Totals:           input.Totals,
		ShippingAddress:  copyAddress(input.ShippingAddress),
		BillingAddress:   copyAddress(input.BillingAddress),
		Source:           domain.OrderSourceCheckout,
		Notes:            textutil.NormalizeStringMap(input.Notes),
		CreatedAt:        now,
		UpdatedAt:        now,
		PaidAt:           &paidAt,
	}
	order.StatusHistory = []domain.StatusEntry{s.historyEntry(domain.OrderStatusPending, now, "Order placed")}

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.created", map[string]any{
		"orderId":        order.ID,
		"orderNumber":    order.OrderNumber,
		"gatewayOrderId": order.GatewayOrderID,
	})
	s.publish(ctx, order, "", "checkout")
	return order, nil
}

func (s *orderService) Import(ctx context.Context, input ImportOrderInput) (domain.Order, error) {
	remote := input.Remote
	if strings.TrimSpace(remote.ID) == "" {
		return domain.Order{}, fmt.Errorf("%w: gateway order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	created := remote.CreatedAt
	if created.IsZero() {
		created = now
	}
	status, paymentStatus := importedStatus(input.Payment)
	total := remote.AmountPaid
	if total == 0 {
		total = remote.Amount
	}

	order := domain.Order{
		ID:              s.newID(),
		OrderNumber:     orderNumber(created),
		Gateway:         strings.TrimSpace(input.Gateway),
		GatewayOrderID:  strings.TrimSpace(remote.ID),
		Receipt:         remote.Receipt,
		Status:          status,
		PaymentStatus:   paymentStatus,
		CustomerID:      strings.TrimSpace(input.CustomerID),
		Contact:         cleanContact(input.Contact),
		Currency:        strings.ToUpper(remote.Currency),
		Totals:          domain.OrderTotals{Subtotal: remote.Amount, Total: total},
		ShippingAddress: copyAddress(input.Contact.Address),
		Source:          domain.OrderSourceGatewayImport,
		Notes:           textutil.NormalizeStringMap(remote.Notes),
		CreatedAt:       created.UTC(),
		UpdatedAt:       now,
	}
	if input.Payment != nil {
		order.GatewayPaymentID = input.Payment.ID
		if paymentStatus == domain.PaymentStatusPaid || paymentStatus == domain.PaymentStatusRefunded {
			paidAt := input.Payment.CreatedAt
			if paidAt.IsZero() {
				paidAt = now
			}
			paidAt = paidAt.UTC()
			order.PaidAt = &paidAt
		}
		if paymentStatus == domain.PaymentStatusRefunded {
			refundedAt := now
			order.RefundedAt = &refundedAt
		}
	}
	order.StatusHistory = []domain.StatusEntry{s.historyEntry(status, now, "Imported from gateway")}

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.imported", map[string]any{
		"orderId":        order.ID,
		"gatewayOrderId": order.GatewayOrderID,
		"status":         string(order.Status),
	})
	s.publish(ctx, order, "", "import")
	return order, nil
}

func (s *orderService) Find(ctx context.Context, lookup repositories.OrderLookup) (domain.Order, error) {
	if lookup.Empty() {
		return domain.Order{}, fmt.Errorf("%w: order lookup is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.Find(ctx, lookup)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ApplyPaymentStatus(ctx context.Context, update PaymentUpdate) (PaymentOutcome, error) {
	if update.Lookup.Empty() {
		return PaymentOutcome{}, fmt.Errorf("%w: order lookup is required", ErrOrderInvalidInput)
	}
	now := s.clock()
	paymentID := strings.TrimSpace(update.GatewayPaymentID)

	var outcome PaymentOutcome
	order, changed, err := s.orders.Mutate(ctx, update.Lookup, func(order *domain.Order) (bool, error) {
		outcome.PreviousStatus = order.Status
		outcome.PreviousPaymentStatus = order.PaymentStatus
		return s.applyPaymentState(order, update.State, paymentID, now), nil
	})
	if err != nil {
		return PaymentOutcome{}, s.mapRepositoryError(err)
	}
	outcome.Order = order
	outcome.Changed = changed

	if changed {
		s.logger(ctx, "order.payment.applied", map[string]any{
			"orderId":       order.ID,
			"state":         string(update.State),
			"status":        string(order.Status),
			"paymentStatus": string(order.PaymentStatus),
			"trigger":       update.Trigger,
		})
		if order.Status != outcome.PreviousStatus {
			s.publish(ctx, order, outcome.PreviousStatus, update.Trigger)
		}
	}
	return outcome, nil
}

func (s *orderService) AttachCustomer(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	customerID = strings.TrimSpace(customerID)
	if orderID == "" || customerID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id and customer id are required", ErrOrderInvalidInput)
	}
	now := s.clock()
	order, _, err := s.orders.Mutate(ctx, repositories.ByID(orderID), func(order *domain.Order) (bool, error) {
		if order.CustomerID != "" {
			return false, nil
		}
		order.CustomerID = customerID
		order.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// applyPaymentState mutates order for a gateway state and reports whether anything changed.
// Order status only moves forward, except refunds which are an explicit side exit.
func (s *orderService) applyPaymentState(order *domain.Order, state payments.State, paymentID string, now time.Time) bool {
	changed := false
	if paymentID != "" && order.GatewayPaymentID == "" {
		order.GatewayPaymentID = paymentID
		changed = true
	}

	switch state {
	case payments.StateCaptured:
		if domain.CanTransitionPayment(order.PaymentStatus, domain.PaymentStatusPaid) {
			order.PaymentStatus = domain.PaymentStatusPaid
			if order.PaidAt == nil {
				paidAt := now
				order.PaidAt = &paidAt
			}
			changed = true
		}
		if order.Status.Rank() >= 0 && order.Status.Rank() < domain.OrderStatusConfirmed.Rank() {
			order.StatusHistory = append(order.StatusHistory, s.historyEntry(domain.OrderStatusConfirmed, now, "Payment captured"))
			order.Status = domain.OrderStatusConfirmed
			changed = true
		}
	case payments.StateFailed:
		if domain.CanTransitionPayment(order.PaymentStatus, domain.PaymentStatusFailed) {
			order.PaymentStatus = domain.PaymentStatusFailed
			changed = true
		}
	case payments.StateRefunded:
		if domain.CanTransitionPayment(order.PaymentStatus, domain.PaymentStatusRefunded) {
			order.PaymentStatus = domain.PaymentStatusRefunded
			changed = true
		}
		if domain.CanTransition(order.Status, domain.OrderStatusRefunded) {
			order.StatusHistory = append(order.StatusHistory, s.historyEntry(domain.OrderStatusRefunded, now, "Payment refunded"))
			order.Status = domain.OrderStatusRefunded
			refundedAt := now
			order.RefundedAt = &refundedAt
			changed = true
		}
	}

	if changed {
		order.UpdatedAt = now
	}
	return changed
}

func (s *orderService) historyEntry(status domain.OrderStatus, at time.Time, note string) domain.StatusEntry {
	return domain.StatusEntry{ID: s.newID(), Status: status, At: at, Note: note}
}

func (s *orderService) publish(ctx context.Context, order domain.Order, previous domain.OrderStatus, trigger string) {
	publishOrderEvent(ctx, s.events, s.logger, order, previous, trigger, s.clock())
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderExists, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("order repository error: %w", err)
}

// publishOrderEvent emits a status change. Publishing failures never fail the caller.
func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger Logger, order domain.Order, previous domain.OrderStatus, trigger string, now time.Time) {
	if publisher == nil {
		return
	}
	event := OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: order.GatewayOrderID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		Trigger:        trigger,
		OccurredAt:     now,
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"orderId": order.ID,
			"status":  event.CurrentStatus,
			"error":   err.Error(),
		})
	}
}

// importedStatus derives the local status pair for an imported gateway order from its
// effective payment.
func importedStatus(payment *payments.GatewayPayment) (domain.OrderStatus, domain.PaymentStatus) {
	if payment == nil {
		return domain.OrderStatusPending, domain.PaymentStatusPending
	}
	switch payment.State {
	case payments.StateCaptured:
		return domain.OrderStatusConfirmed, domain.PaymentStatusPaid
	case payments.StateRefunded:
		return domain.OrderStatusRefunded, domain.PaymentStatusRefunded
	case payments.StateFailed:
		return domain.OrderStatusPending, domain.PaymentStatusFailed
	default:
		return domain.OrderStatusPending, domain.PaymentStatusPending
	}
}

func orderNumber(at time.Time) string {
	return orderNumberPrefix + strconv.FormatInt(at.UnixMilli(), 10)
}

func cleanContact(contact domain.Contact) domain.Contact {
	out := domain.Contact{
		Name:  textutil.CleanText(contact.Name),
		Email: textutil.NormalizeEmail(contact.Email),
		Phone: strings.TrimSpace(contact.Phone),
	}
	if contact.Address != nil {
		addr := cleanAddress(*contact.Address)
		if !addr.IsZero() {
			out.Address = &addr
		}
	}
	return out
}

// copyAddress snapshots addr so later profile edits never reach a placed order.
func copyAddress(addr *domain.Address) *domain.Address {
	if addr == nil || addr.IsZero() {
		return nil
	}
	clone := *addr
	return &clone
}
