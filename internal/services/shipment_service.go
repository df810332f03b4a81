package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/repositories"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

var (
	// ErrShipmentExists indicates a provider order was already created for the order.
	ErrShipmentExists = errors.New("shipment: already created")
	// ErrShipmentMissing indicates the action needs a shipment that does not exist yet.
	ErrShipmentMissing = errors.New("shipment: not created")
	// ErrShipmentAWBAssigned indicates a tracking code is already assigned.
	ErrShipmentAWBAssigned = errors.New("shipment: awb already assigned")
	// ErrShipmentInvalid indicates the order lacks data the provider needs.
	ErrShipmentInvalid = errors.New("shipment: invalid order")
	// ErrShipmentProvider wraps provider call failures.
	ErrShipmentProvider = errors.New("shipment: provider error")
)

// ShipmentEvent is a provider status update for one order.
type ShipmentEvent struct {
	OrderID           string
	ShipmentID        string
	Status            string
	AWB               string
	CourierName       string
	EstimatedDelivery *time.Time
	PickupScheduledAt *time.Time
	DeliveredAt       *time.Time
}

// ShipmentOutcome reports what ApplyProviderStatus did.
type ShipmentOutcome struct {
	Order          domain.Order
	Changed        bool
	PreviousStatus domain.OrderStatus
	Notified       bool
}

// ShipmentServiceDeps bundles collaborators for the shipment service.
type ShipmentServiceDeps struct {
	Orders        repositories.OrderRepository
	Provider      ShippingProvider
	Events        OrderEventPublisher
	Notifications NotificationPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type shipmentService struct {
	orders        repositories.OrderRepository
	provider      ShippingProvider
	events        OrderEventPublisher
	notifications NotificationPublisher
	clock         func() time.Time
	newID         func() string
	logger        Logger
}

var _ ShipmentService = (*shipmentService)(nil)

// NewShipmentService constructs the shipment orchestrator. Provider may be nil when shipping
// is not configured; provider-driven actions then fail with ErrShipmentProvider while webhook
// updates still apply.
func NewShipmentService(deps ShipmentServiceDeps) (ShipmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("shipment service: order repository is required")
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
	return &shipmentService{
		orders:        deps.Orders,
		provider:      deps.Provider,
		events:        deps.Events,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *shipmentService) CreateShipment(ctx context.Context, orderID string) (domain.Shipment, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return domain.Shipment{}, err
	}
	if order.HasShipment() {
		return domain.Shipment{}, ErrShipmentExists
	}
	req, err := shipmentRequest(order)
	if err != nil {
		return domain.Shipment{}, err
	}
	if s.provider == nil {
		return domain.Shipment{}, fmt.Errorf("%w: provider not configured", ErrShipmentProvider)
	}

	created, err := s.provider.CreateOrder(ctx, req)
	if err != nil {
		return domain.Shipment{}, fmt.Errorf("%w: %v", ErrShipmentProvider, err)
	}

	now := s.clock()
	status := domain.ShipmentStatusCreated
	updated, _, err := s.orders.Mutate(ctx, repositories.ByID(order.ID), func(o *domain.Order) (bool, error) {
		if o.HasShipment() {
			return false, ErrShipmentExists
		}
		merged := domain.MergeShipment(o.Shipment, domain.ShipmentPatch{
			ProviderOrderID: &created.ProviderOrderID,
			ShipmentID:      &created.ShipmentID,
			Status:          &status,
			LastSyncedAt:    &now,
		})
		o.Shipment = &merged
		o.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		// The provider order exists now; surface both ids so an operator can reconcile.
		s.logger(ctx, "shipment.create.persist_failed", map[string]any{
			"orderId":         order.ID,
			"providerOrderId": created.ProviderOrderID,
			"shipmentId":      created.ShipmentID,
			"error":           err.Error(),
		})
		return domain.Shipment{}, s.mapError(err)
	}
	s.logger(ctx, "shipment.created", map[string]any{
		"orderId":         order.ID,
		"providerOrderId": created.ProviderOrderID,
		"shipmentId":      created.ShipmentID,
	})
	return *updated.Shipment, nil
}

func (s *shipmentService) AssignAWB(ctx context.Context, orderID, courierID string) (domain.Shipment, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return domain.Shipment{}, err
	}
	if order.Shipment == nil || order.Shipment.ShipmentID == "" {
		return domain.Shipment{}, ErrShipmentMissing
	}
	if order.Shipment.AWB != "" {
		return domain.Shipment{}, ErrShipmentAWBAssigned
	}
	if s.provider == nil {
		return domain.Shipment{}, fmt.Errorf("%w: provider not configured", ErrShipmentProvider)
	}

	assigned, err := s.provider.AssignAWB(ctx, order.Shipment.ShipmentID, courierID)
	if err != nil {
		return domain.Shipment{}, fmt.Errorf("%w: %v", ErrShipmentProvider, err)
	}

	now := s.clock()
	status := domain.ShipmentStatusAWBAssigned
	var previous domain.OrderStatus
	updated, _, err := s.orders.Mutate(ctx, repositories.ByID(order.ID), func(o *domain.Order) (bool, error) {
		previous = o.Status
		merged := domain.MergeShipment(o.Shipment, domain.ShipmentPatch{
			Status:       &status,
			AWB:          &assigned.AWB,
			CourierName:  &assigned.CourierName,
			CourierID:    &assigned.CourierID,
			LastSyncedAt: &now,
		})
		o.Shipment = &merged
		if domain.CanTransition(o.Status, domain.OrderStatusProcessing) {
			o.StatusHistory = append(o.StatusHistory, domain.StatusEntry{
				ID:     s.newID(),
				Status: domain.OrderStatusProcessing,
				At:     now,
				Note:   "AWB assigned: " + assigned.AWB,
			})
			o.Status = domain.OrderStatusProcessing
		}
		o.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		s.logger(ctx, "shipment.awb.persist_failed", map[string]any{
			"orderId": order.ID,
			"awb":     assigned.AWB,
			"error":   err.Error(),
		})
		return domain.Shipment{}, s.mapError(err)
	}
	if updated.Status != previous {
		publishOrderEvent(ctx, s.events, s.logger, updated, previous, "shipment.awb", now)
	}
	s.logger(ctx, "shipment.awb.assigned", map[string]any{
		"orderId": order.ID,
		"awb":     assigned.AWB,
		"courier": assigned.CourierName,
	})
	return *updated.Shipment, nil
}

func (s *shipmentService) Label(ctx context.Context, orderID string) (shipping.LabelResult, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return shipping.LabelResult{}, err
	}
	if order.Shipment == nil || order.Shipment.ShipmentID == "" {
		return shipping.LabelResult{}, ErrShipmentMissing
	}
	if s.provider == nil {
		return shipping.LabelResult{}, fmt.Errorf("%w: provider not configured", ErrShipmentProvider)
	}
	label, err := s.provider.GenerateLabel(ctx, order.Shipment.ShipmentID)
	if err != nil {
		return shipping.LabelResult{}, fmt.Errorf("%w: %v", ErrShipmentProvider, err)
	}
	return label, nil
}

// Track fetches provider tracking. Only the shipment's lastSyncedAt is written back.
func (s *shipmentService) Track(ctx context.Context, orderID string) (shipping.TrackingResult, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return shipping.TrackingResult{}, err
	}
	if order.Shipment == nil || order.Shipment.AWB == "" {
		return shipping.TrackingResult{}, ErrShipmentMissing
	}
	if s.provider == nil {
		return shipping.TrackingResult{}, fmt.Errorf("%w: provider not configured", ErrShipmentProvider)
	}
	tracking, err := s.provider.Track(ctx, order.Shipment.AWB)
	if err != nil {
		return shipping.TrackingResult{}, fmt.Errorf("%w: %v", ErrShipmentProvider, err)
	}

	now := s.clock()
	if _, _, err := s.orders.Mutate(ctx, repositories.ByID(order.ID), func(o *domain.Order) (bool, error) {
		if o.Shipment == nil {
			return false, nil
		}
		merged := domain.MergeShipment(o.Shipment, domain.ShipmentPatch{LastSyncedAt: &now})
		o.Shipment = &merged
		return true, nil
	}); err != nil {
		s.logger(ctx, "shipment.track.touch_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	return tracking, nil
}

func (s *shipmentService) Cancel(ctx context.Context, orderID string) (domain.Shipment, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return domain.Shipment{}, err
	}
	if !order.HasShipment() {
		return domain.Shipment{}, ErrShipmentMissing
	}
	if s.provider == nil {
		return domain.Shipment{}, fmt.Errorf("%w: provider not configured", ErrShipmentProvider)
	}
	if err := s.provider.CancelOrder(ctx, order.Shipment.ProviderOrderID); err != nil {
		return domain.Shipment{}, fmt.Errorf("%w: %v", ErrShipmentProvider, err)
	}

	now := s.clock()
	status := domain.ShipmentStatusCancelled
	var previous domain.OrderStatus
	updated, _, err := s.orders.Mutate(ctx, repositories.ByID(order.ID), func(o *domain.Order) (bool, error) {
		previous = o.Status
		merged := domain.MergeShipment(o.Shipment, domain.ShipmentPatch{Status: &status, LastSyncedAt: &now})
		o.Shipment = &merged
		s.moveStatus(o, domain.OrderStatusCancelled, now, "Shipment cancelled")
		o.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return domain.Shipment{}, s.mapError(err)
	}
	if updated.Status != previous {
		publishOrderEvent(ctx, s.events, s.logger, updated, previous, "shipment.cancel", now)
	}
	s.logger(ctx, "shipment.cancelled", map[string]any{"orderId": order.ID})
	return *updated.Shipment, nil
}

// ApplyProviderStatus merges a provider webhook into the order. Shipment and order statuses only
// move forward; each order move appends one history entry naming the provider status.
func (s *shipmentService) ApplyProviderStatus(ctx context.Context, event ShipmentEvent) (ShipmentOutcome, error) {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return ShipmentOutcome{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	providerStatus := domain.NormalizeShipmentStatus(event.Status)
	now := s.clock()

	patch := domain.ShipmentPatch{
		ShipmentID:        &event.ShipmentID,
		AWB:               &event.AWB,
		CourierName:       &event.CourierName,
		EstimatedDelivery: event.EstimatedDelivery,
		PickupScheduledAt: event.PickupScheduledAt,
		DeliveredAt:       event.DeliveredAt,
	}
	if providerStatus != "" {
		patch.Status = &providerStatus
	}

	var outcome ShipmentOutcome
	order, changed, err := s.orders.Mutate(ctx, repositories.ByID(orderID), func(o *domain.Order) (bool, error) {
		outcome.PreviousStatus = o.Status
		merged := domain.MergeShipment(o.Shipment, patch)
		dirty := o.Shipment == nil || !sameShipment(*o.Shipment, merged)

		// A stale provider status left the shipment untouched; it must not move the order either.
		if target, ok := domain.OrderStatusForShipment(providerStatus); ok && merged.Status == providerStatus {
			if s.moveStatus(o, target, now, "Shipment status: "+string(providerStatus)) {
				dirty = true
				switch target {
				case domain.OrderStatusShipped:
					if o.ShippedAt == nil {
						shippedAt := now
						o.ShippedAt = &shippedAt
					}
				case domain.OrderStatusDelivered:
					deliveredAt := now
					if event.DeliveredAt != nil {
						deliveredAt = event.DeliveredAt.UTC()
					}
					o.DeliveredAt = &deliveredAt
				}
			}
		}
		if !dirty {
			return false, nil
		}
		merged.LastSyncedAt = &now
		o.Shipment = &merged
		o.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return ShipmentOutcome{}, s.mapError(err)
	}
	outcome.Order = order
	outcome.Changed = changed
	if !changed {
		return outcome, nil
	}

	s.logger(ctx, "shipment.status.applied", map[string]any{
		"orderId":        order.ID,
		"providerStatus": string(providerStatus),
		"status":         string(order.Status),
	})
	if order.Status != outcome.PreviousStatus {
		publishOrderEvent(ctx, s.events, s.logger, order, outcome.PreviousStatus, "shipment.webhook", now)
		if order.Status == domain.OrderStatusShipped || order.Status == domain.OrderStatusDelivered {
			outcome.Notified = s.notify(ctx, order, now)
		}
	}
	return outcome, nil
}

// moveStatus applies a forward transition with its history entry. Cancellation also stamps
// cancelledAt.
func (s *shipmentService) moveStatus(o *domain.Order, target domain.OrderStatus, now time.Time, note string) bool {
	if !domain.CanTransition(o.Status, target) {
		return false
	}
	o.StatusHistory = append(o.StatusHistory, domain.StatusEntry{
		ID:     s.newID(),
		Status: target,
		At:     now,
		Note:   note,
	})
	o.Status = target
	if target == domain.OrderStatusCancelled {
		cancelledAt := now
		o.CancelledAt = &cancelledAt
	}
	return true
}

func (s *shipmentService) notify(ctx context.Context, order domain.Order, now time.Time) bool {
	if s.notifications == nil {
		return false
	}
	email := strings.TrimSpace(order.Contact.Email)
	if email == "" {
		s.logger(ctx, "shipment.notify.skipped", map[string]any{"orderId": order.ID, "reason": "email_missing"})
		return false
	}
	kind := NotificationOrderShipped
	if order.Status == domain.OrderStatusDelivered {
		kind = NotificationOrderDelivered
	}
	notification := CustomerNotification{
		Type:        kind,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       email,
		Name:        order.Contact.Name,
		OccurredAt:  now,
	}
	if order.Shipment != nil {
		notification.AWB = order.Shipment.AWB
		notification.CourierName = order.Shipment.CourierName
	}
	if err := s.notifications.PublishNotification(ctx, notification); err != nil {
		s.logger(ctx, "shipment.notify.failed", map[string]any{
			"orderId": order.ID,
			"type":    kind,
			"error":   err.Error(),
		})
		return false
	}
	return true
}

func (s *shipmentService) load(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.Find(ctx, repositories.ByID(orderID))
	if err != nil {
		return domain.Order{}, s.mapError(err)
	}
	return order, nil
}

func (s *shipmentService) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrShipmentExists):
		return err
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return fmt.Errorf("shipment repository error: %w", err)
}

// shipmentRequest builds the provider payload. The shipping address falls back to billing and
// then to the contact address.
func shipmentRequest(order domain.Order) (shipping.CreateOrderRequest, error) {
	addr := order.ShippingAddress
	if addr == nil {
		addr = order.BillingAddress
	}
	if addr == nil {
		addr = order.Contact.Address
	}
	if addr == nil || addr.Line1 == "" || addr.PostalCode == "" {
		return shipping.CreateOrderRequest{}, fmt.Errorf("%w: shipping address is required", ErrShipmentInvalid)
	}
	if len(order.Items) == 0 {
		return shipping.CreateOrderRequest{}, fmt.Errorf("%w: order has no line items", ErrShipmentInvalid)
	}

	billing := shippingAddress(*addr, order.Contact)
	if order.BillingAddress != nil {
		billing = shippingAddress(*order.BillingAddress, order.Contact)
	}
	shippingAddr := shippingAddress(*addr, order.Contact)

	req := shipping.CreateOrderRequest{
		OrderID:   order.ID,
		OrderDate: order.CreatedAt,
		Billing:   billing,
		Shipping:  &shippingAddr,
		SubTotal:  order.Totals.Subtotal,
	}
	if req.SubTotal == 0 {
		req.SubTotal = order.Totals.Total
	}
	var weight float64
	for _, item := range order.Items {
		req.Items = append(req.Items, shipping.Item{
			Name:      item.Name,
			SKU:       firstNonBlank(item.SKU, item.ProductID),
			Units:     item.Quantity,
			UnitPrice: item.UnitPrice,
		})
		weight += item.Weight * float64(item.Quantity)
	}
	req.WeightKG = weight
	return req, nil
}

func shippingAddress(addr domain.Address, contact domain.Contact) shipping.Address {
	phone := addr.Phone
	if phone == "" {
		phone = contact.Phone
	}
	return shipping.Address{
		Name:       firstNonBlank(addr.Name, contact.Name),
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Email:      contact.Email,
		Phone:      phone,
	}
}

func sameShipment(a, b domain.Shipment) bool {
	return a.ProviderOrderID == b.ProviderOrderID &&
		a.ShipmentID == b.ShipmentID &&
		a.Status == b.Status &&
		a.AWB == b.AWB &&
		a.CourierName == b.CourierName &&
		a.CourierID == b.CourierID &&
		a.LabelURL == b.LabelURL &&
		sameTime(a.EstimatedDelivery, b.EstimatedDelivery) &&
		sameTime(a.PickupScheduledAt, b.PickupScheduledAt) &&
		sameTime(a.DeliveredAt, b.DeliveredAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
