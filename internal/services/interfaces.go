package services

import (
	"context"
	"time"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/platform/observability"
	"github.com/brightatelier/commerce-api/internal/repositories"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

// CustomerService merges checkout and import contact details into deduplicated profiles.
type CustomerService interface {
	// Upsert returns the profile id, or false when the profile could not be resolved. It never
	// fails the caller; errors are logged.
	Upsert(ctx context.Context, contact CustomerContact, total int64) (string, bool)
}

// OrderService owns order creation and payment-driven status transitions.
type OrderService interface {
	CreateFromCheckout(ctx context.Context, input CreateOrderInput) (domain.Order, error)
	Import(ctx context.Context, input ImportOrderInput) (domain.Order, error)
	Find(ctx context.Context, lookup repositories.OrderLookup) (domain.Order, error)
	ApplyPaymentStatus(ctx context.Context, update PaymentUpdate) (PaymentOutcome, error)
	// AttachCustomer links a recorded order to its customer profile. An existing link is kept.
	AttachCustomer(ctx context.Context, orderID, customerID string) (domain.Order, error)
}

// ShipmentService drives the shipping provider and mirrors its state onto orders.
type ShipmentService interface {
	CreateShipment(ctx context.Context, orderID string) (domain.Shipment, error)
	AssignAWB(ctx context.Context, orderID, courierID string) (domain.Shipment, error)
	Label(ctx context.Context, orderID string) (shipping.LabelResult, error)
	Track(ctx context.Context, orderID string) (shipping.TrackingResult, error)
	Cancel(ctx context.Context, orderID string) (domain.Shipment, error)
	ApplyProviderStatus(ctx context.Context, event ShipmentEvent) (ShipmentOutcome, error)
}

// WebhookService ingests asynchronous gateway and provider events.
type WebhookService interface {
	HandlePaymentEvent(ctx context.Context, event PaymentEvent) WebhookResult
	HandleShipmentEvent(ctx context.Context, event ShipmentEvent) WebhookResult
}

// ReconciliationService repairs drift between local orders and the gateway.
type ReconciliationService interface {
	Sync(ctx context.Context, req SyncRequest) (SyncResult, error)
}

// CheckoutService verifies gateway confirmations and records the order.
type CheckoutService interface {
	Confirm(ctx context.Context, cmd ConfirmCheckoutCommand) (ConfirmCheckoutResult, error)
}

// AdminService manages the admin set.
type AdminService interface {
	ResolveAdmin(ctx context.Context, uid, email string) (string, bool, error)
	Grant(ctx context.Context, cmd GrantAdminCommand) (domain.Admin, error)
	Revoke(ctx context.Context, cmd RevokeAdminCommand) error
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// NotificationPublisher enqueues customer notifications.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, notification CustomerNotification) error
}

// ShippingProvider is the subset of the provider client used by services.
type ShippingProvider interface {
	CreateOrder(ctx context.Context, req shipping.CreateOrderRequest) (shipping.CreateOrderResult, error)
	AssignAWB(ctx context.Context, shipmentID, courierID string) (shipping.AWBResult, error)
	GenerateLabel(ctx context.Context, shipmentID string) (shipping.LabelResult, error)
	Track(ctx context.Context, awb string) (shipping.TrackingResult, error)
	CancelOrder(ctx context.Context, providerOrderID string) error
}

// SweepReportWriter persists a sweep report and returns its location.
type SweepReportWriter interface {
	WriteSweepReport(ctx context.Context, report SweepReport) (string, error)
}

// EventLog remembers processed webhook event ids. Remember returns false for a key already seen.
type EventLog interface {
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// AlertRaiser reports incidents that need an operator.
type AlertRaiser interface {
	Raise(ctx context.Context, alert observability.Alert)
}

// WebhookRecorder counts webhook outcomes.
type WebhookRecorder interface {
	RecordWebhook(ctx context.Context, source, outcome string)
}

// SweepRecorder records sweep runs.
type SweepRecorder interface {
	RecordSweep(ctx context.Context, mode string, duration time.Duration, counts map[string]int)
}

// Logger is the structured event logger shared by services.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}
