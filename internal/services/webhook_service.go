package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brightatelier/commerce-api/internal/payments"
	"github.com/brightatelier/commerce-api/internal/repositories"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

const (
	defaultWebhookEventTTL = 72 * time.Hour

	webhookSourcePayment  = "payment"
	webhookSourceShipment = "shipment"
)

// ErrWebhookMalformed indicates the body could not be decoded.
var ErrWebhookMalformed = errors.New("webhook: malformed payload")

// PaymentEvent is a decoded gateway webhook.
type PaymentEvent struct {
	// ID is the delivery id from the gateway's event id header, when supplied.
	ID             string
	Event          string
	GatewayOrderID string
	PaymentID      string
	RefundID       string
	PaymentStatus  string
}

// WebhookResult is what the sender sees. Success is false when the event could not be applied;
// the HTTP status stays 200 regardless.
type WebhookResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	Changed   bool   `json:"changed,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

type webhookEntity struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

type paymentWebhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity webhookEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity webhookEntity `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity webhookEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParsePaymentEvent decodes a gateway webhook body.
func ParsePaymentEvent(body []byte, eventID string) (PaymentEvent, error) {
	var env paymentWebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", ErrWebhookMalformed, err)
	}
	event := PaymentEvent{
		ID:    strings.TrimSpace(eventID),
		Event: strings.TrimSpace(env.Event),
	}
	if event.Event == "" {
		return PaymentEvent{}, fmt.Errorf("%w: event is required", ErrWebhookMalformed)
	}
	if p := env.Payload.Payment; p != nil {
		event.PaymentID = p.Entity.ID
		event.GatewayOrderID = p.Entity.OrderID
		event.PaymentStatus = p.Entity.Status
	}
	if o := env.Payload.Order; o != nil && o.Entity.ID != "" {
		event.GatewayOrderID = o.Entity.ID
	}
	if r := env.Payload.Refund; r != nil {
		event.RefundID = r.Entity.ID
		if r.Entity.PaymentID != "" {
			event.PaymentID = r.Entity.PaymentID
		}
	}
	return event, nil
}

type shipmentWebhookPayload struct {
	OrderID             flexString `json:"order_id"`
	ShipmentID          flexString `json:"sr_shipment_id"`
	ShipmentStatus      string     `json:"shipment_status"`
	CurrentStatus       string     `json:"current_status"`
	AWB                 flexString `json:"awb"`
	CourierName         string     `json:"courier_name"`
	ETD                 string     `json:"etd"`
	EDD                 string     `json:"edd"`
	PickupScheduledDate string     `json:"pickup_scheduled_date"`
	PickupDate          string     `json:"pickup_date"`
	DeliveredDate       string     `json:"delivered_date"`
}

// ParseShipmentEvent decodes a provider webhook body. The order id is the local order id that
// was sent when the provider order was created.
func ParseShipmentEvent(body []byte) (ShipmentEvent, error) {
	var payload shipmentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ShipmentEvent{}, fmt.Errorf("%w: %v", ErrWebhookMalformed, err)
	}
	status := payload.ShipmentStatus
	if strings.TrimSpace(status) == "" {
		status = payload.CurrentStatus
	}
	event := ShipmentEvent{
		OrderID:           strings.TrimSpace(string(payload.OrderID)),
		ShipmentID:        strings.TrimSpace(string(payload.ShipmentID)),
		Status:            strings.TrimSpace(status),
		AWB:               strings.TrimSpace(string(payload.AWB)),
		CourierName:       strings.TrimSpace(payload.CourierName),
		EstimatedDelivery: shipping.ParseDate(firstNonBlank(payload.ETD, payload.EDD)),
		PickupScheduledAt: shipping.ParseDate(firstNonBlank(payload.PickupScheduledDate, payload.PickupDate)),
		DeliveredAt:       shipping.ParseDate(payload.DeliveredDate),
	}
	return event, nil
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return fmt.Errorf("unexpected id value %s", raw)
	}
	*f = flexString(raw)
	return nil
}

// WebhookServiceDeps bundles collaborators for webhook ingest.
type WebhookServiceDeps struct {
	Orders    OrderService
	Shipments ShipmentService
	EventLog  EventLog
	EventTTL  time.Duration
	Metrics   WebhookRecorder
	Logger    Logger
}

type webhookService struct {
	orders    OrderService
	shipments ShipmentService
	eventLog  EventLog
	eventTTL  time.Duration
	metrics   WebhookRecorder
	logger    Logger
}

var _ WebhookService = (*webhookService)(nil)

// NewWebhookService constructs the webhook ingest service.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order service is required")
	}
	if deps.Shipments == nil {
		return nil, errors.New("webhook service: shipment service is required")
	}
	ttl := deps.EventTTL
	if ttl <= 0 {
		ttl = defaultWebhookEventTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &webhookService{
		orders:    deps.Orders,
		shipments: deps.Shipments,
		eventLog:  deps.EventLog,
		eventTTL:  ttl,
		metrics:   deps.Metrics,
		logger:    logger,
	}, nil
}

func (s *webhookService) HandlePaymentEvent(ctx context.Context, event PaymentEvent) WebhookResult {
	update, ok := paymentUpdateFor(event)
	if !ok {
		s.logger(ctx, "webhook.payment.ignored", map[string]any{"event": event.Event})
		s.record(ctx, webhookSourcePayment, "ignored")
		return WebhookResult{Success: true, Ignored: true, Message: "Event ignored"}
	}
	if update.Lookup.Empty() {
		s.logger(ctx, "webhook.payment.unidentified", map[string]any{"event": event.Event})
		s.record(ctx, webhookSourcePayment, "unidentified")
		return WebhookResult{Success: false, Message: "Event does not reference an order"}
	}
	if s.seen(ctx, webhookSourcePayment, event.ID) {
		s.record(ctx, webhookSourcePayment, "duplicate")
		return WebhookResult{Success: true, Duplicate: true, Message: "Event already processed"}
	}

	outcome, err := s.orders.ApplyPaymentStatus(ctx, update)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			s.logger(ctx, "webhook.payment.order_not_found", map[string]any{
				"event":  event.Event,
				"lookup": update.Lookup.String(),
			})
			s.record(ctx, webhookSourcePayment, "not_found")
			return WebhookResult{Success: false, Message: "Order not found for " + update.Lookup.String()}
		}
		s.logger(ctx, "webhook.payment.failed", map[string]any{
			"event":  event.Event,
			"lookup": update.Lookup.String(),
			"error":  err.Error(),
		})
		s.record(ctx, webhookSourcePayment, "error")
		return WebhookResult{Success: false, Message: "Event could not be processed"}
	}

	s.record(ctx, webhookSourcePayment, outcomeLabel(outcome.Changed))
	return WebhookResult{
		Success: true,
		OrderID: outcome.Order.ID,
		Changed: outcome.Changed,
		Message: "Order " + string(outcome.Order.Status),
	}
}

func (s *webhookService) HandleShipmentEvent(ctx context.Context, event ShipmentEvent) WebhookResult {
	if strings.TrimSpace(event.OrderID) == "" {
		s.logger(ctx, "webhook.shipment.unidentified", map[string]any{"status": event.Status})
		s.record(ctx, webhookSourceShipment, "unidentified")
		return WebhookResult{Success: false, Message: "order_id is required"}
	}

	outcome, err := s.shipments.ApplyProviderStatus(ctx, event)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			s.logger(ctx, "webhook.shipment.order_not_found", map[string]any{"orderId": event.OrderID})
			s.record(ctx, webhookSourceShipment, "not_found")
			return WebhookResult{Success: false, Message: "Order not found: " + event.OrderID}
		}
		s.logger(ctx, "webhook.shipment.failed", map[string]any{
			"orderId": event.OrderID,
			"status":  event.Status,
			"error":   err.Error(),
		})
		s.record(ctx, webhookSourceShipment, "error")
		return WebhookResult{Success: false, Message: "Event could not be processed"}
	}

	s.record(ctx, webhookSourceShipment, outcomeLabel(outcome.Changed))
	return WebhookResult{
		Success: true,
		OrderID: outcome.Order.ID,
		Changed: outcome.Changed,
		Message: "Order " + string(outcome.Order.Status),
	}
}

// seen reports whether the event id was already processed. Store failures fall through to
// the forward-only guards.
func (s *webhookService) seen(ctx context.Context, source, eventID string) bool {
	if s.eventLog == nil || eventID == "" {
		return false
	}
	fresh, err := s.eventLog.Remember(ctx, source+":"+eventID, s.eventTTL)
	if err != nil {
		s.logger(ctx, "webhook.eventlog.failed", map[string]any{
			"eventId": eventID,
			"error":   err.Error(),
		})
		return false
	}
	if !fresh {
		s.logger(ctx, "webhook.duplicate", map[string]any{"source": source, "eventId": eventID})
	}
	return !fresh
}

func (s *webhookService) record(ctx context.Context, source, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordWebhook(ctx, source, outcome)
	}
}

// paymentUpdateFor maps a gateway event onto an order update. Refund events carry only the
// payment id, so they look up by payment; everything else looks up by gateway order id.
func paymentUpdateFor(event PaymentEvent) (PaymentUpdate, bool) {
	update := PaymentUpdate{
		GatewayPaymentID: event.PaymentID,
		Trigger:          "webhook:" + event.Event,
	}
	switch event.Event {
	case "payment.captured", "order.paid":
		update.State = payments.StateCaptured
	case "payment.failed":
		update.State = payments.StateFailed
	case "refund.created", "refund.processed":
		update.State = payments.StateRefunded
		update.Lookup = repositories.ByGatewayPaymentID(event.PaymentID)
		return update, true
	default:
		return PaymentUpdate{}, false
	}
	if event.GatewayOrderID != "" {
		update.Lookup = repositories.ByGatewayOrderID(event.GatewayOrderID)
	} else {
		update.Lookup = repositories.ByGatewayPaymentID(event.PaymentID)
	}
	return update, true
}

func outcomeLabel(changed bool) string {
	if changed {
		return "applied"
	}
	return "noop"
}
