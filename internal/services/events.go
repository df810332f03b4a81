package services

import "time"

const (
	// OrderEventStatusChanged is emitted whenever an order's status moves.
	OrderEventStatusChanged = "order.status_changed"
	// NotificationOrderShipped tells the customer the parcel is on its way.
	NotificationOrderShipped = "order.shipped"
	// NotificationOrderDelivered tells the customer the parcel arrived.
	NotificationOrderDelivered = "order.delivered"
)

// OrderEvent is published after a committed status change.
type OrderEvent struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	GatewayOrderID string    `json:"gatewayOrderId,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	Trigger        string    `json:"trigger,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// CustomerNotification asks the mailer to contact a customer about their order.
type CustomerNotification struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	AWB         string    `json:"awb,omitempty"`
	CourierName string    `json:"courierName,omitempty"`
	TrackURL    string    `json:"trackUrl,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}
