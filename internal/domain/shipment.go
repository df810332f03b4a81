package domain

import (
	"strings"
	"time"
)

// ShipmentStatus uses the shipping provider's vocabulary.
type ShipmentStatus string

const (
	ShipmentStatusCreated         ShipmentStatus = "CREATED"
	ShipmentStatusAWBAssigned     ShipmentStatus = "AWB_ASSIGNED"
	ShipmentStatusPickupScheduled ShipmentStatus = "PICKUP_SCHEDULED"
	ShipmentStatusPickupQueued    ShipmentStatus = "PICKUP_QUEUED"
	ShipmentStatusPickupComplete  ShipmentStatus = "PICKUP_COMPLETE"
	ShipmentStatusInTransit       ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusOutForDelivery  ShipmentStatus = "OUT_FOR_DELIVERY"
	ShipmentStatusDelivered       ShipmentStatus = "DELIVERED"
	ShipmentStatusCancelled       ShipmentStatus = "CANCELLED"
	ShipmentStatusRTOInitiated    ShipmentStatus = "RTO_INITIATED"
	ShipmentStatusRTODelivered    ShipmentStatus = "RTO_DELIVERED"
)

// NormalizeShipmentStatus converts provider spellings ("Out For Delivery", "in-transit") to the
// canonical upper snake case form.
func NormalizeShipmentStatus(raw string) ShipmentStatus {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.NewReplacer(" ", "_", "-", "_").Replace(value)
	return ShipmentStatus(value)
}

var shipmentStatusRank = map[ShipmentStatus]int{
	ShipmentStatusCreated:         0,
	ShipmentStatusAWBAssigned:     1,
	ShipmentStatusPickupScheduled: 2,
	ShipmentStatusPickupQueued:    2,
	ShipmentStatusPickupComplete:  3,
	ShipmentStatusInTransit:       4,
	ShipmentStatusOutForDelivery:  5,
	ShipmentStatusDelivered:       6,
}

// Rank orders the forward delivery path. Side states (cancellation, RTO) and unknown values
// return -1.
func (s ShipmentStatus) Rank() int {
	if rank, ok := shipmentStatusRank[s]; ok {
		return rank
	}
	return -1
}

// IsTerminal reports whether the provider can no longer move the shipment.
func (s ShipmentStatus) IsTerminal() bool {
	switch s {
	case ShipmentStatusDelivered, ShipmentStatusCancelled, ShipmentStatusRTODelivered:
		return true
	default:
		return false
	}
}

// CanAdvanceShipment reports whether a provider status may replace the stored one. Provider
// events arrive out of order, so the forward path only moves up. Cancellation and RTO may
// interrupt any non-terminal state; RTO_INITIATED only yields to RTO_DELIVERED or CANCELLED.
// Unrecognised provider values are recorded over non-terminal states.
func CanAdvanceShipment(from, to ShipmentStatus) bool {
	if to == "" || from == to {
		return false
	}
	if from == "" {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if from == ShipmentStatusRTOInitiated {
		return to == ShipmentStatusRTODelivered || to == ShipmentStatusCancelled
	}
	switch to {
	case ShipmentStatusCancelled, ShipmentStatusRTOInitiated, ShipmentStatusRTODelivered:
		return true
	}
	if to.Rank() < 0 || from.Rank() < 0 {
		return true
	}
	return to.Rank() > from.Rank()
}

// OrderStatusForShipment maps a provider shipment status onto the local order status it implies.
// The boolean is false for statuses that carry no order-level meaning (CREATED, AWB_ASSIGNED via
// webhook, unknown values).
func OrderStatusForShipment(status ShipmentStatus) (OrderStatus, bool) {
	switch status {
	case ShipmentStatusPickupScheduled, ShipmentStatusPickupQueued:
		return OrderStatusProcessing, true
	case ShipmentStatusPickupComplete, ShipmentStatusInTransit, ShipmentStatusOutForDelivery:
		return OrderStatusShipped, true
	case ShipmentStatusDelivered:
		return OrderStatusDelivered, true
	case ShipmentStatusCancelled, ShipmentStatusRTOInitiated, ShipmentStatusRTODelivered:
		return OrderStatusCancelled, true
	default:
		return "", false
	}
}

// Shipment is the order's embedded mirror of provider-side shipment state.
type Shipment struct {
	ProviderOrderID   string
	ShipmentID        string
	Status            ShipmentStatus
	AWB               string
	CourierName       string
	CourierID         string
	LabelURL          string
	EstimatedDelivery *time.Time
	PickupScheduledAt *time.Time
	DeliveredAt       *time.Time
	LastSyncedAt      *time.Time
}

// ShipmentPatch carries optional updates. A nil field means "no information", never "clear".
type ShipmentPatch struct {
	ProviderOrderID   *string
	ShipmentID        *string
	Status            *ShipmentStatus
	AWB               *string
	CourierName       *string
	CourierID         *string
	LabelURL          *string
	EstimatedDelivery *time.Time
	PickupScheduledAt *time.Time
	DeliveredAt       *time.Time
	LastSyncedAt      *time.Time
}

// MergeShipment applies patch onto current and returns the merged copy.
//
// Rules:
//   - ProviderOrderID and ShipmentID are identity fields: set only while empty.
//   - Status only moves as CanAdvanceShipment allows.
//   - AWB, courier and label fields overwrite when the patch value is non-empty.
//   - Dates overwrite when present in the patch.
//   - Empty strings in the patch are treated as absent.
func MergeShipment(current *Shipment, patch ShipmentPatch) Shipment {
	var out Shipment
	if current != nil {
		out = *current
	}
	if v := nonEmpty(patch.ProviderOrderID); v != "" && out.ProviderOrderID == "" {
		out.ProviderOrderID = v
	}
	if v := nonEmpty(patch.ShipmentID); v != "" && out.ShipmentID == "" {
		out.ShipmentID = v
	}
	if patch.Status != nil && CanAdvanceShipment(out.Status, *patch.Status) {
		out.Status = *patch.Status
	}
	if v := nonEmpty(patch.AWB); v != "" {
		out.AWB = v
	}
	if v := nonEmpty(patch.CourierName); v != "" {
		out.CourierName = v
	}
	if v := nonEmpty(patch.CourierID); v != "" {
		out.CourierID = v
	}
	if v := nonEmpty(patch.LabelURL); v != "" {
		out.LabelURL = v
	}
	if patch.EstimatedDelivery != nil {
		out.EstimatedDelivery = copyTime(patch.EstimatedDelivery)
	}
	if patch.PickupScheduledAt != nil {
		out.PickupScheduledAt = copyTime(patch.PickupScheduledAt)
	}
	if patch.DeliveredAt != nil {
		out.DeliveredAt = copyTime(patch.DeliveredAt)
	}
	if patch.LastSyncedAt != nil {
		out.LastSyncedAt = copyTime(patch.LastSyncedAt)
	}
	return out
}

func nonEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
