package domain

// OrderStatus enumerates the local order lifecycle.
type OrderStatus string

const (
	// OrderStatusPending is the initial status written at checkout.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the gateway captured the payment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates fulfilment has begun (AWB assigned or pickup scheduled).
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the courier reported delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is the soft-cancel terminal state.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is reachable from confirmed onward.
	OrderStatusRefunded OrderStatus = "refunded"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// Rank orders the forward lifecycle. Terminal side states and unknown values return -1.
func (s OrderStatus) Rank() int {
	if rank, ok := orderStatusRank[s]; ok {
		return rank
	}
	return -1
}

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Valid reports whether s is part of the vocabulary.
func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0 || s.IsTerminal()
}

// CanTransition reports whether moving from -> to is allowed. Forward moves along the main
// lifecycle are allowed; cancellation is allowed from any pre-delivered state and refund from
// confirmed onward. Everything else, including no-op moves, is rejected.
func CanTransition(from, to OrderStatus) bool {
	if from == to || from.IsTerminal() {
		return false
	}
	switch to {
	case OrderStatusCancelled:
		return from.Rank() >= 0 && from.Rank() < OrderStatusDelivered.Rank()
	case OrderStatusRefunded:
		return from.Rank() >= OrderStatusConfirmed.Rank()
	}
	if to.Rank() < 0 || from.Rank() < 0 {
		return false
	}
	return to.Rank() > from.Rank()
}

// PaymentStatus is the gateway-facing payment axis, independent from OrderStatus.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// CanTransitionPayment guards the payment axis: a failure never overwrites a capture and
// nothing leaves refunded.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case "", PaymentStatusPending:
		return true
	case PaymentStatusFailed:
		return to == PaymentStatusPaid || to == PaymentStatusRefunded
	case PaymentStatusPaid:
		// Gateways emit payment.failed for earlier declined attempts on the same order, often
		// after the capture event. Only a refund leaves paid.
		return to == PaymentStatusRefunded
	default:
		return false
	}
}
