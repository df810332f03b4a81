package domain

import (
	"time"
)

// DateRange represents an inclusive creation-time window used by sweeps.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether ts falls within the range, inclusive on both ends.
func (r DateRange) Contains(ts time.Time) bool {
	if !r.From.IsZero() && ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && ts.After(r.To) {
		return false
	}
	return true
}

// OrderSource records how a local order came into existence.
type OrderSource string

const (
	// OrderSourceCheckout marks orders written after checkout signature verification.
	OrderSourceCheckout OrderSource = "checkout"
	// OrderSourceGatewayImport marks orders synthesized from the gateway's order list.
	OrderSourceGatewayImport OrderSource = "gateway_import"
)

// Order captures the order aggregate root shared by services and repositories.
type Order struct {
	ID               string
	OrderNumber      string
	Gateway          string
	GatewayOrderID   string
	GatewayPaymentID string
	Receipt          string
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	CustomerID       string
	Contact          Contact
	Currency         string
	Items            []LineItem
	Totals           OrderTotals
	ShippingAddress  *Address
	BillingAddress   *Address
	Shipment         *Shipment
	StatusHistory    []StatusEntry
	Source           OrderSource
	Notes            map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	RefundedAt       *time.Time
}

// HasShipment reports whether a provider order has been created for this order.
func (o Order) HasShipment() bool {
	return o.Shipment != nil && o.Shipment.ProviderOrderID != ""
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit (paise).
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
}

// LineItem mirrors the checkout cart line at the time of purchase.
type LineItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
	Weight    float64
}

// Address is a postal address snapshot. Orders copy it by value at creation.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// IsZero reports whether no address field carries a value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Contact carries free-text customer contact details supplied at checkout or import.
type Contact struct {
	Name    string
	Email   string
	Phone   string
	Address *Address
}

// StatusEntry is one immutable element of an order's status history.
type StatusEntry struct {
	ID     string
	Status OrderStatus
	At     time.Time
	Note   string
}

// Customer is the deduplicated profile keyed by normalized primary email.
type Customer struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	DefaultAddress *Address
	Emails         []string
	Phones         []string
	Addresses      []Address
	OrderCount     int64
	TotalSpent     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastOrderAt    *time.Time
}

// Admin grants elevated API access to a Firebase user. Legacy records are keyed by email.
type Admin struct {
	ID        string
	UID       string
	Email     string
	GrantedBy string
	CreatedAt time.Time
}
