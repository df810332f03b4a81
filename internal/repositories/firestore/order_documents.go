package firestore

import (
	"strings"
	"time"

	domain "github.com/brightatelier/commerce-api/internal/domain"
)

type orderDocument struct {
	OrderNumber      string             `firestore:"orderNumber"`
	Gateway          string             `firestore:"gateway"`
	GatewayOrderID   string             `firestore:"gatewayOrderId"`
	GatewayPaymentID string             `firestore:"gatewayPaymentId,omitempty"`
	Receipt          string             `firestore:"receipt,omitempty"`
	Status           string             `firestore:"status"`
	PaymentStatus    string             `firestore:"paymentStatus"`
	CustomerID       string             `firestore:"customerId,omitempty"`
	Contact          contactDocument    `firestore:"contact"`
	Currency         string             `firestore:"currency"`
	Items            []lineItemDocument `firestore:"items"`
	Totals           totalsDocument     `firestore:"totals"`
	ShippingAddress  *addressDocument   `firestore:"shippingAddress,omitempty"`
	BillingAddress   *addressDocument   `firestore:"billingAddress,omitempty"`
	Shipment         *shipmentDocument  `firestore:"shipment,omitempty"`
	StatusHistory    []statusDocument   `firestore:"statusHistory"`
	Source           string             `firestore:"source"`
	Notes            map[string]string  `firestore:"notes,omitempty"`
	CreatedAt        time.Time          `firestore:"createdAt"`
	UpdatedAt        time.Time          `firestore:"updatedAt"`
	PaidAt           *time.Time         `firestore:"paidAt,omitempty"`
	ShippedAt        *time.Time         `firestore:"shippedAt,omitempty"`
	DeliveredAt      *time.Time         `firestore:"deliveredAt,omitempty"`
	CancelledAt      *time.Time         `firestore:"cancelledAt,omitempty"`
	RefundedAt       *time.Time         `firestore:"refundedAt,omitempty"`
}

type contactDocument struct {
	Name    string           `firestore:"name,omitempty"`
	Email   string           `firestore:"email,omitempty"`
	Phone   string           `firestore:"phone,omitempty"`
	Address *addressDocument `firestore:"address,omitempty"`
}

type lineItemDocument struct {
	ProductID string  `firestore:"productId,omitempty"`
	SKU       string  `firestore:"sku,omitempty"`
	Name      string  `firestore:"name"`
	Quantity  int     `firestore:"quantity"`
	UnitPrice int64   `firestore:"unitPrice"`
	Total     int64   `firestore:"total"`
	Weight    float64 `firestore:"weight,omitempty"`
}

type totalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type addressDocument struct {
	Name       string `firestore:"name,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

type shipmentDocument struct {
	ProviderOrderID   string     `firestore:"providerOrderId,omitempty"`
	ShipmentID        string     `firestore:"shipmentId,omitempty"`
	Status            string     `firestore:"status,omitempty"`
	AWB               string     `firestore:"awb,omitempty"`
	CourierName       string     `firestore:"courierName,omitempty"`
	CourierID         string     `firestore:"courierId,omitempty"`
	LabelURL          string     `firestore:"labelUrl,omitempty"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	PickupScheduledAt *time.Time `firestore:"pickupScheduledAt,omitempty"`
	DeliveredAt       *time.Time `firestore:"deliveredAt,omitempty"`
	LastSyncedAt      *time.Time `firestore:"lastSyncedAt,omitempty"`
}

type statusDocument struct {
	ID     string    `firestore:"id"`
	Status string    `firestore:"status"`
	At     time.Time `firestore:"at"`
	Note   string    `firestore:"note,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:      order.OrderNumber,
		Gateway:          order.Gateway,
		GatewayOrderID:   strings.TrimSpace(order.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(order.GatewayPaymentID),
		Receipt:          order.Receipt,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		CustomerID:       order.CustomerID,
		Contact: contactDocument{
			Name:    order.Contact.Name,
			Email:   order.Contact.Email,
			Phone:   order.Contact.Phone,
			Address: fromDomainAddress(order.Contact.Address),
		},
		Currency: order.Currency,
		Totals: totalsDocument{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		ShippingAddress: fromDomainAddress(order.ShippingAddress),
		BillingAddress:  fromDomainAddress(order.BillingAddress),
		Shipment:        fromDomainShipment(order.Shipment),
		StatusHistory:   fromDomainHistory(order.StatusHistory),
		Source:          string(order.Source),
		Notes:           order.Notes,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		PaidAt:          order.PaidAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		RefundedAt:      order.RefundedAt,
	}
	doc.Items = make([]lineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, lineItemDocument(item))
	}
	return doc
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:               id,
		OrderNumber:      doc.OrderNumber,
		Gateway:          doc.Gateway,
		GatewayOrderID:   doc.GatewayOrderID,
		GatewayPaymentID: doc.GatewayPaymentID,
		Receipt:          doc.Receipt,
		Status:           domain.OrderStatus(doc.Status),
		PaymentStatus:    domain.PaymentStatus(doc.PaymentStatus),
		CustomerID:       doc.CustomerID,
		Contact: domain.Contact{
			Name:    doc.Contact.Name,
			Email:   doc.Contact.Email,
			Phone:   doc.Contact.Phone,
			Address: toDomainAddress(doc.Contact.Address),
		},
		Currency:        doc.Currency,
		Totals:          domain.OrderTotals(doc.Totals),
		ShippingAddress: toDomainAddress(doc.ShippingAddress),
		BillingAddress:  toDomainAddress(doc.BillingAddress),
		Shipment:        toDomainShipment(doc.Shipment),
		Source:          domain.OrderSource(doc.Source),
		Notes:           doc.Notes,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		PaidAt:          doc.PaidAt,
		ShippedAt:       doc.ShippedAt,
		DeliveredAt:     doc.DeliveredAt,
		CancelledAt:     doc.CancelledAt,
		RefundedAt:      doc.RefundedAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.LineItem(item))
	}
	for _, entry := range doc.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusEntry{
			ID:     entry.ID,
			Status: domain.OrderStatus(entry.Status),
			At:     entry.At,
			Note:   entry.Note,
		})
	}
	return order
}

func fromDomainHistory(entries []domain.StatusEntry) []statusDocument {
	docs := make([]statusDocument, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, statusDocument{
			ID:     entry.ID,
			Status: string(entry.Status),
			At:     entry.At.UTC(),
			Note:   entry.Note,
		})
	}
	return docs
}

func fromDomainAddress(addr *domain.Address) *addressDocument {
	if addr == nil || addr.IsZero() {
		return nil
	}
	doc := addressDocument(*addr)
	return &doc
}

func toDomainAddress(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	addr := domain.Address(*doc)
	return &addr
}

func fromDomainShipment(s *domain.Shipment) *shipmentDocument {
	if s == nil {
		return nil
	}
	return &shipmentDocument{
		ProviderOrderID:   s.ProviderOrderID,
		ShipmentID:        s.ShipmentID,
		Status:            string(s.Status),
		AWB:               s.AWB,
		CourierName:       s.CourierName,
		CourierID:         s.CourierID,
		LabelURL:          s.LabelURL,
		EstimatedDelivery: s.EstimatedDelivery,
		PickupScheduledAt: s.PickupScheduledAt,
		DeliveredAt:       s.DeliveredAt,
		LastSyncedAt:      s.LastSyncedAt,
	}
}

func toDomainShipment(doc *shipmentDocument) *domain.Shipment {
	if doc == nil {
		return nil
	}
	return &domain.Shipment{
		ProviderOrderID:   doc.ProviderOrderID,
		ShipmentID:        doc.ShipmentID,
		Status:            domain.ShipmentStatus(doc.Status),
		AWB:               doc.AWB,
		CourierName:       doc.CourierName,
		CourierID:         doc.CourierID,
		LabelURL:          doc.LabelURL,
		EstimatedDelivery: doc.EstimatedDelivery,
		PickupScheduledAt: doc.PickupScheduledAt,
		DeliveredAt:       doc.DeliveredAt,
		LastSyncedAt:      doc.LastSyncedAt,
	}
}
