package shipping

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	orderDateLayout    = "2006-01-02 15:04"
	defaultParcelCM    = 10.0
	defaultParcelKG    = 0.5
	paymentMethodPaid  = "Prepaid"
	defaultCountryName = "India"
)

// Address is a postal address in provider terms.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Email      string
	Phone      string
}

// Item is one order line. UnitPrice is in paise.
type Item struct {
	Name      string
	SKU       string
	Units     int
	UnitPrice int64
}

// CreateOrderRequest describes the provider order created for a local order. Money is in paise.
type CreateOrderRequest struct {
	OrderID   string
	OrderDate time.Time
	Billing   Address
	Shipping  *Address
	Items     []Item
	SubTotal  int64
	WeightKG  float64
	LengthCM  float64
	BreadthCM float64
	HeightCM  float64
}

// CreateOrderResult holds provider identifiers.
type CreateOrderResult struct {
	ProviderOrderID string
	ShipmentID      string
	Status          string
}

// AWBResult holds the tracking assignment.
type AWBResult struct {
	AWB         string
	CourierName string
	CourierID   string
}

// LabelResult points at a printable label.
type LabelResult struct {
	URL string
}

// TrackingResult is the provider's tracking snapshot.
type TrackingResult struct {
	ShipmentStatus    string
	TrackURL          string
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time
	Activities        []TrackingActivity
}

// TrackingActivity is one scan event.
type TrackingActivity struct {
	At       time.Time
	Status   string
	Location string
	Activity string
}

// flexID accepts provider identifiers encoded as either JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type orderItemPayload struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

type createOrderPayload struct {
	OrderID              string             `json:"order_id"`
	OrderDate            string             `json:"order_date"`
	PickupLocation       string             `json:"pickup_location,omitempty"`
	BillingCustomerName  string             `json:"billing_customer_name"`
	BillingLastName      string             `json:"billing_last_name"`
	BillingAddress       string             `json:"billing_address"`
	BillingAddress2      string             `json:"billing_address_2,omitempty"`
	BillingCity          string             `json:"billing_city"`
	BillingPincode       string             `json:"billing_pincode"`
	BillingState         string             `json:"billing_state"`
	BillingCountry       string             `json:"billing_country"`
	BillingEmail         string             `json:"billing_email"`
	BillingPhone         string             `json:"billing_phone"`
	ShippingIsBilling    bool               `json:"shipping_is_billing"`
	ShippingCustomerName string             `json:"shipping_customer_name,omitempty"`
	ShippingAddress      string             `json:"shipping_address,omitempty"`
	ShippingAddress2     string             `json:"shipping_address_2,omitempty"`
	ShippingCity         string             `json:"shipping_city,omitempty"`
	ShippingPincode      string             `json:"shipping_pincode,omitempty"`
	ShippingState        string             `json:"shipping_state,omitempty"`
	ShippingCountry      string             `json:"shipping_country,omitempty"`
	ShippingPhone        string             `json:"shipping_phone,omitempty"`
	OrderItems           []orderItemPayload `json:"order_items"`
	PaymentMethod        string             `json:"payment_method"`
	SubTotal             float64            `json:"sub_total"`
	Length               float64            `json:"length"`
	Breadth              float64            `json:"breadth"`
	Height               float64            `json:"height"`
	Weight               float64            `json:"weight"`
}

func (r CreateOrderRequest) payload(pickup string, now time.Time) createOrderPayload {
	date := r.OrderDate
	if date.IsZero() {
		date = now
	}
	first, last := splitName(r.Billing.Name)
	p := createOrderPayload{
		OrderID:             r.OrderID,
		OrderDate:           date.Format(orderDateLayout),
		PickupLocation:      pickup,
		BillingCustomerName: first,
		BillingLastName:     last,
		BillingAddress:      r.Billing.Line1,
		BillingAddress2:     r.Billing.Line2,
		BillingCity:         r.Billing.City,
		BillingPincode:      r.Billing.PostalCode,
		BillingState:        r.Billing.State,
		BillingCountry:      countryName(r.Billing.Country),
		BillingEmail:        r.Billing.Email,
		BillingPhone:        r.Billing.Phone,
		ShippingIsBilling:   r.Shipping == nil,
		PaymentMethod:       paymentMethodPaid,
		SubTotal:            rupees(r.SubTotal),
		Length:              orDefault(r.LengthCM, defaultParcelCM),
		Breadth:             orDefault(r.BreadthCM, defaultParcelCM),
		Height:              orDefault(r.HeightCM, defaultParcelCM),
		Weight:              orDefault(r.WeightKG, defaultParcelKG),
	}
	if s := r.Shipping; s != nil {
		p.ShippingCustomerName = s.Name
		p.ShippingAddress = s.Line1
		p.ShippingAddress2 = s.Line2
		p.ShippingCity = s.City
		p.ShippingPincode = s.PostalCode
		p.ShippingState = s.State
		p.ShippingCountry = countryName(s.Country)
		p.ShippingPhone = s.Phone
	}
	for _, item := range r.Items {
		sku := item.SKU
		if sku == "" {
			sku = item.Name
		}
		p.OrderItems = append(p.OrderItems, orderItemPayload{
			Name:         item.Name,
			SKU:          sku,
			Units:        item.Units,
			SellingPrice: rupees(item.UnitPrice),
		})
	}
	return p
}

type createOrderResponse struct {
	OrderID    flexID `json:"order_id"`
	ShipmentID flexID `json:"shipment_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type assignAWBResponse struct {
	AWBAssignStatus int    `json:"awb_assign_status"`
	Message         string `json:"message"`
	Response        struct {
		Data struct {
			AWBCode          string `json:"awb_code"`
			CourierName      string `json:"courier_name"`
			CourierCompanyID flexID `json:"courier_company_id"`
			AWBAssignError   string `json:"awb_assign_error"`
		} `json:"data"`
	} `json:"response"`
}

type labelResponse struct {
	LabelCreated int    `json:"label_created"`
	LabelURL     string `json:"label_url"`
	Response     string `json:"response"`
}

type trackResponse struct {
	TrackingData struct {
		TrackURL      string `json:"track_url"`
		ETD           string `json:"etd"`
		ShipmentTrack []struct {
			CurrentStatus string `json:"current_status"`
			EDD           string `json:"edd"`
			DeliveredDate string `json:"delivered_date"`
		} `json:"shipment_track"`
		Activities []struct {
			Date     string `json:"date"`
			Status   string `json:"status"`
			Activity string `json:"activity"`
			Location string `json:"location"`
		} `json:"shipment_track_activities"`
	} `json:"tracking_data"`
}

func (r trackResponse) result() TrackingResult {
	data := r.TrackingData
	out := TrackingResult{TrackURL: data.TrackURL, EstimatedDelivery: ParseDate(data.ETD)}
	if len(data.ShipmentTrack) > 0 {
		track := data.ShipmentTrack[0]
		out.ShipmentStatus = track.CurrentStatus
		if eta := ParseDate(track.EDD); eta != nil {
			out.EstimatedDelivery = eta
		}
		out.DeliveredAt = ParseDate(track.DeliveredDate)
	}
	for _, a := range data.Activities {
		at := ParseDate(a.Date)
		if at == nil {
			continue
		}
		out.Activities = append(out.Activities, TrackingActivity{At: *at, Status: a.Status, Location: a.Location, Activity: a.Activity})
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006",
	"02 Jan 2006",
}

// ParseDate parses the date formats the provider emits. Empty and unparseable values yield nil;
// values without zone are read as UTC.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "NA" || strings.HasPrefix(raw, "0000") {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "Customer", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func countryName(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "", "IN", "IND", "INDIA":
		return defaultCountryName
	}
	return code
}

func rupees(paise int64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(float64(paise)/100, 'f', 2, 64), 64)
	return v
}

func orDefault(v, fallback float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return fallback
	}
	return v
}
