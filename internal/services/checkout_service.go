package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/platform/observability"
	"github.com/brightatelier/commerce-api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates required confirmation fields are missing.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutConfiguration indicates the gateway key secret is not configured.
	ErrCheckoutConfiguration = errors.New("checkout: payment verification not configured")
	// ErrCheckoutSignatureMismatch indicates the gateway signature did not verify.
	ErrCheckoutSignatureMismatch = errors.New("checkout: signature mismatch")
	// ErrCheckoutOrderNotRecorded indicates the payment verified but the order write failed.
	ErrCheckoutOrderNotRecorded = errors.New("checkout: payment verified but order not recorded")
)

// CheckoutOrder is the cart snapshot sent by the storefront alongside the confirmation.
type CheckoutOrder struct {
	Contact         domain.Contact
	Currency        string
	Receipt         string
	Items           []domain.LineItem
	Totals          domain.OrderTotals
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	Notes           map[string]string
}

// ConfirmCheckoutCommand carries the gateway's confirmation of a completed payment.
type ConfirmCheckoutCommand struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Order            CheckoutOrder
}

// ConfirmCheckoutResult reports the recorded order. Verified stays true when the order write
// fails after signature verification.
type ConfirmCheckoutResult struct {
	Verified      bool
	Replayed      bool
	Order         domain.Order
	CustomerID    string
	Shipment      *domain.Shipment
	ShipmentError string
}

// CheckoutServiceDeps bundles collaborators for checkout confirmation.
type CheckoutServiceDeps struct {
	Orders             OrderService
	Customers          CustomerService
	Shipments          ShipmentService
	Alerts             AlertRaiser
	Gateway            string
	KeySecret          string
	AutoCreateShipment bool
	Logger             Logger
}

type checkoutService struct {
	orders     OrderService
	customers  CustomerService
	shipments  ShipmentService
	alerts     AlertRaiser
	gateway    string
	keySecret  string
	autoCreate bool
	logger     Logger
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs the checkout confirmation service. A missing key secret is not
// a construction error; every Confirm then fails with ErrCheckoutConfiguration.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("checkout service: customer service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &checkoutService{
		orders:     deps.Orders,
		customers:  deps.Customers,
		shipments:  deps.Shipments,
		alerts:     deps.Alerts,
		gateway:    strings.TrimSpace(deps.Gateway),
		keySecret:  deps.KeySecret,
		autoCreate: deps.AutoCreateShipment,
		logger:     logger,
	}, nil
}

func (s *checkoutService) Confirm(ctx context.Context, cmd ConfirmCheckoutCommand) (ConfirmCheckoutResult, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	gatewayPaymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	signature := strings.TrimSpace(cmd.Signature)
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return ConfirmCheckoutResult{}, fmt.Errorf("%w: gateway order id, payment id and signature are required", ErrCheckoutInvalidInput)
	}

	ok, err := auth.VerifySignature(s.keySecret, auth.PaymentMessage(gatewayOrderID, gatewayPaymentID), signature)
	if err != nil {
		s.logger(ctx, "checkout.secret_missing", map[string]any{"gatewayOrderId": gatewayOrderID})
		return ConfirmCheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutConfiguration, err)
	}
	if !ok {
		s.logger(ctx, "checkout.signature.rejected", map[string]any{"gatewayOrderId": gatewayOrderID})
		return ConfirmCheckoutResult{}, ErrCheckoutSignatureMismatch
	}
	result := ConfirmCheckoutResult{Verified: true}

	if existing, found := s.existing(ctx, gatewayOrderID); found {
		result.Replayed = true
		result.Order = existing
		result.CustomerID = existing.CustomerID
		result.Shipment = existing.Shipment
		return result, nil
	}

	order, err := s.orders.CreateFromCheckout(ctx, CreateOrderInput{
		Gateway:          s.gateway,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Receipt:          cmd.Order.Receipt,
		Currency:         cmd.Order.Currency,
		Contact:          cmd.Order.Contact,
		Items:            cmd.Order.Items,
		Totals:           cmd.Order.Totals,
		ShippingAddress:  cmd.Order.ShippingAddress,
		BillingAddress:   cmd.Order.BillingAddress,
		Notes:            cmd.Order.Notes,
	})
	if err != nil {
		if errors.Is(err, ErrOrderExists) {
			if existing, found := s.existing(ctx, gatewayOrderID); found {
				result.Replayed = true
				result.Order = existing
				result.CustomerID = existing.CustomerID
				result.Shipment = existing.Shipment
				return result, nil
			}
		}
		s.raiseUnrecorded(ctx, gatewayOrderID, gatewayPaymentID, cmd.Order.Totals.Total, err)
		return result, fmt.Errorf("%w: %v", ErrCheckoutOrderNotRecorded, err)
	}

	// Only the request that inserted the order counts it toward the customer's aggregates.
	contact := CustomerContact{
		Name:    cmd.Order.Contact.Name,
		Email:   cmd.Order.Contact.Email,
		Phone:   cmd.Order.Contact.Phone,
		Address: firstAddress(cmd.Order.ShippingAddress, cmd.Order.Contact.Address, cmd.Order.BillingAddress),
	}
	result.Order = order
	if customerID, ok := s.customers.Upsert(ctx, contact, cmd.Order.Totals.Total); ok {
		result.CustomerID = customerID
		linked, err := s.orders.AttachCustomer(ctx, order.ID, customerID)
		if err != nil {
			s.logger(ctx, "checkout.customer.link_failed", map[string]any{
				"orderId":    order.ID,
				"customerId": customerID,
				"error":      err.Error(),
			})
		} else {
			result.Order = linked
		}
	}

	if s.autoCreate && s.shipments != nil {
		shipment, err := s.shipments.CreateShipment(ctx, order.ID)
		if err != nil {
			s.logger(ctx, "checkout.shipment.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			result.ShipmentError = err.Error()
		} else {
			result.Shipment = &shipment
		}
	}

	s.logger(ctx, "checkout.confirmed", map[string]any{
		"orderId":        order.ID,
		"orderNumber":    order.OrderNumber,
		"gatewayOrderId": gatewayOrderID,
		"customerId":     result.CustomerID,
	})
	return result, nil
}

func (s *checkoutService) existing(ctx context.Context, gatewayOrderID string) (domain.Order, bool) {
	order, err := s.orders.Find(ctx, repositories.ByGatewayOrderID(gatewayOrderID))
	if err != nil {
		if !errors.Is(err, ErrOrderNotFound) {
			s.logger(ctx, "checkout.lookup.failed", map[string]any{
				"gatewayOrderId": gatewayOrderID,
				"error":          err.Error(),
			})
		}
		return domain.Order{}, false
	}
	return order, true
}

func (s *checkoutService) raiseUnrecorded(ctx context.Context, gatewayOrderID, gatewayPaymentID string, total int64, err error) {
	s.logger(ctx, "checkout.order.unrecorded", map[string]any{
		"gatewayOrderId":   gatewayOrderID,
		"gatewayPaymentId": gatewayPaymentID,
		"total":            total,
		"error":            err.Error(),
	})
	if s.alerts == nil {
		return
	}
	s.alerts.Raise(ctx, observability.Alert{
		Title: "payment verified but order not recorded",
		Tags: map[string]string{
			"gateway":        s.gateway,
			"gatewayOrderId": gatewayOrderID,
		},
		Details: map[string]any{
			"gatewayPaymentId": gatewayPaymentID,
			"total":            total,
			"error":            err.Error(),
		},
	})
}

func firstAddress(candidates ...*domain.Address) *domain.Address {
	for _, addr := range candidates {
		if addr != nil && !addr.IsZero() {
			return addr
		}
	}
	return nil
}
