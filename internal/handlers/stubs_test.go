package handlers

import (
	"context"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/services"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

type stubCheckoutService struct {
	confirmFunc func(ctx context.Context, cmd services.ConfirmCheckoutCommand) (services.ConfirmCheckoutResult, error)
}

func (s *stubCheckoutService) Confirm(ctx context.Context, cmd services.ConfirmCheckoutCommand) (services.ConfirmCheckoutResult, error) {
	if s.confirmFunc != nil {
		return s.confirmFunc(ctx, cmd)
	}
	return services.ConfirmCheckoutResult{}, nil
}

type stubWebhookService struct {
	payments  []services.PaymentEvent
	shipments []services.ShipmentEvent
	result    services.WebhookResult
}

func (s *stubWebhookService) HandlePaymentEvent(_ context.Context, event services.PaymentEvent) services.WebhookResult {
	s.payments = append(s.payments, event)
	return s.result
}

func (s *stubWebhookService) HandleShipmentEvent(_ context.Context, event services.ShipmentEvent) services.WebhookResult {
	s.shipments = append(s.shipments, event)
	return s.result
}

type stubShipmentService struct {
	createFunc func(ctx context.Context, orderID string) (domain.Shipment, error)
	awbFunc    func(ctx context.Context, orderID, courierID string) (domain.Shipment, error)
	labelFunc  func(ctx context.Context, orderID string) (shipping.LabelResult, error)
	trackFunc  func(ctx context.Context, orderID string) (shipping.TrackingResult, error)
	cancelFunc func(ctx context.Context, orderID string) (domain.Shipment, error)
}

func (s *stubShipmentService) CreateShipment(ctx context.Context, orderID string) (domain.Shipment, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, orderID)
	}
	return domain.Shipment{}, nil
}

func (s *stubShipmentService) AssignAWB(ctx context.Context, orderID, courierID string) (domain.Shipment, error) {
	if s.awbFunc != nil {
		return s.awbFunc(ctx, orderID, courierID)
	}
	return domain.Shipment{}, nil
}

func (s *stubShipmentService) Label(ctx context.Context, orderID string) (shipping.LabelResult, error) {
	if s.labelFunc != nil {
		return s.labelFunc(ctx, orderID)
	}
	return shipping.LabelResult{}, nil
}

func (s *stubShipmentService) Track(ctx context.Context, orderID string) (shipping.TrackingResult, error) {
	if s.trackFunc != nil {
		return s.trackFunc(ctx, orderID)
	}
	return shipping.TrackingResult{}, nil
}

func (s *stubShipmentService) Cancel(ctx context.Context, orderID string) (domain.Shipment, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, orderID)
	}
	return domain.Shipment{}, nil
}

func (s *stubShipmentService) ApplyProviderStatus(context.Context, services.ShipmentEvent) (services.ShipmentOutcome, error) {
	return services.ShipmentOutcome{}, nil
}

type stubReconciliationService struct {
	requests []services.SyncRequest
	result   services.SyncResult
	err      error
}

func (s *stubReconciliationService) Sync(_ context.Context, req services.SyncRequest) (services.SyncResult, error) {
	s.requests = append(s.requests, req)
	return s.result, s.err
}

type stubAdminService struct {
	grantFunc  func(ctx context.Context, cmd services.GrantAdminCommand) (domain.Admin, error)
	revokeFunc func(ctx context.Context, cmd services.RevokeAdminCommand) error
}

func (s *stubAdminService) ResolveAdmin(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (s *stubAdminService) Grant(ctx context.Context, cmd services.GrantAdminCommand) (domain.Admin, error) {
	if s.grantFunc != nil {
		return s.grantFunc(ctx, cmd)
	}
	return domain.Admin{}, nil
}

func (s *stubAdminService) Revoke(ctx context.Context, cmd services.RevokeAdminCommand) error {
	if s.revokeFunc != nil {
		return s.revokeFunc(ctx, cmd)
	}
	return nil
}

var (
	_ services.CheckoutService       = (*stubCheckoutService)(nil)
	_ services.WebhookService        = (*stubWebhookService)(nil)
	_ services.ShipmentService       = (*stubShipmentService)(nil)
	_ services.ReconciliationService = (*stubReconciliationService)(nil)
	_ services.AdminService          = (*stubAdminService)(nil)
)
