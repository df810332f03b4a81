package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/services"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

// AdminShipmentHandlers exposes manual shipment actions to operators.
type AdminShipmentHandlers struct {
	shipments services.ShipmentService
}

// NewAdminShipmentHandlers constructs shipment action handlers.
func NewAdminShipmentHandlers(shipments services.ShipmentService) *AdminShipmentHandlers {
	return &AdminShipmentHandlers{shipments: shipments}
}

// Routes registers shipment actions beneath /orders/{orderID}/shipment.
func (h *AdminShipmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders/{orderID}/shipment", func(rt chi.Router) {
		rt.Post("/", h.create)
		rt.Post("/awb", h.assignAWB)
		rt.Get("/label", h.label)
		rt.Get("/track", h.track)
		rt.Post("/cancel", h.cancel)
	})
}

type shipmentPayload struct {
	ProviderOrderID   string `json:"providerOrderId,omitempty"`
	ShipmentID        string `json:"shipmentId,omitempty"`
	Status            string `json:"status"`
	AWB               string `json:"awb,omitempty"`
	CourierName       string `json:"courierName,omitempty"`
	CourierID         string `json:"courierId,omitempty"`
	LabelURL          string `json:"labelUrl,omitempty"`
	EstimatedDelivery string `json:"estimatedDelivery,omitempty"`
	PickupScheduledAt string `json:"pickupScheduledAt,omitempty"`
	DeliveredAt       string `json:"deliveredAt,omitempty"`
	LastSyncedAt      string `json:"lastSyncedAt,omitempty"`
}

func newShipmentPayload(s domain.Shipment) *shipmentPayload {
	return &shipmentPayload{
		ProviderOrderID:   s.ProviderOrderID,
		ShipmentID:        s.ShipmentID,
		Status:            string(s.Status),
		AWB:               s.AWB,
		CourierName:       s.CourierName,
		CourierID:         s.CourierID,
		LabelURL:          s.LabelURL,
		EstimatedDelivery: formatTime(s.EstimatedDelivery),
		PickupScheduledAt: formatTime(s.PickupScheduledAt),
		DeliveredAt:       formatTime(s.DeliveredAt),
		LastSyncedAt:      formatTime(s.LastSyncedAt),
	}
}

type trackingActivityPayload struct {
	At       string `json:"at,omitempty"`
	Status   string `json:"status,omitempty"`
	Location string `json:"location,omitempty"`
	Activity string `json:"activity,omitempty"`
}

type trackingPayload struct {
	ShipmentStatus    string                    `json:"shipmentStatus,omitempty"`
	TrackURL          string                    `json:"trackUrl,omitempty"`
	EstimatedDelivery string                    `json:"estimatedDelivery,omitempty"`
	DeliveredAt       string                    `json:"deliveredAt,omitempty"`
	Activities        []trackingActivityPayload `json:"activities"`
}

func newTrackingPayload(t shipping.TrackingResult) trackingPayload {
	payload := trackingPayload{
		ShipmentStatus:    t.ShipmentStatus,
		TrackURL:          t.TrackURL,
		EstimatedDelivery: formatTime(t.EstimatedDelivery),
		DeliveredAt:       formatTime(t.DeliveredAt),
		Activities:        make([]trackingActivityPayload, 0, len(t.Activities)),
	}
	for _, a := range t.Activities {
		at := a.At
		payload.Activities = append(payload.Activities, trackingActivityPayload{
			At:       formatTime(&at),
			Status:   a.Status,
			Location: a.Location,
			Activity: a.Activity,
		})
	}
	return payload
}

type actionResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type assignAWBRequest struct {
	CourierID string `json:"courierId" validate:"max=32"`
}

func (h *AdminShipmentHandlers) create(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	shipment, err := h.shipments.CreateShipment(r.Context(), orderID)
	if err != nil {
		writeShipmentError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, actionResponse{Success: true, Data: newShipmentPayload(shipment)})
}

func (h *AdminShipmentHandlers) assignAWB(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req assignAWBRequest
	if status, err := decodeJSONBody(r, defaultMaxBodySize, true, &req); err != nil {
		writeJSONResponse(w, status, actionResponse{Error: err.Error()})
		return
	}
	shipment, err := h.shipments.AssignAWB(r.Context(), orderID, strings.TrimSpace(req.CourierID))
	if err != nil {
		writeShipmentError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, actionResponse{Success: true, Data: newShipmentPayload(shipment)})
}

func (h *AdminShipmentHandlers) label(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	label, err := h.shipments.Label(r.Context(), orderID)
	if err != nil {
		writeShipmentError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, actionResponse{Success: true, Data: map[string]string{"labelUrl": label.URL}})
}

func (h *AdminShipmentHandlers) track(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	tracking, err := h.shipments.Track(r.Context(), orderID)
	if err != nil {
		writeShipmentError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, actionResponse{Success: true, Data: newTrackingPayload(tracking)})
}

func (h *AdminShipmentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	shipment, err := h.shipments.Cancel(r.Context(), orderID)
	if err != nil {
		writeShipmentError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, actionResponse{Success: true, Data: newShipmentPayload(shipment)})
}

func (h *AdminShipmentHandlers) orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.shipments == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, actionResponse{Error: "shipment service unavailable"})
		return "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeJSONResponse(w, http.StatusBadRequest, actionResponse{Error: "order id is required"})
		return "", false
	}
	return orderID, true
}

func writeShipmentError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "shipment action failed"
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		status, message = http.StatusNotFound, "order not found"
	case errors.Is(err, services.ErrShipmentExists):
		status, message = http.StatusConflict, "shipment already created"
	case errors.Is(err, services.ErrShipmentAWBAssigned):
		status, message = http.StatusConflict, "awb already assigned"
	case errors.Is(err, services.ErrShipmentMissing):
		status, message = http.StatusConflict, "shipment has not been created"
	case errors.Is(err, services.ErrShipmentInvalid):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrShipmentProvider):
		status, message = http.StatusBadGateway, err.Error()
	case errors.Is(err, services.ErrOrderUnavailable):
		status, message = http.StatusServiceUnavailable, "order store unavailable"
	}
	writeJSONResponse(w, status, actionResponse{Error: message})
}
