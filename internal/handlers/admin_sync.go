package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/services"
)

const (
	syncDateLayout        = "2006-01-02"
	defaultSweepLookback  = 48 * time.Hour
	triggerAdminSync      = "admin"
	triggerScheduledSweep = "scheduler"
)

// SyncHandlers triggers reconciliation sweeps from operators and the scheduler.
type SyncHandlers struct {
	sync     services.ReconciliationService
	lookback time.Duration
	clock    func() time.Time
	limiter  requestLimiter
}

// SyncOption customises sync handlers.
type SyncOption func(*SyncHandlers)

// WithSyncLookback sets the window a scheduled sweep covers when the caller sends no range.
func WithSyncLookback(d time.Duration) SyncOption {
	return func(h *SyncHandlers) {
		if d > 0 {
			h.lookback = d
		}
	}
}

// WithSyncClock overrides the clock.
func WithSyncClock(clock func() time.Time) SyncOption {
	return func(h *SyncHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithSyncRateLimit caps operator-triggered syncs per client address in each window. Every
// sync fans out to the gateway and shipping APIs.
func WithSyncRateLimit(limit int, window time.Duration) SyncOption {
	return func(h *SyncHandlers) {
		h.limiter = newWindowLimiter(limit, window, func() time.Time { return h.clock() })
	}
}

// NewSyncHandlers constructs sync handlers.
func NewSyncHandlers(sync services.ReconciliationService, opts ...SyncOption) *SyncHandlers {
	h := &SyncHandlers{sync: sync, lookback: defaultSweepLookback, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// AdminRoutes registers the operator-triggered sync.
func (h *SyncHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(limitByClient(h.limiter)).Post("/sync", h.adminSync)
}

// InternalRoutes registers the scheduler-triggered sweep.
func (h *SyncHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sweeps/sync", h.scheduledSync)
}

type syncRequest struct {
	OrderID       string `json:"orderId" validate:"max=128"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	ImportMissing bool   `json:"importMissing"`
}

type syncErrorResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	SyncCount    int    `json:"syncCount"`
	CreatedCount int    `json:"createdCount"`
	ErrorCount   int    `json:"errorCount"`
}

func (h *SyncHandlers) adminSync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, syncErrorResponse{Message: "reconciliation unavailable"})
		return
	}
	var req syncRequest
	if status, err := decodeJSONBody(r, defaultMaxBodySize, false, &req); err != nil {
		writeJSONResponse(w, status, syncErrorResponse{Message: err.Error()})
		return
	}
	cmd, err := req.toCommand()
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, syncErrorResponse{Message: err.Error()})
		return
	}
	cmd.Trigger = triggerAdminSync
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		cmd.Trigger = triggerAdminSync + ":" + identity.UID
	}
	h.run(w, r, cmd)
}

// scheduledSync defaults to the trailing lookback window when the body carries no range.
func (h *SyncHandlers) scheduledSync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, syncErrorResponse{Message: "reconciliation unavailable"})
		return
	}
	var req syncRequest
	if status, err := decodeJSONBody(r, defaultMaxBodySize, true, &req); err != nil {
		writeJSONResponse(w, status, syncErrorResponse{Message: err.Error()})
		return
	}
	if strings.TrimSpace(req.OrderID) == "" && strings.TrimSpace(req.StartDate) == "" && strings.TrimSpace(req.EndDate) == "" {
		now := h.clock().UTC()
		req.StartDate = now.Add(-h.lookback).Format(time.RFC3339)
		req.EndDate = now.Format(time.RFC3339)
	}
	cmd, err := req.toCommand()
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, syncErrorResponse{Message: err.Error()})
		return
	}
	cmd.Trigger = triggerScheduledSweep
	if identity, ok := auth.ServiceIdentityFromContext(r.Context()); ok && identity.Email != "" {
		cmd.Trigger = triggerScheduledSweep + ":" + identity.Email
	}
	h.run(w, r, cmd)
}

func (h *SyncHandlers) run(w http.ResponseWriter, r *http.Request, cmd services.SyncRequest) {
	result, err := h.sync.Sync(r.Context(), cmd)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSyncInvalidRequest):
			writeJSONResponse(w, http.StatusBadRequest, syncErrorResponse{Message: err.Error()})
		case errors.Is(err, services.ErrOrderNotFound):
			writeJSONResponse(w, http.StatusNotFound, syncErrorResponse{Message: "Order not found"})
		case errors.Is(err, services.ErrSyncNotSyncable):
			writeJSONResponse(w, http.StatusUnprocessableEntity, syncErrorResponse{Message: "Order has no gateway order id"})
		default:
			writeJSONResponse(w, http.StatusInternalServerError, syncErrorResponse{Message: "Sync failed"})
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (req syncRequest) toCommand() (services.SyncRequest, error) {
	cmd := services.SyncRequest{
		OrderID:       strings.TrimSpace(req.OrderID),
		ImportMissing: req.ImportMissing,
	}
	if cmd.OrderID != "" {
		return cmd, nil
	}
	start, err := parseSyncDate(req.StartDate, false)
	if err != nil {
		return services.SyncRequest{}, fmt.Errorf("startDate %w", err)
	}
	end, err := parseSyncDate(req.EndDate, true)
	if err != nil {
		return services.SyncRequest{}, fmt.Errorf("endDate %w", err)
	}
	cmd.StartDate = start
	cmd.EndDate = end
	return cmd, nil
}

// parseSyncDate accepts YYYY-MM-DD or RFC3339. A bare end date covers the whole day.
func parseSyncDate(value string, endOfDay bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(syncDateLayout, value)
	if err != nil {
		return time.Time{}, errors.New("must be YYYY-MM-DD or RFC3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t.UTC(), nil
}
