package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/payments"
	"github.com/brightatelier/commerce-api/internal/platform/textutil"
	"github.com/brightatelier/commerce-api/internal/repositories"
)

const (
	defaultSweepBatchSize  = 5
	defaultSweepBatchDelay = time.Second
	defaultSweepPageSize   = 50
	maxSweepFailures       = 200

	// SyncModeSingle re-syncs one local order.
	SyncModeSingle = "single"
	// SyncModeRange re-syncs local orders created within a date range.
	SyncModeRange = "range"
	// SyncModeImport walks the gateway order list and backfills missing orders.
	SyncModeImport = "import"
)

var (
	// ErrSyncInvalidRequest indicates the sync request failed validation.
	ErrSyncInvalidRequest = errors.New("sync: invalid request")
	// ErrSyncNotSyncable indicates the order carries no gateway order id.
	ErrSyncNotSyncable = errors.New("sync: order has no gateway order id")
)

// SyncRequest selects a sweep mode. OrderID wins over a date range.
type SyncRequest struct {
	OrderID       string
	StartDate     time.Time
	EndDate       time.Time
	ImportMissing bool
	Trigger       string
}

// SyncResult is the aggregate outcome of a sweep.
type SyncResult struct {
	RunID        string    `json:"runId"`
	Mode         string    `json:"mode"`
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	SyncCount    int       `json:"syncCount"`
	CreatedCount int       `json:"createdCount"`
	ErrorCount   int       `json:"errorCount"`
	ReportURL    string    `json:"reportUrl,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// SweepFailure records one per-order failure in a sweep report.
type SweepFailure struct {
	OrderID        string `json:"orderId,omitempty"`
	GatewayOrderID string `json:"gatewayOrderId,omitempty"`
	Error          string `json:"error"`
}

// SweepReport is the exported record of a range sweep.
type SweepReport struct {
	RunID        string         `json:"runId"`
	Mode         string         `json:"mode"`
	Trigger      string         `json:"trigger,omitempty"`
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	SyncCount    int            `json:"syncCount"`
	CreatedCount int            `json:"createdCount"`
	ErrorCount   int            `json:"errorCount"`
	Failures     []SweepFailure `json:"failures,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt"`
}

// ReconciliationServiceDeps bundles collaborators for sweeps.
type ReconciliationServiceDeps struct {
	Orders     OrderService
	OrderRepo  repositories.OrderRepository
	Customers  CustomerService
	Gateway    payments.Gateway
	Reports    SweepReportWriter
	Metrics    SweepRecorder
	BatchSize  int
	BatchDelay time.Duration
	PageSize   int
	Clock      func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
	RunID      func() string
	Logger     Logger
}

type reconciliationService struct {
	orders     OrderService
	orderRepo  repositories.OrderRepository
	customers  CustomerService
	gateway    payments.Gateway
	reports    SweepReportWriter
	metrics    SweepRecorder
	batchSize  int
	batchDelay time.Duration
	pageSize   int
	clock      func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	runID      func() string
	logger     Logger
}

var _ ReconciliationService = (*reconciliationService)(nil)

// NewReconciliationService constructs the sweep service.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order service is required")
	}
	if deps.OrderRepo == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconciliation service: payment gateway is required")
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	batchDelay := deps.BatchDelay
	if batchDelay < 0 {
		batchDelay = 0
	} else if batchDelay == 0 {
		batchDelay = defaultSweepBatchDelay
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultSweepPageSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	runID := deps.RunID
	if runID == nil {
		runID = func() string { return uuid.NewString() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &reconciliationService{
		orders:     deps.Orders,
		orderRepo:  deps.OrderRepo,
		customers:  deps.Customers,
		gateway:    deps.Gateway,
		reports:    deps.Reports,
		metrics:    deps.Metrics,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		pageSize:   pageSize,
		clock: func() time.Time {
			return clock().UTC()
		},
		sleep:  sleep,
		runID:  runID,
		logger: logger,
	}, nil
}

// sweepRun accumulates counters across concurrent workers.
type sweepRun struct {
	mu       sync.Mutex
	synced   int
	created  int
	errors   int
	failures []SweepFailure
}

func (r *sweepRun) addSynced() {
	r.mu.Lock()
	r.synced++
	r.mu.Unlock()
}

func (r *sweepRun) addCreated() {
	r.mu.Lock()
	r.created++
	r.mu.Unlock()
}

func (r *sweepRun) addError(orderID, gatewayOrderID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
	if len(r.failures) < maxSweepFailures {
		r.failures = append(r.failures, SweepFailure{OrderID: orderID, GatewayOrderID: gatewayOrderID, Error: err.Error()})
	}
}

func (s *reconciliationService) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	mode, rng, err := s.validate(req)
	if err != nil {
		return SyncResult{}, err
	}

	started := s.clock()
	result := SyncResult{RunID: s.runID(), Mode: mode, StartedAt: started}
	run := &sweepRun{}
	s.logger(ctx, "sweep.started", map[string]any{
		"runId":   result.RunID,
		"mode":    mode,
		"trigger": req.Trigger,
	})

	switch mode {
	case SyncModeSingle:
		if err := s.syncSingle(ctx, strings.TrimSpace(req.OrderID), run); err != nil {
			return SyncResult{}, err
		}
	case SyncModeRange:
		if err := s.syncRange(ctx, rng, run); err != nil {
			return SyncResult{}, err
		}
	case SyncModeImport:
		s.importRange(ctx, rng, run)
	}

	result.FinishedAt = s.clock()
	result.SyncCount = run.synced
	result.CreatedCount = run.created
	result.ErrorCount = run.errors
	result.Success = true
	result.Message = sweepMessage(result)

	if mode != SyncModeSingle {
		result.ReportURL = s.writeReport(ctx, req, rng, result, run.failures)
	}
	if s.metrics != nil {
		s.metrics.RecordSweep(ctx, mode, result.FinishedAt.Sub(started), map[string]int{
			"synced":  result.SyncCount,
			"created": result.CreatedCount,
			"errors":  result.ErrorCount,
		})
	}
	s.logger(ctx, "sweep.completed", map[string]any{
		"runId":   result.RunID,
		"mode":    mode,
		"synced":  result.SyncCount,
		"created": result.CreatedCount,
		"errors":  result.ErrorCount,
	})
	return result, nil
}

func (s *reconciliationService) validate(req SyncRequest) (string, domain.DateRange, error) {
	if strings.TrimSpace(req.OrderID) != "" {
		return SyncModeSingle, domain.DateRange{}, nil
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return "", domain.DateRange{}, fmt.Errorf("%w: orderId or startDate and endDate are required", ErrSyncInvalidRequest)
	}
	if req.EndDate.Before(req.StartDate) {
		return "", domain.DateRange{}, fmt.Errorf("%w: endDate must not precede startDate", ErrSyncInvalidRequest)
	}
	rng := domain.DateRange{From: req.StartDate.UTC(), To: req.EndDate.UTC()}
	if req.ImportMissing {
		return SyncModeImport, rng, nil
	}
	return SyncModeRange, rng, nil
}

// syncSingle fails the request for unknown or unsyncable orders; gateway failures are counted.
func (s *reconciliationService) syncSingle(ctx context.Context, orderID string, run *sweepRun) error {
	order, err := s.orders.Find(ctx, repositories.ByID(orderID))
	if err != nil {
		return err
	}
	if err := s.syncOrder(ctx, order); err != nil {
		if errors.Is(err, ErrSyncNotSyncable) {
			return err
		}
		s.logger(ctx, "sweep.order.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		run.addError(order.ID, order.GatewayOrderID, err)
		return nil
	}
	run.addSynced()
	return nil
}

// syncOrder re-derives the payment state of one local order from the gateway.
func (s *reconciliationService) syncOrder(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.GatewayOrderID) == "" {
		return ErrSyncNotSyncable
	}
	attempts, err := s.gateway.FetchOrderPayments(ctx, order.GatewayOrderID)
	if err != nil {
		return fmt.Errorf("fetch payments for %s: %w", order.GatewayOrderID, err)
	}
	effective, ok := payments.EffectiveState(attempts)
	if !ok {
		return nil
	}
	_, err = s.orders.ApplyPaymentStatus(ctx, PaymentUpdate{
		Lookup:           repositories.ByID(order.ID),
		State:            effective.State,
		GatewayPaymentID: effective.ID,
		Trigger:          "sweep",
	})
	return err
}

func (s *reconciliationService) syncRange(ctx context.Context, rng domain.DateRange, run *sweepRun) error {
	orders, err := s.orderRepo.ListForSync(ctx, rng)
	if err != nil {
		return fmt.Errorf("list orders for sync: %w", err)
	}
	s.inBatches(ctx, len(orders), func(i int) {
		order := orders[i]
		if err := s.syncOrder(ctx, order); err != nil {
			s.logger(ctx, "sweep.order.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			run.addError(order.ID, order.GatewayOrderID, err)
			return
		}
		run.addSynced()
	})
	return nil
}

func (s *reconciliationService) importRange(ctx context.Context, rng domain.DateRange, run *sweepRun) {
	for skip := 0; ; {
		page, err := s.gateway.ListOrders(ctx, payments.ListOrdersRequest{
			From:  rng.From,
			To:    rng.To,
			Count: s.pageSize,
			Skip:  skip,
		})
		if err != nil {
			s.logger(ctx, "sweep.page.failed", map[string]any{"skip": skip, "error": err.Error()})
			run.addError("", "", fmt.Errorf("list gateway orders at %d: %w", skip, err))
			return
		}
		s.inBatches(ctx, len(page), func(i int) {
			s.reconcileRemote(ctx, page[i], run)
		})
		if len(page) < s.pageSize {
			return
		}
		skip += len(page)
		if err := s.sleep(ctx, s.batchDelay); err != nil {
			return
		}
	}
}

// reconcileRemote syncs a gateway order that exists locally, or imports it when missing.
func (s *reconciliationService) reconcileRemote(ctx context.Context, remote payments.GatewayOrder, run *sweepRun) {
	local, err := s.orderRepo.Find(ctx, repositories.ByGatewayOrderID(remote.ID))
	switch {
	case err == nil:
		if err := s.syncOrder(ctx, local); err != nil {
			run.addError(local.ID, remote.ID, err)
			return
		}
		run.addSynced()
		return
	case !repositories.IsNotFound(err):
		run.addError("", remote.ID, err)
		return
	}

	if err := s.importOrder(ctx, remote); err != nil {
		if errors.Is(err, ErrOrderExists) {
			run.addSynced()
			return
		}
		s.logger(ctx, "sweep.import.failed", map[string]any{"gatewayOrderId": remote.ID, "error": err.Error()})
		run.addError("", remote.ID, err)
		return
	}
	run.addCreated()
}

func (s *reconciliationService) importOrder(ctx context.Context, remote payments.GatewayOrder) error {
	attempts, err := s.gateway.FetchOrderPayments(ctx, remote.ID)
	if err != nil {
		return fmt.Errorf("fetch payments for %s: %w", remote.ID, err)
	}
	var payment *payments.GatewayPayment
	if effective, ok := payments.EffectiveState(attempts); ok {
		payment = &effective
	}

	contact := contactFromNotes(remote.Notes, payment)
	order, err := s.orders.Import(ctx, ImportOrderInput{
		Gateway: s.gateway.Name(),
		Remote:  remote,
		Payment: payment,
		Contact: contact,
	})
	if err != nil || s.customers == nil {
		return err
	}

	total := remote.AmountPaid
	if total == 0 {
		total = remote.Amount
	}
	customerID, ok := s.customers.Upsert(ctx, CustomerContact{
		Name:    contact.Name,
		Email:   contact.Email,
		Phone:   contact.Phone,
		Address: contact.Address,
	}, total)
	if !ok {
		return nil
	}
	if _, err := s.orders.AttachCustomer(ctx, order.ID, customerID); err != nil {
		s.logger(ctx, "sweep.import.customer_link_failed", map[string]any{
			"orderId":    order.ID,
			"customerId": customerID,
			"error":      err.Error(),
		})
	}
	return nil
}

// inBatches runs fn for indexes [0, n) in batches of batchSize, all items of a batch
// concurrently, pausing batchDelay between batches.
func (s *reconciliationService) inBatches(ctx context.Context, n int, fn func(i int)) {
	for start := 0; start < n; start += s.batchSize {
		if start > 0 {
			if err := s.sleep(ctx, s.batchDelay); err != nil {
				return
			}
		}
		end := start + s.batchSize
		if end > n {
			end = n
		}
		var g errgroup.Group
		g.SetLimit(s.batchSize)
		for i := start; i < end; i++ {
			g.Go(func() error {
				fn(i)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (s *reconciliationService) writeReport(ctx context.Context, req SyncRequest, rng domain.DateRange, result SyncResult, failures []SweepFailure) string {
	if s.reports == nil {
		return ""
	}
	url, err := s.reports.WriteSweepReport(ctx, SweepReport{
		RunID:        result.RunID,
		Mode:         result.Mode,
		Trigger:      req.Trigger,
		From:         rng.From,
		To:           rng.To,
		SyncCount:    result.SyncCount,
		CreatedCount: result.CreatedCount,
		ErrorCount:   result.ErrorCount,
		Failures:     failures,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
	})
	if err != nil {
		s.logger(ctx, "sweep.report.failed", map[string]any{"runId": result.RunID, "error": err.Error()})
		return ""
	}
	return url
}

// contactFromNotes pulls contact details from gateway order notes, falling back to the
// payment's email and phone.
func contactFromNotes(notes map[string]string, payment *payments.GatewayPayment) domain.Contact {
	notes = textutil.NormalizeStringMap(notes)
	contact := domain.Contact{
		Name:  textutil.FirstNonEmpty(notes, "name", "customer_name", "customerName", "full_name"),
		Email: textutil.FirstNonEmpty(notes, "email", "customer_email", "customerEmail"),
		Phone: textutil.FirstNonEmpty(notes, "phone", "contact", "customer_phone", "customerPhone"),
	}
	if payment != nil {
		if contact.Email == "" {
			contact.Email = payment.Email
		}
		if contact.Phone == "" {
			contact.Phone = payment.Contact
		}
	}
	addr := domain.Address{
		Name:       contact.Name,
		Line1:      textutil.FirstNonEmpty(notes, "address", "address_line1", "shipping_address"),
		Line2:      textutil.FirstNonEmpty(notes, "address_line2"),
		City:       textutil.FirstNonEmpty(notes, "city"),
		State:      textutil.FirstNonEmpty(notes, "state"),
		PostalCode: textutil.FirstNonEmpty(notes, "pincode", "postal_code", "zip"),
		Country:    textutil.FirstNonEmpty(notes, "country"),
		Phone:      contact.Phone,
	}
	if addr.Line1 != "" {
		contact.Address = &addr
	}
	return contact
}

func sweepMessage(result SyncResult) string {
	switch result.Mode {
	case SyncModeSingle:
		if result.ErrorCount > 0 {
			return "Order sync failed"
		}
		return "Order synced"
	case SyncModeImport:
		return fmt.Sprintf("Synced %d orders, imported %d, %d errors", result.SyncCount, result.CreatedCount, result.ErrorCount)
	default:
		return fmt.Sprintf("Synced %d orders, %d errors", result.SyncCount, result.ErrorCount)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
