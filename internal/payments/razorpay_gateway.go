package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

const razorpayDefaultTimeout = 10 * time.Second

// Logger matches the structured logger funcs used across services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CallRecorder receives one observation per gateway call.
type CallRecorder interface {
	RecordGatewayCall(ctx context.Context, provider, operation string, err error, duration time.Duration)
}

type razorpayOrderAPI interface {
	All(queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Payments(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGatewayConfig configures the Razorpay adapter.
type RazorpayGatewayConfig struct {
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	Logger    Logger
	Metrics   CallRecorder

	orders razorpayOrderAPI
}

// RazorpayGateway reads orders and payments from Razorpay.
type RazorpayGateway struct {
	orders  razorpayOrderAPI
	timeout time.Duration
	logger  Logger
	metrics CallRecorder
}

var _ Gateway = (*RazorpayGateway)(nil)

// NewRazorpayGateway constructs the adapter.
func NewRazorpayGateway(cfg RazorpayGatewayConfig) (*RazorpayGateway, error) {
	orders := cfg.orders
	if orders == nil {
		keyID := strings.TrimSpace(cfg.KeyID)
		secret := strings.TrimSpace(cfg.KeySecret)
		if keyID == "" || secret == "" {
			return nil, errors.New("razorpay: key id and key secret are required")
		}
		orders = razorpay.NewClient(keyID, secret).Order
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = razorpayDefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RazorpayGateway{orders: orders, timeout: timeout, logger: logger, metrics: cfg.Metrics}, nil
}

func (g *RazorpayGateway) Name() string { return "razorpay" }

// FetchOrder loads a single Razorpay order.
func (g *RazorpayGateway) FetchOrder(ctx context.Context, orderID string) (GatewayOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return GatewayOrder{}, errors.New("razorpay: order id is required")
	}
	body, err := g.call(ctx, "fetch_order", func() (map[string]interface{}, error) {
		return g.orders.Fetch(orderID, nil, nil)
	})
	if err != nil {
		return GatewayOrder{}, err
	}
	return razorpayOrder(body), nil
}

// FetchOrderPayments lists every payment attempt for orderID.
func (g *RazorpayGateway) FetchOrderPayments(ctx context.Context, orderID string) ([]GatewayPayment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("razorpay: order id is required")
	}
	body, err := g.call(ctx, "fetch_payments", func() (map[string]interface{}, error) {
		return g.orders.Payments(orderID, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	items := collectionItems(body)
	out := make([]GatewayPayment, 0, len(items))
	for _, item := range items {
		p := razorpayPayment(item)
		if p.OrderID == "" {
			p.OrderID = orderID
		}
		out = append(out, p)
	}
	return out, nil
}

// ListOrders pages through orders created within the request window.
func (g *RazorpayGateway) ListOrders(ctx context.Context, req ListOrdersRequest) ([]GatewayOrder, error) {
	params := map[string]interface{}{}
	if !req.From.IsZero() {
		params["from"] = req.From.Unix()
	}
	if !req.To.IsZero() {
		params["to"] = req.To.Unix()
	}
	if req.Count > 0 {
		params["count"] = req.Count
	}
	if req.Skip > 0 {
		params["skip"] = req.Skip
	}
	body, err := g.call(ctx, "list_orders", func() (map[string]interface{}, error) {
		return g.orders.All(params, nil)
	})
	if err != nil {
		return nil, err
	}
	items := collectionItems(body)
	out := make([]GatewayOrder, 0, len(items))
	for _, item := range items {
		out = append(out, razorpayOrder(item))
	}
	return out, nil
}

// call runs fn with the adapter timeout. The SDK takes no context, so an expired context
// abandons the in-flight request rather than cancelling it.
func (g *RazorpayGateway) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		body map[string]interface{}
		err  error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	var (
		body map[string]interface{}
		err  error
	)
	select {
	case <-ctx.Done():
		err = fmt.Errorf("razorpay: %s: %w", op, ctx.Err())
	case res := <-done:
		body, err = res.body, res.err
		if err != nil {
			err = classifyRazorpayError(op, err)
		}
	}
	if g.metrics != nil {
		g.metrics.RecordGatewayCall(ctx, g.Name(), op, err, time.Since(start))
	}
	if err != nil {
		g.logger(ctx, "payments.razorpay.call.failed", map[string]any{
			"operation": op,
			"error":     err.Error(),
		})
		return nil, err
	}
	return body, nil
}

func classifyRazorpayError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") {
		return fmt.Errorf("%w: %s: %v", ErrGatewayOrderNotFound, op, err)
	}
	return fmt.Errorf("razorpay: %s: %w", op, err)
}

func razorpayOrder(body map[string]interface{}) GatewayOrder {
	return GatewayOrder{
		ID:         stringField(body, "id"),
		Receipt:    stringField(body, "receipt"),
		Status:     stringField(body, "status"),
		Amount:     intField(body, "amount"),
		AmountPaid: intField(body, "amount_paid"),
		Currency:   strings.ToUpper(stringField(body, "currency")),
		Notes:      notesField(body["notes"]),
		CreatedAt:  unixField(body, "created_at"),
	}
}

func razorpayPayment(body map[string]interface{}) GatewayPayment {
	return GatewayPayment{
		ID:        stringField(body, "id"),
		OrderID:   stringField(body, "order_id"),
		State:     State(strings.ToLower(stringField(body, "status"))),
		Amount:    intField(body, "amount"),
		Currency:  strings.ToUpper(stringField(body, "currency")),
		Method:    stringField(body, "method"),
		Email:     stringField(body, "email"),
		Contact:   stringField(body, "contact"),
		CreatedAt: unixField(body, "created_at"),
	}
}

func collectionItems(body map[string]interface{}) []map[string]interface{} {
	raw, _ := body["items"].([]interface{})
	items := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			items = append(items, m)
		}
	}
	return items
}

func stringField(body map[string]interface{}, key string) string {
	switch v := body[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Razorpay amounts arrive as JSON numbers in paise.
func intField(body map[string]interface{}, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(math.Round(v))
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	}
	return 0
}

func unixField(body map[string]interface{}, key string) time.Time {
	if secs := intField(body, key); secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

// Razorpay serialises empty notes as [] and populated notes as an object.
func notesField(raw interface{}) map[string]string {
	m, ok := raw.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil
	}
	notes := make(map[string]string, len(m))
	for k := range m {
		if v := stringField(m, k); v != "" {
			notes[k] = v
		}
	}
	if len(notes) == 0 {
		return nil
	}
	return notes
}
