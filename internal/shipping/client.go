// Package shipping talks to the Shiprocket-style logistics aggregator that creates provider
// orders, assigns AWBs, renders labels and reports tracking.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	defaultBaseURL    = "https://apiv2.shiprocket.in"
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	apiPrefix         = "/v1/external"
	maxErrorBody      = 2048
)

var (
	// ErrNotConfigured is returned when credentials are missing.
	ErrNotConfigured = errors.New("shipping: provider credentials not configured")
	// ErrUnauthorized is returned when the provider rejects the credentials.
	ErrUnauthorized = errors.New("shipping: unauthorized")
)

// StatusError carries a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("shipping: provider status %d", e.StatusCode)
	}
	return fmt.Sprintf("shipping: provider status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Config configures the client.
type Config struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	Timeout        time.Duration
	MaxRetries     int
	HTTPClient     *http.Client
	Logger         func(ctx context.Context, event string, fields map[string]any)
	Metrics        CallRecorder
	Clock          func() time.Time
}

// CallRecorder receives one observation per provider call.
type CallRecorder interface {
	RecordGatewayCall(ctx context.Context, provider, operation string, err error, duration time.Duration)
}

// Client is safe for concurrent use. The auth token is cached and refreshed on 401.
type Client struct {
	baseURL        string
	email          string
	password       string
	pickupLocation string
	http           *http.Client
	maxRetries     int
	backoff        gax.Backoff
	sleep          func(ctx context.Context, d time.Duration) error
	logger         func(context.Context, string, map[string]any)
	metrics        CallRecorder
	clock          func() time.Time

	mu    sync.Mutex
	token string
}

// NewClient constructs a provider client.
func NewClient(cfg Config) (*Client, error) {
	email := strings.TrimSpace(cfg.Email)
	if email == "" || strings.TrimSpace(cfg.Password) == "" {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("shipping: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		baseURL:        base,
		email:          email,
		password:       cfg.Password,
		pickupLocation: strings.TrimSpace(cfg.PickupLocation),
		http:           httpClient,
		maxRetries:     retries,
		backoff:        gax.Backoff{Initial: 250 * time.Millisecond, Max: 4 * time.Second, Multiplier: 2},
		sleep:          gax.Sleep,
		logger:         logger,
		metrics:        cfg.Metrics,
		clock:          func() time.Time { return clock().UTC() },
	}, nil
}

// CreateOrder creates an adhoc provider order with one shipment.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	payload := req.payload(c.pickupLocation, c.clock())
	var resp createOrderResponse
	if err := c.do(ctx, "create_order", http.MethodPost, "/orders/create/adhoc", payload, &resp); err != nil {
		return CreateOrderResult{}, err
	}
	if resp.OrderID == "" || resp.ShipmentID == "" {
		return CreateOrderResult{}, fmt.Errorf("shipping: create order returned no ids: %s", resp.Message)
	}
	return CreateOrderResult{
		ProviderOrderID: string(resp.OrderID),
		ShipmentID:      string(resp.ShipmentID),
		Status:          resp.Status,
	}, nil
}

// AssignAWB assigns a tracking code. courierID may be empty to let the provider choose.
func (c *Client) AssignAWB(ctx context.Context, shipmentID, courierID string) (AWBResult, error) {
	body := map[string]any{"shipment_id": strings.TrimSpace(shipmentID)}
	if id := strings.TrimSpace(courierID); id != "" {
		body["courier_id"] = id
	}
	var resp assignAWBResponse
	if err := c.do(ctx, "assign_awb", http.MethodPost, "/courier/assign/awb", body, &resp); err != nil {
		return AWBResult{}, err
	}
	data := resp.Response.Data
	if resp.AWBAssignStatus != 1 || data.AWBCode == "" {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = strings.TrimSpace(data.AWBAssignError)
		}
		return AWBResult{}, fmt.Errorf("shipping: awb not assigned: %s", msg)
	}
	return AWBResult{
		AWB:         data.AWBCode,
		CourierName: data.CourierName,
		CourierID:   string(data.CourierCompanyID),
	}, nil
}

// GenerateLabel returns the label URL for a shipment.
func (c *Client) GenerateLabel(ctx context.Context, shipmentID string) (LabelResult, error) {
	body := map[string]any{"shipment_id": []string{strings.TrimSpace(shipmentID)}}
	var resp labelResponse
	if err := c.do(ctx, "generate_label", http.MethodPost, "/courier/generate/label", body, &resp); err != nil {
		return LabelResult{}, err
	}
	if resp.LabelURL == "" {
		return LabelResult{}, fmt.Errorf("shipping: label not generated: %s", resp.Response)
	}
	return LabelResult{URL: resp.LabelURL}, nil
}

// Track fetches tracking for an AWB.
func (c *Client) Track(ctx context.Context, awb string) (TrackingResult, error) {
	awb = strings.TrimSpace(awb)
	if awb == "" {
		return TrackingResult{}, errors.New("shipping: awb is required")
	}
	var resp trackResponse
	if err := c.do(ctx, "track", http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), nil, &resp); err != nil {
		return TrackingResult{}, err
	}
	return resp.result(), nil
}

// CancelOrder cancels provider orders by id.
func (c *Client) CancelOrder(ctx context.Context, providerOrderID string) error {
	body := map[string]any{"ids": []string{strings.TrimSpace(providerOrderID)}}
	return c.do(ctx, "cancel_order", http.MethodPost, "/orders/cancel", body, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	start := time.Now()
	err := c.doWithRetry(ctx, op, method, path, body, out)
	if c.metrics != nil {
		c.metrics.RecordGatewayCall(ctx, "shiprocket", op, err, time.Since(start))
	}
	if err != nil {
		c.logger(ctx, "shipping.call.failed", map[string]any{"operation": op, "error": err.Error()})
	}
	return err
}

func (c *Client) doWithRetry(ctx context.Context, op, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("shipping: encode %s: %w", op, err)
		}
		payload = data
	}

	backoff := c.backoff
	reauthed := false
	for attempt := 0; ; attempt++ {
		token, err := c.authToken(ctx)
		if err != nil {
			return err
		}
		err = c.send(ctx, method, path, token, payload, out)
		if err == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized && !reauthed {
			c.invalidateToken(token)
			reauthed = true
			attempt--
			continue
		}
		if !retryable(err) || attempt >= c.maxRetries {
			return err
		}
		c.logger(ctx, "shipping.call.retry", map[string]any{"operation": op, "attempt": attempt + 1, "error": err.Error()})
		if sleepErr := c.sleep(ctx, backoff.Pause()); sleepErr != nil {
			return err
		}
	}
}

func (c *Client) send(ctx context.Context, method, path, token string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("shipping: decode response: %w", err)
	}
	return nil
}

func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	payload, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, http.MethodPost, "/auth/login", "", payload, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusBadRequest) {
			return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return "", fmt.Errorf("shipping: login: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: login returned no token", ErrUnauthorized)
	}
	c.token = resp.Token
	return c.token, nil
}

func (c *Client) invalidateToken(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUnauthorized) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
