package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// stripeIntentLister exists because paymentintent.Iter cannot be constructed outside the SDK.
type stripeIntentLister func(params *stripe.PaymentIntentListParams, limit int) ([]*stripe.PaymentIntent, error)

// StripeGatewayConfig configures the Stripe adapter. A PaymentIntent plays the role of a gateway
// order; its latest charge is the payment attempt.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Metrics   CallRecorder

	intents stripePaymentIntentAPI
	list    stripeIntentLister
}

// StripeGateway reads PaymentIntents from Stripe.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	list    stripeIntentLister
	account string
	logger  Logger
	metrics CallRecorder
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	intents, list := cfg.intents, cfg.list
	if intents == nil || list == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		if intents == nil {
			intents = sc.PaymentIntents
		}
		if list == nil {
			list = func(params *stripe.PaymentIntentListParams, limit int) ([]*stripe.PaymentIntent, error) {
				iter := sc.PaymentIntents.List(params)
				var out []*stripe.PaymentIntent
				for iter.Next() {
					out = append(out, iter.PaymentIntent())
					if limit > 0 && len(out) >= limit {
						break
					}
				}
				return out, iter.Err()
			}
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{
		intents: intents,
		list:    list,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

// FetchOrder retrieves a PaymentIntent.
func (g *StripeGateway) FetchOrder(ctx context.Context, orderID string) (GatewayOrder, error) {
	intent, err := g.get(ctx, orderID)
	if err != nil {
		return GatewayOrder{}, err
	}
	return stripeOrder(intent), nil
}

// FetchOrderPayments returns the latest charge of the PaymentIntent as a single attempt.
func (g *StripeGateway) FetchOrderPayments(ctx context.Context, orderID string) ([]GatewayPayment, error) {
	intent, err := g.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if intent.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && intent.LastPaymentError == nil {
		return nil, nil
	}
	return []GatewayPayment{stripePayment(intent)}, nil
}

// ListOrders lists PaymentIntents created within the window. Stripe paginates by cursor, so
// Skip is applied by discarding leading results.
func (g *StripeGateway) ListOrders(ctx context.Context, req ListOrdersRequest) ([]GatewayOrder, error) {
	params := &stripe.PaymentIntentListParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if !req.From.IsZero() || !req.To.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{}
		if !req.From.IsZero() {
			params.CreatedRange.GreaterThanOrEqual = req.From.Unix()
		}
		if !req.To.IsZero() {
			params.CreatedRange.LesserThanOrEqual = req.To.Unix()
		}
	}
	if req.Count > 0 && req.Count <= 100 {
		params.Limit = stripe.Int64(int64(req.Count))
	}
	params.AddExpand("data.latest_charge")

	limit := 0
	if req.Count > 0 {
		limit = req.Skip + req.Count
	}
	start := time.Now()
	intents, err := g.list(params, limit)
	g.record(ctx, "list_orders", err, start)
	if err != nil {
		return nil, fmt.Errorf("stripe: list payment intents: %w", err)
	}
	if req.Skip >= len(intents) {
		return nil, nil
	}
	intents = intents[req.Skip:]
	out := make([]GatewayOrder, 0, len(intents))
	for _, intent := range intents {
		out = append(out, stripeOrder(intent))
	}
	return out, nil
}

func (g *StripeGateway) get(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("stripe: payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	params.AddExpand("latest_charge")

	start := time.Now()
	intent, err := g.intents.Get(id, params)
	g.record(ctx, "fetch_order", err, start)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", ErrGatewayOrderNotFound, id)
		}
		g.logger(ctx, "payments.stripe.call.failed", map[string]any{"paymentIntent": id, "error": err.Error()})
		return nil, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	return intent, nil
}

func (g *StripeGateway) record(ctx context.Context, op string, err error, start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordGatewayCall(ctx, g.Name(), op, err, time.Since(start))
	}
}

func stripeOrder(intent *stripe.PaymentIntent) GatewayOrder {
	order := GatewayOrder{
		ID:         intent.ID,
		Receipt:    strings.TrimSpace(intent.Metadata["receipt"]),
		Status:     string(intent.Status),
		Amount:     intent.Amount,
		AmountPaid: intent.AmountReceived,
		Currency:   strings.ToUpper(string(intent.Currency)),
		CreatedAt:  time.Unix(intent.Created, 0).UTC(),
	}
	if len(intent.Metadata) > 0 {
		order.Notes = make(map[string]string, len(intent.Metadata))
		for k, v := range intent.Metadata {
			order.Notes[k] = v
		}
	}
	return order
}

func stripePayment(intent *stripe.PaymentIntent) GatewayPayment {
	payment := GatewayPayment{
		ID:        intent.ID,
		OrderID:   intent.ID,
		State:     stripeState(intent),
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Email:     intent.ReceiptEmail,
		CreatedAt: time.Unix(intent.Created, 0).UTC(),
	}
	if charge := intent.LatestCharge; charge != nil {
		if charge.ID != "" {
			payment.ID = charge.ID
		}
		if charge.Created > 0 {
			payment.CreatedAt = time.Unix(charge.Created, 0).UTC()
		}
		if charge.BillingDetails != nil {
			if payment.Email == "" {
				payment.Email = charge.BillingDetails.Email
			}
			payment.Contact = charge.BillingDetails.Phone
		}
		if charge.PaymentMethodDetails != nil {
			payment.Method = string(charge.PaymentMethodDetails.Type)
		}
	}
	return payment
}

func stripeState(intent *stripe.PaymentIntent) State {
	if charge := intent.LatestCharge; charge != nil && charge.Refunded {
		return StateRefunded
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StateCaptured
	case stripe.PaymentIntentStatusRequiresCapture:
		return StateAuthorized
	case stripe.PaymentIntentStatusCanceled:
		return StateFailed
	}
	if intent.LastPaymentError != nil {
		return StateFailed
	}
	return StateCreated
}
