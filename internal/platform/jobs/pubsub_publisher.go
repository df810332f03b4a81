package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/brightatelier/commerce-api/internal/services"
)

// PubSubPublisher fans order status changes and customer notifications out to Pub/Sub.
// Either topic may be nil; publishing to a missing topic is a no-op.
type PubSubPublisher struct {
	orderEvents   *pubsub.Topic
	notifications *pubsub.Topic
	marshal       func(any) ([]byte, error)
}

var (
	_ services.OrderEventPublisher   = (*PubSubPublisher)(nil)
	_ services.NotificationPublisher = (*PubSubPublisher)(nil)
)

// NewPubSubPublisher constructs a publisher over the given topics.
func NewPubSubPublisher(orderEvents, notifications *pubsub.Topic) (*PubSubPublisher, error) {
	if orderEvents == nil && notifications == nil {
		return nil, errors.New("pubsub publisher: at least one topic is required")
	}
	return &PubSubPublisher{
		orderEvents:   orderEvents,
		notifications: notifications,
		marshal:       json.Marshal,
	}, nil
}

// PublishOrderEvent publishes a status change keyed by order id so subscribers can enable
// message ordering per order.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orderEvents == nil {
		return nil
	}
	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.CurrentStatus)
	setAttr(attrs, "trigger", event.Trigger)
	_, err := p.publish(ctx, p.orderEvents, event, attrs, event.OrderID)
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PublishNotification enqueues a customer notification for the mailer.
func (p *PubSubPublisher) PublishNotification(ctx context.Context, notification services.CustomerNotification) error {
	if p == nil || p.notifications == nil {
		return nil
	}
	attrs := make(map[string]string)
	setAttr(attrs, "type", notification.Type)
	setAttr(attrs, "orderId", notification.OrderID)
	if _, err := p.publish(ctx, p.notifications, notification, attrs, ""); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *PubSubPublisher) publish(ctx context.Context, topic *pubsub.Topic, payload any, attrs map[string]string, orderingKey string) (string, error) {
	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(orderingKey)
	}
	result := topic.Publish(ctx, msg)
	return result.Get(ctx)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// Stop flushes pending messages and releases topic goroutines.
func (p *PubSubPublisher) Stop() {
	if p == nil {
		return
	}
	for _, topic := range []*pubsub.Topic{p.orderEvents, p.notifications} {
		if topic != nil {
			topic.Stop()
		}
	}
}
