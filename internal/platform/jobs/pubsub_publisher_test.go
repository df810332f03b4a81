package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/brightatelier/commerce-api/internal/services"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPubSubPublisherPublishesOrderEvent(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubPublisher(topic, nil)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:           services.OrderEventStatusChanged,
		OrderID:        "ord_1",
		OrderNumber:    "BA-1704448800000",
		PreviousStatus: "pending",
		CurrentStatus:  "confirmed",
		Trigger:        "webhook:payment.captured",
		OccurredAt:     time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord_1" || payload.CurrentStatus != "confirmed" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["status"]; attr != "confirmed" {
		t.Fatalf("expected status attribute, got %q", attr)
	}

	if err := publisher.PublishNotification(ctx, services.CustomerNotification{OrderID: "ord_1"}); err != nil {
		t.Fatalf("notification without topic should be a no-op, got %v", err)
	}
	if len(srv.Messages()) != 1 {
		t.Fatalf("no message expected on missing notification topic")
	}
}

func TestPubSubPublisherPublishesNotification(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "customer-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubPublisher(nil, topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}

	if err := publisher.PublishNotification(ctx, services.CustomerNotification{
		Type:    services.NotificationOrderDelivered,
		OrderID: "ord_2",
		Email:   "asha@example.com",
		AWB:     "AWB123",
	}); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["type"]; attr != services.NotificationOrderDelivered {
		t.Fatalf("unexpected type attribute %q", attr)
	}
	if _, ok := messages[0].Attributes["email"]; ok {
		t.Fatalf("email must not be exposed as an attribute")
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil, nil); err == nil {
		t.Fatalf("expected error without topics")
	}
}
