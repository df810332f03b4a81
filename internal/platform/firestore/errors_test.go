package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/brightatelier/commerce-api/internal/platform/config"
)

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "not found", code: codes.NotFound, notFound: true},
		{name: "aborted", code: codes.Aborted, conflict: true},
		{name: "already exists", code: codes.AlreadyExists, conflict: true},
		{name: "unavailable", code: codes.Unavailable, unavailable: true},
		{name: "permission", code: codes.PermissionDenied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := WrapError("orders.get", status.Error(tc.code, "boom"))
			var fsErr *Error
			if !errors.As(err, &fsErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if fsErr.IsNotFound() != tc.notFound || fsErr.IsConflict() != tc.conflict || fsErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, fsErr)
			}
			if IsNotFound(fmt.Errorf("wrapped: %w", err)) != tc.notFound {
				t.Fatalf("IsNotFound mismatch through wrapping")
			}
		})
	}
}

func TestWrapErrorPassesCancellation(t *testing.T) {
	if err := WrapError("orders.get", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("orders.get", status.Error(codes.DeadlineExceeded, "slow")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if WrapError("noop", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(cfgForTest())
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func cfgForTest() config.FirestoreConfig {
	return config.FirestoreConfig{ProjectID: "test-project", EmulatorHost: "127.0.0.1:1"}
}
