package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/services"
)

func newAdminAccessRouter(svc services.AdminService) chi.Router {
	router := chi.NewRouter()
	NewAdminAccessHandlers(svc).Routes(router)
	return router
}

func TestAdminAccessHandlersGrant(t *testing.T) {
	var captured services.GrantAdminCommand
	svc := &stubAdminService{
		grantFunc: func(_ context.Context, cmd services.GrantAdminCommand) (domain.Admin, error) {
			captured = cmd
			return domain.Admin{
				ID:        cmd.UID,
				UID:       cmd.UID,
				GrantedBy: cmd.ActorID,
				CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/admins", bytes.NewBufferString(`{"uid":"user-9"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", AdminKey: "ops-1"}))
	rr := httptest.NewRecorder()
	newAdminAccessRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UID != "user-9" || captured.ActorID != "ops-1" {
		t.Fatalf("unexpected command %#v", captured)
	}
	body := decodeAction(t, rr)
	data, _ := body["data"].(map[string]any)
	if data["id"] != "user-9" || data["createdAt"] != "2024-02-01T00:00:00Z" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAdminAccessHandlersValidation(t *testing.T) {
	called := false
	svc := &stubAdminService{
		grantFunc: func(context.Context, services.GrantAdminCommand) (domain.Admin, error) {
			called = true
			return domain.Admin{}, nil
		},
	}
	router := newAdminAccessRouter(svc)

	for _, body := range []string{`{}`, `{"email":"not-an-email"}`} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admins", bytes.NewBufferString(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
	}
	if called {
		t.Fatalf("service must not be called for invalid input")
	}
}

func TestAdminAccessHandlersRevokeDefaultIsForbidden(t *testing.T) {
	svc := &stubAdminService{
		revokeFunc: func(_ context.Context, cmd services.RevokeAdminCommand) error {
			if cmd.Email == "owner@example.com" {
				return services.ErrAdminImmutable
			}
			return nil
		},
	}
	router := newAdminAccessRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admins", bytes.NewBufferString(`{"email":"owner@example.com"}`)))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admins", bytes.NewBufferString(`{"email":"ops@example.com"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeAction(t, rr); body["success"] != true {
		t.Fatalf("unexpected body %v", body)
	}
}
