package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/brightatelier/commerce-api/internal/domain"
)

func TestCustomerServiceUpsertTwiceConverges(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryCustomers()
	svc, err := NewCustomerService(CustomerServiceDeps{
		Customers: repo,
		Clock:     fixedClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	contact := CustomerContact{Name: "Asha Rao", Email: "  Asha@Example.com ", Phone: "+91 98765-43210"}
	first, ok := svc.Upsert(ctx, contact, 100000)
	if !ok {
		t.Fatalf("expected first upsert to succeed")
	}
	second, ok := svc.Upsert(ctx, contact, 100000)
	if !ok {
		t.Fatalf("expected second upsert to succeed")
	}
	if first != second {
		t.Fatalf("expected same profile, got %s and %s", first, second)
	}
	if len(repo.customers) != 1 {
		t.Fatalf("expected one profile, got %d", len(repo.customers))
	}
	c := repo.customers["asha@example.com"]
	if c.OrderCount != 2 || c.TotalSpent != 200000 {
		t.Fatalf("unexpected aggregates %d / %d", c.OrderCount, c.TotalSpent)
	}
	if len(c.Emails) != 1 || c.Emails[0] != "asha@example.com" {
		t.Fatalf("unexpected emails %v", c.Emails)
	}
	if len(c.Phones) != 1 || c.Phones[0] != "919876543210" {
		t.Fatalf("unexpected phones %v", c.Phones)
	}
}

func TestCustomerServiceUpsertFailuresNeverSurface(t *testing.T) {
	ctx := context.Background()
	logs := &captureLogger{}
	repo := newMemoryCustomers()
	repo.err = errors.New("firestore down")
	svc, err := NewCustomerService(CustomerServiceDeps{Customers: repo, Logger: logs.log})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if id, ok := svc.Upsert(ctx, CustomerContact{Email: "a@b.c"}, 10); ok || id != "" {
		t.Fatalf("expected failure to yield empty id, got %q %v", id, ok)
	}
	if !logs.has("customer.upsert.failed") {
		t.Fatalf("expected failure to be logged, got %v", logs.events)
	}
	if id, ok := svc.Upsert(ctx, CustomerContact{Name: "No Contact"}, 10); ok || id != "" {
		t.Fatalf("expected contact without email or phone to be skipped")
	}
}

func TestCustomerServiceUpsertFallsBackToPhone(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryCustomers()
	svc, err := NewCustomerService(CustomerServiceDeps{Customers: repo})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	contact := CustomerContact{Name: "Ravi", Phone: "+91 98000-00000"}
	first, ok := svc.Upsert(ctx, contact, 40000)
	if !ok || first == "" {
		t.Fatalf("expected phone-only contact to get a profile, got %q %v", first, ok)
	}
	second, _ := svc.Upsert(ctx, contact, 10000)
	if second != first {
		t.Fatalf("expected phone-only checkouts to converge, got %s and %s", first, second)
	}
	c, found := repo.customers["919800000000"]
	if !found || c.OrderCount != 2 || c.TotalSpent != 50000 || c.Email != "" {
		t.Fatalf("unexpected phone profile %+v", c)
	}
}

func TestCustomerServiceWarnsOnDuplicateProfiles(t *testing.T) {
	logs := &captureLogger{}
	repo := newMemoryCustomers()
	repo.matches = 2
	svc, _ := NewCustomerService(CustomerServiceDeps{Customers: repo, Logger: logs.log})

	if _, ok := svc.Upsert(context.Background(), CustomerContact{Email: "dup@example.com"}, 0); !ok {
		t.Fatalf("expected upsert to succeed")
	}
	if !logs.has("customer.duplicate_profiles") {
		t.Fatalf("expected duplicate warning, got %v", logs.events)
	}
}

func TestMergeCustomerPreservesExistingValues(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	home := domain.Address{Line1: "12 MG Road", City: "Pune", PostalCode: "411001"}
	existing := &domain.Customer{
		ID:             "cus_1",
		Name:           "Asha",
		Email:          "asha@example.com",
		Phone:          "111",
		DefaultAddress: &home,
		Emails:         []string{"asha@example.com"},
		Phones:         []string{"111"},
		Addresses:      []domain.Address{home},
		OrderCount:     3,
		TotalSpent:     500,
		CreatedAt:      now.Add(-time.Hour),
	}

	sameHome := domain.Address{Line1: "12  mg road", City: "PUNE", PostalCode: "411001"}
	merged := mergeCustomer(existing, CustomerContact{Email: "asha@example.com", Address: &sameHome}, 0, now)
	if merged.Name != "Asha" || merged.Phone != "111" {
		t.Fatalf("empty values must not clear existing ones: %+v", merged)
	}
	if len(merged.Addresses) != 1 {
		t.Fatalf("expected address dedup, got %v", merged.Addresses)
	}
	if merged.OrderCount != 4 || merged.TotalSpent != 500 {
		t.Fatalf("unexpected aggregates %d / %d", merged.OrderCount, merged.TotalSpent)
	}
	if !merged.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatalf("createdAt must be preserved")
	}
	if len(existing.Phones) != 1 {
		t.Fatalf("merge must not alias existing slices")
	}

	work := domain.Address{Line1: "1 Park St", City: "Kolkata", PostalCode: "700016"}
	merged = mergeCustomer(&merged, CustomerContact{Name: "Asha R", Phone: "222", Address: &work}, 250, now)
	if merged.Name != "Asha R" || merged.Phone != "222" {
		t.Fatalf("non-empty values should overwrite: %+v", merged)
	}
	if len(merged.Phones) != 2 || len(merged.Addresses) != 2 {
		t.Fatalf("expected set unions, got %v %v", merged.Phones, merged.Addresses)
	}
	if merged.DefaultAddress == nil || merged.DefaultAddress.Line1 != "1 Park St" {
		t.Fatalf("expected default address to move to newest, got %+v", merged.DefaultAddress)
	}
}

func TestNormalizeContactSanitisesFreeText(t *testing.T) {
	out := normalizeContact(CustomerContact{
		Name:    "<b>Asha</b>   Rao",
		Email:   " ASHA@EXAMPLE.COM",
		Phone:   "(022) 555-0100",
		Address: &domain.Address{},
	})
	if out.Name != "Asha Rao" {
		t.Fatalf("unexpected name %q", out.Name)
	}
	if out.Email != "asha@example.com" || out.Phone != "0225550100" {
		t.Fatalf("unexpected normalisation %+v", out)
	}
	if out.Address != nil {
		t.Fatalf("empty address should be dropped")
	}
}
