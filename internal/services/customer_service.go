package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/platform/textutil"
	"github.com/brightatelier/commerce-api/internal/repositories"
)

// CustomerContact is raw, untrusted contact information from checkout or gateway notes.
type CustomerContact struct {
	Name    string
	Email   string
	Phone   string
	Address *domain.Address
}

// CustomerServiceDeps bundles collaborators for the customer service.
type CustomerServiceDeps struct {
	Customers repositories.CustomerRepository
	Clock     func() time.Time
	Logger    Logger
}

type customerService struct {
	customers repositories.CustomerRepository
	clock     func() time.Time
	logger    Logger
}

var _ CustomerService = (*customerService)(nil)

// NewCustomerService constructs the customer upsert service.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &customerService{
		customers: deps.Customers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Upsert keys the profile on the normalized email. Contacts without an email fall back to the
// digits-only phone; with neither there is nothing to converge on and the upsert is skipped.
func (s *customerService) Upsert(ctx context.Context, contact CustomerContact, total int64) (string, bool) {
	normalized := normalizeContact(contact)
	key := repositories.CustomerEmailKey(normalized.Email)
	if key.IsZero() {
		key = repositories.CustomerPhoneKey(normalized.Phone)
	}
	if key.IsZero() {
		s.logger(ctx, "customer.upsert.skipped", map[string]any{"reason": "contact_missing"})
		return "", false
	}
	if total < 0 {
		total = 0
	}

	now := s.clock()
	result, err := s.customers.Upsert(ctx, key, func(existing *domain.Customer) domain.Customer {
		return mergeCustomer(existing, normalized, total, now)
	})
	if err != nil {
		s.logger(ctx, "customer.upsert.failed", map[string]any{
			"key":   key.String(),
			"error": err.Error(),
		})
		return "", false
	}
	if result.Matches > 1 {
		s.logger(ctx, "customer.duplicate_profiles", map[string]any{
			"key":        key.String(),
			"matches":    result.Matches,
			"customerId": result.Customer.ID,
		})
	}
	s.logger(ctx, "customer.upserted", map[string]any{
		"customerId": result.Customer.ID,
		"created":    result.Created,
	})
	return result.Customer.ID, result.Customer.ID != ""
}

func normalizeContact(contact CustomerContact) CustomerContact {
	out := CustomerContact{
		Name:  textutil.CleanText(contact.Name),
		Email: textutil.NormalizeEmail(contact.Email),
		Phone: textutil.NormalizePhone(contact.Phone),
	}
	if contact.Address != nil {
		addr := cleanAddress(*contact.Address)
		if !addr.IsZero() {
			out.Address = &addr
		}
	}
	return out
}

func cleanAddress(addr domain.Address) domain.Address {
	return domain.Address{
		Name:       textutil.CleanText(addr.Name),
		Line1:      textutil.CleanText(addr.Line1),
		Line2:      textutil.CleanText(addr.Line2),
		City:       textutil.CleanText(addr.City),
		State:      textutil.CleanText(addr.State),
		PostalCode: strings.ToUpper(textutil.CleanText(addr.PostalCode)),
		Country:    textutil.CleanText(addr.Country),
		Phone:      textutil.NormalizePhone(addr.Phone),
	}
}

// mergeCustomer folds contact into existing. Scalars only overwrite with non-empty values,
// counters increment and sets union by value.
func mergeCustomer(existing *domain.Customer, contact CustomerContact, total int64, now time.Time) domain.Customer {
	var c domain.Customer
	if existing != nil {
		c = *existing
		c.Emails = append([]string(nil), existing.Emails...)
		c.Phones = append([]string(nil), existing.Phones...)
		c.Addresses = append([]domain.Address(nil), existing.Addresses...)
	} else {
		c.CreatedAt = now
	}

	if contact.Name != "" {
		c.Name = contact.Name
	}
	if c.Email == "" {
		c.Email = contact.Email
	}
	if contact.Phone != "" {
		c.Phone = contact.Phone
	}
	if contact.Address != nil {
		addr := *contact.Address
		c.DefaultAddress = &addr
	}

	c.Emails = appendUnique(c.Emails, contact.Email)
	c.Phones = appendUnique(c.Phones, contact.Phone)
	if contact.Address != nil {
		c.Addresses = appendAddress(c.Addresses, *contact.Address)
	}

	c.OrderCount++
	c.TotalSpent += total
	c.UpdatedAt = now
	last := now
	c.LastOrderAt = &last
	return c
}

func appendUnique(values []string, value string) []string {
	if value == "" {
		return values
	}
	key := textutil.FoldKey(value)
	for _, v := range values {
		if textutil.FoldKey(v) == key {
			return values
		}
	}
	return append(values, value)
}

func appendAddress(values []domain.Address, addr domain.Address) []domain.Address {
	key := addressKey(addr)
	for _, v := range values {
		if addressKey(v) == key {
			return values
		}
	}
	return append(values, addr)
}

func addressKey(addr domain.Address) string {
	parts := []string{addr.Line1, addr.Line2, addr.City, addr.State, addr.PostalCode, addr.Country}
	for i, p := range parts {
		parts[i] = textutil.FoldKey(p)
	}
	return strings.Join(parts, "|")
}
