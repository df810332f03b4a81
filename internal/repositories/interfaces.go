package repositories

import (
	"context"
	"errors"
	"strings"

	domain "github.com/brightatelier/commerce-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err is a RepositoryError classified as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError classified as a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// OrderLookup identifies a single order. Exactly one field is expected to be set; when more are
// set the first non-empty in declaration order wins.
type OrderLookup struct {
	ID               string
	GatewayOrderID   string
	GatewayPaymentID string
}

// ByID looks up an order by its local id.
func ByID(id string) OrderLookup { return OrderLookup{ID: strings.TrimSpace(id)} }

// ByGatewayOrderID looks up an order by the gateway-assigned order id.
func ByGatewayOrderID(id string) OrderLookup { return OrderLookup{GatewayOrderID: strings.TrimSpace(id)} }

// ByGatewayPaymentID looks up an order by the gateway payment id recorded on it.
func ByGatewayPaymentID(id string) OrderLookup {
	return OrderLookup{GatewayPaymentID: strings.TrimSpace(id)}
}

// Empty reports whether no key is set.
func (l OrderLookup) Empty() bool {
	return l.ID == "" && l.GatewayOrderID == "" && l.GatewayPaymentID == ""
}

// String renders the lookup for logs.
func (l OrderLookup) String() string {
	switch {
	case l.ID != "":
		return "id=" + l.ID
	case l.GatewayOrderID != "":
		return "gatewayOrderId=" + l.GatewayOrderID
	case l.GatewayPaymentID != "":
		return "gatewayPaymentId=" + l.GatewayPaymentID
	}
	return "empty"
}

// OrderMutator edits order in place. Returning false discards the edit and skips the write.
// Status history entries appended by the mutator are persisted as an atomic append.
type OrderMutator func(order *domain.Order) (bool, error)

// OrderRepository persists order aggregates.
type OrderRepository interface {
	// Insert stores a new order. A conflict error is returned when an order with the same
	// gateway order id already exists.
	Insert(ctx context.Context, order domain.Order) error
	Find(ctx context.Context, lookup OrderLookup) (domain.Order, error)
	// Mutate reads the order, applies fn and writes the result within one transaction.
	Mutate(ctx context.Context, lookup OrderLookup, fn OrderMutator) (domain.Order, bool, error)
	// ListForSync returns orders created within rng that carry a gateway order id, oldest first.
	ListForSync(ctx context.Context, rng domain.DateRange) ([]domain.Order, error)
}

// CustomerMerger returns the profile to persist given the existing one, or nil when none exists.
type CustomerMerger func(existing *domain.Customer) domain.Customer

// CustomerUpsertResult describes the outcome of a transactional customer upsert.
type CustomerUpsertResult struct {
	Customer domain.Customer
	Created  bool
	// Matches counts profiles sharing the key. Values above one indicate
	// duplicates created before upserts became transactional.
	Matches int
}

// Customer profile lookup fields.
const (
	CustomerKeyEmail = "normalizedEmail"
	CustomerKeyPhone = "normalizedPhone"
)

// CustomerKey names the profile an upsert targets. Contacts without an email are keyed by
// their digits-only phone number.
type CustomerKey struct {
	Field string
	Value string
}

// CustomerEmailKey keys a profile by normalized email.
func CustomerEmailKey(normalizedEmail string) CustomerKey {
	return CustomerKey{Field: CustomerKeyEmail, Value: strings.TrimSpace(normalizedEmail)}
}

// CustomerPhoneKey keys a profile by digits-only phone.
func CustomerPhoneKey(normalizedPhone string) CustomerKey {
	return CustomerKey{Field: CustomerKeyPhone, Value: strings.TrimSpace(normalizedPhone)}
}

// IsZero reports whether the key carries no value.
func (k CustomerKey) IsZero() bool {
	return k.Value == ""
}

func (k CustomerKey) String() string {
	return k.Field + ":" + k.Value
}

// CustomerRepository persists customer profiles keyed by normalized email, or by phone when
// the contact has no email.
type CustomerRepository interface {
	Upsert(ctx context.Context, key CustomerKey, merge CustomerMerger) (CustomerUpsertResult, error)
}

// AdminRepository stores the admin set.
type AdminRepository interface {
	// Lookup returns the admin record matching uid, or the legacy record keyed by email.
	Lookup(ctx context.Context, uid, email string) (domain.Admin, error)
	Grant(ctx context.Context, admin domain.Admin) error
	// Revoke removes records for uid and/or the legacy email key.
	Revoke(ctx context.Context, uid, email string) error
}

// HealthRepository probes backing dependencies for the readiness endpoint.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}
