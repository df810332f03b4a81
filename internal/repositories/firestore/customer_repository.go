package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	pfirestore "github.com/brightatelier/commerce-api/internal/platform/firestore"
	"github.com/brightatelier/commerce-api/internal/repositories"
)

const (
	customerCollection = "customers"
	// legacy profiles were written with random ids; the query cap only bounds duplicate reporting.
	customerMatchLimit = 10
)

// CustomerRepository stores customer profiles under a deterministic id derived from the
// profile key so concurrent upserts contend on one document.
type CustomerRepository struct {
	provider  *pfirestore.Provider
	customers *pfirestore.Collection[customerDocument]
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		provider:  provider,
		customers: pfirestore.NewCollection[customerDocument](provider, customerCollection),
	}, nil
}

// CustomerDocumentID derives the document id for a normalized email.
func CustomerDocumentID(normalizedEmail string) string {
	sum := sha256.Sum256([]byte(normalizedEmail))
	return "cus_" + hex.EncodeToString(sum[:])[:24]
}

func customerDocumentID(key repositories.CustomerKey) string {
	if key.Field == repositories.CustomerKeyEmail {
		return CustomerDocumentID(key.Value)
	}
	return CustomerDocumentID(key.String())
}

// Upsert merges into the profile for key, creating it when absent. A phone key also matches
// email profiles that recorded the same phone. When duplicates exist the deterministic document
// wins, then the oldest profile.
func (r *CustomerRepository) Upsert(ctx context.Context, key repositories.CustomerKey, merge repositories.CustomerMerger) (repositories.CustomerUpsertResult, error) {
	key.Value = strings.TrimSpace(key.Value)
	if key.IsZero() {
		return repositories.CustomerUpsertResult{}, errors.New("customer key is required")
	}
	if key.Field != repositories.CustomerKeyEmail && key.Field != repositories.CustomerKeyPhone {
		return repositories.CustomerUpsertResult{}, fmt.Errorf("unsupported customer key %q", key.Field)
	}
	if merge == nil {
		return repositories.CustomerUpsertResult{}, errors.New("customer merger is required")
	}
	coll, err := r.customers.Ref(ctx)
	if err != nil {
		return repositories.CustomerUpsertResult{}, err
	}

	var result repositories.CustomerUpsertResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.CustomerUpsertResult{}
		primaryRef := coll.Doc(customerDocumentID(key))
		primary, err := tx.Get(primaryRef)
		if err != nil && !pfirestore.IsNotFound(err) {
			return pfirestore.WrapError("customers.get", err)
		}

		matches := map[string]*firestore.DocumentSnapshot{}
		var order []string
		if primary != nil && primary.Exists() {
			matches[primary.Ref.ID] = primary
			order = append(order, primary.Ref.ID)
		}
		iter := tx.Documents(coll.Where(key.Field, "==", key.Value).Limit(customerMatchLimit))
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				iter.Stop()
				return pfirestore.WrapError("customers.query", err)
			}
			if _, seen := matches[snap.Ref.ID]; !seen {
				matches[snap.Ref.ID] = snap
				order = append(order, snap.Ref.ID)
			}
		}
		iter.Stop()
		if primary == nil || !primary.Exists() {
			sort.SliceStable(order, func(i, j int) bool {
				return matches[order[i]].CreateTime.Before(matches[order[j]].CreateTime)
			})
		}
		result.Matches = len(order)

		if len(order) == 0 {
			customer := merge(nil)
			customer.ID = primaryRef.ID
			if err := tx.Create(primaryRef, fromDomainCustomer(customer, key)); err != nil {
				return pfirestore.WrapError("customers.create", err)
			}
			result.Customer = customer
			result.Created = true
			return nil
		}

		snap := matches[order[0]]
		existing, err := pfirestore.Decode[customerDocument](snap)
		if err != nil {
			return err
		}
		current := toDomainCustomer(existing.ID, existing.Data)
		customer := merge(&current)
		customer.ID = existing.ID
		if err := tx.Set(snap.Ref, fromDomainCustomer(customer, key)); err != nil {
			return pfirestore.WrapError("customers.set", err)
		}
		result.Customer = customer
		return nil
	})
	if err != nil {
		return repositories.CustomerUpsertResult{}, err
	}
	return result, nil
}

type customerDocument struct {
	Name            string            `firestore:"name,omitempty"`
	Email           string            `firestore:"email"`
	NormalizedEmail string            `firestore:"normalizedEmail,omitempty"`
	Phone           string            `firestore:"phone,omitempty"`
	NormalizedPhone string            `firestore:"normalizedPhone,omitempty"`
	DefaultAddress  *addressDocument  `firestore:"defaultAddress,omitempty"`
	Emails          []string          `firestore:"emails,omitempty"`
	Phones          []string          `firestore:"phones,omitempty"`
	Addresses       []addressDocument `firestore:"addresses,omitempty"`
	OrderCount      int64             `firestore:"orderCount"`
	TotalSpent      int64             `firestore:"totalSpent"`
	CreatedAt       time.Time         `firestore:"createdAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
	LastOrderAt     *time.Time        `firestore:"lastOrderAt,omitempty"`
}

func fromDomainCustomer(c domain.Customer, key repositories.CustomerKey) customerDocument {
	doc := customerDocument{
		Name:            c.Name,
		Email:           c.Email,
		NormalizedEmail: strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:           c.Phone,
		NormalizedPhone: c.Phone,
		DefaultAddress:  fromDomainAddress(c.DefaultAddress),
		Emails:          c.Emails,
		Phones:          c.Phones,
		OrderCount:      c.OrderCount,
		TotalSpent:      c.TotalSpent,
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
		LastOrderAt:     c.LastOrderAt,
	}
	switch key.Field {
	case repositories.CustomerKeyEmail:
		doc.NormalizedEmail = key.Value
	case repositories.CustomerKeyPhone:
		if doc.NormalizedPhone == "" {
			doc.NormalizedPhone = key.Value
		}
	}
	for _, addr := range c.Addresses {
		doc.Addresses = append(doc.Addresses, addressDocument(addr))
	}
	return doc
}

func toDomainCustomer(id string, doc customerDocument) domain.Customer {
	c := domain.Customer{
		ID:             id,
		Name:           doc.Name,
		Email:          doc.Email,
		Phone:          doc.Phone,
		DefaultAddress: toDomainAddress(doc.DefaultAddress),
		Emails:         doc.Emails,
		Phones:         doc.Phones,
		OrderCount:     doc.OrderCount,
		TotalSpent:     doc.TotalSpent,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		LastOrderAt:    doc.LastOrderAt,
	}
	for _, addr := range doc.Addresses {
		c.Addresses = append(c.Addresses, domain.Address(addr))
	}
	return c
}
