package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	pfirestore "github.com/brightatelier/commerce-api/internal/platform/firestore"
	"github.com/brightatelier/commerce-api/internal/repositories"
)

const adminCollection = "admins"

// AdminRepository reads and writes the admin set. Records are keyed by Firebase UID; older
// records are keyed by lowercase email and are still honoured on lookup.
type AdminRepository struct {
	provider *pfirestore.Provider
	admins   *pfirestore.Collection[adminDocument]
}

var _ repositories.AdminRepository = (*AdminRepository)(nil)

// NewAdminRepository constructs a Firestore-backed admin repository.
func NewAdminRepository(provider *pfirestore.Provider) (*AdminRepository, error) {
	if provider == nil {
		return nil, errors.New("admin repository requires firestore provider")
	}
	return &AdminRepository{
		provider: provider,
		admins:   pfirestore.NewCollection[adminDocument](provider, adminCollection),
	}, nil
}

func (r *AdminRepository) Lookup(ctx context.Context, uid, email string) (domain.Admin, error) {
	uid = strings.TrimSpace(uid)
	email = strings.ToLower(strings.TrimSpace(email))
	if uid == "" && email == "" {
		return domain.Admin{}, errors.New("admin uid or email is required")
	}

	var lastErr error
	for _, key := range []string{uid, email} {
		if key == "" {
			continue
		}
		doc, err := r.admins.Get(ctx, key)
		if err == nil {
			return toDomainAdmin(doc.ID, doc.Data), nil
		}
		if !pfirestore.IsNotFound(err) {
			return domain.Admin{}, err
		}
		lastErr = err
	}
	return domain.Admin{}, lastErr
}

// Grant writes admin under its UID, or its email when no UID is known yet.
func (r *AdminRepository) Grant(ctx context.Context, admin domain.Admin) error {
	key := strings.TrimSpace(admin.UID)
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(admin.Email))
	}
	if key == "" {
		return errors.New("admin uid or email is required")
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = time.Now().UTC()
	}
	return r.admins.Set(ctx, key, fromDomainAdmin(admin))
}

// Revoke deletes the UID record and the legacy email record in one transaction.
func (r *AdminRepository) Revoke(ctx context.Context, uid, email string) error {
	keys := nonEmptyKeys(strings.TrimSpace(uid), strings.ToLower(strings.TrimSpace(email)))
	if len(keys) == 0 {
		return errors.New("admin uid or email is required")
	}
	coll, err := r.admins.Ref(ctx)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, key := range keys {
			if err := tx.Delete(coll.Doc(key)); err != nil {
				return pfirestore.WrapError("admins.revoke", err)
			}
		}
		return nil
	})
}

type adminDocument struct {
	UID       string    `firestore:"uid,omitempty"`
	Email     string    `firestore:"email,omitempty"`
	GrantedBy string    `firestore:"grantedBy,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func fromDomainAdmin(a domain.Admin) adminDocument {
	return adminDocument{
		UID:       strings.TrimSpace(a.UID),
		Email:     strings.ToLower(strings.TrimSpace(a.Email)),
		GrantedBy: a.GrantedBy,
		CreatedAt: a.CreatedAt.UTC(),
	}
}

func toDomainAdmin(id string, doc adminDocument) domain.Admin {
	return domain.Admin{ID: id, UID: doc.UID, Email: doc.Email, GrantedBy: doc.GrantedBy, CreatedAt: doc.CreatedAt}
}

func nonEmptyKeys(values ...string) []string {
	var keys []string
	for _, v := range values {
		if v != "" && (len(keys) == 0 || keys[len(keys)-1] != v) {
			keys = append(keys, v)
		}
	}
	return keys
}
