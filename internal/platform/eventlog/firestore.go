package eventlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/brightatelier/commerce-api/internal/platform/firestore"
)

const (
	defaultCollection  = "webhookEvents"
	defaultMaxAttempts = 5
	defaultTTL         = 72 * time.Hour
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding event reservations.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name = strings.TrimSpace(name); name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts configures the transaction retry attempts.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// WithFirestoreClock overrides the clock used for expiry.
func WithFirestoreClock(clock func() time.Time) FirestoreOption {
	return func(store *FirestoreStore) {
		if clock != nil {
			store.now = clock
		}
	}
}

// FirestoreStore reserves event ids in Firestore. Each id is one document written inside a
// transaction, so concurrent deliveries of the same event agree on a single winner across
// instances. Expired documents are reclaimed on the next reservation; a Firestore TTL policy on
// expiresAt removes the rest.
type FirestoreStore struct {
	provider    *pfirestore.Provider
	collection  string
	maxAttempts int
	now         func() time.Time
}

// NewFirestoreStore constructs a Firestore-backed event log.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("eventlog: firestore provider is required")
	}
	store := &FirestoreStore{
		provider:    provider,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Remember implements Store.
func (s *FirestoreStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("eventlog: key is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return false, err
	}
	ref := client.Collection(s.collection).Doc(documentID(key))
	now := s.now().UTC()

	var first bool
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		first = false
		var current *eventRecord
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var record eventRecord
			if err := snap.DataTo(&record); err != nil {
				return pfirestore.WrapError("webhookEvents.decode", err)
			}
			current = &record
		case !pfirestore.IsNotFound(err):
			return pfirestore.WrapError("webhookEvents.get", err)
		}

		next, reserved := reserve(current, key, now, ttl)
		if !reserved {
			return nil
		}
		if err := tx.Set(ref, next); err != nil {
			return pfirestore.WrapError("webhookEvents.set", err)
		}
		first = true
		return nil
	}, pfirestore.WithTxAttempts(s.maxAttempts))
	if err != nil {
		return false, err
	}
	return first, nil
}

type eventRecord struct {
	Key        string    `firestore:"key"`
	ReceivedAt time.Time `firestore:"receivedAt"`
	ExpiresAt  time.Time `firestore:"expiresAt"`
}

// reserve decides whether key is new at now. An expired record counts as new.
func reserve(current *eventRecord, key string, now time.Time, ttl time.Duration) (eventRecord, bool) {
	if current != nil && (current.ExpiresAt.IsZero() || now.Before(current.ExpiresAt)) {
		return *current, false
	}
	return eventRecord{Key: key, ReceivedAt: now, ExpiresAt: now.Add(ttl)}, true
}

// documentID keeps ids free of path separators.
func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "evt_" + hex.EncodeToString(sum[:])[:32]
}
