package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	pfirestore "github.com/brightatelier/commerce-api/internal/platform/firestore"
	"github.com/brightatelier/commerce-api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders in Firestore. Every write runs inside a transaction so payment
// webhooks, shipping webhooks and sweeps touching the same order serialise.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, orderCollection),
	}, nil
}

// Insert creates order. The gateway order id uniqueness check and the create share a transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	coll, err := r.orders.Ref(ctx)
	if err != nil {
		return err
	}
	doc := fromDomainOrder(order)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if doc.GatewayOrderID != "" {
			existing, err := firstInTx(tx, coll.Where("gatewayOrderId", "==", doc.GatewayOrderID))
			if err != nil {
				return err
			}
			if existing != nil {
				return pfirestore.WrapError("orders.insert", status.Errorf(codes.AlreadyExists, "order for gateway order %s exists as %s", doc.GatewayOrderID, existing.Ref.ID))
			}
		}
		if err := tx.Create(coll.Doc(order.ID), doc); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	})
}

// Find loads a single order by lookup.
func (r *OrderRepository) Find(ctx context.Context, lookup repositories.OrderLookup) (domain.Order, error) {
	if lookup.Empty() {
		return domain.Order{}, errors.New("order lookup is empty")
	}
	if lookup.ID != "" {
		doc, err := r.orders.Get(ctx, lookup.ID)
		if err != nil {
			return domain.Order{}, err
		}
		return toDomainOrder(doc.ID, doc.Data), nil
	}
	field, value := lookupField(lookup)
	doc, ok, err := r.orders.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, notFound("orders.find", lookup)
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// Mutate applies fn to the order identified by lookup inside a transaction. History entries fn
// appends are written with ArrayUnion so concurrent writers never drop each other's entries.
func (r *OrderRepository) Mutate(ctx context.Context, lookup repositories.OrderLookup, fn repositories.OrderMutator) (domain.Order, bool, error) {
	if lookup.Empty() {
		return domain.Order{}, false, errors.New("order lookup is empty")
	}
	if fn == nil {
		return domain.Order{}, false, errors.New("order mutator is required")
	}
	coll, err := r.orders.Ref(ctx)
	if err != nil {
		return domain.Order{}, false, err
	}

	var (
		result  domain.Order
		changed bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		snap, err := r.snapshotInTx(tx, coll, lookup)
		if err != nil {
			return err
		}
		current, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		order := toDomainOrder(current.ID, current.Data)
		before := len(order.StatusHistory)

		ok, err := fn(&order)
		if err != nil {
			return err
		}
		if !ok {
			result = toDomainOrder(current.ID, current.Data)
			return nil
		}
		if len(order.StatusHistory) < before {
			return errors.New("order status history is append-only")
		}

		if err := tx.Update(snap.Ref, orderUpdates(order, order.StatusHistory[before:])); err != nil {
			return pfirestore.WrapError("orders.mutate", err)
		}
		result = order
		changed = true
		return nil
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	return result, changed, nil
}

// ListForSync returns orders created within rng that carry a gateway order id, oldest first.
func (r *OrderRepository) ListForSync(ctx context.Context, rng domain.DateRange) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if !rng.From.IsZero() {
			q = q.Where("createdAt", ">=", rng.From.UTC())
		}
		if !rng.To.IsZero() {
			q = q.Where("createdAt", "<=", rng.To.UTC())
		}
		return q.OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Data.GatewayOrderID) == "" {
			continue
		}
		orders = append(orders, toDomainOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

func (r *OrderRepository) snapshotInTx(tx *firestore.Transaction, coll *firestore.CollectionRef, lookup repositories.OrderLookup) (*firestore.DocumentSnapshot, error) {
	if lookup.ID != "" {
		snap, err := tx.Get(coll.Doc(lookup.ID))
		if err != nil {
			return nil, pfirestore.WrapError("orders.mutate", err)
		}
		return snap, nil
	}
	field, value := lookupField(lookup)
	snap, err := firstInTx(tx, coll.Where(field, "==", value))
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, notFound("orders.mutate", lookup)
	}
	return snap, nil
}

func orderUpdates(order domain.Order, appended []domain.StatusEntry) []firestore.Update {
	doc := fromDomainOrder(order)
	updates := []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "paymentStatus", Value: doc.PaymentStatus},
		{Path: "gatewayPaymentId", Value: doc.GatewayPaymentID},
		{Path: "customerId", Value: doc.CustomerID},
		{Path: "shipment", Value: doc.Shipment},
		{Path: "notes", Value: doc.Notes},
		{Path: "updatedAt", Value: doc.UpdatedAt},
		{Path: "paidAt", Value: doc.PaidAt},
		{Path: "shippedAt", Value: doc.ShippedAt},
		{Path: "deliveredAt", Value: doc.DeliveredAt},
		{Path: "cancelledAt", Value: doc.CancelledAt},
		{Path: "refundedAt", Value: doc.RefundedAt},
	}
	if len(appended) > 0 {
		entries := fromDomainHistory(appended)
		values := make([]interface{}, 0, len(entries))
		for _, entry := range entries {
			values = append(values, entry)
		}
		updates = append(updates, firestore.Update{Path: "statusHistory", Value: firestore.ArrayUnion(values...)})
	}
	return updates
}

func lookupField(lookup repositories.OrderLookup) (string, string) {
	if lookup.GatewayOrderID != "" {
		return "gatewayOrderId", lookup.GatewayOrderID
	}
	return "gatewayPaymentId", lookup.GatewayPaymentID
}

func firstInTx(tx *firestore.Transaction, query firestore.Query) (*firestore.DocumentSnapshot, error) {
	iter := tx.Documents(query.Limit(1))
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, pfirestore.WrapError("orders.query", err)
	}
	return snap, nil
}

func notFound(op string, lookup repositories.OrderLookup) error {
	return pfirestore.WrapError(op, status.Errorf(codes.NotFound, "order %s not found", lookup))
}
