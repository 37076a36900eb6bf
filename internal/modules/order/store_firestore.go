// README: Firestore order store; documents in "orders" with a "history" subcollection.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"turbo/internal/types"
)

const (
	ordersCollection  = "orders"
	historyCollection = "history"
)

// firestoreOrder mirrors the document shape. Timestamps stay untyped because
// older documents hold them as numbers or ISO strings.
type firestoreOrder struct {
	OrderID       string       `firestore:"orderId"`
	Items         []Item       `firestore:"items"`
	Total         float64      `firestore:"total"`
	Table         string       `firestore:"table"`
	CustomerInfo  CustomerInfo `firestore:"customerInfo"`
	Status        string       `firestore:"status"`
	StatusVersion int          `firestore:"statusVersion"`
	CreatedAt     any          `firestore:"createdAt"`
	UpdatedAt     any          `firestore:"updatedAt"`
	Timestamp     any          `firestore:"timestamp"`
}

type firestoreEvent struct {
	FromStatus *string `firestore:"fromStatus"`
	ToStatus   string  `firestore:"toStatus"`
	Version    int     `firestore:"version"`
	CreatedAt  any     `firestore:"createdAt"`
}

type FirestoreStore struct {
	client *firestore.Client
	log    *zap.Logger
}

func NewFirestoreStore(client *firestore.Client, log *zap.Logger) *FirestoreStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FirestoreStore{client: client, log: log}
}

func (s *FirestoreStore) orders() *firestore.CollectionRef {
	return s.client.Collection(ordersCollection)
}

func (s *FirestoreStore) Create(ctx context.Context, d Draft) (*Order, error) {
	ref := s.orders().NewDoc()
	items := d.Items
	if items == nil {
		items = []Item{}
	}
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(ref, map[string]any{
			"orderId":       ref.ID,
			"items":         items,
			"total":         d.Total,
			"table":         d.Table,
			"customerInfo":  d.Customer,
			"status":        StatusPending.String(),
			"statusVersion": 0,
			"timestamp":     firestore.ServerTimestamp,
			"createdAt":     firestore.ServerTimestamp,
			"updatedAt":     firestore.ServerTimestamp,
		}); err != nil {
			return err
		}
		return tx.Create(ref.Collection(historyCollection).NewDoc(), map[string]any{
			"fromStatus": nil,
			"toStatus":   StatusPending.String(),
			"version":    0,
			"createdAt":  firestore.ServerTimestamp,
		})
	})
	if err != nil {
		return nil, transport("create order", err)
	}
	return s.Get(ctx, types.ID(ref.ID))
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	snap, err := s.orders().Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transport("get order", err)
	}
	return s.decode(snap)
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, st Status) ([]*Order, error) {
	q := s.orders().OrderBy("createdAt", firestore.Desc)
	if st.Valid() {
		q = s.orders().Where("status", "==", st.String()).OrderBy("createdAt", firestore.Desc)
	}
	return s.query(ctx, q)
}

func (s *FirestoreStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]*Order, error) {
	q := s.orders().
		Where("createdAt", ">=", start).
		Where("createdAt", "<=", end).
		OrderBy("createdAt", firestore.Desc)
	return s.query(ctx, q)
}

func (s *FirestoreStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (*Order, error) {
	ref := s.orders().Doc(string(id))
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var doc firestoreOrder
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Status != from.String() || doc.StatusVersion != version {
			return ErrConflict
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: to.String()},
			{Path: "statusVersion", Value: version + 1},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		}); err != nil {
			return err
		}
		fromStr := from.String()
		return tx.Create(ref.Collection(historyCollection).NewDoc(), map[string]any{
			"fromStatus": fromStr,
			"toStatus":   to.String(),
			"version":    version + 1,
			"createdAt":  firestore.ServerTimestamp,
		})
	})
	if err != nil {
		return nil, transport("update status", err)
	}
	return s.Get(ctx, id)
}

func (s *FirestoreStore) History(ctx context.Context, id types.ID) ([]Event, error) {
	ref := s.orders().Doc(string(id))
	if _, err := ref.Get(ctx); status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, transport("get order", err)
	}
	snaps, err := ref.Collection(historyCollection).OrderBy("version", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, transport("list history", err)
	}
	now := time.Now()
	out := make([]Event, 0, len(snaps))
	for i, snap := range snaps {
		var doc firestoreEvent
		if err := snap.DataTo(&doc); err != nil {
			return nil, transport("decode history", err)
		}
		to, err := ParseStatus(doc.ToStatus)
		if err != nil {
			return nil, err
		}
		e := Event{
			ID:        int64(i + 1),
			OrderID:   id,
			ToStatus:  to,
			Version:   doc.Version,
			CreatedAt: types.FromMillis(types.NormalizeMillis(doc.CreatedAt, now, s.log)),
		}
		if doc.FromStatus != nil {
			fs, err := ParseStatus(*doc.FromStatus)
			if err != nil {
				return nil, err
			}
			e.FromStatus = &fs
		}
		out = append(out, e)
	}
	return out, nil
}

// Subscribe listens to the query with Firestore's realtime snapshots; each
// snapshot already holds the full matching set.
func (s *FirestoreStore) Subscribe(ctx context.Context, st Status, fn func([]*Order)) (func(), error) {
	q := s.orders().OrderBy("createdAt", firestore.Desc)
	if st.Valid() {
		q = s.orders().Where("status", "==", st.String()).OrderBy("createdAt", firestore.Desc)
	}
	ctx, cancel := context.WithCancel(ctx)
	it := q.Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled && !errors.Is(err, iterator.Done) {
					s.log.Warn("order snapshot listener stopped", zap.Error(err))
				}
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				s.log.Warn("read order snapshot", zap.Error(err))
				continue
			}
			orders, err := s.decodeAll(snaps)
			if err != nil {
				s.log.Warn("decode order snapshot", zap.Error(err))
				continue
			}
			fn(orders)
		}
	}()
	return cancel, nil
}

func (s *FirestoreStore) query(ctx context.Context, q firestore.Query) ([]*Order, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, transport("query orders", err)
	}
	return s.decodeAll(snaps)
}

func (s *FirestoreStore) decodeAll(snaps []*firestore.DocumentSnapshot) ([]*Order, error) {
	out := make([]*Order, 0, len(snaps))
	for _, snap := range snaps {
		o, err := s.decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *FirestoreStore) decode(snap *firestore.DocumentSnapshot) (*Order, error) {
	var doc firestoreOrder
	if err := snap.DataTo(&doc); err != nil {
		return nil, transport("decode order", fmt.Errorf("%s: %w", snap.Ref.ID, err))
	}
	st, err := ParseStatus(doc.Status)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	created := doc.CreatedAt
	if created == nil {
		created = doc.Timestamp
	}
	createdMs := types.NormalizeMillis(created, now, s.log)
	updated := doc.UpdatedAt
	if updated == nil {
		updated = createdMs
	}
	id := doc.OrderID
	if id == "" {
		id = snap.Ref.ID
	}
	return &Order{
		ID:            types.ID(id),
		Items:         doc.Items,
		Total:         doc.Total,
		Table:         doc.Table,
		Customer:      doc.CustomerInfo,
		Status:        st,
		StatusVersion: doc.StatusVersion,
		CreatedAt:     types.FromMillis(createdMs),
		UpdatedAt:     types.FromMillis(types.NormalizeMillis(updated, now, s.log)),
	}, nil
}
