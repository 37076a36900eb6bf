// README: Firestore notification store with a client-side sort fallback.
package notification

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"turbo/internal/types"
)

const notificationsCollection = "notifications"

type firestoreNotification struct {
	Type           string  `firestore:"type"`
	Title          string  `firestore:"title"`
	Message        string  `firestore:"message"`
	OrderID        string  `firestore:"orderId,omitempty"`
	Table          string  `firestore:"table,omitempty"`
	Total          float64 `firestore:"total,omitempty"`
	PreviousStatus string  `firestore:"previousStatus,omitempty"`
	Status         string  `firestore:"status,omitempty"`
	IsRead         bool    `firestore:"isRead"`
	CreatedAt      any     `firestore:"createdAt"`
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

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(notificationsCollection)
}

func (s *FirestoreStore) Create(ctx context.Context, n *Notification) error {
	ref := s.col().Doc(n.ID)
	if _, err := ref.Create(ctx, map[string]any{
		"type":           string(n.Type),
		"title":          n.Title,
		"message":        n.Message,
		"orderId":        string(n.OrderID),
		"table":          n.Table,
		"total":          n.Total,
		"previousStatus": n.PreviousStatus,
		"status":         n.Status,
		"isRead":         n.IsRead,
		"createdAt":      firestore.ServerTimestamp,
	}); err != nil {
		return storeErr("create notification", err)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return storeErr("read created notification", err)
	}
	stored, err := s.decode(snap)
	if err != nil {
		return storeErr("read created notification", err)
	}
	n.CreatedAt = stored.CreatedAt
	return nil
}

// ListUnread needs a composite (isRead, createdAt) index. Without it Firestore
// answers FailedPrecondition and the filtered set is sorted here instead.
func (s *FirestoreStore) ListUnread(ctx context.Context) ([]*Notification, error) {
	unread := s.col().Where("isRead", "==", false)
	out, err := s.query(ctx, unread.OrderBy("createdAt", firestore.Desc))
	if status.Code(err) != codes.FailedPrecondition {
		return out, storeErr("list unread notifications", err)
	}
	s.log.Info("unread notifications index missing; sorting client-side", zap.Error(err))
	out, err = s.query(ctx, unread)
	if err != nil {
		return nil, storeErr("list unread notifications", err)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *FirestoreStore) ListByType(ctx context.Context, t Type, start, end time.Time) ([]*Notification, error) {
	byType := s.col().Where("type", "==", string(t))
	out, err := s.query(ctx, byType.
		Where("createdAt", ">=", start).
		Where("createdAt", "<=", end).
		OrderBy("createdAt", firestore.Asc))
	if status.Code(err) != codes.FailedPrecondition {
		return out, storeErr("list notifications", err)
	}
	s.log.Info("notification type index missing; filtering client-side", zap.String("type", string(t)), zap.Error(err))
	all, err := s.query(ctx, byType)
	if err != nil {
		return nil, storeErr("list notifications", err)
	}
	out = all[:0]
	for _, n := range all {
		if !n.CreatedAt.Before(start) && !n.CreatedAt.After(end) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FirestoreStore) MarkRead(ctx context.Context, id string) error {
	_, err := s.col().Doc(id).Update(ctx, []firestore.Update{{Path: "isRead", Value: true}})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return storeErr("mark notification read", err)
}

func (s *FirestoreStore) query(ctx context.Context, q firestore.Query) ([]*Notification, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]*Notification, 0, len(snaps))
	for _, snap := range snaps {
		n, err := s.decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *FirestoreStore) decode(snap *firestore.DocumentSnapshot) (*Notification, error) {
	var doc firestoreNotification
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return &Notification{
		ID:             snap.Ref.ID,
		Type:           Type(doc.Type),
		Title:          doc.Title,
		Message:        doc.Message,
		OrderID:        types.ID(doc.OrderID),
		Table:          doc.Table,
		Total:          doc.Total,
		PreviousStatus: doc.PreviousStatus,
		Status:         doc.Status,
		IsRead:         doc.IsRead,
		CreatedAt:      types.FromMillis(types.NormalizeMillis(doc.CreatedAt, time.Now(), s.log)),
	}, nil
}
