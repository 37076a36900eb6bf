// README: Notification store contract plus the PostgreSQL backend.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"turbo/internal/modules/order"
	"turbo/internal/types"
)

type Store interface {
	Create(ctx context.Context, n *Notification) error
	// ListUnread returns unread notifications newest first.
	ListUnread(ctx context.Context) ([]*Notification, error)
	// ListByType returns notifications of t created in [start, end], oldest first.
	ListByType(ctx context.Context, t Type, start, end time.Time) ([]*Notification, error)
	MarkRead(ctx context.Context, id string) error
}

const notificationColumns = `id, type, title, message, order_id, table_ref, total, previous_status, status, is_read, created_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, n *Notification) error {
	return storeErr("create notification", s.db.QueryRow(ctx, `
        INSERT INTO notifications (id, type, title, message, order_id, table_ref, total, previous_status, status, is_read)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING created_at`,
		n.ID, string(n.Type), n.Title, n.Message, nullable(string(n.OrderID)), n.Table, n.Total,
		nullable(n.PreviousStatus), nullable(n.Status), n.IsRead,
	).Scan(&n.CreatedAt))
}

func (s *PGStore) ListUnread(ctx context.Context) ([]*Notification, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+notificationColumns+` FROM notifications
        WHERE is_read = FALSE
        ORDER BY created_at DESC`)
	if err != nil {
		return nil, storeErr("list unread notifications", err)
	}
	out, err := collect(rows)
	return out, storeErr("list unread notifications", err)
}

func (s *PGStore) ListByType(ctx context.Context, t Type, start, end time.Time) ([]*Notification, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+notificationColumns+` FROM notifications
        WHERE type = $1 AND created_at >= $2 AND created_at <= $3
        ORDER BY created_at`, string(t), start, end)
	if err != nil {
		return nil, storeErr("list notifications", err)
	}
	out, err := collect(rows)
	return out, storeErr("list notifications", err)
}

func (s *PGStore) MarkRead(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return storeErr("mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collect(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		var n Notification
		var typ string
		var orderID, prev, status *string
		if err := rows.Scan(&n.ID, &typ, &n.Title, &n.Message, &orderID, &n.Table, &n.Total, &prev, &status, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = Type(typ)
		if orderID != nil {
			n.OrderID = types.ID(*orderID)
		}
		if prev != nil {
			n.PreviousStatus = *prev
		}
		if status != nil {
			n.Status = *status
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// storeErr reports backend failures as unavailability so callers can tell
// them from a missing notification.
func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, order.ErrTransport) {
		return err
	}
	return &order.TransportError{Op: op, Err: err}
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
