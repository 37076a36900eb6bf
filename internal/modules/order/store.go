// README: Order store contract plus the PostgreSQL backend.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"turbo/internal/types"
)

// Store is the order persistence boundary. Implementations assign ids and
// timestamps, keep the status history and push full snapshots to subscribers.
type Store interface {
	Create(ctx context.Context, d Draft) (*Order, error)
	Get(ctx context.Context, id types.ID) (*Order, error)
	// ListByStatus returns orders newest first; the zero Status returns all.
	ListByStatus(ctx context.Context, status Status) ([]*Order, error)
	ListByDateRange(ctx context.Context, start, end time.Time) ([]*Order, error)
	// UpdateStatus moves id from -> to if the stored version still matches.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (*Order, error)
	History(ctx context.Context, id types.ID) ([]Event, error)
	// Subscribe calls fn with the full matching snapshot now and after every change.
	Subscribe(ctx context.Context, status Status, fn func([]*Order)) (func(), error)
}

// ErrLiveUnavailable is returned by Subscribe when the backend has no push channel.
var ErrLiveUnavailable = errors.New("live subscription unavailable")

const orderColumns = `id, items, total, table_ref, customer, status, status_version, created_at, updated_at`

type PGStore struct {
	db   *pgxpool.Pool
	feed ChangeFeed
	log  *zap.Logger
}

// NewPGStore returns a Postgres-backed store. feed may be nil, in which case
// Subscribe reports ErrLiveUnavailable and clients fall back to polling.
func NewPGStore(db *pgxpool.Pool, feed ChangeFeed, log *zap.Logger) *PGStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PGStore{db: db, feed: feed, log: log}
}

func (s *PGStore) Create(ctx context.Context, d Draft) (*Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, transport("begin create", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := newID(time.Now())
	row := tx.QueryRow(ctx, `
        INSERT INTO orders (id, items, total, table_ref, customer, status, status_version)
        VALUES ($1, $2, $3, $4, $5, $6, 0)
        RETURNING `+orderColumns,
		string(id), d.Items, d.Total, d.Table, d.Customer, StatusPending.String(),
	)
	o, err := scanOrder(row)
	if err != nil {
		return nil, transport("insert order", err)
	}
	if err := appendEvent(ctx, tx, o.ID, nil, StatusPending, 0, o.CreatedAt); err != nil {
		return nil, transport("append event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, transport("commit create", err)
	}
	s.publish(ctx, o.ID)
	return o, nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transport("get order", err)
	}
	return o, nil
}

func (s *PGStore) ListByStatus(ctx context.Context, status Status) ([]*Order, error) {
	var rows pgx.Rows
	var err error
	if status.Valid() {
		rows, err = s.db.Query(ctx, `
            SELECT `+orderColumns+` FROM orders
            WHERE status = $1
            ORDER BY created_at DESC`, status.String())
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, transport("list orders", err)
	}
	return collectOrders(rows)
}

func (s *PGStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+orderColumns+` FROM orders
        WHERE created_at >= $1 AND created_at <= $2
        ORDER BY created_at DESC`, start, end)
	if err != nil {
		return nil, transport("list orders by date", err)
	}
	return collectOrders(rows)
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (*Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, transport("begin update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
        UPDATE orders
        SET status = $1,
            status_version = status_version + 1,
            updated_at = GREATEST(NOW(), updated_at + INTERVAL '1 millisecond')
        WHERE id = $2 AND status = $3 AND status_version = $4
        RETURNING `+orderColumns,
		to.String(), string(id), from.String(), version,
	)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
			return nil, transport("check order", err)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, transport("update status", err)
	}
	if err := appendEvent(ctx, tx, o.ID, &from, to, o.StatusVersion, o.UpdatedAt); err != nil {
		return nil, transport("append event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, transport("commit update", err)
	}
	s.publish(ctx, o.ID)
	return o, nil
}

func (s *PGStore) History(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, order_id, from_status, to_status, version, created_at
        FROM order_state_events
        WHERE order_id = $1
        ORDER BY id`, string(id))
	if err != nil {
		return nil, transport("list history", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var orderID, to string
		var from *string
		if err := rows.Scan(&e.ID, &orderID, &from, &to, &e.Version, &e.CreatedAt); err != nil {
			return nil, transport("scan history", err)
		}
		e.OrderID = types.ID(orderID)
		if e.ToStatus, err = ParseStatus(to); err != nil {
			return nil, err
		}
		if from != nil {
			fs, err := ParseStatus(*from)
			if err != nil {
				return nil, err
			}
			e.FromStatus = &fs
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transport("list history", err)
	}
	return out, nil
}

func (s *PGStore) Subscribe(ctx context.Context, status Status, fn func([]*Order)) (func(), error) {
	if s.feed == nil {
		return nil, ErrLiveUnavailable
	}
	return subscribeFeed(ctx, s.feed, func(ctx context.Context) ([]*Order, error) {
		return s.ListByStatus(ctx, status)
	}, fn, s.log)
}

func (s *PGStore) publish(ctx context.Context, id types.ID) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, id); err != nil {
		s.log.Warn("publish order change", zap.String("order_id", string(id)), zap.Error(err))
	}
}

func appendEvent(ctx context.Context, tx pgx.Tx, id types.ID, from *Status, to Status, version int, at time.Time) error {
	var fromStr *string
	if from != nil {
		v := from.String()
		fromStr = &v
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO order_state_events (order_id, from_status, to_status, version, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		string(id), fromStr, to.String(), version, at,
	)
	return err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var id, status string
	if err := row.Scan(
		&id, &o.Items, &o.Total, &o.Table, &o.Customer, &status, &o.StatusVersion, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.ID = types.ID(id)
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	o.Status = st
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]*Order, error) {
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, transport("scan order", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, transport("list orders", err)
	}
	return out, nil
}
