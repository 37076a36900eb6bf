// README: Notification formatting, emission and inbox ordering tests.
package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"

	"turbo/internal/modules/order"
	"turbo/internal/types"
)

type fakePusher struct {
	mu   sync.Mutex
	msgs []*messaging.Message
	err  error
}

func (p *fakePusher) Send(_ context.Context, msg *messaging.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	if p.err != nil {
		return "", p.err
	}
	return "projects/turbo/messages/1", nil
}

func TestMessages(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"with table", newOrderMessage("table-3", 140), "Order from table table-3 - 140 Lei"},
		{"without table", newOrderMessage("", 72.5), "Order from table N/A - 72.5 Lei"},
		{"update", orderUpdateMessage("ORD-1", "pending", "ready"), "Order ORD-1 changed from pending to ready"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestEmitsOnePerEvent(t *testing.T) {
	store := NewMemoryStore()
	pusher := &fakePusher{}
	svc := NewService(store, pusher, nil)
	ctx := context.Background()

	o := &order.Order{ID: "ORD-1", Table: "table-3", Total: 140, Status: order.StatusPending}
	if err := svc.NewOrder(ctx, o); err != nil {
		t.Fatalf("new order: %v", err)
	}
	o.Status = order.StatusReady
	if err := svc.StatusChanged(ctx, o, order.StatusPending); err != nil {
		t.Fatalf("status changed: %v", err)
	}

	all := store.All()
	if len(all) != 2 {
		t.Fatalf("notifications = %d, want 2", len(all))
	}
	created, updated := all[0], all[1]
	if created.Type != TypeNewOrder || created.Title != "New Order" || created.OrderID != "ORD-1" || created.Table != "table-3" {
		t.Fatalf("new_order notification = %+v", created)
	}
	if updated.Type != TypeOrderUpdate || updated.PreviousStatus != "pending" || updated.Status != "ready" {
		t.Fatalf("order_update notification = %+v", updated)
	}
	if created.ID == "" || created.ID == updated.ID {
		t.Fatalf("notification ids not unique: %q %q", created.ID, updated.ID)
	}
	if created.IsRead || updated.IsRead {
		t.Fatal("new notifications must be unread")
	}

	if len(pusher.msgs) != 2 {
		t.Fatalf("pushes = %d, want 2", len(pusher.msgs))
	}
	msg := pusher.msgs[1]
	if msg.Topic != AdminTopic || msg.Data["previousStatus"] != "pending" || msg.Data["status"] != "ready" {
		t.Fatalf("push = %+v", msg)
	}
}

func TestPushFailureIsNotAnError(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &fakePusher{err: errors.New("fcm down")}, nil)

	if err := svc.System(context.Background(), "Menu updated", "3 new flavors"); err != nil {
		t.Fatalf("system notification: %v", err)
	}
	if len(store.All()) != 1 {
		t.Fatal("notification should be stored even when the push fails")
	}
}

func TestUnreadNewestFirstAndMarkRead(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	for _, table := range []string{"t1", "t2", "t3"} {
		if err := svc.NewOrder(ctx, &order.Order{ID: types.ID("ORD-" + table), Table: table, Total: 10, Status: order.StatusPending}); err != nil {
			t.Fatalf("new order: %v", err)
		}
	}
	unread, err := svc.Unread(ctx)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(unread) != 3 || unread[0].Table != "t3" || unread[2].Table != "t1" {
		t.Fatalf("unread not newest first: %+v", unread)
	}

	if err := svc.MarkRead(ctx, unread[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := svc.MarkRead(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark missing: expected ErrNotFound, got %v", err)
	}
	unread, _ = svc.Unread(ctx)
	if len(unread) != 2 {
		t.Fatalf("unread after mark = %d, want 2", len(unread))
	}

	byType, err := svc.ByType(ctx, TypeNewOrder, base, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	if len(byType) != 2 || byType[0].Table != "t1" {
		t.Fatalf("by type = %+v", byType)
	}
}

func TestParseType(t *testing.T) {
	for _, v := range []string{"new_order", "order_update", "system"} {
		if _, err := ParseType(v); err != nil {
			t.Fatalf("ParseType(%q): %v", v, err)
		}
	}
	if _, err := ParseType("status_change"); err == nil {
		t.Fatal("ParseType(status_change) should fail")
	}
}

func TestStoreErrSeparatesUnavailableFromMissing(t *testing.T) {
	if err := storeErr("list", nil); err != nil {
		t.Fatalf("nil error wrapped: %v", err)
	}
	if err := storeErr("mark", ErrNotFound); err != ErrNotFound {
		t.Fatalf("not found = %v", err)
	}
	err := storeErr("list unread notifications", errors.New("connection refused"))
	if !errors.Is(err, order.ErrTransport) {
		t.Fatalf("backend failure = %v, want transport error", err)
	}
	if again := storeErr("outer", err); again != err {
		t.Fatalf("transport error wrapped twice: %v", again)
	}
}
