// README: Order service tests (lifecycle, validation, notifications, races).
package order

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"turbo/internal/types"
)

type statusChange struct {
	id       types.ID
	previous Status
	current  Status
}

// recordingNotifier captures emissions in call order.
type recordingNotifier struct {
	mu      sync.Mutex
	created []types.ID
	changes []statusChange
	fail    error
}

func (n *recordingNotifier) NewOrder(_ context.Context, o *Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, o.ID)
	return n.fail
}

func (n *recordingNotifier) StatusChanged(_ context.Context, o *Order, previous Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, statusChange{id: o.ID, previous: previous, current: o.Status})
	return n.fail
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.created), len(n.changes)
}

// stepClock advances one second per call so updatedAt always moves.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T, policy TransitionPolicy) (*Service, *recordingNotifier) {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)}
	n := &recordingNotifier{}
	return NewService(NewMemoryStore(nil, WithClock(clock.Now)), n, policy, nil), n
}

func validCommand() CreateCommand {
	return CreateCommand{
		Items: []Item{
			{ID: "mix-1", Kind: ItemMix, Name: "Love 66", Price: 60},
			{
				ID: "custom-1", Kind: ItemCustom, Name: "Custom Mix", Price: 80,
				Hookah: "h-1", TobaccoType: TobaccoDark, TobaccoStrength: 3,
				Flavors: []string{"mint", "grape"}, AddOns: AddOns{ExtraIce: true},
			},
		},
		Total:    140,
		Table:    "table-3",
		Customer: CustomerInfo{ID: "c-1", Name: "Ana"},
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		policy   TransitionPolicy
		from, to Status
		want     bool
	}{
		// permissive: anything except itself
		{PolicyPermissive, StatusPending, StatusConfirmed, true},
		{PolicyPermissive, StatusPending, StatusReady, true},
		{PolicyPermissive, StatusPending, StatusCompleted, true},
		{PolicyPermissive, StatusReady, StatusPending, true},
		{PolicyPermissive, StatusCompleted, StatusPreparing, true},
		{PolicyPermissive, StatusPending, StatusPending, false},
		{PolicyPermissive, StatusCompleted, StatusCompleted, false},
		// forward: only later stages
		{PolicyForward, StatusPending, StatusConfirmed, true},
		{PolicyForward, StatusPending, StatusReady, true},
		{PolicyForward, StatusPreparing, StatusCompleted, true},
		{PolicyForward, StatusReady, StatusPreparing, false},
		{PolicyForward, StatusConfirmed, StatusPending, false},
		{PolicyForward, StatusCompleted, StatusPending, false},
		{PolicyForward, StatusReady, StatusReady, false},
		// unknown statuses
		{PolicyPermissive, Status(0), StatusPending, false},
		{PolicyPermissive, StatusPending, Status(9), false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.policy, tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", tc.policy, tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNextStatuses(t *testing.T) {
	got := NextStatuses(PolicyForward, StatusPreparing)
	if len(got) != 2 || got[0] != StatusReady || got[1] != StatusCompleted {
		t.Fatalf("forward next from preparing = %v", got)
	}
	if got := NextStatuses(PolicyPermissive, StatusReady); len(got) != 4 {
		t.Fatalf("permissive next from ready = %v, want 4 entries", got)
	}
	if got := NextStatuses(PolicyForward, StatusCompleted); len(got) != 0 {
		t.Fatalf("forward next from completed = %v, want none", got)
	}
}

func TestParseStatusAndPolicy(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseStatus(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStatus("cancelled"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseStatus(cancelled) err = %v, want ErrValidation", err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicyPermissive {
		t.Fatalf("ParsePolicy(\"\") = %v, %v", p, err)
	}
	if _, err := ParsePolicy("strict"); err == nil {
		t.Fatal("ParsePolicy(strict) should fail")
	}
}

func TestNewIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^ORD-\d+-[0-9A-Z]{9}$`)
	now := time.UnixMilli(1700000000000)
	id := newID(now)
	if !re.MatchString(string(id)) {
		t.Fatalf("id %q does not match %s", id, re)
	}
	if !strings.HasPrefix(string(id), "ORD-1700000000000-") {
		t.Fatalf("id %q does not carry the creation millis", id)
	}
}

func TestCreateStartsPendingWithUniqueIDs(t *testing.T) {
	svc, n := newTestService(t, PolicyPermissive)
	ctx := context.Background()

	seen := make(map[types.ID]bool)
	for i := 0; i < 50; i++ {
		o, err := svc.Create(ctx, validCommand())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if o.Status != StatusPending {
			t.Fatalf("new order status = %s, want pending", o.Status)
		}
		if seen[o.ID] {
			t.Fatalf("duplicate order id %s", o.ID)
		}
		seen[o.ID] = true
	}
	if created, _ := n.counts(); created != 50 {
		t.Fatalf("new_order emissions = %d, want 50", created)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, n := newTestService(t, PolicyPermissive)
	ctx := context.Background()

	tooManyFlavors := validCommand()
	tooManyFlavors.Items = []Item{{Kind: ItemCustom, Name: "Custom Mix", Price: 80, Flavors: []string{"a", "b", "c", "d"}}}
	unknownKind := validCommand()
	unknownKind.Items = []Item{{Kind: "bundle", Name: "x", Price: 10}}

	cases := map[string]CreateCommand{
		"empty items":    {Items: nil, Total: 10},
		"zero total":     {Items: validCommand().Items, Total: 0},
		"negative total": {Items: validCommand().Items, Total: -5},
		"four flavors":   tooManyFlavors,
		"unknown kind":   unknownKind,
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	orders, err := svc.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("rejected drafts persisted %d orders", len(orders))
	}
	if created, _ := n.counts(); created != 0 {
		t.Fatalf("rejected drafts emitted %d notifications", created)
	}
}

func TestTransitionEveryTarget(t *testing.T) {
	ctx := context.Background()
	for _, from := range Statuses {
		for _, to := range Statuses {
			svc, _ := newTestService(t, PolicyPermissive)
			o := mustCreate(t, svc)
			if from != StatusPending {
				if _, err := svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: from}); err != nil {
					t.Fatalf("prepare %s: %v", from, err)
				}
			}

			_, err := svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: to})
			if from == to {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
				}
				assertStatus(t, svc, o.ID, from)
				continue
			}
			if err != nil {
				t.Fatalf("%s -> %s: %v", from, to, err)
			}
			assertStatus(t, svc, o.ID, to)
		}
	}
}

func TestTransitionErrors(t *testing.T) {
	svc, n := newTestService(t, PolicyForward)
	ctx := context.Background()

	if _, err := svc.Transition(ctx, TransitionCommand{OrderID: "ORD-missing", Target: StatusReady}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing order: expected ErrNotFound, got %v", err)
	}

	o := mustCreate(t, svc)
	if _, err := svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: Status(42)}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown target: expected ErrValidation, got %v", err)
	}
	if _, err := svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: StatusReady}); err != nil {
		t.Fatalf("pending -> ready: %v", err)
	}
	if _, err := svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: StatusConfirmed}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("forward policy backwards move: expected ErrInvalidTransition, got %v", err)
	}
	assertStatus(t, svc, o.ID, StatusReady)

	if _, changes := n.counts(); changes != 1 {
		t.Fatalf("order_update emissions = %d, want 1", changes)
	}
}

func TestOneNotificationPerOperation(t *testing.T) {
	svc, n := newTestService(t, PolicyPermissive)
	ctx := context.Background()

	o := mustCreate(t, svc)
	steps := []Status{StatusConfirmed, StatusPreparing, StatusPreparing, StatusReady, StatusCompleted}
	for _, st := range steps {
		_, _ = svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: st})
	}

	created, changes := n.counts()
	if created != 1 || changes != 4 {
		t.Fatalf("emissions = %d new_order, %d order_update; want 1 and 4", created, changes)
	}
	want := []statusChange{
		{o.ID, StatusPending, StatusConfirmed},
		{o.ID, StatusConfirmed, StatusPreparing},
		{o.ID, StatusPreparing, StatusReady},
		{o.ID, StatusReady, StatusCompleted},
	}
	for i, w := range want {
		if n.changes[i] != w {
			t.Fatalf("change %d = %+v, want %+v", i, n.changes[i], w)
		}
	}
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	svc, n := newTestService(t, PolicyPermissive)
	n.fail = errors.New("inbox down")

	o, err := svc.Create(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("create with failing notifier: %v", err)
	}
	if _, err := svc.Transition(context.Background(), TransitionCommand{OrderID: o.ID, Target: StatusReady}); err != nil {
		t.Fatalf("transition with failing notifier: %v", err)
	}
}

func TestSubmitThenReady(t *testing.T) {
	svc, n := newTestService(t, PolicyPermissive)
	ctx := context.Background()

	o := mustCreate(t, svc)
	if o.Table != "table-3" || o.Total != 140 || len(o.Items) != 2 {
		t.Fatalf("created order = %+v", o)
	}
	if len(n.created) != 1 || n.created[0] != o.ID {
		t.Fatalf("new_order emissions = %v", n.created)
	}

	updated, err := svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: StatusReady})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !updated.UpdatedAt.After(o.UpdatedAt) {
		t.Fatalf("updatedAt did not advance: %v -> %v", o.UpdatedAt, updated.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(o.CreatedAt) {
		t.Fatalf("createdAt changed: %v -> %v", o.CreatedAt, updated.CreatedAt)
	}
	assertStatus(t, svc, o.ID, StatusReady)

	if len(n.changes) != 1 || n.changes[0] != (statusChange{o.ID, StatusPending, StatusReady}) {
		t.Fatalf("order_update emissions = %+v", n.changes)
	}

	history, err := svc.History(ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2", len(history))
	}
	if history[0].FromStatus != nil || history[0].ToStatus != StatusPending {
		t.Fatalf("first history row = %+v", history[0])
	}
	if history[1].FromStatus == nil || *history[1].FromStatus != StatusPending || history[1].ToStatus != StatusReady {
		t.Fatalf("second history row = %+v", history[1])
	}
}

func TestConcurrentTransitionSameOrder(t *testing.T) {
	svc, n := newTestService(t, PolicyPermissive)
	ctx := context.Background()
	o := mustCreate(t, svc)

	const workers = 8
	errs := make(chan error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: StatusConfirmed})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
	if _, changes := n.counts(); changes != 1 {
		t.Fatalf("order_update emissions = %d, want 1", changes)
	}
	assertStatus(t, svc, o.ID, StatusConfirmed)
}

func TestStoreRejectsStaleVersion(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	o, err := store.Create(ctx, validDraft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateStatus(ctx, o.ID, StatusPending, StatusReady, 0)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want 1", wins)
	}
	if _, err := store.UpdateStatus(ctx, "nope", StatusPending, StatusReady, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing order: expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersAndOrdering(t *testing.T) {
	svc, _ := newTestService(t, PolicyPermissive)
	ctx := context.Background()

	first := mustCreate(t, svc)
	second := mustCreate(t, svc)
	third := mustCreate(t, svc)
	if _, err := svc.Transition(ctx, TransitionCommand{OrderID: second.ID, Target: StatusPreparing}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	all, err := svc.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != third.ID || all[2].ID != first.ID {
		t.Fatalf("list all not newest first: %v", ids(all))
	}

	pending, err := svc.List(ctx, StatusPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %v, want 2 orders", ids(pending))
	}

	ranged, err := svc.ListByDateRange(ctx, second.CreatedAt, third.CreatedAt)
	if err != nil {
		t.Fatalf("list by range: %v", err)
	}
	if len(ranged) != 2 || ranged[0].ID != third.ID || ranged[1].ID != second.ID {
		t.Fatalf("range = %v, want [third second]", ids(ranged))
	}
	if _, err := svc.ListByDateRange(ctx, third.CreatedAt, first.CreatedAt); !errors.Is(err, ErrValidation) {
		t.Fatalf("inverted range: expected ErrValidation, got %v", err)
	}
}

func TestMemorySubscribePushesSnapshots(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps := make(chan []*Order, 8)
	unsubscribe, err := store.Subscribe(ctx, StatusPending, func(orders []*Order) { snaps <- orders })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if got := waitSnapshot(t, snaps); len(got) != 0 {
		t.Fatalf("initial snapshot = %d orders, want 0", len(got))
	}
	o, err := store.Create(ctx, validDraft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for {
		got := waitSnapshot(t, snaps)
		if len(got) == 1 && got[0].ID == o.ID {
			break
		}
	}
	if _, err := store.UpdateStatus(ctx, o.ID, StatusPending, StatusReady, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	for {
		if got := waitSnapshot(t, snaps); len(got) == 0 {
			break
		}
	}
}

func waitSnapshot(t *testing.T, ch <-chan []*Order) []*Order {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

// TestPGStoreFlow runs the same lifecycle against Postgres.
func TestPGStoreFlow(t *testing.T) {
	store := setupPGStore(t)
	svc := NewService(store, &recordingNotifier{}, PolicyPermissive, nil)
	ctx := context.Background()

	o, err := svc.Create(ctx, validCommand())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || len(got.Items) != 2 || got.Items[1].Flavors[1] != "grape" {
		t.Fatalf("stored order = %+v", got)
	}

	updated, err := svc.Transition(ctx, TransitionCommand{OrderID: o.ID, Target: StatusReady})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !updated.UpdatedAt.After(o.UpdatedAt) {
		t.Fatalf("updatedAt did not advance")
	}
	if _, err := store.UpdateStatus(ctx, o.ID, StatusPending, StatusConfirmed, 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update: expected ErrConflict, got %v", err)
	}
	if _, err := svc.Get(ctx, "ORD-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing order: expected ErrNotFound, got %v", err)
	}

	history, err := svc.History(ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[1].ToStatus != StatusReady {
		t.Fatalf("history = %+v", history)
	}
}

func TestPGConcurrentTransitions(t *testing.T) {
	store := setupPGStore(t)
	svc := NewService(store, nil, PolicyPermissive, nil)
	ctx := context.Background()
	o, err := svc.Create(ctx, validCommand())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	targets := []Status{StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted}
	errs := make(chan error, len(targets))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, st := range targets {
		wg.Add(1)
		go func(st Status) {
			defer wg.Done()
			<-start
			_, err := store.UpdateStatus(ctx, o.ID, StatusPending, st, 0)
			errs <- err
		}(st)
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
}

func mustCreate(t *testing.T, svc *Service) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func validDraft() Draft {
	c := validCommand()
	return Draft{Items: c.Items, Total: c.Total, Table: c.Table, Customer: c.Customer}
}

func assertStatus(t *testing.T, svc *Service, id types.ID, want Status) {
	t.Helper()
	o, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	if o.Status != want {
		t.Fatalf("order %s status = %s, want %s", id, o.Status, want)
	}
}

func ids(orders []*Order) []types.ID {
	out := make([]types.ID, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func setupPGStore(t *testing.T) *PGStore {
	t.Helper()

	dsn := os.Getenv("TURBO_TEST_DSN")
	if dsn == "" {
		t.Skip("TURBO_TEST_DSN not set; skipping DB-backed order tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, orders"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPGStore(db, nil, nil)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	path := filepath.Join(root, "migrations", "0001_init.sql")
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
