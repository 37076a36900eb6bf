// README: Bench checks; environment, migrations, order lifecycle, notifications, stream, races and load.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// orderID is the order the lifecycle checks walk through.
	orderID string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func pass(latency time.Duration, format string, args ...any) Result {
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{Status: statusFail, Note: fmt.Sprintf(format, args...)}
}

func skip(note string) Result {
	return Result{Status: statusSkip, Note: note}
}

func validOrder() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"id": "mix-love66", "type": "mix", "name": "Love 66", "price": 60},
			{"id": "custom-1", "type": "custom", "name": "Custom Mix", "price": 80, "tobaccoType": "blond", "tobaccoStrength": 2, "flavors": []string{"mint", "watermelon"}},
		},
		"total":        140,
		"table":        "table-bench",
		"customerInfo": map[string]any{"id": "bench"},
	}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("dsn not set")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return fail("%v", err)
			}
			return pass(0, "")
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return skip("redis not set")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return fail("%v", err)
			}
			return pass(0, "")
		}},
		{Name: "Migration: apply", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return skip("apply-migration=false")
			}
			if r.db == nil {
				return fail("db not configured")
			}
			files, err := migrationFiles(r.cfg.MigrationGlob)
			if err != nil {
				return fail("%v", err)
			}
			for _, f := range files {
				sql, err := os.ReadFile(f)
				if err != nil {
					return fail("%v", err)
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return fail("%s: %v", filepath.Base(f), err)
					}
				}
			}
			return pass(0, "files=%d", len(files))
		}},
		{Name: "Migration: tables exist", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("dsn not set")
			}
			tables, err := extractTables(r.cfg.MigrationGlob)
			if err != nil {
				return fail("%v", err)
			}
			for _, t := range tables {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
					t,
				).Scan(&exists)
				if err != nil {
					return fail("%v", err)
				}
				if !exists {
					return fail("missing table: %s", t)
				}
			}
			return pass(0, "tables=%d", len(tables))
		}},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodGet, "/health", nil, false)
			if err != nil {
				return fail("%v", err)
			}
			if code != http.StatusOK {
				return fail("status=%d", code)
			}
			return pass(latency, "")
		}},

		{Name: "Order: submit (valid)", Run: func(ctx context.Context, r *Runner) Result {
			id, latency, err := r.submit(ctx)
			if err != nil {
				return fail("%v", err)
			}
			r.orderID = id
			return pass(latency, "id=%s", id)
		}},
		expectCase("Order: submit (no items -> 400)", http.MethodPost, "/orders", map[string]any{"items": []any{}, "total": 10}, false, http.StatusBadRequest),
		expectCase("Order: submit (four flavors -> 400)", http.MethodPost, "/orders", map[string]any{
			"items": []map[string]any{{"type": "custom", "name": "Custom Mix", "price": 80, "flavors": []string{"a", "b", "c", "d"}}},
			"total": 80,
		}, false, http.StatusBadRequest),
		{Name: "Order: get (pending)", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" {
				return skip("no order submitted")
			}
			code, body, latency, err := r.call(ctx, http.MethodGet, "/orders/"+r.orderID, nil, false)
			if err != nil {
				return fail("%v", err)
			}
			if code != http.StatusOK {
				return fail("status=%d", code)
			}
			var env struct {
				Order struct {
					Status string `json:"status"`
				} `json:"order"`
			}
			if err := json.Unmarshal(body, &env); err != nil || env.Order.Status != "pending" {
				return fail("unexpected body %s", body)
			}
			return pass(latency, "")
		}},
		expectCase("Order: get unknown -> 404", http.MethodGet, "/orders/ORD-0-missing", nil, false, http.StatusNotFound),

		expectCase("Status: no token -> 401", http.MethodPut, "/orders/ORD-0-missing/status", map[string]any{"status": "ready"}, false, http.StatusUnauthorized),
		r.transitionCase("Status: pending -> ready", "ready", http.StatusOK),
		r.transitionCase("Status: ready -> ready (409)", "ready", http.StatusConflict),
		r.transitionCase("Status: ready -> completed", "completed", http.StatusOK),

		{Name: "Consistency: history versions increase", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" || r.cfg.AdminToken == "" {
				return skip("needs an order and admin-token")
			}
			code, body, latency, err := r.call(ctx, http.MethodGet, "/admin/orders/"+r.orderID+"/history", nil, true)
			if err != nil || code != http.StatusOK {
				return fail("status=%d err=%v", code, err)
			}
			var env struct {
				History []struct {
					ToStatus string `json:"toStatus"`
					Version  int    `json:"version"`
				} `json:"history"`
			}
			if err := json.Unmarshal(body, &env); err != nil {
				return fail("%v", err)
			}
			for i := 1; i < len(env.History); i++ {
				if env.History[i].Version <= env.History[i-1].Version {
					return fail("version %d after %d", env.History[i].Version, env.History[i-1].Version)
				}
			}
			if n := len(env.History); n != 3 || env.History[n-1].ToStatus != "completed" {
				return fail("history=%s", body)
			}
			return pass(latency, "events=%d", len(env.History))
		}},
		{Name: "Consistency: status_version matches events", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil || r.orderID == "" {
				return skip("needs dsn and an order")
			}
			var version, events int
			err := r.db.QueryRow(ctx, `
				SELECT o.status_version, (SELECT count(*) FROM order_state_events e WHERE e.order_id = o.id)
				FROM orders o WHERE o.id = $1`, r.orderID).Scan(&version, &events)
			if err != nil {
				return fail("%v", err)
			}
			if events != version+1 {
				return fail("status_version=%d events=%d", version, events)
			}
			return pass(0, "status_version=%d", version)
		}},
		{Name: "Notifications: new_order recorded", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" || r.cfg.AdminToken == "" {
				return skip("needs an order and admin-token")
			}
			code, body, latency, err := r.call(ctx, http.MethodGet, "/admin/notifications?type=new_order", nil, true)
			if err != nil || code != http.StatusOK {
				return fail("status=%d err=%v", code, err)
			}
			if !bytes.Contains(body, []byte(r.orderID)) {
				return fail("no new_order for %s", r.orderID)
			}
			return pass(latency, "")
		}},
		expectCase("Stats: summary", http.MethodGet, "/admin/stats", nil, true, http.StatusOK),
		{Name: "Stream: first snapshot", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" {
				return skip("no order submitted")
			}
			return r.firstStreamEvent(ctx)
		}},

		{Name: "Concurrency: parallel transitions, one winner", Run: func(ctx context.Context, r *Runner) Result {
			return r.concurrentTransition(ctx)
		}},
		{Name: "Perf: submit throughput", Run: func(ctx context.Context, r *Runner) Result {
			return r.perfSubmit(ctx)
		}},
	}
}

func (r *Runner) call(ctx context.Context, method, path string, body any, admin bool) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if admin && r.cfg.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.AdminToken)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), err
}

func (r *Runner) submit(ctx context.Context) (string, time.Duration, error) {
	code, body, latency, err := r.call(ctx, http.MethodPost, "/orders", validOrder(), false)
	if err != nil {
		return "", 0, err
	}
	if code != http.StatusCreated {
		return "", latency, fmt.Errorf("status=%d", code)
	}
	var env struct {
		Order struct {
			OrderID string `json:"orderId"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", latency, err
	}
	return env.Order.OrderID, latency, nil
}

func expectCase(name, method, path string, body any, admin bool, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			if admin && r.cfg.AdminToken == "" {
				return skip("admin-token not set")
			}
			code, _, latency, err := r.call(ctx, method, path, body, admin)
			if err != nil {
				return fail("%v", err)
			}
			if code != want {
				return fail("status=%d want=%d", code, want)
			}
			return pass(latency, "status=%d", code)
		},
	}
}

func (r *Runner) transitionCase(name, target string, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" || r.cfg.AdminToken == "" {
				return skip("needs an order and admin-token")
			}
			code, _, latency, err := r.call(ctx, http.MethodPut, "/orders/"+r.orderID+"/status", map[string]any{"status": target}, true)
			if err != nil {
				return fail("%v", err)
			}
			if code != want {
				return fail("status=%d want=%d", code, want)
			}
			return pass(latency, "status=%d", code)
		},
	}
}

func (r *Runner) firstStreamEvent(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/orders/stream?ids="+r.orderID, nil)
	if err != nil {
		return fail("%v", err)
	}
	start := time.Now()
	// the shared client timeout would cut the stream short
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fail("%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return skip("backend has no live feed")
	}
	if resp.StatusCode != http.StatusOK {
		return fail("status=%d", resp.StatusCode)
	}
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "event:") && strings.TrimSpace(strings.TrimPrefix(sc.Text(), "event:")) == "orders" {
			return pass(time.Since(start), "")
		}
	}
	return fail("no orders event: %v", sc.Err())
}

func (r *Runner) concurrentTransition(ctx context.Context) Result {
	if r.cfg.AdminToken == "" {
		return skip("admin-token not set")
	}
	id, _, err := r.submit(ctx)
	if err != nil {
		return fail("submit: %v", err)
	}
	var succ, conflict atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _, _, err := r.call(ctx, http.MethodPut, "/orders/"+id+"/status", map[string]any{"status": "preparing"}, true)
			if err != nil {
				return
			}
			switch code {
			case http.StatusOK:
				succ.Inc()
			case http.StatusConflict:
				conflict.Inc()
			}
		}()
	}
	wg.Wait()

	if succ.Load() == 1 {
		return pass(0, "success=1 conflict=%d", conflict.Load())
	}
	return fail("success=%d conflict=%d", succ.Load(), conflict.Load())
}

func (r *Runner) perfSubmit(ctx context.Context) Result {
	b, _ := json.Marshal(validOrder())
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/orders", bytes.NewReader(b))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					errCount.Inc()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode != http.StatusCreated {
					errCount.Inc()
					continue
				}
				count.Inc()
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return fail("no orders created")
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return pass(0, "rps=%.1f errors=%d", rps, errCount.Load())
}

func migrationFiles(glob string) ([]string, error) {
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations match %s", glob)
	}
	sort.Strings(files)
	return files, nil
}

var createTableRe = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

func extractTables(glob string) ([]string, error) {
	files, err := migrationFiles(glob)
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTableRe.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
