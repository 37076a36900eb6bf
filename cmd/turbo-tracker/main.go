// README: Customer-side tracker; keeps submitted orders in sync with the API and prints status changes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"turbo/internal/config"
	"turbo/internal/logger"
	"turbo/internal/modules/order"
	"turbo/internal/modules/tracking"
	"turbo/internal/types"
)

// errNothingTracked ends the run once every order has been evicted.
var errNothingTracked = errors.New("nothing left to track")

// submission is the JSON accepted by -submit, the same shape POST /orders takes.
type submission struct {
	Items        []order.Item       `json:"items"`
	Total        float64            `json:"total"`
	Table        string             `json:"table"`
	CustomerInfo order.CustomerInfo `json:"customerInfo"`
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	submitPath := flag.String("submit", "", "JSON file with an order to submit and track")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	lg, err := logger.New(cfg.Log.Level, "console")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *submitPath, flag.Args(), lg); err != nil {
		lg.Fatal("turbo-tracker stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, submitPath string, ids []string, lg *zap.Logger) error {
	client := tracking.NewHTTPClient(cfg.Tracking.BaseURL, &http.Client{}, lg.Named("client"))
	session := tracking.NewSession(client, tracking.NewFilePersister(cfg.Tracking.StateFile), tracking.Options{
		EvictAfter:   cfg.Tracking.EvictAfter,
		FetchTimeout: cfg.Tracking.FetchTimeout,
		Concurrency:  cfg.Tracking.Concurrency,
		Log:          lg.Named("session"),
	})
	defer func() {
		if err := session.Close(); err != nil {
			lg.Warn("persist tracked orders", zap.Error(err))
		}
	}()

	if submitPath != "" {
		o, err := submit(ctx, client, submitPath)
		if err != nil {
			return err
		}
		fmt.Printf("submitted %s (%.2f Lei)\n", o.ID, o.Total)
		session.AddOrder(o)
	}
	for _, id := range ids {
		fetchCtx, cancel := context.WithTimeout(ctx, cfg.Tracking.FetchTimeout)
		o, err := client.Fetch(fetchCtx, types.ID(id))
		cancel()
		if err != nil {
			lg.Warn("skip order", zap.String("order_id", id), zap.Error(err))
			continue
		}
		session.AddOrder(o)
	}
	if session.Len() == 0 {
		return fmt.Errorf("no orders to track")
	}

	var watcher tracking.Watcher
	if cfg.Tracking.Live {
		watcher = client
	}
	runner := tracking.NewRunner(session, watcher, cfg.Tracking.PollInterval, lg.Named("runner"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return report(gctx, session) })
	if err := g.Wait(); err != nil && !errors.Is(err, errNothingTracked) {
		return err
	}
	return nil
}

func submit(ctx context.Context, client *tracking.HTTPClient, path string) (*order.Order, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s submission
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return client.Submit(ctx, order.CreateCommand{
		Items:    s.Items,
		Total:    s.Total,
		Table:    s.Table,
		Customer: s.CustomerInfo,
	})
}

// report prints a line whenever a tracked order shows a new status, and
// stops once nothing is left to track.
func report(ctx context.Context, session *tracking.Session) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	shown := make(map[types.ID]order.Status)
	for {
		current := session.Orders()
		seen := make(map[types.ID]bool, len(current))
		for _, t := range current {
			seen[t.OrderID] = true
			if shown[t.OrderID] != t.Status {
				shown[t.OrderID] = t.Status
				fmt.Printf("%s  %-10s table %s\n", t.OrderID, t.Status, t.Table)
			}
		}
		for id := range shown {
			if !seen[id] {
				delete(shown, id)
				fmt.Printf("%s  no longer tracked\n", id)
			}
		}
		if len(current) == 0 {
			return errNothingTracked
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
