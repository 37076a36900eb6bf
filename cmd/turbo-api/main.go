// README: Entry point; loads config, wires the order store, notifications and stats, and serves HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"turbo/internal/config"
	httptransport "turbo/internal/http"
	"turbo/internal/infra"
	"turbo/internal/logger"
	"turbo/internal/modules/notification"
	"turbo/internal/modules/order"
	"turbo/internal/modules/stats"
)

type stores struct {
	orders        order.Store
	notifications notification.Store
	closers       []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	lg, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	zap.ReplaceGlobals(lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("turbo-api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, lg *zap.Logger) error {
	var app *firebase.App
	if cfg.Firebase.ProjectID != "" {
		a, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return fmt.Errorf("firebase init: %w", err)
		}
		app = a
	}

	st, err := openStores(ctx, cfg, app, lg)
	if err != nil {
		return err
	}
	defer st.close()

	var pusher notification.Pusher
	if cfg.Firebase.Push {
		client, err := infra.NewMessaging(ctx, app)
		if err != nil {
			return err
		}
		pusher = client
	}

	policy, err := order.ParsePolicy(cfg.Order.TransitionPolicy)
	if err != nil {
		return err
	}

	notificationSvc := notification.NewService(st.notifications, pusher, lg.Named("notification"))
	orderSvc := order.NewService(st.orders, notificationSvc, policy, lg.Named("order"))
	statsSvc := stats.NewService(st.orders, time.Local)

	verifier, err := newVerifier(ctx, cfg, app, lg)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Orders:        orderSvc,
		Notifications: notificationSvc,
		Stats:         statsSvc,
		Verifier:      verifier,
		Log:           lg.Named("http"),
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, lg)

	lg.Info("turbo-api starting",
		zap.String("backend", cfg.Store.Backend),
		zap.String("policy", string(policy)),
		zap.Bool("push", pusher != nil),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, app *firebase.App, lg *zap.Logger) (*stores, error) {
	st := &stores{}
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)

		var feed order.ChangeFeed = order.NewLocalFeed()
		if cfg.Redis.Channel != "" {
			rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				st.close()
				return nil, err
			}
			st.closers = append(st.closers, func() { _ = rdb.Close() })
			feed = order.NewRedisFeed(rdb, cfg.Redis.Channel)
		}
		st.orders = order.NewPGStore(pool, feed, lg.Named("order_store"))
		st.notifications = notification.NewPGStore(pool)
	case config.BackendFirestore:
		if app == nil {
			return nil, errors.New("firestore backend needs a firebase project")
		}
		client, err := infra.NewFirestore(ctx, app)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = client.Close() })
		st.orders = order.NewFirestoreStore(client, lg.Named("order_store"))
		st.notifications = notification.NewFirestoreStore(client, lg.Named("notification_store"))
	default:
		st.orders = order.NewMemoryStore(lg.Named("order_store"))
		st.notifications = notification.NewMemoryStore()
	}
	return st, nil
}

// newVerifier picks the admin credential: admin.token, else Firebase ID
// tokens. With neither configured the customer surface still serves and the
// admin routes answer 401.
func newVerifier(ctx context.Context, cfg *config.Config, app *firebase.App, lg *zap.Logger) (infra.TokenVerifier, error) {
	if cfg.Admin.Token != "" {
		return infra.NewStaticVerifier(cfg.Admin.Token), nil
	}
	if app == nil {
		lg.Warn("admin routes disabled; set admin.token or firebase.project_id")
		return infra.NewDisabledVerifier(), nil
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("firebase auth init: %w", err)
	}
	return verifier, nil
}
