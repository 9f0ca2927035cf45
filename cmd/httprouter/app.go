package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/sms-router/internal/api"
	"github.com/LeventeLantos/sms-router/internal/apps"
	"github.com/LeventeLantos/sms-router/internal/cache"
	"github.com/LeventeLantos/sms-router/internal/client"
	"github.com/LeventeLantos/sms-router/internal/config"
	"github.com/LeventeLantos/sms-router/internal/lock"
	"github.com/LeventeLantos/sms-router/internal/metrics"
	"github.com/LeventeLantos/sms-router/internal/queue"
	"github.com/LeventeLantos/sms-router/internal/repo"
	"github.com/LeventeLantos/sms-router/internal/router"
	"github.com/LeventeLantos/sms-router/internal/scheduler"
	"github.com/LeventeLantos/sms-router/internal/service"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	cfg *config.Config

	db    *sqlx.DB
	rdb   *redis.Client
	store *repo.SQLStore

	// runner is nil when no gateway is configured.
	runner queue.Runner
	sched  *scheduler.Scheduler
	server *echo.Echo
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := repo.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := repo.Migrate(ctx, db); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.store = repo.NewSQLStore(db)

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		locker = lock.NewRedisLocker(a.rdb)
	}

	m := metrics.New()

	// the queue handler is bound once the dispatcher exists
	var dispatcher *service.Dispatcher
	handle := func(ctx context.Context, id int64) { dispatcher.Handle(ctx, id) }

	var submitter queue.Submitter
	if cfg.Router.SendEnabled() {
		runner, err := newRunner(cfg, a.rdb, handle)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.runner = runner
		submitter = runner
	}

	gateway := client.NewGatewayClient(cfg.Router.URL, cfg.Router.URLs, cfg.Router.Timeout)
	sender := service.NewSender(gateway, a.store)
	var receipts cache.ReceiptCache
	if a.rdb != nil {
		receipts = cache.NewRedisCache(a.rdb, cache.DefaultReceiptTTL)
		sender.WithReceipts(receipts)
	}
	retry := service.NewRetryScheduler(a.store, submitter, cfg.Scheduler.Limit, cfg.Scheduler.StaleAfter, m)
	dispatcher = service.NewDispatcher(locker, a.store, sender, retry, cfg.Scheduler.SendLeaseTTL, m)

	appList, err := apps.Build(cfg.Router.Apps, apps.Options{Blacklist: cfg.Router.Blacklist})
	if err != nil {
		a.Close()
		return nil, err
	}
	r := router.New(a.store, appList, submitter, m)

	batches := service.NewBatchSender(a.store, m)
	batches.Subscribe("dispatch", service.DispatchBatch(a.store, submitter))

	a.sched, err = scheduler.New(cfg.Scheduler.Interval, func(ctx context.Context) error {
		_, err := retry.Sweep(ctx)
		return err
	}, scheduler.Options{
		Locker:    locker,
		LeaseName: lock.SweepName,
		LeaseTTL:  cfg.Scheduler.SweepLeaseTTL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	h := api.NewHandler(r, batches, a.store, a.sched, cfg.Router.Silent)
	if receipts != nil {
		h.WithReceipts(receipts)
	}
	a.server = api.NewServer(h, api.Options{Password: cfg.Router.Password, Registry: m.Registry})
	return a, nil
}

func newRunner(cfg *config.Config, rdb *redis.Client, handle queue.Handler) (queue.Runner, error) {
	if cfg.Queue.Backend == "redis" {
		if rdb == nil {
			return nil, errors.New("redis queue requires redis")
		}
		return queue.NewRedisQueue(rdb, queue.DefaultKey, cfg.Queue.Workers, handle)
	}
	return queue.NewPool(cfg.Queue.Workers, cfg.Queue.Size, handle)
}

// Run serves HTTP, runs the send workers and the retry sweep until ctx is
// cancelled, then shuts everything down.
func (a *app) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.runner != nil {
		g.Go(func() error { return a.runner.Run(ctx) })
	}
	a.sched.Start()

	g.Go(func() error {
		if err := a.server.Start(a.cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
