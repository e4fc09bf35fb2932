package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/cppla/socialfeed/config"
	"github.com/cppla/socialfeed/events"
	"github.com/cppla/socialfeed/feed"
	"github.com/cppla/socialfeed/routes"
	"github.com/cppla/socialfeed/store"
	"github.com/cppla/socialfeed/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	logger := utils.Logger

	ctx, cancel := context.WithCancel(context.Background())

	tp, err := utils.InitTracer(ctx, cfg)
	if err != nil {
		logger.Fatal("tracer init failed", zap.Error(err))
	}

	db, err := config.InitDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}
	st := store.NewGormStore(db)

	cache := feed.NewMetadataCache(st, feed.CacheOptions{
		TTL:    cfg.FeedCacheTTL(),
		Logger: logger.Named("metacache"),
	})
	engine := feed.NewQueryEngine(st, cfg.MaxPageSize, logger.Named("query"))

	bus, closeConn, err := openBus(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("event bus init failed", zap.String("bus", cfg.EventBus), zap.Error(err))
	}

	opts := feed.ServiceOptions{Sanitize: utils.Sanitize, Logger: logger.Named("feed")}
	if bus != nil {
		opts.Notifier = events.NewNotifier(bus, cfg.InstanceID)
	}
	svc := feed.NewService(st, engine, cache, opts)

	if bus != nil {
		if err := events.Listen(ctx, bus, cfg.InstanceID, svc, logger.Named("events")); err != nil {
			logger.Fatal("event subscription failed", zap.Error(err))
		}
	}

	r := routes.SetupRouter(cfg, svc, logger)
	handler := otelhttp.NewHandler(r, "socialfeed", otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
		return req.Method + " " + req.URL.Path
	}))

	srv := utils.NewServer(":"+cfg.AppPort, handler, utils.DEFAULT_READ_TIMEOUT, utils.DEFAULT_WRITE_TIMEOUT)
	// hooks run in reverse order: bus first, logger last
	srv.OnShutdown(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})
	srv.OnShutdown(tp.Shutdown)
	srv.OnShutdown(func(context.Context) error { return config.CloseDatabase(db) })
	srv.OnShutdown(func(context.Context) error {
		cache.Close()
		return nil
	})
	srv.OnShutdown(func(context.Context) error {
		cancel()
		if bus == nil {
			return nil
		}
		if err := bus.Close(); err != nil {
			logger.Warn("event bus close failed", zap.Error(err))
		}
		return closeConn()
	})

	utils.Sugar.Infof("Starting server on port %s (graceful, instance %s, bus %s)", cfg.AppPort, cfg.InstanceID, cfg.EventBus)
	if err := srv.ListenAndServe(); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

// openBus connects the configured event transport. It returns a nil bus
// when cross-replica events are disabled.
func openBus(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (events.Bus, func() error, error) {
	switch cfg.EventBus {
	case config.EventBusRedis:
		client, err := utils.NewRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return events.NewRedisBus(client, logger.Named("redis-bus")), client.Close, nil
	case config.EventBusNats:
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("socialfeed-"+cfg.InstanceID))
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect %s: %w", cfg.NatsURL, err)
		}
		return events.NewNatsBus(nc, logger.Named("nats-bus")), func() error {
			return nc.Drain()
		}, nil
	default:
		return nil, func() error { return nil }, nil
	}
}
