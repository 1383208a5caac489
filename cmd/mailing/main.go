package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/sms-mailing/internal/api"
	"github.com/LeventeLantos/sms-mailing/internal/config"
	"github.com/LeventeLantos/sms-mailing/internal/events"
	"github.com/LeventeLantos/sms-mailing/internal/gateway"
	"github.com/LeventeLantos/sms-mailing/internal/metrics"
	"github.com/LeventeLantos/sms-mailing/internal/repo"
	"github.com/LeventeLantos/sms-mailing/internal/scheduler"
	"github.com/LeventeLantos/sms-mailing/internal/service"
	"github.com/LeventeLantos/sms-mailing/internal/status"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("sms-mailing stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store.URL)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.SMSC.BaseURL,
		Login:    cfg.SMSC.Login,
		Password: cfg.SMSC.Password,
		Timeout:  cfg.SMSC.Timeout,
		Format:   cfg.SMSC.AnswerFormat,
	}, gateway.WithMetrics(m), gateway.WithLogger(logger))

	bus := events.NewBus(64)
	defer bus.Close()

	coordinator := service.NewCoordinator(gw, store, gateway.SendOptions{
		LifetimeHours: cfg.Mailing.LifetimeHours,
		OnlyShowCost:  cfg.Mailing.OnlyShowCost,
	}).WithEvents(bus).WithMetrics(m).WithLogger(logger)

	poller := service.NewDeliveryPoller(gw, store, cfg.Poller.RatePerSecond).
		WithMetrics(m).
		WithLogger(logger)

	sched, err := scheduler.New(cfg.Poller.Interval, poller.Tick,
		scheduler.WithLogger(logger),
		scheduler.WithName("delivery-poller"),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	aggregator := status.NewAggregator(store, cfg.Status.Interval, m, logger)
	h := api.NewHandler(api.Options{
		Submitter:     coordinator,
		Status:        aggregator,
		Callbacks:     poller,
		Poller:        sched,
		DefaultPhones: cfg.Mailing.DefaultPhones,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:        logger,
		Context:       gctx,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(h, loggingMiddleware),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("sms-mailing starting",
		"addr", cfg.Server.Address,
		"store", config.StoreScheme(cfg.Store.URL),
		"status_interval", cfg.Status.Interval.String(),
		"poller_enabled", cfg.Poller.Enabled,
		"poll_interval", cfg.Poller.Interval.String(),
	)

	if cfg.Poller.Enabled {
		sched.Start(gctx)
	}

	g.Go(func() error {
		poller.Watch(gctx, bus.SubscribeMailingCreated(gctx))
		return nil
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, storeURL string) (repo.MailingStore, func(), error) {
	switch config.StoreScheme(storeURL) {
	case "redis", "rediss":
		opts, err := redis.ParseURL(storeURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return repo.NewRedisMailingStore(rdb), func() { _ = rdb.Close() }, nil

	case "postgres", "postgresql":
		pool, err := pgxpool.New(ctx, storeURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		st := repo.NewPostgresMailingStore(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return st, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store url scheme %q", config.StoreScheme(storeURL))
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
