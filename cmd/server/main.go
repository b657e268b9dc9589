package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/account"
	"github.com/betania/betting-engine/internal/action"
	"github.com/betania/betting-engine/internal/config"
	"github.com/betania/betting-engine/internal/events"
	"github.com/betania/betting-engine/internal/httpapi"
	"github.com/betania/betting-engine/internal/logger"
	"github.com/betania/betting-engine/internal/market"
	"github.com/betania/betting-engine/internal/report"
	"github.com/betania/betting-engine/internal/settlement"
	"github.com/betania/betting-engine/internal/store"
	"github.com/betania/betting-engine/internal/wager"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache and event channel) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		ps := store.NewPostgresStore(pool)
		if cfg.DBMigrate {
			if err := ps.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		st = ps
		log.Info("connected to PostgreSQL", zap.String("url", cfg.MaskedDatabaseURL()))

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			log.Info("Redis cache enabled", zap.Duration("ttl", cfg.CacheTTL))
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Notifications ---
	hub := events.NewHub(log)
	go hub.Run(ctx)

	fanout := events.NewFanout(log.Named("events")).Add("websocket", hub)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(brokers, cfg.KafkaTopic))
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				log.Warn("kafka writer close", zap.Error(err))
			}
		})
		fanout.Add("kafka", kp)
		log.Info("Kafka events enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaTopic))
	}
	if rdb != nil {
		fanout.Add("redis", events.NewRedisPublisher(rdb, cfg.RedisEventsChannel))
		log.Info("Redis events enabled", zap.String("channel", cfg.RedisEventsChannel))
	}

	// Delivery outlives the signal context so queued events are flushed
	// before the sinks are closed.
	fanoutCtx, stopFanout := context.WithCancel(context.Background())
	fanoutDone := make(chan struct{})
	go func() {
		fanout.Run(fanoutCtx)
		close(fanoutDone)
	}()
	cleanup = append(cleanup, func() {
		stopFanout()
		<-fanoutDone
	})

	// --- Services ---
	dispatcher := action.NewDispatcher(
		market.NewService(st, fanout, log.Named("market")),
		wager.NewService(st, fanout, log.Named("wager")),
		settlement.NewService(st, fanout, log.Named("settlement")),
		account.NewService(st, fanout, log.Named("account"), account.Settings{
			StartingBalance:   cfg.StartingBalance,
			RechargeAmount:    cfg.RechargeAmount,
			RechargeThreshold: cfg.RechargeThreshold,
			LeaderboardSize:   cfg.LeaderboardSize,
		}),
		report.NewService(st),
		log.Named("action"),
	)

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      httpapi.New(dispatcher, hub, log.Named("http"), cfg.ServiceName).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("betting-engine listening", zap.String("addr", srv.Addr), zap.Int("sinks", fanout.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info("shutting down betting-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("betting-engine stopped")
	return nil
}
