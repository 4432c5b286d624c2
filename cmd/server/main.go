package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/txrules/catalog"
	"github.com/liamcoop/txrules/internal/config"
	"github.com/liamcoop/txrules/internal/logger"
	"github.com/liamcoop/txrules/invalidation"
	"github.com/liamcoop/txrules/ruleadmin"
	"github.com/liamcoop/txrules/rules"
)

// app holds the long-lived resources behind the HTTP server.
type app struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	redis  *redis.Client
	engine *rules.Engine
	eval   *rules.Evaluator
	server *Server
}

func (a *app) Close() {
	a.engine.Close()
	a.eval.Close()
	if a.redis != nil {
		a.redis.Close()
	}
	a.pool.Close()
	a.db.Close()
}

// withRetry runs connect until it succeeds or the attempts run out.
func withRetry(ctx context.Context, what string, attempts uint, connect func() error) error {
	return retry.Do(
		connect,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WarnConnectRetry()
			logger.Info("connection attempt failed", "target", what, "attempt", n+1, "error", err)
		}),
	)
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	err := withRetry(ctx, "postgres", cfg.DBConnectAttempts, func() error {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return err
		}
		a.db = db
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = withRetry(ctx, "catalog", cfg.DBConnectAttempts, func() error {
		pool, err := catalog.Connect(ctx, cfg.DatabaseURL)
		a.pool = pool
		return err
	})
	if err != nil {
		a.db.Close()
		return nil, err
	}

	var bus *invalidation.RedisBus
	if cfg.RedisURL != "" {
		client, err := invalidation.Connect(ctx, cfg.RedisURL)
		if err != nil {
			// run single-replica: local invalidation still applies
			logger.Warn("redis unavailable, cache invalidation stays local", "error", err)
		} else {
			a.redis = client
			bus = invalidation.NewRedisBus(client, cfg.RedisChannel)
		}
	}

	a.eval, err = rules.NewEvaluator(rules.EvaluatorConfig{MaxPatterns: cfg.RegexCacheSize})
	if err != nil {
		a.pool.Close()
		a.db.Close()
		return nil, err
	}

	categories := catalog.NewPostgres(a.pool)
	store := rules.NewPostgresRuleStore(a.db)
	a.engine, err = rules.NewEngine(store,
		rules.WithEvaluator(a.eval),
		rules.WithCache(rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: cfg.RuleCacheTTL})),
		rules.WithEvaluationCategoryChecker(categories),
	)
	if err != nil {
		a.eval.Close()
		a.pool.Close()
		a.db.Close()
		return nil, err
	}

	validator := rules.NewValidator(a.eval,
		rules.WithCategoryChecker(categories),
		rules.WithGoalChecker(categories),
	)
	var opts []ruleadmin.Option
	if bus != nil {
		if err := bus.Subscribe(ctx, a.engine); err != nil {
			logger.Warn("failed to subscribe to invalidations", "error", err)
		}
		opts = append(opts, ruleadmin.WithBroadcaster(bus))
	}
	manager := ruleadmin.NewManager(store, a.engine, validator, opts...)

	a.server = NewServer(a.db, a.engine, manager, cfg.JWTSecret)
	return a, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to start", "error", err)
	}
	defer a.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
	}
	logger.Info("server stopped")
}
