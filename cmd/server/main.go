// tutorhub - AI tutoring session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/tutorhub/internal/analytics"
	"github.com/ashureev/tutorhub/internal/api"
	"github.com/ashureev/tutorhub/internal/config"
	"github.com/ashureev/tutorhub/internal/lock"
	"github.com/ashureev/tutorhub/internal/store"
	"github.com/ashureev/tutorhub/internal/tutor"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.DBBusyTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	providers, closeProviders, err := newProviderClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeProviders()
	slog.Info("Text generation backends registered", "selectors", providers.Selectors())

	checks := map[string]api.Pinger{"database": repo}
	locks, redisClient, err := newLocker(cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		checks["redis"] = api.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	slog.Info("Turn lock ready", "driver", cfg.Lock.Driver)

	g, gctx := errgroup.WithContext(ctx)

	// Initialize services.
	var opts []tutor.Option
	if cfg.Analytics.Enabled {
		refresher := analytics.NewRefresher(repo, cfg.Analytics.QueueSize, logger)
		g.Go(func() error { return refresher.Run(gctx) })
		opts = append(opts, tutor.WithRefresher(refresher))
	}
	if cfg.Analytics.SessionRetention > 0 {
		sweeper := analytics.NewSweeper(repo, cfg.Analytics.SweepInterval, cfg.Analytics.SessionRetention, logger)
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	svc := tutor.NewService(repo, providers, locks, tutor.Config{
		ContextWindow:     cfg.Tutor.ContextWindow,
		ReminderThreshold: cfg.Tutor.ReminderThreshold,
	}, logger, opts...)

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()
	sockets := api.NewSocketRegistry()

	handler := api.NewHandler(svc, repo, limiter, sockets, cfg)
	chat := api.NewChatSocketHandler(svc, sockets, limiter, cfg.AllowedOrigins(), cfg.IsDevelopment())
	health := api.NewHealthHandler(checks)

	// Turns hold a request open for the whole provider call.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, chat, health, cfg.AllowedOrigins()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Provider.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		sockets.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}

func newLocker(cfg *config.Config) (lock.Locker, *redis.Client, error) {
	if lock.Driver(cfg.Lock.Driver) != lock.DriverRedis {
		locks, err := lock.New(lock.Driver(cfg.Lock.Driver))
		return locks, nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})
	locks, err := lock.New(lock.DriverRedis,
		lock.WithRedisClient(client),
		lock.WithTTL(cfg.Lock.TTL),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return locks, client, nil
}
