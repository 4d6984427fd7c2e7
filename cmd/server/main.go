package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/podushkina/taskflow/internal/api"
	"github.com/podushkina/taskflow/internal/cache"
	"github.com/podushkina/taskflow/internal/config"
	"github.com/podushkina/taskflow/internal/logger"
	"github.com/podushkina/taskflow/internal/queue"
	"github.com/podushkina/taskflow/internal/service"
	"github.com/podushkina/taskflow/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "server configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel, "api")

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connectStore(ctx, log, cfg.Database.URL, cfg.StartupRetry())
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close db connection", "error", err)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	log.Info("database initialized")

	redisClient := cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisClient.Close()

	taskCache := cache.NewTaskList(redisClient, cfg.Cache.Key, cfg.Cache.TTL)
	if err := taskCache.Ping(ctx); err != nil {
		log.Warn("redis unreachable, task list cache disabled until it recovers", "error", err)
	}

	var publisher queue.Publisher
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		publisher = queue.NewRedis(log, redisClient, cfg.Queue.Name, "api")
	default:
		publisher = queue.NewAMQP(log, cfg.Queue.AMQPURL, cfg.Queue.Name, "api")
	}

	tasks := service.NewTasks(log, db, taskCache, publisher)
	handler := api.NewHandler(log, tasks, cfg.HTTP.Timeout)
	router := api.NewRouter(log, handler)

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "address", cfg.HTTP.Address, "queue_backend", cfg.Queue.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	log.Info("server stopped")
	return nil
}

func connectStore(ctx context.Context, log *slog.Logger, url string, rc config.RetryConfig) (*store.Postgres, error) {
	delay := rc.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}

	var (
		db      *store.Postgres
		attempt int
	)
	backoff := retry.WithMaxRetries(uint64(rc.Attempts-1), retry.NewConstant(delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := store.Open(ctx, log, url)
		if err != nil {
			log.Warn("database connection attempt failed",
				"attempt", attempt,
				"max_attempts", rc.Attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		db = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to db after %d attempts: %w", attempt, err)
	}
	return db, nil
}
