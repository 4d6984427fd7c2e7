package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/podushkina/taskflow/internal/cache"
	"github.com/podushkina/taskflow/internal/config"
	"github.com/podushkina/taskflow/internal/handlers"
	"github.com/podushkina/taskflow/internal/logger"
	"github.com/podushkina/taskflow/internal/queue"
	"github.com/podushkina/taskflow/internal/store"
	"github.com/podushkina/taskflow/internal/task"
	"github.com/podushkina/taskflow/internal/worker"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "worker configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel, "worker").With("worker", cfg.Worker.Name)

	if err := run(cfg, log); err != nil {
		log.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dialer queue.Dialer
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		client := cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()
		dialer = queue.NewRedis(log, client, cfg.Queue.Name, cfg.Worker.Name)
	default:
		dialer = queue.NewAMQP(log, cfg.Queue.AMQPURL, cfg.Queue.Name, cfg.Worker.Name)
	}

	rc := cfg.WorkerRetry()
	w := worker.New(log, dialer, rc.Attempts, rc.Delay)

	if cfg.Worker.LookupTasks {
		db, err := store.Open(ctx, log, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to db: %w", err)
		}
		defer db.Close()
		w.Register(task.ActionCreated, handlers.CreatedWithLookup(log, db, cfg.Worker.ProcessDelay))
	} else {
		w.Register(task.ActionCreated, handlers.Created(log, cfg.Worker.ProcessDelay))
	}

	log.Info("worker starting", "queue", cfg.Queue.Name, "queue_backend", cfg.Queue.Backend)
	if err := w.Run(ctx); err != nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
