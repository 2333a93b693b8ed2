package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ContentCrew/internal/api"
	"ContentCrew/internal/app"
	"ContentCrew/internal/config"
	"ContentCrew/internal/job"
	"ContentCrew/internal/observability/alerting"
	"ContentCrew/internal/storage/mysql"
	"ContentCrew/pkg/logger"
)

// main 是内容团队守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("crewd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	engine, err := app.NewEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.L().Warn("关闭执行引擎失败", slog.Any("error", err))
		}
	}()

	store, err := newStore(ctx, cfg.Storage.JobStore)
	if err != nil {
		return err
	}

	queue, err := newQueue(ctx, cfg.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	jobService := job.NewService(store, queue, cfg.Storage.JobStore.Retries,
		job.WithCatalog(engine.Catalog),
		job.WithDefaultCrew(cfg.Crews.Default),
	)
	defer func() {
		if err := jobService.Close(); err != nil {
			logger.L().Warn("关闭作业服务失败", slog.Any("error", err))
		}
	}()

	processor := job.NewProcessor(job.NewCrewExecutor(engine.Runner, engine.Catalog), store, queue, queue,
		job.WithWorkerCount(cfg.Queue.Workers),
		job.WithJobTimeout(time.Duration(cfg.Queue.JobTimeoutSeconds)*time.Second),
		job.WithProcessorLogger(logger.Named("processor")),
		job.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)

	// 先于 jobService.Close 执行，保证存储关闭时处理器已退出。
	stopProcessor := startProcessor(ctx, processor)
	defer stopProcessor()

	logger.L().Info("crewd 已就绪",
		slog.String("addr", cfg.Server.Address),
		slog.String("store", cfg.Storage.JobStore.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.Int("workers", cfg.Queue.Workers),
	)

	server := api.NewServer(cfg.Server.Address, jobService, api.WithCrews(engine.Catalog))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type starter interface {
	Start(ctx context.Context) error
}

// startProcessor 在后台运行处理器。返回的函数取消处理器并等待其退出，可重复调用。
func startProcessor(ctx context.Context, processor starter) func() {
	processorCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("作业处理器异常退出", slog.Any("error", err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func newStore(ctx context.Context, cfg config.JobStoreConfig) (job.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
			SkipMigrations:  cfg.SkipMigrations,
		})
		if err != nil {
			return nil, err
		}
		return job.NewMySQLStore(db), nil
	default:
		return nil, fmt.Errorf("未知的作业存储驱动: %s", cfg.Driver)
	}
}

func newQueue(ctx context.Context, cfg config.QueueConfig) (job.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return job.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		queue, err := job.NewRedisQueue(ctx, job.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Key,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
