package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lessonplan/backend/internal/auth"
	"lessonplan/backend/internal/cache"
	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/health"
	"lessonplan/backend/internal/logger"
	"lessonplan/backend/internal/mail"
	"lessonplan/backend/internal/monitoring"
	"lessonplan/backend/internal/pool"
	"lessonplan/backend/internal/security"
	"lessonplan/backend/internal/storage"
	"lessonplan/backend/internal/storage/filesystem"
	"lessonplan/backend/internal/storage/memory"
	redisstore "lessonplan/backend/internal/storage/redis"
	sqlstore "lessonplan/backend/internal/storage/sql"
	httptransport "lessonplan/backend/internal/transport/http"
)

const version = "1.0.0"

// main 启动 HTTP API 与后台邮件发送流程
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting lessonplan server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	metrics := monitoring.NewMetrics(nil)
	checker := health.NewChecker(version, metrics.Registry(), log)

	group, groupCtx := errgroup.WithContext(ctx)

	// 用户存储
	userRepo, closeUsers, err := initializeUserStorage(cfg, log, checker)
	if err != nil {
		return err
	}
	defer closeUsers()

	// 会话与验证码存储
	sessionStore, tokenStore, closeCache, err := initializeCache(groupCtx, cfg, log, checker)
	if err != nil {
		return err
	}
	defer closeCache()

	users := auth.NewService(userRepo, log)
	sessions := auth.NewSessionManager(sessionStore, users, cfg.Session, log, metrics)
	tokens := auth.NewTokenManager(tokenStore, cfg.Token, log, metrics)

	// 持久化邮件队列，重启后先恢复未发送的邮件
	messageStore, err := filesystem.NewMessageStore(cfg.Email.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to initialize email storage: %w", err)
	}
	queue := mail.NewQueue(messageStore, log, metrics)
	restored, err := queue.LoadFromStorage()
	if err != nil {
		return fmt.Errorf("failed to restore email queue: %w", err)
	}
	log.Info("email queue restored",
		zap.Int("messages", restored),
		zap.String("path", messageStore.BasePath()),
	)

	senderHealth := mail.NewSenderHealth()
	transport := mail.NewSMTPTransport(cfg.SMTP, log)
	sender := mail.NewSender(queue, transport, senderHealth, cfg.Email, cfg.SMTP.FromAddress, log, metrics)

	workers := pool.NewWorkerPool(cfg.Email.TriggerWorkers, cfg.Email.TriggerQueue, log)
	workers.Start(groupCtx)
	defer workers.Stop()

	scheduler := mail.NewScheduler(sender, workers, cfg.Email.PollingInterval, log)
	mailService := mail.NewService(queue, senderHealth, scheduler, log)
	mailService.SetAttachmentChecker(security.NewAttachmentPolicy(cfg.Email.MaxAttachmentBytes))

	checker.AddReadinessCheck("email-storage", health.QueueStorageCheck(messageStore.Count))
	checker.AddReportCheck("email-sender", health.SenderCheck(senderHealth))

	// 告警
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(mail.SenderStoppedRule(senderHealth))
	alertManager.AddRule(mail.SenderPausedRule(senderHealth))
	alertManager.AddRule(mail.QueueBacklogRule(queue, cfg.Alert.QueueBacklogThreshold))

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:   cfg,
		Sessions: sessions,
		Tokens:   tokens,
		Users:    users,
		Mail:     mailService,
		Health:   checker,
		Metrics:  metrics,
		Logger:   log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 邮件调度 goroutine
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})

	// 告警监控 goroutine
	group.Go(func() error {
		log.Info("starting alert monitoring", zap.Duration("interval", cfg.Alert.CheckInterval))
		return alertManager.StartMonitoring(groupCtx, cfg.Alert.CheckInterval)
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		// 等待进行中的发送结束再关闭 SMTP 连接
		if err := sender.Shutdown(shutdownCtx); err != nil {
			log.Warn("email sender shutdown warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// initializeUserStorage 根据配置选择 SQL 或内存用户存储
func initializeUserStorage(cfg *config.Config, log *zap.Logger, checker *health.Checker) (storage.UserRepository, func(), error) {
	if cfg.Database.Type == "" {
		log.Warn("using memory user storage (development mode)")
		return memory.NewStore(), func() {}, nil
	}

	store, err := sqlstore.NewStore(cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database storage: %w", err)
	}
	checker.AddReadinessCheck("database", health.PingCheck(store.Health))

	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn("database close warning", zap.Error(err))
		}
	}
	return store, closeFn, nil
}

// initializeCache 根据配置选择内存或 Redis 作为会话与验证码存储
func initializeCache(
	ctx context.Context,
	cfg *config.Config,
	log *zap.Logger,
	checker *health.Checker,
) (cache.Store[auth.Session], cache.Store[string], func(), error) {
	if cfg.Cache.Backend == "redis" {
		client, err := redisstore.New(cfg.Redis, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		checker.AddReadinessCheck("redis", health.PingCheck(client.Ping))

		closeFn := func() { _ = client.Close() }
		return redisstore.NewStore[auth.Session](client, "session"),
			redisstore.NewStore[string](client, "token"),
			closeFn, nil
	}

	sessionStore := cache.NewLocalCache[auth.Session]()
	tokenStore := cache.NewLocalCache[string]()
	if cfg.Cache.SweepInterval > 0 {
		sessionStore.StartSweeper(ctx, cfg.Cache.SweepInterval)
		tokenStore.StartSweeper(ctx, cfg.Cache.SweepInterval)
	}
	log.Info("using in-memory session cache", zap.Duration("sweep_interval", cfg.Cache.SweepInterval))
	return sessionStore, tokenStore, func() {}, nil
}
