package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailrelay/backend/internal/cache"
	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/health"
	"mailrelay/backend/internal/logger"
	"mailrelay/backend/internal/middleware"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/service"
	"mailrelay/backend/internal/storage/factory"
	httptransport "mailrelay/backend/internal/transport/http"
	"mailrelay/backend/internal/websocket"
)

// main 启动 HTTP API、WebSocket 推送与邮件清理任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting mailrelay server",
		zap.String("domain", cfg.Mailbox.Domain),
		zap.Duration("retention", cfg.Mailbox.Retention),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	store, err := factory.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 初始化列表缓存
	listCache, err := cache.New(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize list cache", zap.Error(err))
	}
	log.Info("list cache initialized",
		zap.String("type", cfg.Cache.Type),
		zap.Duration("ttl", cfg.Cache.TTL),
	)

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(store, log)
	healthChecker.AddReadinessCheck("cache", listCache)

	// 创建 WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log, metrics)

	// 初始化服务层
	mailboxService := service.NewMailboxService(store, cfg, log,
		service.WithNotifier(wsHub),
		service.WithCacheInvalidator(listCache),
		service.WithRecorder(metrics),
	)
	sweeper := service.NewRetentionSweeper(store, cfg.Mailbox.Retention, log, metrics)

	ingestLimiter := middleware.NewIPRateLimiter(cfg.Ingest.RateLimit, cfg.Ingest.Burst)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		Cache:          listCache,
		Metrics:        metrics,
		Health:         healthChecker,
		WebSocketHub:   wsHub,
		IngestLimiter:  ingestLimiter,
		Logger:         log,
	})

	httpAddr := cfg.Server.Addr()
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理过期邮件 goroutine
	group.Go(func() error {
		if cfg.Mailbox.SweepInterval <= 0 {
			log.Info("internal retention sweeper disabled")
			return nil
		}
		sweeper.Run(groupCtx, cfg.Mailbox.SweepInterval)
		return nil
	})

	// 定时清理限流器中长时间未出现的 IP
	group.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if removed := ingestLimiter.Cleanup(); removed > 0 {
					log.Debug("rate limiter visitors cleaned up", zap.Int("count", removed))
				}
			}
		}
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("server error", zap.Error(err))
	}

	if err := listCache.Close(); err != nil {
		log.Warn("list cache close warning", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Warn("store close warning", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
