package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/logger"
	"mailrelay/backend/internal/service"
	"mailrelay/backend/internal/storage/factory"
)

// main 执行一次过期邮件清理，供 cron 等外部调度器调用。
func main() {
	retention := flag.Duration("retention", 0, "邮件保留时长，默认读取 mailbox.retention")
	timeout := flag.Duration("timeout", time.Minute, "清理超时时间")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Database.Type == "" {
		log.Warn("database.type is empty, sweeping an empty in-memory store")
	}

	store, err := factory.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	keep := cfg.Mailbox.Retention
	if *retention > 0 {
		keep = *retention
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sweeper := service.NewRetentionSweeper(store, keep, log, nil)
	removed, err := sweeper.Sweep(ctx, time.Now())
	if err != nil {
		log.Error("sweep failed", zap.Error(err))
		store.Close()
		os.Exit(1)
	}

	log.Info("sweep completed",
		zap.Int64("removedCount", removed),
		zap.Duration("retention", sweeper.Retention()),
	)
}
