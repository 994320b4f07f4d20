// Package factory 根据配置选择存储实现。
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/storage"
	"mailrelay/backend/internal/storage/memory"
	sqlstore "mailrelay/backend/internal/storage/sql"
)

// Open 打开配置指定的存储，database.type 为空时使用内存存储。
func Open(cfg config.DatabaseConfig, log *zap.Logger) (storage.Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if cfg.Type == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	log.Info("initializing database storage", zap.String("database_type", cfg.Type))

	store, err := sqlstore.NewStore(sqlstore.FromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", cfg.Type, err)
	}

	log.Info("database storage initialized successfully", zap.String("database_type", cfg.Type))
	return store, nil
}
