package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/domain"
)

// ListCache 邮件列表的短期缓存，按规范化后的地址索引
//
// 缓存只影响读取的新鲜度，不参与正确性：写入和清空后调用方负责 Invalidate。
type ListCache interface {
	Get(ctx context.Context, address string) ([]domain.MessageView, bool, error)
	Set(ctx context.Context, address string, views []domain.MessageView) error
	Invalidate(ctx context.Context, address string) error
	Health() error
	Close() error
}

// 本地缓存默认最大条目数
const defaultLocalEntries = 10000

// New 根据配置创建列表缓存
func New(cfg *config.Config, log *zap.Logger) (ListCache, error) {
	switch cfg.Cache.Type {
	case config.CacheNone:
		return Noop{}, nil
	case config.CacheRedis:
		c, err := NewRedisCache(cfg.Redis, cfg.Cache.TTL, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.CacheLocal, "":
		return NewLocalCache(defaultLocalEntries, cfg.Cache.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}
}

// Noop 不缓存任何内容
type Noop struct{}

func (Noop) Get(context.Context, string) ([]domain.MessageView, bool, error) {
	return nil, false, nil
}

func (Noop) Set(context.Context, string, []domain.MessageView) error { return nil }

func (Noop) Invalidate(context.Context, string) error { return nil }

func (Noop) Health() error { return nil }

func (Noop) Close() error { return nil }
