package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/domain"
)

// RedisCache 基于 Redis 的邮件列表缓存，多实例部署时共享
type RedisCache struct {
	rdb *goredis.Client
	ttl time.Duration
	log *zap.Logger
}

// NewRedisCache 创建 Redis 缓存并测试连接
func NewRedisCache(cfg config.RedisConfig, ttl time.Duration, log *zap.Logger) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 测试连接
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return NewRedisCacheWithClient(rdb, ttl, log), nil
}

// NewRedisCacheWithClient 使用已有客户端创建缓存
func NewRedisCacheWithClient(rdb *goredis.Client, ttl time.Duration, log *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{rdb: rdb, ttl: ttl, log: log}
}

// listKey 邮件列表缓存键
func listKey(address string) string {
	return fmt.Sprintf("messages:%s", domain.NormalizeAddress(address))
}

// Get 获取缓存的邮件列表
func (c *RedisCache) Get(ctx context.Context, address string) ([]domain.MessageView, bool, error) {
	data, err := c.rdb.Get(ctx, listKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var views []domain.MessageView
	if err := json.Unmarshal(data, &views); err != nil {
		// 无法解析的条目视为未命中，并删除
		_ = c.rdb.Del(ctx, listKey(address)).Err()
		return nil, false, nil
	}
	return views, true, nil
}

// Set 缓存邮件列表
func (c *RedisCache) Set(ctx context.Context, address string, views []domain.MessageView) error {
	data, err := json.Marshal(views)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, listKey(address), data, c.ttl).Err()
}

// Invalidate 删除缓存的邮件列表
func (c *RedisCache) Invalidate(ctx context.Context, address string) error {
	return c.rdb.Del(ctx, listKey(address)).Err()
}

// Health 测试 Redis 连接
func (c *RedisCache) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	c.log.Info("Redis connection closed")
	return nil
}
