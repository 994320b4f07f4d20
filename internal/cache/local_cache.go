package cache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"mailrelay/backend/internal/domain"
)

// DefaultTTL 列表缓存默认有效期
const DefaultTTL = 5 * time.Second

// LocalCache 进程内的邮件列表缓存
//
// 特点：
// - 使用 sync.Map 实现无锁读取
// - 支持 TTL 过期
// - 后台定期清理过期条目
// - 超过容量时淘汰任意一个条目
type LocalCache struct {
	data    sync.Map
	size    atomic.Int64
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type cacheEntry struct {
	views     []domain.MessageView
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数
//   - ttl: 过期时间，非正数时使用 DefaultTTL
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &LocalCache{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go c.cleanupLoop(time.Minute)

	return c
}

// Get 获取地址对应的缓存列表
func (c *LocalCache) Get(_ context.Context, address string) ([]domain.MessageView, bool, error) {
	key := domain.NormalizeAddress(address)
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false, nil
	}

	entry := val.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.delete(key)
		return nil, false, nil
	}

	// 返回副本，避免调用方修改缓存内容
	return slices.Clone(entry.views), true, nil
}

// Set 缓存地址对应的列表
func (c *LocalCache) Set(_ context.Context, address string, views []domain.MessageView) error {
	key := domain.NormalizeAddress(address)
	entry := &cacheEntry{
		views:     slices.Clone(views),
		expiresAt: c.now().Add(c.ttl),
	}

	if _, loaded := c.data.Swap(key, entry); !loaded {
		if c.size.Add(1) > int64(c.maxSize) && c.maxSize > 0 {
			c.evictOne(key)
		}
	}
	return nil
}

// Invalidate 删除地址对应的缓存
func (c *LocalCache) Invalidate(_ context.Context, address string) error {
	c.delete(domain.NormalizeAddress(address))
	return nil
}

// Len 返回当前条目数
func (c *LocalCache) Len() int {
	return int(c.size.Load())
}

// Health 本地缓存始终可用
func (c *LocalCache) Health() error {
	return nil
}

// Close 停止后台清理
func (c *LocalCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	return nil
}

func (c *LocalCache) delete(key string) {
	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size.Add(-1)
	}
}

// evictOne 淘汰除 keep 以外的一个条目
func (c *LocalCache) evictOne(keep string) {
	c.data.Range(func(key, _ any) bool {
		if key.(string) == keep {
			return true
		}
		c.delete(key.(string))
		return false
	})
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *LocalCache) purgeExpired() {
	now := c.now()
	c.data.Range(func(key, value any) bool {
		if now.After(value.(*cacheEntry).expiresAt) {
			c.delete(key.(string))
		}
		return true
	})
}
