package memory

import (
	"context"
	"sync"
	"time"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage"
)

// Store 使用内存保存邮件数据，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	byAddress map[string][]*domain.Message // mailboxAddress -> 按插入顺序排列的邮件
	nextID    int64
	lastAt    int64 // 最近一次分配的 ReceivedAt，保证单调不减
	closed    bool
	clock     storage.Clock
}

// Option 配置内存存储。
type Option func(*Store)

// WithClock 替换时间源。
func WithClock(clock storage.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore 创建一个内存存储实例。
func NewStore(opts ...Option) *Store {
	s := &Store{
		byAddress: make(map[string][]*domain.Message),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert 保存邮件，分配自增 ID 与接收时间。
func (s *Store) Insert(_ context.Context, message *domain.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, domain.Unavailable("insert", nil)
	}

	receivedAt := storage.Millis(s.clock())
	if receivedAt < s.lastAt {
		receivedAt = s.lastAt
	}
	s.lastAt = receivedAt
	s.nextID++

	stored := *message
	stored.ID = s.nextID
	stored.ReceivedAt = receivedAt
	stored.MailboxAddress = domain.NormalizeAddress(stored.MailboxAddress)

	s.byAddress[stored.MailboxAddress] = append(s.byAddress[stored.MailboxAddress], &stored)

	message.ID = stored.ID
	message.ReceivedAt = stored.ReceivedAt
	message.MailboxAddress = stored.MailboxAddress
	return stored.ID, nil
}

// ListByAddress 返回地址下最新的 limit 封邮件。
func (s *Store) ListByAddress(_ context.Context, address string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.Unavailable("list", nil)
	}

	limit = storage.ResolveLimit(limit)
	msgs := s.byAddress[domain.NormalizeAddress(address)]

	// 插入顺序即 (ReceivedAt, ID) 升序，倒序遍历即可
	result := make([]domain.Message, 0, min(limit, len(msgs)))
	for i := len(msgs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, *msgs[i])
	}
	return result, nil
}

// DeleteByAddress 删除地址下全部邮件。
func (s *Store) DeleteByAddress(_ context.Context, address string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, domain.Unavailable("delete_by_address", nil)
	}

	key := domain.NormalizeAddress(address)
	count := len(s.byAddress[key])
	delete(s.byAddress, key)
	return int64(count), nil
}

// DeleteOlderThan 删除所有早于 cutoff 的邮件。
func (s *Store) DeleteOlderThan(_ context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, domain.Unavailable("delete_older_than", nil)
	}

	var count int64
	for addr, msgs := range s.byAddress {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.ReceivedAt < cutoff {
				count++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(s.byAddress, addr)
			continue
		}
		s.byAddress[addr] = kept
	}
	return count, nil
}

// Count 返回当前保存的邮件总数。
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, msgs := range s.byAddress {
		total += len(msgs)
	}
	return total
}

// Health 检查存储状态。
func (s *Store) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.Unavailable("health", nil)
	}
	return nil
}

// Close 关闭存储，之后的所有操作返回存储不可用。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.byAddress = make(map[string][]*domain.Message)
	return nil
}
