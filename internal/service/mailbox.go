package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage"
)

// Notifier 在新邮件入库后接收通知（例如 WebSocket 推送）。
type Notifier interface {
	NotifyNewMessage(message *domain.Message)
}

// CacheInvalidator 在邮箱内容变化后丢弃该地址的列表缓存。
type CacheInvalidator interface {
	Invalidate(ctx context.Context, address string) error
}

// Recorder 记录业务指标。
type Recorder interface {
	RecordIngest(err error)
	RecordClear(removed int64)
}

// MailboxService 封装邮箱相关业务操作：生成地址、接收邮件、列出与清空邮箱。
//
// 服务本身不加锁，也不重试；并发安全由存储层保证。
type MailboxService struct {
	store     storage.MessageRepository
	cfg       *config.Config
	log       *zap.Logger
	generator *AddressGenerator
	notifier  Notifier
	cache     CacheInvalidator
	recorder  Recorder
}

// MailboxOption 配置邮箱服务的可选组件。
type MailboxOption func(*MailboxService)

// WithNotifier 设置新邮件通知器。
func WithNotifier(n Notifier) MailboxOption {
	return func(s *MailboxService) {
		s.notifier = n
	}
}

// WithCacheInvalidator 设置列表缓存失效器。
func WithCacheInvalidator(c CacheInvalidator) MailboxOption {
	return func(s *MailboxService) {
		s.cache = c
	}
}

// WithRecorder 设置业务指标记录器。
func WithRecorder(r Recorder) MailboxOption {
	return func(s *MailboxService) {
		s.recorder = r
	}
}

// WithGenerator 替换地址生成器。
func WithGenerator(g *AddressGenerator) MailboxOption {
	return func(s *MailboxService) {
		s.generator = g
	}
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(store storage.MessageRepository, cfg *config.Config, log *zap.Logger, opts ...MailboxOption) *MailboxService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &MailboxService{
		store:     store,
		cfg:       cfg,
		log:       log,
		generator: NewAddressGenerator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAddress 使用配置的域名生成一个新地址。
func (s *MailboxService) GenerateAddress() (string, error) {
	return s.generator.Generate(s.cfg.Mailbox.Domain)
}

// Ingest 校验入站邮件并保存。
//
// 校验失败时不会访问存储。
func (s *MailboxService) Ingest(ctx context.Context, in domain.InboundMessage) (*domain.Message, error) {
	message, err := domain.Normalize(in)
	if err != nil {
		s.record(err)
		return nil, err
	}

	if s.store == nil {
		err := domain.Unavailable("insert", nil)
		s.record(err)
		return nil, err
	}

	if _, err := s.store.Insert(ctx, message); err != nil {
		s.log.Error("failed to store message",
			zap.String("to", message.MailboxAddress),
			zap.Error(err),
		)
		s.record(err)
		return nil, err
	}

	s.log.Info("message stored",
		zap.Int64("id", message.ID),
		zap.String("to", message.MailboxAddress),
		zap.Int64("receivedAt", message.ReceivedAt),
	)
	s.record(nil)

	s.invalidate(ctx, message.MailboxAddress)
	if s.notifier != nil {
		s.notifier.NotifyNewMessage(message)
	}
	return message, nil
}

// List 返回地址下最新的邮件（附带摘要），按接收时间倒序。
func (s *MailboxService) List(ctx context.Context, address string) ([]domain.MessageView, error) {
	if strings.TrimSpace(address) == "" {
		return nil, domain.NewMissingAddress()
	}
	if s.store == nil {
		return nil, domain.Unavailable("list", nil)
	}

	messages, err := s.store.ListByAddress(ctx, address, s.listLimit())
	if err != nil {
		s.log.Error("failed to list messages", zap.String("address", address), zap.Error(err))
		return nil, err
	}

	views := make([]domain.MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, domain.NewMessageView(m))
	}
	return views, nil
}

// Clear 删除地址下全部邮件，返回删除数量。重复调用返回 0。
func (s *MailboxService) Clear(ctx context.Context, address string) (int64, error) {
	if strings.TrimSpace(address) == "" {
		return 0, domain.NewMissingAddress()
	}
	if s.store == nil {
		return 0, domain.Unavailable("delete_by_address", nil)
	}

	removed, err := s.store.DeleteByAddress(ctx, address)
	if err != nil {
		s.log.Error("failed to clear mailbox", zap.String("address", address), zap.Error(err))
		return 0, err
	}

	s.log.Info("mailbox cleared",
		zap.String("address", domain.NormalizeAddress(address)),
		zap.Int64("removed", removed),
	)
	if s.recorder != nil {
		s.recorder.RecordClear(removed)
	}
	s.invalidate(ctx, address)
	return removed, nil
}

func (s *MailboxService) listLimit() int {
	if s.cfg == nil || s.cfg.Mailbox.ListLimit <= 0 {
		return storage.DefaultListLimit
	}
	return s.cfg.Mailbox.ListLimit
}

// invalidate 缓存失效失败只记录日志，写入本身已经成功。
func (s *MailboxService) invalidate(ctx context.Context, address string) {
	if s.cache == nil {
		return
	}
	address = domain.NormalizeAddress(address)
	if err := s.cache.Invalidate(ctx, address); err != nil {
		s.log.Warn("failed to invalidate list cache", zap.String("address", address), zap.Error(err))
	}
}

func (s *MailboxService) record(err error) {
	if s.recorder != nil {
		s.recorder.RecordIngest(err)
	}
}
