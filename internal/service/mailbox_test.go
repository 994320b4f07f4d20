package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage/memory"
)

// MockStore 模拟存储接口
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Insert(ctx context.Context, message *domain.Message) (int64, error) {
	args := m.Called(ctx, message)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListByAddress(ctx context.Context, address string, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, address, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockStore) DeleteByAddress(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// recordingNotifier 记录收到的新邮件通知
type recordingNotifier struct {
	mu       sync.Mutex
	messages []domain.Message
}

func (n *recordingNotifier) NotifyNewMessage(message *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, *message)
}

// recordingCache 记录被失效的地址
type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
	err         error
}

func (c *recordingCache) Invalidate(_ context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, address)
	return c.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		Mailbox: config.MailboxConfig{
			Domain:    "temp.mail",
			Retention: 24 * time.Hour,
			ListLimit: 100,
		},
	}
}

func strPtr(s string) *string {
	return &s
}

func inbound(to, subject string) domain.InboundMessage {
	return domain.InboundMessage{
		From:    "sender@example.com",
		To:      to,
		Subject: subject,
		Text:    strPtr("hello " + subject),
	}
}

func TestMailboxService_GenerateAddress(t *testing.T) {
	svc := NewMailboxService(memory.NewStore(), testConfig(), nil)

	addr, err := svc.GenerateAddress()
	require.NoError(t, err)
	assert.Regexp(t, `^[a-z0-9]{8}@temp\.mail$`, addr)

	// 生成地址不写入存储
	store := new(MockStore)
	svc = NewMailboxService(store, testConfig(), nil)
	_, err = svc.GenerateAddress()
	require.NoError(t, err)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestMailboxService_IngestAndList(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	cache := &recordingCache{}
	svc := NewMailboxService(memory.NewStore(), testConfig(), nil,
		WithNotifier(notifier),
		WithCacheInvalidator(cache),
	)

	t.Run("地址大小写与空白不敏感", func(t *testing.T) {
		msg, err := svc.Ingest(ctx, inbound("  User@Foo.com ", "normalized"))
		require.NoError(t, err)
		assert.Equal(t, "user@foo.com", msg.MailboxAddress)
		assert.NotZero(t, msg.ID)
		assert.NotZero(t, msg.ReceivedAt)

		views, err := svc.List(ctx, "user@foo.com")
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "normalized", views[0].Subject)
		assert.Equal(t, "hello normalized", views[0].Preview)
	})

	t.Run("通知与缓存失效", func(t *testing.T) {
		require.Len(t, notifier.messages, 1)
		assert.Equal(t, "user@foo.com", notifier.messages[0].MailboxAddress)
		assert.Equal(t, []string{"user@foo.com"}, cache.invalidated)
	})

	t.Run("空邮箱返回空列表", func(t *testing.T) {
		views, err := svc.List(ctx, "nobody@temp.mail")
		require.NoError(t, err)
		assert.NotNil(t, views)
		assert.Empty(t, views)
	})
}

func TestMailboxService_Ordering(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	svc := NewMailboxService(memory.NewStore(memory.WithClock(clock.Now)), testConfig(), nil)

	_, err := svc.Ingest(ctx, inbound("order@temp.mail", "M1"))
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Ingest(ctx, inbound("order@temp.mail", "M2"))
	require.NoError(t, err)

	views, err := svc.List(ctx, "order@temp.mail")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "M2", views[0].Subject)
	assert.Equal(t, "M1", views[1].Subject)
}

func TestMailboxService_TextDerivation(t *testing.T) {
	ctx := context.Background()
	svc := NewMailboxService(memory.NewStore(), testConfig(), nil)

	t.Run("无text无content时为空", func(t *testing.T) {
		msg, err := svc.Ingest(ctx, domain.InboundMessage{
			From: "a@example.com", To: "derive@temp.mail", Subject: "empty",
		})
		require.NoError(t, err)
		assert.Equal(t, "", msg.Text)

		views, err := svc.List(ctx, "derive@temp.mail")
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "empty", views[0].Preview)
	})

	t.Run("text缺失时使用content", func(t *testing.T) {
		msg, err := svc.Ingest(ctx, domain.InboundMessage{
			From: "a@example.com", To: "derive@temp.mail", Subject: "raw", Content: strPtr("hello"),
		})
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, "hello", msg.Content)
	})
}

func TestMailboxService_IngestValidation(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	svc := NewMailboxService(store, testConfig(), nil)

	testCases := []struct {
		name  string
		in    domain.InboundMessage
		field string
	}{
		{name: "缺少subject", in: domain.InboundMessage{From: "a@b.c", To: "x@temp.mail"}, field: "subject"},
		{name: "缺少from", in: domain.InboundMessage{To: "x@temp.mail", Subject: "s"}, field: "from"},
		{name: "缺少to", in: domain.InboundMessage{From: "a@b.c", To: "   ", Subject: "s"}, field: "to"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := svc.Ingest(ctx, tc.in)
			assert.Nil(t, msg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMissingField))

			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestMailboxService_IngestValidationLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewMailboxService(store, testConfig(), nil)

	_, err := svc.Ingest(ctx, inbound("same@temp.mail", "kept"))
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, domain.InboundMessage{From: "a@b.c", To: "same@temp.mail"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	views, err := svc.List(ctx, "same@temp.mail")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "kept", views[0].Subject)
	assert.Equal(t, 1, store.Count())
}

func TestMailboxService_Clear(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{}
	svc := NewMailboxService(memory.NewStore(), testConfig(), nil, WithCacheInvalidator(cache))

	for i := 0; i < 3; i++ {
		_, err := svc.Ingest(ctx, inbound("clear@temp.mail", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	removed, err := svc.Clear(ctx, "Clear@temp.mail")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	views, err := svc.List(ctx, "clear@temp.mail")
	require.NoError(t, err)
	assert.Empty(t, views)

	removed, err = svc.Clear(ctx, "clear@temp.mail")
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	assert.Contains(t, cache.invalidated, "clear@temp.mail")
}

func TestMailboxService_MissingAddress(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	svc := NewMailboxService(store, testConfig(), nil)

	_, err := svc.List(ctx, "  ")
	assert.True(t, errors.Is(err, domain.ErrMissingAddress))
	assert.Equal(t, "MissingAddress", domain.ErrorKind(err))

	_, err = svc.Clear(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrMissingAddress))

	store.AssertNotCalled(t, "ListByAddress", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "DeleteByAddress", mock.Anything, mock.Anything)
}

func TestMailboxService_ListLimit(t *testing.T) {
	ctx := context.Background()
	svc := NewMailboxService(memory.NewStore(), testConfig(), nil)

	for i := 0; i < 150; i++ {
		_, err := svc.Ingest(ctx, inbound("bulk@temp.mail", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	views, err := svc.List(ctx, "bulk@temp.mail")
	require.NoError(t, err)
	require.Len(t, views, 100)
	assert.Equal(t, "m149", views[0].Subject)
	assert.Equal(t, "m50", views[99].Subject)
}

func TestMailboxService_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("未配置存储", func(t *testing.T) {
		svc := NewMailboxService(nil, testConfig(), nil)

		_, err := svc.Ingest(ctx, inbound("x@temp.mail", "s"))
		assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

		_, err = svc.List(ctx, "x@temp.mail")
		assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

		_, err = svc.Clear(ctx, "x@temp.mail")
		assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
	})

	t.Run("写入失败透传且不通知", func(t *testing.T) {
		store := new(MockStore)
		notifier := &recordingNotifier{}
		svc := NewMailboxService(store, testConfig(), nil, WithNotifier(notifier))

		cause := errors.New("disk full")
		store.On("Insert", mock.Anything, mock.Anything).
			Return(int64(0), domain.NewStorageError("insert", domain.ErrWriteFailed, cause)).Once()

		_, err := svc.Ingest(ctx, inbound("x@temp.mail", "s"))
		assert.True(t, errors.Is(err, domain.ErrWriteFailed))
		assert.True(t, errors.Is(err, cause))
		assert.Empty(t, notifier.messages)
		store.AssertExpectations(t)
	})

	t.Run("查询失败透传", func(t *testing.T) {
		store := new(MockStore)
		svc := NewMailboxService(store, testConfig(), nil)

		store.On("ListByAddress", mock.Anything, "x@temp.mail", 100).
			Return(nil, domain.NewStorageError("list", domain.ErrQueryFailed, errors.New("syntax"))).Once()

		_, err := svc.List(ctx, "x@temp.mail")
		assert.Equal(t, "QueryFailed", domain.ErrorKind(err))
		store.AssertExpectations(t)
	})

	t.Run("删除时存储不可用", func(t *testing.T) {
		store := new(MockStore)
		svc := NewMailboxService(store, testConfig(), nil)

		store.On("DeleteByAddress", mock.Anything, "x@temp.mail").
			Return(int64(0), domain.Unavailable("delete_by_address", nil)).Once()

		_, err := svc.Clear(ctx, "x@temp.mail")
		assert.Equal(t, "StoreUnavailable", domain.ErrorKind(err))
		store.AssertExpectations(t)
	})

	t.Run("缓存失效失败不影响结果", func(t *testing.T) {
		cache := &recordingCache{err: errors.New("redis down")}
		svc := NewMailboxService(memory.NewStore(), testConfig(), nil, WithCacheInvalidator(cache))

		msg, err := svc.Ingest(ctx, inbound("x@temp.mail", "s"))
		require.NoError(t, err)
		assert.NotNil(t, msg)
	})
}
