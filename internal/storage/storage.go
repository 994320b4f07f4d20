package storage

import (
	"context"
	"time"

	"mailrelay/backend/internal/domain"
)

// DefaultListLimit 列表查询的默认条数上限
const DefaultListLimit = 100

// Clock 返回当前时间，测试中可替换。
type Clock func() time.Time

// MessageRepository 定义邮件数据存取操作。
//
// 所有操作在存储未配置或已关闭时统一返回 ErrStoreUnavailable，
// 且在访问后端之前完成该检查。
type MessageRepository interface {
	// Insert 分配 ID 与 ReceivedAt 后追加记录，返回新 ID。
	Insert(ctx context.Context, message *domain.Message) (int64, error)
	// ListByAddress 按 ReceivedAt 倒序返回地址下的邮件，最多 limit 条。
	ListByAddress(ctx context.Context, address string, limit int) ([]domain.Message, error)
	// DeleteByAddress 删除地址下全部邮件，返回删除数量。
	DeleteByAddress(ctx context.Context, address string) (int64, error)
	// DeleteOlderThan 删除 ReceivedAt 早于 cutoff（毫秒）的邮件，返回删除数量。
	DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	MessageRepository

	// 工具方法
	Close() error
	Health() error
}

// Millis 将时间转换为毫秒时间戳。
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// ResolveLimit 将非正数的 limit 替换为默认值。
func ResolveLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
