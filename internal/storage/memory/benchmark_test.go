package memory

import (
	"context"
	"fmt"
	"testing"

	"mailrelay/backend/internal/domain"
)

func BenchmarkMemoryStore_Insert(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg := &domain.Message{
			MailboxAddress: fmt.Sprintf("box%d@temp.mail", i%1000),
			From:           "sender@example.com",
			Subject:        "benchmark",
		}
		store.Insert(ctx, msg)
	}
}

func BenchmarkMemoryStore_ListByAddress(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	// 预先填充测试数据
	for i := 0; i < 10000; i++ {
		store.Insert(ctx, &domain.Message{
			MailboxAddress: fmt.Sprintf("box%d@temp.mail", i%100),
			From:           "sender@example.com",
			Subject:        "benchmark",
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.ListByAddress(ctx, fmt.Sprintf("box%d@temp.mail", i%100), 100)
	}
}
