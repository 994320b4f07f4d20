package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage"
)

// DefaultRetention 邮件默认保留时长
const DefaultRetention = 24 * time.Hour

// SweepObserver 记录每次清理的结果。
type SweepObserver interface {
	ObserveSweep(removed int64, elapsed time.Duration, err error)
}

// RetentionSweeper 删除超过保留时长的邮件。
//
// 无内部状态，可以并发执行；返回的删除数量仅供参考。
type RetentionSweeper struct {
	store     storage.MessageRepository
	retention time.Duration
	log       *zap.Logger
	observer  SweepObserver
}

// NewRetentionSweeper 创建清理器，retention 非正数时使用默认值。
func NewRetentionSweeper(store storage.MessageRepository, retention time.Duration, log *zap.Logger, observer SweepObserver) *RetentionSweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RetentionSweeper{
		store:     store,
		retention: retention,
		log:       log,
		observer:  observer,
	}
}

// Retention 返回保留时长。
func (r *RetentionSweeper) Retention() time.Duration {
	return r.retention
}

// Sweep 删除接收时间早于 now - retention 的邮件。
func (r *RetentionSweeper) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if r.store == nil {
		return 0, domain.Unavailable("delete_older_than", nil)
	}

	start := time.Now()
	cutoff := storage.Millis(now.Add(-r.retention))
	removed, err := r.store.DeleteOlderThan(ctx, cutoff)
	if r.observer != nil {
		r.observer.ObserveSweep(removed, time.Since(start), err)
	}
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Run 按 interval 周期执行清理，直到 ctx 结束。单次失败只记录日志。
func (r *RetentionSweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info("retention sweeper started",
		zap.Duration("interval", interval),
		zap.Duration("retention", r.retention),
	)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("retention sweeper stopped")
			return
		case now := <-ticker.C:
			removed, err := r.Sweep(ctx, now)
			if err != nil {
				r.log.Error("retention sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				r.log.Info("expired messages removed", zap.Int64("count", removed))
			}
		}
	}
}
