package mail

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lessonplan/backend/internal/pool"
)

// Scheduler 按固定间隔触发发送流程，并支持高优先级入队后的即时触发
type Scheduler struct {
	sender   *Sender
	workers  *pool.WorkerPool
	interval time.Duration
	log      *zap.Logger
}

// NewScheduler 创建调度器，workers 用于执行即时触发的发送轮次
func NewScheduler(sender *Sender, workers *pool.WorkerPool, interval time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		sender:   sender,
		workers:  workers,
		interval: interval,
		log:      log.Named("scheduler"),
	}
}

// Run 立即执行一轮，之后每个轮询间隔执行一轮，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("email scheduler started", zap.Duration("interval", s.interval))
	s.sender.ProcessQueue(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("email scheduler stopped")
			return nil
		case <-ticker.C:
			s.sender.ProcessQueue(ctx)
		}
	}
}

// Trigger 提交一轮即时发送，协程池繁忙时放弃（下一个周期会覆盖）
func (s *Scheduler) Trigger() bool {
	if s.workers == nil {
		return false
	}
	if !s.workers.TrySubmit(func(ctx context.Context) { s.sender.ProcessQueue(ctx) }) {
		s.log.Debug("trigger dropped, worker pool busy")
		return false
	}
	return true
}
