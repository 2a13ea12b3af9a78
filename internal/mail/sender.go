package mail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/logger"
	"lessonplan/backend/internal/monitoring"
)

// Sender 后台发送流程
//
// 状态: 空闲 -> 发送中 -> 空闲 | 临时暂停(截止时间) | 永久停止。
// 永久停止只由认证失败触发，进程存活期间不会自动恢复。
type Sender struct {
	queue     *Queue
	transport Transport
	health    *SenderHealth
	cfg       config.EmailConfig
	from      string
	log       *zap.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time

	running *semaphore.Weighted
}

// NewSender 创建发送流程，from 为信封发件人地址
func NewSender(
	queue *Queue,
	transport Transport,
	health *SenderHealth,
	cfg config.EmailConfig,
	from string,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		queue:     queue,
		transport: transport,
		health:    health,
		cfg:       cfg,
		from:      from,
		log:       logger.Component(log, "sender"),
		metrics:   metrics,
		now:       time.Now,
		running:   semaphore.NewWeighted(1),
	}
}

// Health 返回共享的健康状态句柄
func (s *Sender) Health() *SenderHealth {
	return s.health
}

// ProcessQueue 执行一轮发送，已有一轮在执行时立即返回 false
//
// 取消信号在两封邮件之间和发送间隔等待中生效；已取出的邮件总会走到
// 已发送、已重新入队或已移入死信之一，才会退出。
func (s *Sender) ProcessQueue(ctx context.Context) bool {
	if !s.running.TryAcquire(1) {
		s.log.Debug("send pass already in progress, skipping")
		return false
	}
	defer s.running.Release(1)

	s.runPass(ctx)
	return true
}

// Shutdown 等待进行中的一轮结束后关闭传输层，之后的 ProcessQueue 不再执行
//
// ctx 到期时返回错误且不关闭传输层。
func (s *Sender) Shutdown(ctx context.Context) error {
	if err := s.running.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for send pass: %w", err)
	}
	return s.transport.Close()
}

func (s *Sender) runPass(ctx context.Context) {
	if s.cfg.DisableSending {
		return
	}
	if s.health.IsPaused(s.now()) {
		return
	}
	if s.queue.Count() == 0 {
		return
	}

	s.health.setActive(true)
	s.metrics.UpdateSenderState(monitoring.SenderStateSending)

	// 本轮失败的邮件在结束时统一放回队列，留给下一轮重试
	var inFlight *domain.EmailMessage
	var retry []*domain.EmailMessage
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic()
			s.log.Error("send pass panicked", zap.Any("panic", r), zap.Stack("stack"))
			if inFlight != nil {
				retry = append(retry, inFlight)
			}
			s.pause(fmt.Errorf("send pass panic: %v", r))
		}
		for _, msg := range retry {
			if err := s.queue.Requeue(msg); err != nil {
				s.log.Error("failed to persist requeued message", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}
		s.health.setActive(false)
		s.metrics.UpdateSenderState(s.health.Snapshot().metricState(s.now()))
	}()

	result := s.transport.Open(ctx)
	switch result.Status {
	case ConnectOK:
	case ConnectAuthFailed:
		s.health.stopPermanently(result.Err, s.now())
		s.log.Error("smtp authentication failed, sending stopped until restart", zap.Error(result.Err))
		return
	default:
		s.pause(result.Err)
		return
	}
	defer func() {
		if err := s.transport.Close(); err != nil {
			s.log.Debug("transport close failed", zap.Error(err))
		}
	}()

	sent := 0
	for ctx.Err() == nil {
		msg, ok := s.queue.TryDequeue()
		if !ok {
			break
		}

		inFlight = msg
		outcome, err := s.deliver(ctx, msg)
		inFlight = nil

		switch outcome {
		case outcomeSent:
			sent++
		case outcomeRetry:
			retry = append(retry, msg)
		}
		if err != nil && !s.transport.IsConnected() {
			s.pause(err)
			return
		}

		if s.queue.Count() == 0 || !s.wait(ctx, s.cfg.MessageDelay) {
			break
		}
	}

	s.log.Debug("send pass finished",
		zap.Int("sent", sent),
		zap.Int("retry", len(retry)),
		zap.Int("remaining", s.queue.Count()),
	)
}

type deliveryOutcome int

const (
	outcomeSent deliveryOutcome = iota
	outcomeRetry
	outcomeDeadLettered
)

// deliver 投递单封邮件并记录失败信息
//
// 发送不受取消信号影响，保证取出的邮件有确定的去向。
func (s *Sender) deliver(ctx context.Context, msg *domain.EmailMessage) (deliveryOutcome, error) {
	start := s.now()
	err := s.transport.Send(context.WithoutCancel(ctx), msg, s.from)
	if err == nil {
		if delErr := s.queue.Complete(msg); delErr != nil {
			s.log.Error("message sent but not removed from storage", zap.String("message_id", msg.ID), zap.Error(delErr))
		}
		s.metrics.RecordEmailSent(s.now().Sub(start))
		s.log.Info("email sent",
			zap.String("message_id", msg.ID),
			zap.String("priority", string(msg.Priority)),
			zap.Int("recipients", len(msg.To)),
		)
		return outcomeSent, nil
	}

	now := s.now()
	msg.RecordFailure(err, now)
	s.health.recordError(err, now)
	s.metrics.RecordEmailFailure()

	if msg.RetryCount < s.cfg.RetryMaxCount {
		s.log.Warn("email send failed, will retry",
			zap.String("message_id", msg.ID),
			zap.Int("retry_count", msg.RetryCount),
			zap.Error(err),
		)
		return outcomeRetry, err
	}

	if dlErr := s.queue.DeadLetter(msg); dlErr != nil {
		// 死信写入失败时放回队列，避免消息只留在磁盘上
		s.log.Error("failed to move message to dead letter", zap.String("message_id", msg.ID), zap.Error(dlErr))
		return outcomeRetry, err
	}
	s.metrics.RecordEmailDeadLettered()
	s.log.Warn("email moved to dead letter",
		zap.String("message_id", msg.ID),
		zap.Int("retry_count", msg.RetryCount),
		zap.String("last_error", msg.LastError),
	)
	return outcomeDeadLettered, err
}

func (s *Sender) pause(err error) {
	now := s.now()
	until := now.Add(s.cfg.PauseAfterError)
	s.health.pauseUntil(until, err, now)
	s.log.Warn("sending paused", zap.Time("until", until), zap.Error(err))
}

// wait 等待发送间隔，被取消时返回 false
func (s *Sender) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
