package mail

import (
	"go.uber.org/zap"

	"lessonplan/backend/internal/domain"
)

// Triggerer 入队后请求一轮即时发送
type Triggerer interface {
	Trigger() bool
}

// AttachmentChecker 入队前的附件检查
type AttachmentChecker interface {
	Check(att *domain.EmailAttachment) error
}

// QueueStatus 队列与发送器状态
type QueueStatus struct {
	Queued int            `json:"queued"`
	Health HealthSnapshot `json:"health"`
}

// Service 业务层使用的邮件入口
//
// 入队结果同步返回；投递结果只能通过健康状态或死信区观察。
type Service struct {
	queue   *Queue
	health  *SenderHealth
	trigger Triggerer
	checker AttachmentChecker
	log     *zap.Logger
}

// NewService 创建邮件服务，trigger 可以为 nil
func NewService(queue *Queue, health *SenderHealth, trigger Triggerer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		queue:   queue,
		health:  health,
		trigger: trigger,
		log:     log.Named("mail"),
	}
}

// SetAttachmentChecker 设置附件检查器，未设置时不检查附件
func (s *Service) SetAttachmentChecker(checker AttachmentChecker) {
	s.checker = checker
}

// Send 邮件入队，高优先级邮件会立即触发一轮发送
func (s *Service) Send(msg *domain.EmailMessage) error {
	if msg != nil && s.checker != nil {
		for _, att := range msg.Attachments {
			if err := s.checker.Check(att); err != nil {
				s.log.Warn("email attachment rejected", zap.String("subject", msg.Subject), zap.Error(err))
				return err
			}
		}
	}
	if err := s.queue.Enqueue(msg); err != nil {
		s.log.Warn("failed to enqueue email", zap.Error(err))
		return err
	}
	if msg.IsHighPriority() && s.trigger != nil {
		s.trigger.Trigger()
	}
	return nil
}

// SendCode 以高优先级发送纯文本验证码邮件
func (s *Service) SendCode(to, subject, body string) error {
	return s.Send(&domain.EmailMessage{
		Priority: domain.PriorityHigh,
		Subject:  subject,
		To:       []string{to},
		Body:     body,
	})
}

// QueueStatus 返回队列长度和发送器健康状态
func (s *Service) QueueStatus() QueueStatus {
	return QueueStatus{
		Queued: s.queue.Count(),
		Health: s.health.Snapshot(),
	}
}
