package mail

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/monitoring"
)

var (
	// ErrDuplicateMessage 相同标识的消息已在队列中
	ErrDuplicateMessage = errors.New("message already queued")
	// ErrInvalidMessage 消息为空或标识非法
	ErrInvalidMessage = errors.New("invalid message")
)

// MessageStorage 持久化存储接口，filesystem.MessageStore 是默认实现
type MessageStorage interface {
	Exists(id string) bool
	ListIDs() ([]string, error)
	Read(id string) (*domain.EmailMessage, error)
	Write(msg *domain.EmailMessage) error
	Delete(id string) error
	MoveToDeadLetter(msg *domain.EmailMessage) error
	Count() (int, error)
}

// Queue 两条优先级通道的持久化邮件队列
//
// 所有修改操作（包括 LoadFromStorage）在同一把锁内完成，Count 无锁读取。
// 同一标识在内存通道中最多出现一次。
type Queue struct {
	storage MessageStorage
	log     *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time

	mu      sync.Mutex
	high    []*domain.EmailMessage
	normal  []*domain.EmailMessage
	pending map[string]struct{}
	count   atomic.Int64
}

// NewQueue 创建邮件队列，内存通道为空，启动时需调用 LoadFromStorage
func NewQueue(storage MessageStorage, log *zap.Logger, metrics *monitoring.Metrics) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		storage: storage,
		log:     log.Named("queue"),
		metrics: metrics,
		now:     time.Now,
		pending: make(map[string]struct{}),
	}
}

// Enqueue 先持久化再放入对应优先级通道
//
// 未设置的标识、创建时间和优先级会被补全并回写到 msg。持久化失败时消息不进入内存通道。
func (q *Queue) Enqueue(msg *domain.EmailMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	} else {
		parsed, err := uuid.Parse(msg.ID)
		if err != nil {
			return fmt.Errorf("%w: id %q", ErrInvalidMessage, msg.ID)
		}
		msg.ID = parsed.String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = q.now().UTC()
	}
	if msg.Priority == "" {
		msg.Priority = domain.PriorityNormal
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	item := msg.Clone()

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[item.ID]; ok {
		return ErrDuplicateMessage
	}
	if err := q.storage.Write(item); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	q.pushLocked(item)

	q.metrics.RecordEmailEnqueued(string(item.Priority))
	q.log.Debug("message enqueued",
		zap.String("message_id", item.ID),
		zap.String("priority", string(item.Priority)),
		zap.Int("recipients", len(item.To)),
	)
	return nil
}

// TryDequeue 取出下一封邮件，高优先级通道非空时不会返回普通邮件
func (q *Queue) TryDequeue() (*domain.EmailMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var msg *domain.EmailMessage
	switch {
	case len(q.high) > 0:
		msg = q.high[0]
		q.high[0] = nil
		q.high = q.high[1:]
	case len(q.normal) > 0:
		msg = q.normal[0]
		q.normal[0] = nil
		q.normal = q.normal[1:]
	default:
		return nil, false
	}

	delete(q.pending, msg.ID)
	q.count.Add(-1)
	q.metrics.UpdateEmailQueueDepth(q.Count())
	return msg, true
}

// Requeue 重新持久化（记录最新的重试信息）并放回对应通道队尾
//
// 持久化失败时消息仍会回到内存通道，错误返回给调用方记录。
func (q *Queue) Requeue(msg *domain.EmailMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.storage.Write(msg)
	if _, ok := q.pending[msg.ID]; !ok {
		q.pushLocked(msg)
	}
	if err != nil {
		return fmt.Errorf("persist requeued message: %w", err)
	}
	return nil
}

// Complete 投递成功后从持久化存储删除
func (q *Queue) Complete(msg *domain.EmailMessage) error {
	return q.storage.Delete(msg.ID)
}

// DeadLetter 把重试耗尽的消息移入死信区
func (q *Queue) DeadLetter(msg *domain.EmailMessage) error {
	return q.storage.MoveToDeadLetter(msg)
}

// LoadFromStorage 用持久化存储的内容重建内存通道，返回加载的消息数
//
// 两条通道各自按创建时间排序；读取失败的记录会被跳过并记录日志，文件保留在原处。
func (q *Queue) LoadFromStorage() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids, err := q.storage.ListIDs()
	if err != nil {
		return 0, fmt.Errorf("list stored messages: %w", err)
	}

	messages := make([]*domain.EmailMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := q.storage.Read(id)
		if err != nil {
			q.log.Warn("skipping unreadable stored message", zap.String("message_id", id), zap.Error(err))
			continue
		}
		if msg.ID != id {
			q.log.Warn("skipping stored message with mismatched id",
				zap.String("file_id", id),
				zap.String("message_id", msg.ID),
			)
			continue
		}
		messages = append(messages, msg)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	q.high = nil
	q.normal = nil
	q.pending = make(map[string]struct{}, len(messages))
	q.count.Store(0)
	for _, msg := range messages {
		q.pushLocked(msg)
	}

	q.log.Info("queue loaded from storage", zap.Int("messages", len(messages)))
	return len(messages), nil
}

// Count 两条通道的消息总数
func (q *Queue) Count() int {
	return int(q.count.Load())
}

// pushLocked 放入通道队尾，调用方需持有锁
func (q *Queue) pushLocked(msg *domain.EmailMessage) {
	if msg.IsHighPriority() {
		q.high = append(q.high, msg)
	} else {
		q.normal = append(q.normal, msg)
	}
	q.pending[msg.ID] = struct{}{}
	q.count.Add(1)
	q.metrics.UpdateEmailQueueDepth(q.Count())
}
