package filesystem

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"lessonplan/backend/internal/domain"
)

const (
	queueDirName      = "queue"
	deadLetterDirName = "deadletter"
	messageFileExt    = ".json"
	tempFilePrefix    = ".tmp-"
)

var (
	// ErrInvalidMessageID 消息标识不是合法的 UUID
	ErrInvalidMessageID = errors.New("invalid message id")
	// ErrMessageNotFound 消息不存在
	ErrMessageNotFound = errors.New("message not found")
)

// MessageStore 出站邮件的持久化存储，一封邮件一个 JSON 文件
//
// 目录结构:
//
//	<base>/queue/<id>.json       待发送
//	<base>/deadletter/<id>.json  重试耗尽
//
// 写入先落临时文件再 rename，进程崩溃不会留下半个文件。
type MessageStore struct {
	basePath      string
	queueDir      string
	deadLetterDir string
	platformUtils *PlatformUtils
}

// StorageStats 存储统计
type StorageStats struct {
	Queued          int   `json:"queued"`
	DeadLettered    int   `json:"deadLettered"`
	QueueBytes      int64 `json:"queueBytes"`
	DeadLetterBytes int64 `json:"deadLetterBytes"`
}

// NewMessageStore 创建邮件存储，必要时创建目录并清理残留的临时文件
func NewMessageStore(basePath string) (*MessageStore, error) {
	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(basePath)
	s := &MessageStore{
		basePath:      normalizedPath,
		queueDir:      filepath.Join(normalizedPath, queueDirName),
		deadLetterDir: filepath.Join(normalizedPath, deadLetterDirName),
		platformUtils: platformUtils,
	}

	for _, dir := range []string{s.queueDir, s.deadLetterDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		if err := removeTempFiles(dir); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// BasePath 返回存储根目录
func (s *MessageStore) BasePath() string {
	return s.basePath
}

// Exists 判断待发送区是否存在该消息
func (s *MessageStore) Exists(id string) bool {
	path, err := s.messagePath(s.queueDir, id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// ListIDs 列出待发送区的全部消息标识（按文件名排序）
func (s *MessageStore) ListIDs() ([]string, error) {
	return listIDs(s.queueDir)
}

// Read 读取待发送区的消息
func (s *MessageStore) Read(id string) (*domain.EmailMessage, error) {
	path, err := s.messagePath(s.queueDir, id)
	if err != nil {
		return nil, err
	}
	return readMessage(path)
}

// Write 写入或覆盖待发送区的消息
func (s *MessageStore) Write(msg *domain.EmailMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	path, err := s.messagePath(s.queueDir, msg.ID)
	if err != nil {
		return err
	}
	return writeMessage(path, msg)
}

// Delete 删除待发送区的消息，不存在时不报错
func (s *MessageStore) Delete(id string) error {
	path, err := s.messagePath(s.queueDir, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// MoveToDeadLetter 把消息（含最新的重试信息）写入死信区并从待发送区删除
func (s *MessageStore) MoveToDeadLetter(msg *domain.EmailMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	deadPath, err := s.messagePath(s.deadLetterDir, msg.ID)
	if err != nil {
		return err
	}
	if err := writeMessage(deadPath, msg); err != nil {
		return err
	}
	return s.Delete(msg.ID)
}

// Count 返回待发送区的消息数量
func (s *MessageStore) Count() (int, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ========== 死信区（运维使用） ==========

// ListDeadLetterIDs 列出死信区的全部消息标识
func (s *MessageStore) ListDeadLetterIDs() ([]string, error) {
	return listIDs(s.deadLetterDir)
}

// ReadDeadLetter 读取死信区的消息
func (s *MessageStore) ReadDeadLetter(id string) (*domain.EmailMessage, error) {
	path, err := s.messagePath(s.deadLetterDir, id)
	if err != nil {
		return nil, err
	}
	return readMessage(path)
}

// RestoreDeadLetter 把死信消息放回待发送区，重置重试次数和错误信息
//
// 恢复的消息在下次服务启动加载存储时进入内存队列。
func (s *MessageStore) RestoreDeadLetter(id string) (*domain.EmailMessage, error) {
	msg, err := s.ReadDeadLetter(id)
	if err != nil {
		return nil, err
	}

	msg.RetryCount = 0
	msg.LastError = ""
	msg.LastAttemptAt = nil

	if err := s.Write(msg); err != nil {
		return nil, err
	}

	deadPath, _ := s.messagePath(s.deadLetterDir, id)
	if err := os.Remove(deadPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove dead letter: %w", err)
	}
	return msg, nil
}

// Stats 返回存储统计
func (s *MessageStore) Stats() (*StorageStats, error) {
	queued, queueBytes, err := dirStats(s.queueDir)
	if err != nil {
		return nil, err
	}
	dead, deadBytes, err := dirStats(s.deadLetterDir)
	if err != nil {
		return nil, err
	}
	return &StorageStats{
		Queued:          queued,
		DeadLettered:    dead,
		QueueBytes:      queueBytes,
		DeadLetterBytes: deadBytes,
	}, nil
}

// messagePath 校验标识并返回文件路径，标识必须是 UUID，不会逃出存储目录
func (s *MessageStore) messagePath(dir, id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMessageID, id)
	}
	return filepath.Join(dir, parsed.String()+messageFileExt), nil
}

func listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), messageFileExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), messageFileExt)
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func readMessage(path string) (*domain.EmailMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	var msg domain.EmailMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func writeMessage(path string, msg *domain.EmailMessage) error {
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync message: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close message file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

func dirStats(dir string) (int, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read directory: %w", err)
	}

	count := 0
	var size int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), messageFileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		size += info.Size()
	}
	return count, size, nil
}

func removeTempFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tempFilePrefix) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
