package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"lessonplan/backend/internal/cache"
	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/logger"
	"lessonplan/backend/internal/monitoring"
)

const sessionNonceSize = 32

// Session 会话绑定的身份和角色
type Session struct {
	Identity  string          `json:"identity"`
	Role      domain.UserRole `json:"role"`
	CreatedAt time.Time       `json:"createdAt"` // 签发时间，不随滑动刷新
}

// SessionManager 校验凭据并管理滑动过期的会话标识
//
// 会话状态: 未认证 -> 活跃（滑动计时）-> 过期|关闭。过期或关闭的标识与
// 从未签发的标识对 CheckSession 来说没有区别。
type SessionManager struct {
	store     cache.Store[Session]
	validator CredentialValidator
	timeout   time.Duration
	now       func() time.Time
	log       *zap.Logger
	metrics   *monitoring.Metrics
}

// NewSessionManager 创建会话管理器
func NewSessionManager(
	store cache.Store[Session],
	validator CredentialValidator,
	cfg config.SessionConfig,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		store:     store,
		validator: validator,
		timeout:   cfg.Timeout,
		now:       time.Now,
		log:       log.Named("session"),
		metrics:   metrics,
	}
}

// Authorize 校验凭据，成功时签发新的会话标识
//
// 任何失败（参数为空、用户不存在、已禁用、密码错误）都返回 ("", false)。
// 同一身份可以同时持有多个会话。
func (m *SessionManager) Authorize(identity, credential string) (string, bool) {
	identity = strings.TrimSpace(identity)
	if identity == "" || credential == "" {
		m.metrics.RecordLogin("failure")
		return "", false
	}

	record := m.validator.ValidateCredentials(identity, credential)
	if record == nil || !record.IsActive {
		m.metrics.RecordLogin("failure")
		return "", false
	}

	sessionID, err := m.newSessionID(record.Identity)
	if err != nil {
		m.log.Error("failed to generate session id", zap.Error(err))
		m.metrics.RecordLogin("failure")
		return "", false
	}

	session := Session{Identity: record.Identity, Role: record.Role, CreatedAt: m.now().UTC()}
	if err := m.store.Set(sessionID, session, cache.Sliding(m.timeout)); err != nil {
		m.log.Error("failed to store session", zap.Error(err))
		m.metrics.RecordLogin("failure")
		return "", false
	}

	m.metrics.RecordLogin("success")
	m.log.Info("session opened", logger.SessionPrefix(sessionID), zap.String("role", string(record.Role)))
	return sessionID, true
}

// CheckSession 校验会话，成功的校验同时刷新滑动过期时间
func (m *SessionManager) CheckSession(sessionID string) (Session, bool) {
	if sessionID == "" {
		m.metrics.RecordSessionCheck(false)
		return Session{}, false
	}

	session, ok := m.store.TryGet(sessionID)
	m.metrics.RecordSessionCheck(ok)
	return session, ok
}

// CloseSession 关闭会话，对空标识或不存在的标识不做任何事
func (m *SessionManager) CloseSession(sessionID string) {
	if sessionID == "" {
		return
	}
	m.store.Remove(sessionID)
	m.metrics.RecordSessionClosed()
	m.log.Info("session closed", logger.SessionPrefix(sessionID))
}

// Timeout 返回滑动过期时长
func (m *SessionManager) Timeout() time.Duration {
	return m.timeout
}

// newSessionID 对 (身份, 当前纳秒时间戳, 随机数) 做 SHA-256，得到不可猜测的标识
func (m *SessionManager) newSessionID(identity string) (string, error) {
	nonce := make([]byte, sessionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(identity))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(m.now().UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write(nonce)

	return hex.EncodeToString(h.Sum(nil)), nil
}
