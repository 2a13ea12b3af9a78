package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"lessonplan/backend/internal/cache"
	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/monitoring"
)

// TokenManager 签发和校验绑定身份的一次性数字验证码（账号激活、密码重置）
//
// 条目以 "<身份>:<验证码>" 为键、身份为值，采用绝对过期。同一身份可以同时
// 持有多个有效验证码。
type TokenManager struct {
	store      cache.Store[string]
	expiration time.Duration
	digits     int
	log        *zap.Logger
	metrics    *monitoring.Metrics
}

// NewTokenManager 创建验证码管理器
func NewTokenManager(store cache.Store[string], cfg config.TokenConfig, log *zap.Logger, metrics *monitoring.Metrics) *TokenManager {
	if log == nil {
		log = zap.NewNop()
	}
	digits := cfg.Digits
	if digits <= 0 {
		digits = 6
	}
	return &TokenManager{
		store:      store,
		expiration: cfg.Expiration,
		digits:     digits,
		log:        log.Named("token"),
		metrics:    metrics,
	}
}

// GenerateToken 为身份生成验证码，身份为空时返回 ErrInvalidArgument
func (m *TokenManager) GenerateToken(identity string) (string, error) {
	identity = normalizeIdentity(identity)
	if identity == "" {
		return "", fmt.Errorf("%w: identity is required", ErrInvalidArgument)
	}

	code, err := newNumericCode(m.digits)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	if err := m.store.Set(tokenKey(identity, code), identity, cache.Absolute(m.expiration)); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}

	m.metrics.RecordTokenIssued()
	m.log.Debug("one-time code issued", zap.Duration("expires_in", m.expiration))
	return code, nil
}

// ValidateToken 校验验证码
//
// 只有键完全匹配（验证码和身份都正确）且未过期时返回 true；remove 为 true 时
// 匹配成功的条目被立即删除。错误的验证码不会消耗任何有效条目。
func (m *TokenManager) ValidateToken(code, identity string, remove bool) bool {
	code = strings.TrimSpace(code)
	identity = normalizeIdentity(identity)
	if code == "" || identity == "" {
		m.metrics.RecordTokenValidation(false)
		return false
	}

	key := tokenKey(identity, code)
	bound, ok := m.store.TryGet(key)
	if !ok || bound != identity {
		m.metrics.RecordTokenValidation(false)
		return false
	}

	if remove {
		m.store.Remove(key)
	}

	m.metrics.RecordTokenValidation(true)
	return true
}

// Expiration 返回验证码有效期
func (m *TokenManager) Expiration() time.Duration {
	return m.expiration
}

func tokenKey(identity, code string) string {
	return identity + ":" + code
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// newNumericCode 逐位均匀抽取数字，保留前导零
func newNumericCode(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
