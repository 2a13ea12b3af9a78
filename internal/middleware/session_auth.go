package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lessonplan/backend/internal/auth"
	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/logger"
)

// 上下文键
const (
	ContextSessionID = "sessionID"
	ContextIdentity  = "identity"
	ContextRole      = "role"
)

// SessionCookieName 会话标识 cookie 名称
const SessionCookieName = "session_id"

// SessionChecker 会话校验契约，由 auth.SessionManager 实现
type SessionChecker interface {
	CheckSession(sessionID string) (auth.Session, bool)
}

// SessionAuth 会话认证中间件
type SessionAuth struct {
	sessions SessionChecker
	log      *zap.Logger
}

// NewSessionAuth 创建会话认证中间件
func NewSessionAuth(sessions SessionChecker, log *zap.Logger) *SessionAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionAuth{
		sessions: sessions,
		log:      log.Named("http.session"),
	}
}

// RequireSession 要求有效会话，每次成功校验都会刷新会话的滑动过期时间
func (sa *SessionAuth) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := ExtractSessionID(c)
		if sessionID == "" {
			abortJSON(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		session, ok := sa.sessions.CheckSession(sessionID)
		if !ok {
			sa.log.Debug("session rejected", logger.SessionPrefix(sessionID), zap.String("ip", c.ClientIP()))
			abortJSON(c, http.StatusUnauthorized, "会话已过期，请重新登录")
			return
		}

		c.Set(ContextSessionID, sessionID)
		c.Set(ContextIdentity, session.Identity)
		c.Set(ContextRole, session.Role)
		c.Next()
	}
}

// ExtractSessionID 从请求中提取会话标识
//
// 依次检查 Authorization: Bearer <id>、X-Session-ID 头和 session_id cookie。
func ExtractSessionID(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if id := strings.TrimSpace(c.GetHeader("X-Session-ID")); id != "" {
		return id
	}

	if id, err := c.Cookie(SessionCookieName); err == nil && id != "" {
		return id
	}

	return ""
}

// CurrentSession 返回 RequireSession 写入上下文的会话信息
func CurrentSession(c *gin.Context) (auth.Session, bool) {
	identity := c.GetString(ContextIdentity)
	if identity == "" {
		return auth.Session{}, false
	}
	session := auth.Session{Identity: identity}
	if role, ok := c.Get(ContextRole); ok {
		session.Role, _ = role.(domain.UserRole)
	}
	return session, true
}

func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"msg":  msg,
	})
}
