package httptransport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lessonplan/backend/internal/auth"
	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/middleware"
)

// 验证码用途
const (
	PurposeActivation = "activation"
	PurposeReset      = "reset"
)

// CodeMailer 发送验证码邮件，由 mail.Service 实现
type CodeMailer interface {
	SendCode(to, subject, body string) error
}

// AuthHandler 处理登录会话和验证码相关的 HTTP 请求
type AuthHandler struct {
	sessions     *auth.SessionManager
	tokens       *auth.TokenManager
	users        *auth.Service
	mailer       CodeMailer
	secureCookie bool
	log          *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(
	sessions *auth.SessionManager,
	tokens *auth.TokenManager,
	users *auth.Service,
	mailer CodeMailer,
	secureCookie bool,
	log *zap.Logger,
) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		sessions:     sessions,
		tokens:       tokens,
		users:        users,
		mailer:       mailer,
		secureCookie: secureCookie,
		log:          log.Named("http.auth"),
	}
}

type loginRequest struct {
	Identity   string `json:"identity" binding:"required"`
	Credential string `json:"credential" binding:"required"`
}

type loginResponse struct {
	SessionID string `json:"sessionId"`
	ExpiresIn int64  `json:"expiresIn"` // 秒，每次成功访问后重新计时
}

type sessionResponse struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
	IsActive bool   `json:"isActive"`
}

type issueCodeRequest struct {
	Identity string `json:"identity" binding:"required"`
	Purpose  string `json:"purpose" binding:"required"`
}

type verifyCodeRequest struct {
	Identity    string `json:"identity" binding:"required"`
	Code        string `json:"code" binding:"required"`
	Purpose     string `json:"purpose" binding:"required"`
	NewPassword string `json:"newPassword"`
}

// Login 校验凭据并签发会话
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	sessionID, ok := h.sessions.Authorize(req.Identity, req.Credential)
	if !ok {
		Unauthorized(c, MsgInvalidCredentials)
		return
	}

	timeout := h.sessions.Timeout()
	h.setSessionCookie(c, sessionID, int(timeout.Seconds()))
	Success(c, loginResponse{
		SessionID: sessionID,
		ExpiresIn: int64(timeout.Seconds()),
	})
}

// Session 返回当前会话绑定的身份
func (h *AuthHandler) Session(c *gin.Context) {
	session, ok := middleware.CurrentSession(c)
	if !ok {
		Unauthorized(c, "需要登录认证")
		return
	}
	Success(c, sessionResponse{
		Identity: session.Identity,
		Role:     string(session.Role),
	})
}

// Logout 关闭会话，会话不存在时同样返回成功
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.CloseSession(middleware.ExtractSessionID(c))
	h.setSessionCookie(c, "", -1)
	SuccessWithMsg(c, MsgLoggedOut, nil)
}

// Register 创建未激活账号并发送激活码
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	user, err := h.users.Register(auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
	})
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidArgument):
		BadRequest(c, GetErrorMessage(err))
		return
	case errors.Is(err, auth.ErrUserExists):
		Conflict(c, GetErrorMessage(err))
		return
	default:
		h.log.Error("failed to register user", zap.Error(err))
		InternalError(c, MsgRegisterFailed)
		return
	}

	h.sendCode(user.Email, PurposeActivation)

	Created(c, userResponse{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     string(user.Role),
		IsActive: user.IsActive,
	})
}

// IssueCode 为账号签发激活码或重置码并以高优先级发信
//
// 账号不存在时同样返回 202，响应不暴露账号是否存在。
func (h *AuthHandler) IssueCode(c *gin.Context) {
	var req issueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if !validPurpose(req.Purpose) {
		BadRequest(c, MsgInvalidPurpose)
		return
	}

	if email, ok := h.users.ContactEmail(req.Identity); ok {
		h.sendCode(email, req.Purpose)
	}
	Accepted(c, MsgCodeAccepted)
}

// VerifyCode 校验并消费验证码，然后执行激活或重置密码
func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if !validPurpose(req.Purpose) {
		BadRequest(c, MsgInvalidPurpose)
		return
	}
	// 新密码不合格时不消费验证码
	if req.Purpose == PurposeReset {
		if err := domain.ValidatePassword(req.NewPassword); err != nil {
			BadRequest(c, GetErrorMessage(err))
			return
		}
	}

	identity := req.Identity
	if email, ok := h.users.ContactEmail(req.Identity); ok {
		identity = email
	}

	if !h.tokens.ValidateToken(req.Code, identity, true) {
		BadRequest(c, MsgInvalidCode)
		return
	}

	var err error
	switch req.Purpose {
	case PurposeActivation:
		err = h.users.Activate(identity)
	case PurposeReset:
		err = h.users.ResetPassword(identity, req.NewPassword)
	}
	if err != nil {
		h.log.Error("failed to apply verified code", zap.String("purpose", req.Purpose), zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, gin.H{"valid": true})
}

// sendCode 签发验证码并入队，失败只记录日志
func (h *AuthHandler) sendCode(email, purpose string) {
	code, err := h.tokens.GenerateToken(email)
	if err != nil {
		h.log.Error("failed to generate code", zap.String("purpose", purpose), zap.Error(err))
		return
	}

	subject, body := codeMessage(purpose, code, int(h.tokens.Expiration().Minutes()))
	if err := h.mailer.SendCode(email, subject, body); err != nil {
		h.log.Error("failed to enqueue code email", zap.String("purpose", purpose), zap.Error(err))
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.SessionCookieName, value, maxAge, "/", "", h.secureCookie, true)
}

func validPurpose(purpose string) bool {
	return purpose == PurposeActivation || purpose == PurposeReset
}

func codeMessage(purpose, code string, minutes int) (string, string) {
	if minutes < 1 {
		minutes = 1
	}
	switch purpose {
	case PurposeReset:
		return "密码重置验证码",
			fmt.Sprintf("您的密码重置验证码是 %s，%d 分钟内有效。如果不是您本人操作，请忽略本邮件。", code, minutes)
	default:
		return "账号激活验证码",
			fmt.Sprintf("您的账号激活验证码是 %s，%d 分钟内有效。", code, minutes)
	}
}
