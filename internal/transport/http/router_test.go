package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonplan/backend/internal/auth"
	"lessonplan/backend/internal/cache"
	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/health"
	"lessonplan/backend/internal/mail"
	"lessonplan/backend/internal/middleware"
	"lessonplan/backend/internal/storage/filesystem"
	"lessonplan/backend/internal/storage/memory"
)

const (
	teacherPassword = "Teacher123!"
	adminPassword   = "Admin123!"
)

var codePattern = regexp.MustCompile(`\d{6}`)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	queue  *mail.Queue
}

func newTestServer(t *testing.T, rateLimit config.RateLimitConfig) *testServer {
	t.Helper()

	users := auth.NewService(memory.NewStore(), nil)
	_, err := users.Register(auth.RegisterInput{Email: "ana@example.com", Password: teacherPassword, Username: "ana", Active: true})
	require.NoError(t, err)
	_, err = users.Register(auth.RegisterInput{Email: "root@example.com", Password: adminPassword, Role: domain.RoleAdmin, Active: true})
	require.NoError(t, err)

	sessions := auth.NewSessionManager(cache.NewLocalCache[auth.Session](), users, config.SessionConfig{Timeout: 10 * time.Minute}, nil, nil)
	tokens := auth.NewTokenManager(cache.NewLocalCache[string](), config.TokenConfig{Expiration: 5 * time.Minute, Digits: 6}, nil, nil)

	store, err := filesystem.NewMessageStore(t.TempDir())
	require.NoError(t, err)
	queue := mail.NewQueue(store, nil, nil)
	mailService := mail.NewService(queue, mail.NewSenderHealth(), nil, nil)

	cfg := &config.Config{
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimit: rateLimit,
	}

	router := NewRouter(RouterDependencies{
		Config:   cfg,
		Sessions: sessions,
		Tokens:   tokens,
		Users:    users,
		Mail:     mailService,
		Health:   health.NewChecker("test", nil, nil),
	})
	return &testServer{router: router, queue: queue}
}

func newDefaultServer(t *testing.T) *testServer {
	return newTestServer(t, config.RateLimitConfig{LoginPerMinute: 100, Burst: 100})
}

func (s *testServer) do(method, path string, body interface{}, sessionID string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Authorization", "Bearer "+sessionID)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, identity, credential string) string {
	t.Helper()
	rec := s.do(http.MethodPost, "/v1/auth/login", gin.H{"identity": identity, "credential": credential}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data loginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.SessionID)
	return resp.Data.SessionID
}

// takeCode 取出队列中的下一封验证码邮件并解析验证码
func (s *testServer) takeCode(t *testing.T) (*domain.EmailMessage, string) {
	t.Helper()
	msg, ok := s.queue.TryDequeue()
	require.True(t, ok, "expected a queued code email")
	code := codePattern.FindString(msg.Body)
	require.NotEmpty(t, code)
	return msg, code
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLoginSessionLogout(t *testing.T) {
	s := newDefaultServer(t)

	rec := s.do(http.MethodPost, "/v1/auth/login", gin.H{"identity": "ana", "credential": teacherPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, 600, cookies[0].MaxAge)
	sessionID := cookies[0].Value

	rec = s.do(http.MethodGet, "/v1/auth/session", nil, sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "ana@example.com", data["identity"])
	assert.Equal(t, "teacher", data["role"])

	rec = s.do(http.MethodPost, "/v1/auth/logout", nil, sessionID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MsgLoggedOut, decode(t, rec).Msg)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/auth/session", nil, sessionID).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/auth/logout", nil, "").Code, "logout is idempotent")
}

func TestLogin_Failures(t *testing.T) {
	s := newDefaultServer(t)

	rec := s.do(http.MethodPost, "/v1/auth/login", gin.H{"identity": "ana@example.com", "credential": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgInvalidCredentials, decode(t, rec).Msg)

	rec = s.do(http.MethodPost, "/v1/auth/login", gin.H{"identity": "nobody@example.com", "credential": teacherPassword}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgInvalidCredentials, decode(t, rec).Msg, "unknown identity looks like a wrong password")

	rec = s.do(http.MethodPost, "/v1/auth/login", gin.H{"identity": "ana@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssueCode_DoesNotRevealAccounts(t *testing.T) {
	s := newDefaultServer(t)

	rec := s.do(http.MethodPost, "/v1/auth/codes", gin.H{"identity": "nobody@example.com", "purpose": PurposeReset}, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, s.queue.Count())

	rec = s.do(http.MethodPost, "/v1/auth/codes", gin.H{"identity": "ana", "purpose": PurposeReset}, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, MsgCodeAccepted, decode(t, rec).Msg)

	msg, _ := s.takeCode(t)
	assert.Equal(t, domain.PriorityHigh, msg.Priority)
	assert.Equal(t, []string{"ana@example.com"}, msg.To)
	assert.Equal(t, "密码重置验证码", msg.Subject)

	rec = s.do(http.MethodPost, "/v1/auth/codes", gin.H{"identity": "ana", "purpose": "login"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgInvalidPurpose, decode(t, rec).Msg)
}

func TestRegisterAndActivate(t *testing.T) {
	s := newDefaultServer(t)

	rec := s.do(http.MethodPost, "/v1/auth/register", gin.H{"email": "New@Example.com", "password": teacherPassword}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "new@example.com", data["email"])
	assert.Equal(t, false, data["isActive"])

	rec = s.do(http.MethodPost, "/v1/auth/login", gin.H{"identity": "new@example.com", "credential": teacherPassword}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "inactive accounts cannot log in")

	msg, code := s.takeCode(t)
	assert.Equal(t, "账号激活验证码", msg.Subject)

	verify := gin.H{"identity": "new@example.com", "code": code, "purpose": PurposeActivation}
	rec = s.do(http.MethodPost, "/v1/auth/codes/verify", verify, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s.login(t, "new@example.com", teacherPassword)

	rec = s.do(http.MethodPost, "/v1/auth/codes/verify", verify, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "codes are single use")
	assert.Equal(t, MsgInvalidCode, decode(t, rec).Msg)
}

func TestRegister_Rejections(t *testing.T) {
	s := newDefaultServer(t)

	rec := s.do(http.MethodPost, "/v1/auth/register", gin.H{"email": "ana@example.com", "password": teacherPassword}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/v1/auth/register", gin.H{"email": "weak@example.com", "password": "password"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "密码必须包含大小写字母、数字和特殊字符", decode(t, rec).Msg)

	rec = s.do(http.MethodPost, "/v1/auth/register", gin.H{"email": "not-an-email", "password": teacherPassword}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, s.queue.Count())
}

func TestResetPassword(t *testing.T) {
	s := newDefaultServer(t)

	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/auth/codes", gin.H{"identity": "ana@example.com", "purpose": PurposeReset}, "").Code)
	_, code := s.takeCode(t)

	weak := gin.H{"identity": "ana@example.com", "code": code, "purpose": PurposeReset, "newPassword": "short"}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/auth/codes/verify", weak, "").Code)

	wrong := gin.H{"identity": "ana@example.com", "code": "000000", "purpose": PurposeReset, "newPassword": "Changed456?"}
	if code == "000000" {
		wrong["code"] = "111111"
	}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/auth/codes/verify", wrong, "").Code)

	ok := gin.H{"identity": "ana@example.com", "code": code, "purpose": PurposeReset, "newPassword": "Changed456?"}
	rec := s.do(http.MethodPost, "/v1/auth/codes/verify", ok, "")
	require.Equal(t, http.StatusOK, rec.Code, "a rejected password or wrong code does not consume the code")

	s.login(t, "ana@example.com", "Changed456?")
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/v1/auth/login", gin.H{"identity": "ana@example.com", "credential": teacherPassword}, "").Code)
}

func TestEmailStatus_AdminOnly(t *testing.T) {
	s := newDefaultServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/email/status", nil, "").Code)

	teacher := s.login(t, "ana@example.com", teacherPassword)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/email/status", nil, teacher).Code)

	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/auth/codes", gin.H{"identity": "ana", "purpose": PurposeActivation}, "").Code)

	admin := s.login(t, "root@example.com", adminPassword)
	rec := s.do(http.MethodGet, "/v1/email/status", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["queued"])
	assert.Equal(t, "idle", data["state"])
	assert.Equal(t, false, data["permanentlyStopped"])
}

func TestLogin_RateLimited(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{LoginPerMinute: 1, Burst: 2})

	body := gin.H{"identity": "ana@example.com", "credential": "wrong"}
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/v1/auth/login", body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/v1/auth/login", body, "").Code)

	rec := s.do(http.MethodPost, "/v1/auth/login", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealthRoutes(t *testing.T) {
	s := newDefaultServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/live", nil, "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/ready", nil, "").Code)

	rec := s.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Equal(t, "test", report.Version)
}
