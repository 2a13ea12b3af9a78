package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"lessonplan/backend/internal/auth"
	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSessions map[string]auth.Session

func (s stubSessions) CheckSession(sessionID string) (auth.Session, bool) {
	session, ok := s[sessionID]
	return session, ok
}

func perform(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func newSessionRouter() *gin.Engine {
	sessions := stubSessions{
		"teacher-session": {Identity: "ana@example.com", Role: domain.RoleTeacher},
		"admin-session":   {Identity: "root@example.com", Role: domain.RoleAdmin},
	}
	sa := NewSessionAuth(sessions, nil)

	router := gin.New()
	router.GET("/me", sa.RequireSession(), func(c *gin.Context) {
		session, _ := CurrentSession(c)
		c.String(http.StatusOK, session.Identity)
	})
	router.GET("/admin", sa.RequireSession(), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestRequireSession_Sources(t *testing.T) {
	router := newSessionRouter()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer teacher-session")
	rec := perform(router, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ana@example.com", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Session-ID", "teacher-session")
	assert.Equal(t, http.StatusOK, perform(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "teacher-session"})
	assert.Equal(t, http.StatusOK, perform(router, req).Code)
}

func TestRequireSession_Rejects(t *testing.T) {
	router := newSessionRouter()

	rec := perform(router, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"code":401,"msg":"需要登录认证"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer expired")
	assert.Equal(t, http.StatusUnauthorized, perform(router, req).Code)
}

func TestRequireAdmin(t *testing.T) {
	router := newSessionRouter()

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Session-ID", "teacher-session")
	assert.Equal(t, http.StatusForbidden, perform(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Session-ID", "admin-session")
	assert.Equal(t, http.StatusNoContent, perform(router, req).Code)

	bare := gin.New()
	bare.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	assert.Equal(t, http.StatusUnauthorized, perform(bare, httptest.NewRequest(http.MethodGet, "/admin", nil)).Code)
}

func TestIPRateLimiter_PerIPBucket(t *testing.T) {
	now := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(config.RateLimitConfig{LoginPerMinute: 6, Burst: 2}, nil, nil)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"), "buckets are per IP")

	now = now.Add(10 * time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"), "one token refills every 10s")
	assert.False(t, limiter.Allow("10.0.0.1"))
}

func TestIPRateLimiter_EvictsIdleVisitors(t *testing.T) {
	now := time.Now()
	limiter := NewIPRateLimiter(config.RateLimitConfig{LoginPerMinute: 10, Burst: 1}, nil, nil)
	limiter.now = func() time.Time { return now }

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	require.Equal(t, 2, limiter.visitorCount())

	now = now.Add(visitorIdleTimeout + time.Minute)
	limiter.Allow("10.0.0.3")
	assert.Equal(t, 1, limiter.visitorCount())
}

func TestIPRateLimiter_Middleware(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	limiter := NewIPRateLimiter(config.RateLimitConfig{LoginPerMinute: 1, Burst: 1}, metrics, nil)

	router := gin.New()
	router.POST("/v1/auth/login", limiter.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(router, httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)).Code)

	rec := perform(router, httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitBlocks.WithLabelValues("/v1/auth/login")))
}

func TestRecoveryHandler(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(RecoveryHandler(zap.New(core), metrics))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := perform(router, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PanicsTotal))
}

func TestRequestLogger_OmitsQuery(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	router := gin.New()
	router.Use(RequestLogger(zap.New(core)))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	perform(router, httptest.NewRequest(http.MethodGet, "/ping?session=secret", nil))
	perform(router, httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/ping", entries[0].ContextMap()["path"])
	for _, entry := range logs.All() {
		for _, field := range entry.Context {
			assert.NotContains(t, field.String, "secret")
		}
	}
	assert.Equal(t, 1, logs.FilterMessage("client error").Len())
}

func TestSecurityHeadersAndBodyLimit(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders(), BodySizeLimit(8))
	router.POST("/echo", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := perform(router, httptest.NewRequest(http.MethodPost, "/echo", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("0123456789"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, perform(router, req).Code)
}

func TestHTTPMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(HTTPMetrics(metrics))
	router.GET("/v1/auth/session", func(c *gin.Context) { c.Status(http.StatusOK) })

	perform(router, httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil))
	perform(router, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/v1/auth/session", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}
