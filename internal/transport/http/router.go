package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lessonplan/backend/internal/auth"
	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/health"
	"lessonplan/backend/internal/mail"
	"lessonplan/backend/internal/middleware"
	"lessonplan/backend/internal/monitoring"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config   *config.Config
	Sessions *auth.SessionManager
	Tokens   *auth.TokenManager
	Users    *auth.Service
	Mail     *mail.Service
	Health   *health.Checker     // 可选
	Metrics  *monitoring.Metrics // 可选
	Logger   *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RecoveryHandler(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Session-ID"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	sessionAuth := middleware.NewSessionAuth(deps.Sessions, log)
	limiter := middleware.NewIPRateLimiter(deps.Config.RateLimit, deps.Metrics, log)

	authHandler := NewAuthHandler(deps.Sessions, deps.Tokens, deps.Users, deps.Mail, deps.Config.Server.SecureCookie, log)
	emailHandler := NewEmailHandler(deps.Mail)

	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
		router.GET("/health", func(c *gin.Context) {
			report := deps.Health.Report()
			status := http.StatusOK
			if report.Status == health.StatusUnhealthy {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, report)
		})
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/login", limiter.Middleware(), authHandler.Login)
			authRoutes.POST("/register", limiter.Middleware(), authHandler.Register)
			authRoutes.GET("/session", sessionAuth.RequireSession(), authHandler.Session)
			authRoutes.POST("/logout", authHandler.Logout)
			authRoutes.POST("/codes", limiter.Middleware(), authHandler.IssueCode)
			authRoutes.POST("/codes/verify", limiter.Middleware(), authHandler.VerifyCode)
		}

		emailRoutes := v1.Group("/email", sessionAuth.RequireSession(), middleware.RequireAdmin())
		{
			emailRoutes.GET("/status", emailHandler.Status)
		}
	}

	return router
}
