package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lessonplan/backend/internal/domain"
)

// RequireAdmin 要求管理员角色，必须放在 RequireSession 之后
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(domain.RoleAdmin)
}

// RequireRole 要求会话角色在允许列表中
func RequireRole(allowedRoles ...domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := CurrentSession(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		for _, role := range allowedRoles {
			if session.Role == role {
				c.Next()
				return
			}
		}

		abortJSON(c, http.StatusForbidden, "权限不足")
	}
}
