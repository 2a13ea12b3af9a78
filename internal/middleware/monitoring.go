package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"lessonplan/backend/internal/monitoring"
)

// HTTPMetrics HTTP 指标中间件
//
// endpoint 标签使用路由模板，未匹配的路由统一记为 "unmatched"，避免标签基数失控。
func HTTPMetrics(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
