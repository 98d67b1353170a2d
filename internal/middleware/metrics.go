package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/icnocop/pipelines-testlogger/internal/metrics"
)

// RequestMetrics counts handled requests by matched route and status.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.BackendRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
