package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/icnocop/pipelines-testlogger/internal/metrics"
	"github.com/icnocop/pipelines-testlogger/internal/ratelimit"
)

// RateLimit throttles calls per credential and answers 429 with Retry-After
// once the bucket is empty. Limiter failures let the request through.
func RateLimit(lim ratelimit.Limiter, route string, bucket ratelimit.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		cred := c.GetString("credential")
		if cred == "" {
			cred = c.ClientIP()
		}

		dec, err := lim.Allow(c.Request.Context(), route, cred, bucket)
		if err != nil {
			Logger(c).Warn("rate limit check failed", "route", route, "err", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.BackendRateLimitedTotal.WithLabelValues(route).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"route":             route,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}
