package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"
)

// Capture records every request that reaches it, body included, so tests
// can assert on the exact call sequence an uploader produced. The body is
// restored for the handlers that follow.
func Capture(log persistence.RequestLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			b, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
				return
			}
			body = b
			c.Request.Body = io.NopCloser(bytes.NewReader(b))
		}
		rec := domain.CapturedRequest{
			RequestID:  RequestID(c.Request.Context()),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			APIVersion: c.Query("api-version"),
			Body:       string(body),
			ReceivedAt: time.Now().UTC(),
		}
		if err := log.Append(c.Request.Context(), rec); err != nil {
			Logger(c).Warn("capture request failed", "path", rec.Path, "err", err)
		}
		c.Next()
	}
}
