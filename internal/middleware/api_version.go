package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireAPIVersion rejects calls without an api-version query parameter,
// or with one outside supported when that list is non-empty.
func RequireAPIVersion(supported ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := strings.TrimSpace(c.Query("api-version"))
		if v == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "api-version query parameter is required"})
			return
		}
		if len(supported) > 0 && !versionSupported(v, supported) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported api-version " + v})
			return
		}
		c.Set("api_version", v)
		c.Next()
	}
}

// versionSupported matches on the major version so "5.0-preview.2" is
// accepted when "5.0" is.
func versionSupported(v string, supported []string) bool {
	major := func(s string) string {
		s, _, _ = strings.Cut(s, "-")
		s, _, _ = strings.Cut(s, ".")
		return s
	}
	for _, s := range supported {
		if major(s) == major(v) {
			return true
		}
	}
	return false
}
