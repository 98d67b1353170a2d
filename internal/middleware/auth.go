package middleware

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/icnocop/pipelines-testlogger/pkg/auth"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware accepts "Basic base64(user:token)" as sent with a personal
// access token, or "Bearer token". A nil validator leaves the API open.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}
		token, err := credential(c.GetHeader("Authorization"))
		if err != nil {
			c.Header("WWW-Authenticate", `Basic realm="testruns"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		claims, err := validator.Validate(token)
		if err != nil {
			Logger(c).Debug("credential rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.Set("claims", claims)
		c.Set("credential", token)
		c.Next()
	}
}

func credential(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, value, ok := strings.Cut(header, " ")
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", errors.New("invalid Authorization format")
	}
	switch {
	case strings.EqualFold(scheme, "Bearer"):
		return value, nil
	case strings.EqualFold(scheme, "Basic"):
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return "", errors.New("invalid Basic credentials")
		}
		_, token, ok := strings.Cut(string(raw), ":")
		if !ok || token == "" {
			return "", errors.New("invalid Basic credentials")
		}
		return token, nil
	default:
		return "", errors.New("unsupported Authorization scheme")
	}
}

// Claims returns the claims stored by AuthMiddleware, or nil on an open API.
func Claims(c *gin.Context) *auth.Claims {
	v, _ := c.Get("claims")
	claims, _ := v.(*auth.Claims)
	return claims
}
