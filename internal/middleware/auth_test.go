package middleware

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/icnocop/pipelines-testlogger/pkg/auth"

	"github.com/gin-gonic/gin"
)

type tokenValidator string

func (v tokenValidator) Validate(token string) (*auth.Claims, error) {
	if token != string(v) {
		return nil, errors.New("invalid token")
	}
	return &auth.Claims{Subject: "agent"}, nil
}

func runAuth(t *testing.T, v auth.Validator, header string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/proj/_apis/test/runs/1", nil)
	if header != "" {
		ctx.Request.Header.Set("Authorization", header)
	}
	AuthMiddleware(v)(ctx)
	return ctx, rec
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestAuthMiddlewareAccepts(t *testing.T) {
	for name, header := range map[string]string{
		"pat":         basic("", "s3cret"),
		"pat-user":    basic("build", "s3cret"),
		"bearer":      "Bearer s3cret",
		"bearer-case": "bearer s3cret",
	} {
		t.Run(name, func(t *testing.T) {
			ctx, rec := runAuth(t, tokenValidator("s3cret"), header)
			if ctx.IsAborted() {
				t.Fatalf("expected request to pass, got %d", rec.Code)
			}
			if c := Claims(ctx); c == nil || c.Subject != "agent" {
				t.Fatalf("expected claims in context, got %+v", c)
			}
			if ctx.GetString("credential") != "s3cret" {
				t.Fatalf("expected credential in context")
			}
		})
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	for name, header := range map[string]string{
		"missing":      "",
		"wrong-token":  "Bearer nope",
		"bad-basic":    "Basic !!!",
		"basic-no-pwd": basic("user", ""),
		"scheme":       "Digest abc",
		"no-value":     "Bearer",
	} {
		t.Run(name, func(t *testing.T) {
			ctx, rec := runAuth(t, tokenValidator("s3cret"), header)
			if !ctx.IsAborted() || rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthMiddlewareOpen(t *testing.T) {
	ctx, _ := runAuth(t, nil, "")
	if ctx.IsAborted() {
		t.Fatal("expected open API without a validator")
	}
	if Claims(ctx) != nil {
		t.Fatal("expected no claims on an open API")
	}
}
