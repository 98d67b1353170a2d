package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/icnocop/pipelines-testlogger/pkg/auth"
)

type keyServer struct {
	*httptest.Server
	key     *rsa.PrivateKey
	fetches atomic.Int32
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ks := &keyServer{key: key}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.fetches.Add(1)
		n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{"kty": "RSA", "kid": "test-key-1", "n": n, "e": e}},
		})
	}))
	t.Cleanup(ks.Close)
	return ks
}

func (ks *keyServer) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(ks.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newTestValidator(t *testing.T, ks *keyServer) auth.Validator {
	t.Helper()
	v, err := NewValidator(auth.Config{
		JwksURL:     ks.URL,
		Issuer:      "test-issuer",
		Audience:    "499b84ac-1321-427f-aa17-267ca6975798",
		ClockSkew:   time.Second,
		HTTPTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return v
}

func baseClaims() jwt.MapClaims {
	now := time.Now().Unix()
	return jwt.MapClaims{
		"iss":  "test-issuer",
		"aud":  "499b84ac-1321-427f-aa17-267ca6975798",
		"sub":  "test-user",
		"name": "Build Service",
		"exp":  now + 3600,
		"iat":  now,
		"scp":  "vso.test_write vso.build",
	}
}

func TestJWKSValidator(t *testing.T) {
	ks := newKeyServer(t)
	v := newTestValidator(t, ks)

	claims, err := v.Validate(ks.sign(t, "test-key-1", baseClaims()))
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.Subject != "test-user" || claims.Name != "Build Service" {
		t.Errorf("unexpected identity %+v", claims)
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("expected issuer 'test-issuer', got '%s'", claims.Issuer)
	}
	if len(claims.Audience) != 1 {
		t.Errorf("expected one audience, got %v", claims.Audience)
	}
	if !claims.HasScope("vso.test_write") || !claims.HasScope("vso.build") {
		t.Errorf("expected scopes, got %v", claims.Scopes)
	}
	if claims.ExpiresAt.IsZero() {
		t.Error("expected expiry")
	}

	if _, err := v.Validate(ks.sign(t, "test-key-1", baseClaims())); err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if got := ks.fetches.Load(); got != 1 {
		t.Errorf("expected cached key set, fetched %d times", got)
	}
}

func TestJWKSValidatorRejects(t *testing.T) {
	ks := newKeyServer(t)
	v := newTestValidator(t, ks)

	cases := map[string]func(jwt.MapClaims){
		"issuer":   func(c jwt.MapClaims) { c["iss"] = "wrong-issuer" },
		"audience": func(c jwt.MapClaims) { c["aud"] = "wrong-audience" },
		"expired":  func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
		"no expiry": func(c jwt.MapClaims) {
			delete(c, "exp")
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := baseClaims()
			mutate(c)
			if _, err := v.Validate(ks.sign(t, "test-key-1", c)); err == nil {
				t.Fatal("expected token to be rejected")
			}
		})
	}

	if _, err := v.Validate(ks.sign(t, "unknown", baseClaims())); err == nil {
		t.Fatal("expected unknown kid to be rejected")
	}
	if _, err := v.Validate("not-a-jwt"); err == nil {
		t.Fatal("expected garbage to be rejected")
	}
}

func TestJWKSProviderRegistered(t *testing.T) {
	ks := newKeyServer(t)
	raw, _ := json.Marshal(auth.Config{JwksURL: ks.URL, Issuer: "test-issuer", Audience: "499b84ac-1321-427f-aa17-267ca6975798"})
	v, err := auth.NewValidator(auth.ProviderConfig{Type: "jwks", Config: raw})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	claims, err := v.Validate(ks.sign(t, "test-key-1", baseClaims()))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Provider != "jwks" {
		t.Errorf("expected provider jwks, got %q", claims.Provider)
	}

	if _, err := NewValidator(auth.Config{}); err == nil {
		t.Error("expected missing config to be rejected")
	}
}
