package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/auth"
)

// ServerConfig configures the fake tracking backend.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	Storage       string `yaml:"storage"` // redis or memory
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	EmbeddedRedis bool   `yaml:"embeddedRedis"`

	// AccessToken, when set, is required as Basic or Bearer credentials on every API call.
	AccessToken string `yaml:"accessToken"`
	// JWKS settings accept Entra-style bearer tokens alongside the access token.
	AuthJwksURL  string `yaml:"authJwksUrl"`
	AuthIssuer   string `yaml:"authIssuer"`
	AuthAudience string `yaml:"authAudience"`

	// RateLimit throttles result uploads per credential; zero disables it.
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Env       string `yaml:"env"`

	ServiceName      string  `yaml:"serviceName"`
	TracingEnabled   bool    `yaml:"tracingEnabled"`
	OTLPEndpoint     string  `yaml:"otlpEndpoint"`
	OTLPInsecure     bool    `yaml:"otlpInsecure"`
	TraceSampleRatio float64 `yaml:"traceSampleRatio"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func LoadServerConfigOptional(filePath string) (*ServerConfig, error) {
	return LoadServerConfigWithEnv(filePath, os.Getenv)
}

func LoadServerConfigWithEnv(filePath string, getenv Getenv) (*ServerConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var c ServerConfig
	if err := readYAML(filePath, &c); err != nil {
		return nil, err
	}

	setInt(&c.Port, getenv("PORT"))
	setString(&c.Storage, getenv("STORAGE"))
	setString(&c.RedisAddr, getenv("REDIS_ADDR"))
	setString(&c.RedisPassword, getenv("REDIS_PASSWORD"))
	setBool(&c.EmbeddedRedis, getenv("EMBEDDED_REDIS"))
	setString(&c.AccessToken, getenv("BACKEND_ACCESS_TOKEN"))
	setString(&c.AuthJwksURL, getenv("AUTH_JWKS_URL"))
	setString(&c.AuthIssuer, getenv("AUTH_ISSUER"))
	setString(&c.AuthAudience, getenv("AUTH_AUDIENCE"))
	setInt(&c.RateLimit.RequestsPerMinute, getenv("RATE_LIMIT_RPM"))
	setInt(&c.RateLimit.BurstSize, getenv("RATE_LIMIT_BURST"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))
	setString(&c.LogFormat, getenv("LOG_FORMAT"))
	setString(&c.Env, getenv("ENV"))
	setString(&c.ServiceName, getenv("OTEL_SERVICE_NAME"))
	setBool(&c.TracingEnabled, getenv("TRACING_ENABLED"))
	setString(&c.OTLPEndpoint, getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	setFloat(&c.TraceSampleRatio, getenv("TRACE_SAMPLE_RATIO"))

	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Storage == "" {
		c.Storage = "redis"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.ServiceName == "" {
		c.ServiceName = "testruns-backend"
	}
	return &c, nil
}

// AuthProviders returns the validator configurations implied by the config.
// An empty result means the API is open.
func (c *ServerConfig) AuthProviders() []auth.ProviderConfig {
	var out []auth.ProviderConfig
	if tok := strings.TrimSpace(c.AccessToken); tok != "" {
		raw, _ := json.Marshal(map[string]string{"token": tok})
		out = append(out, auth.ProviderConfig{Type: "static", Config: raw})
	}
	if c.AuthJwksURL != "" {
		raw, _ := json.Marshal(auth.Config{
			JwksURL:     c.AuthJwksURL,
			Issuer:      c.AuthIssuer,
			Audience:    c.AuthAudience,
			ClockSkew:   time.Minute,
			HTTPTimeout: 5 * time.Second,
		})
		out = append(out, auth.ProviderConfig{Type: "jwks", Config: raw})
	}
	return out
}

func (c *ServerConfig) Validate() error {
	var errs []string
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	switch c.Storage {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage must be redis or memory, got %q", c.Storage))
	}
	if c.Storage == "redis" && !c.EmbeddedRedis && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, "redisAddr is required unless embeddedRedis is set")
	}
	if strings.ToLower(c.Env) != "dev" && strings.TrimSpace(c.AccessToken) == "" && strings.TrimSpace(c.AuthJwksURL) == "" {
		errs = append(errs, "accessToken or authJwksUrl is required in non-dev")
	}
	if c.AuthJwksURL != "" && (c.AuthIssuer == "" || c.AuthAudience == "") {
		errs = append(errs, "authIssuer and authAudience are required with authJwksUrl")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.BurstSize < 0 {
		errs = append(errs, "rateLimit values must be non-negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
