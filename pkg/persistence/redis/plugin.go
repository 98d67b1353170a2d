package redis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/icnocop/pipelines-testlogger/internal/repository"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
}

// Plugin implements PluginPersistence on Redis
type Plugin struct {
	client   *redis.Client
	runs     repository.RunRepository
	requests repository.RequestRepository
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if len(strings.TrimSpace(string(config.Config))) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	return NewPluginWithClient(client, config), nil
}

// NewPluginWithClient wraps an existing client; Close closes it.
func NewPluginWithClient(client *redis.Client, config persistence.PluginConfig) *Plugin {
	return &Plugin{
		client:   client,
		runs:     repository.NewRunRepository(client, config.Now),
		requests: repository.NewRequestRepository(client),
	}
}

func (p *Plugin) RunStorage() persistence.RunStorage { return p.runs }

func (p *Plugin) RequestLog() persistence.RequestLog { return p.requests }

// Client exposes the underlying connection for metrics collection.
func (p *Plugin) Client() *redis.Client { return p.client }

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases Redis connection
func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
