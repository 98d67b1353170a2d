package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoValidators is returned by Chain when it has nothing to try.
var ErrNoValidators = errors.New("no validators configured")

// ProviderConfig contains provider-specific configuration
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory creates validators from configuration
type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	registry = make(map[string]ValidatorFactory)
	mu       sync.RWMutex
)

// RegisterProvider registers a validator factory for a provider type
func RegisterProvider(providerType string, factory ValidatorFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = factory
}

// NewValidator creates a validator from provider configuration
func NewValidator(providerConfig ProviderConfig) (Validator, error) {
	mu.RLock()
	factory, ok := registry[providerConfig.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown auth provider type: %s", providerConfig.Type)
	}

	v, err := factory(providerConfig.Config)
	if err != nil {
		return nil, err
	}
	return &tagged{provider: providerConfig.Type, next: v}, nil
}

// ListProviders returns registered provider types in sorted order.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

type tagged struct {
	provider string
	next     Validator
}

func (t *tagged) Validate(token string) (*Claims, error) {
	claims, err := t.next.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.Provider == "" {
		claims.Provider = t.provider
	}
	return claims, nil
}

// Chain accepts a token when any of its validators does. Validators are
// tried in order and the last rejection is returned.
type Chain []Validator

func (c Chain) Validate(token string) (*Claims, error) {
	err := ErrNoValidators
	for _, v := range c {
		claims, verr := v.Validate(token)
		if verr == nil {
			return claims, nil
		}
		err = verr
	}
	return nil, err
}
