package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProvider is returned for a storage type no plugin registered.
var ErrUnknownProvider = errors.New("unknown persistence provider")

// ProviderConfig selects a storage plugin and carries its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// PluginConfig is handed to a plugin factory.
type PluginConfig struct {
	Config json.RawMessage

	// Now stamps CreatedAt and UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

type PluginFactory func(config PluginConfig) (PluginPersistence, error)

var (
	mu        sync.RWMutex
	factories = map[string]PluginFactory{}
)

func normalize(providerType string) string {
	return strings.ToLower(strings.TrimSpace(providerType))
}

// RegisterProvider makes a plugin available under providerType. Plugins call
// it from init; a later registration replaces an earlier one.
func RegisterProvider(providerType string, factory PluginFactory) {
	mu.Lock()
	defer mu.Unlock()
	factories[normalize(providerType)] = factory
}

// NewPersistence builds the plugin named by providerConfig.Type. Type matching
// ignores case and surrounding space.
func NewPersistence(providerConfig ProviderConfig, pluginConfig PluginConfig) (PluginPersistence, error) {
	mu.RLock()
	factory, ok := factories[normalize(providerConfig.Type)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownProvider, providerConfig.Type, strings.Join(ListProviders(), ", "))
	}

	pluginConfig.Config = providerConfig.Config
	if pluginConfig.Now == nil {
		pluginConfig.Now = time.Now
	}
	return factory(pluginConfig)
}

// ListProviders returns the registered provider types in sorted order.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
