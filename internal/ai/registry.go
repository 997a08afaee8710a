package ai

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/qs3c/docgen_server/config"
)

// Registry provider 名称到实现的映射
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names 已注册的 provider，按名称排序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewByType 按类型创建 provider
func NewByType(pc config.ProviderConfig) (Provider, error) {
	timeout := time.Duration(pc.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	switch pc.Type {
	case "openai":
		return NewOpenAIProvider(pc.Name, pc.BaseURL, timeout), nil
	case "anthropic":
		return NewAnthropicProvider(pc.Name, pc.BaseURL, timeout), nil
	case "claude_cli":
		return NewClaudeCLIProvider(pc.Name, pc.Binary, timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", pc.Type)
	}
}

// NewFromConfig 注册配置中的全部 provider
func NewFromConfig(providers []config.ProviderConfig) (*Registry, error) {
	r := NewRegistry()
	for _, pc := range providers {
		if pc.Name == "" {
			return nil, fmt.Errorf("provider of type %s has no name", pc.Type)
		}
		if _, exists := r.Get(pc.Name); exists {
			return nil, fmt.Errorf("duplicate provider: %s", pc.Name)
		}
		p, err := NewByType(pc)
		if err != nil {
			return nil, err
		}
		r.Register(pc.Name, p)
	}
	return r, nil
}
