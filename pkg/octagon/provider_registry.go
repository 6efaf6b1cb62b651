package octagon

import (
	"fmt"
	"strings"

	"github.com/fightiq/octagon/pkg/llm"
)

type LLMFactory func(cfg Config) (llm.Adapter, error)

// ProviderRegistry maps configured provider names to adapter factories.
type ProviderRegistry struct {
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		llm: make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.Adapter, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}
