// Package providers routes job kinds to the clients that perform them.
package providers

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
	"jobengine/internal/infra"
	"jobengine/internal/providers/imagegen"
	"jobengine/internal/providers/llm"
	"jobengine/internal/providers/synthetic"
)

// Registry maps each job kind to one provider.
type Registry struct {
	mu     sync.RWMutex
	byKind map[domain.JobKind]engine.Provider
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[domain.JobKind]engine.Provider)}
}

// Register serves kinds with p, replacing earlier registrations.
func (r *Registry) Register(p engine.Provider, kinds ...domain.JobKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kind := range kinds {
		r.byKind[kind] = p
	}
}

func (r *Registry) Provider(kind domain.JobKind) (engine.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKind[kind]
	return p, ok
}

// Kinds lists the registered kinds in name order.
func (r *Registry) Kinds() []domain.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.JobKind, 0, len(r.byKind))
	for kind := range r.byKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// KeyResolver yields the current API key for an integration.
type KeyResolver interface {
	Resolve(ctx context.Context, provider, fallback string) (string, error)
}

// Build wires the providers enabled by cfg. Real clients are registered when
// a key is configured or a key store is available; the synthetic provider
// fills the remaining kinds when SYNTHETIC_PROVIDER is on.
func Build(cfg *infra.Config, keys KeyResolver, logger zerolog.Logger) *Registry {
	reg := NewRegistry()
	log := logger.With().Str("component", "providers").Logger()

	if cfg.OpenAIAPIKey != "" || keys != nil {
		client := llm.NewOpenAI(llm.Options{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			Keys:         keys,
			OnWarning: func(reason, detail string) {
				log.Warn().Str("reason", reason).Str("detail", detail).Msg("openai configuration")
			},
		})
		reg.Register(client, domain.JobKindMarketAnalysis, domain.JobKindProductDiscovery)
	}
	if cfg.QwenAPIKey != "" || keys != nil {
		reg.Register(imagegen.NewComposer(imagegen.Options{
			APIKey:  cfg.QwenAPIKey,
			Model:   cfg.QwenModel,
			BaseURL: cfg.QwenBaseURL,
			Keys:    keys,
		}), domain.JobKindImageCompose)
	}
	if cfg.SyntheticProvider {
		fake := synthetic.New(synthetic.Options{})
		for _, kind := range []domain.JobKind{domain.JobKindImageCompose, domain.JobKindMarketAnalysis, domain.JobKindProductDiscovery} {
			if _, ok := reg.Provider(kind); !ok {
				reg.Register(fake, kind)
			}
		}
	}

	kinds := reg.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	log.Info().Strs("kinds", names).Msg("providers registered")
	return reg
}

var _ engine.ProviderSource = (*Registry)(nil)
