package llm

import (
	"context"
)

// Params tunes a single generation call
type Params struct {
	Temperature float64
	MaxTokens   int
}

// DefaultParams returns the parameters used when a task does not
// override anything.
func DefaultParams() Params {
	return Params{Temperature: 0.5, MaxTokens: 1000}
}

// Provider is the language-model capability set. Implementations must
// honor the context deadline and cancellation. Embed is optional:
// implementations without embedding support return ErrNoEmbeddings and
// similarity search falls back to lexical ranking.
type Provider interface {
	// Generate produces a completion for prompt + instruction
	Generate(ctx context.Context, prompt, instruction string, params Params) (string, error)

	// Embed produces an embedding vector for text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns provider name for logging and selection
	Name() string

	// Healthcheck verifies the provider is reachable
	Healthcheck(ctx context.Context) error
}

// ErrNoEmbeddings is returned by providers without an embedding model
type noEmbeddingsError struct{}

func (noEmbeddingsError) Error() string { return "provider does not support embeddings" }

// ErrNoEmbeddings signals that similarity search should degrade to
// lexical ranking.
var ErrNoEmbeddings error = noEmbeddingsError{}

// Registry holds the configured providers keyed by name
type Registry struct {
	providers map[string]Provider
	def       string
}

// NewRegistry creates a provider registry. The first added provider
// becomes the default.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Add registers a provider
func (r *Registry) Add(p Provider) {
	if len(r.providers) == 0 {
		r.def = p.Name()
	}
	r.providers[p.Name()] = p
}

// Get returns the named provider, or the default when name is empty
// or unknown.
func (r *Registry) Get(name string) Provider {
	if p, ok := r.providers[name]; ok {
		return p
	}
	return r.providers[r.def]
}

// Names lists registered provider names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
