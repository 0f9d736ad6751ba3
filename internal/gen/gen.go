// Package gen provides the text generation collaborator used by the
// session runtime for base replies, topic classification, context-aware
// rephrasing, and conversation summarization.
package gen

import (
	"context"
	"fmt"
	"sync"
)

// Generator defines the interface for text generation providers.
type Generator interface {
	// Generate produces a completion for the given prompt.
	// An empty result with a nil error is valid and treated as a
	// degraded response by callers.
	Generate(ctx context.Context, prompt string) (string, error)

	// Name returns the provider name (e.g., "vertex", "openai").
	Name() string
}

// Factory creates a Generator from provider-specific configuration.
type Factory func(config map[string]any) (Generator, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory registers a provider factory under a name.
// It is typically called from provider init() functions.
func RegisterFactory(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = factory
}

// New creates a Generator for the named provider.
func New(name string, config map[string]any) (Generator, error) {
	factoryMu.RLock()
	factory, ok := factories[name]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown generation provider: %q", name)
	}
	return factory(config)
}

// Providers returns the names of all registered providers.
func Providers() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
