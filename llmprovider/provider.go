package llmprovider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"
)

// Config selects a provider and its default model.
type Config struct {
	Provider string
	APIKey   string
	Model    string
}

// NewCompleter creates a Completer for the named provider. It delegates to
// the iris provider registry to instantiate the underlying provider.
func NewCompleter(cfg Config) (*Completer, error) {
	name := strings.TrimSpace(cfg.Provider)
	if name == "" {
		return nil, errors.New("llm provider name is empty")
	}
	provider, err := providers.Create(name, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return NewCompleterFromProvider(provider, cfg.Model), nil
}
