package factory

import (
	"fmt"
	"strings"

	"github.com/modelrelay/relay/pkg/llm"
)

const DefaultProvider = "openai"

// Factory creates generation adapters based on configuration
type Factory struct{}

// New creates a new adapter factory
func New() *Factory {
	return &Factory{}
}

// CreateAdapter creates a stream adapter based on the configuration
func (f *Factory) CreateAdapter(config llm.ClientConfig) (llm.StreamAdapter, error) {
	provider := config.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	provider = strings.ToLower(provider)

	if config.Model == "" {
		return nil, &llm.Error{
			Code:    llm.ErrCodeMissingModel,
			Message: "model is required",
			Type:    "validation_error",
		}
	}

	constructor, exists := GetAdapter(provider)
	if !exists {
		return nil, &llm.Error{
			Code:    "unsupported_provider",
			Message: fmt.Sprintf("unsupported provider: %s", provider),
			Type:    "validation_error",
		}
	}

	return constructor(config)
}
