package factory

import (
	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/providers/bedrock"
	"github.com/modelrelay/relay/pkg/providers/deepseek"
	"github.com/modelrelay/relay/pkg/providers/gemini"
	"github.com/modelrelay/relay/pkg/providers/mock"
	"github.com/modelrelay/relay/pkg/providers/openai"
	"github.com/modelrelay/relay/pkg/providers/openrouter"
	"github.com/modelrelay/relay/pkg/providers/responses"
)

func init() {
	RegisterAdapter("openai", func(config llm.ClientConfig) (llm.StreamAdapter, error) {
		return openai.New(config)
	})

	// The Responses API shares credentials with OpenAI but speaks the
	// stateful protocol.
	RegisterAdapter("responses", func(config llm.ClientConfig) (llm.StreamAdapter, error) {
		return responses.New(config)
	})

	RegisterAdapter("gemini", func(config llm.ClientConfig) (llm.StreamAdapter, error) {
		return gemini.New(config)
	})

	RegisterAdapter("deepseek", func(config llm.ClientConfig) (llm.StreamAdapter, error) {
		return deepseek.New(config)
	})

	RegisterAdapter("openrouter", func(config llm.ClientConfig) (llm.StreamAdapter, error) {
		return openrouter.New(config)
	})

	RegisterAdapter("bedrock", func(config llm.ClientConfig) (llm.StreamAdapter, error) {
		return bedrock.New(config)
	})

	RegisterAdapter("mock", func(config llm.ClientConfig) (llm.StreamAdapter, error) {
		return mock.New("mock", llm.FamilyChat, config.Model), nil
	})
}
