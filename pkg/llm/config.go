// Configuration types and environment helpers
package llm

import (
	"os"
	"strconv"
	"time"
)

const (
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultResponsesModel  = "gpt-4o-mini"
	DefaultGeminiModel     = "gemini-2.0-flash"
	DefaultDeepSeekModel   = "deepseek-chat"
	DefaultOpenRouterModel = "openai/gpt-4o-mini"
	DefaultBedrockModel    = "anthropic.claude-3-5-sonnet-20241022-v2:0"
)

const DefaultRequestTimeout = 30 * time.Second

// ClientConfig holds configuration for creating generation adapters
type ClientConfig struct {
	Provider string            `json:"provider"` // openai, responses, gemini, deepseek, openrouter, bedrock
	Model    string            `json:"model"`
	APIKey   string            `json:"api_key,omitempty"`
	BaseURL  string            `json:"base_url,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"` // Provider-specific configs
}

// parseTimeoutFromEnv parses timeout from environment variable with fallback to default
func parseTimeoutFromEnv(envVar string, defaultTimeout time.Duration) time.Duration {
	if timeoutStr := os.Getenv(envVar); timeoutStr != "" {
		if timeoutSecs, err := strconv.Atoi(timeoutStr); err == nil && timeoutSecs > 0 {
			return time.Duration(timeoutSecs) * time.Second
		}
	}
	return defaultTimeout
}

// ConfigFromEnv derives an adapter configuration from the environment.
// Priority: explicit custom OpenAI-compatible endpoint, then the first
// provider with credentials present.
func ConfigFromEnv() ClientConfig {
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			apiKey = "dummy" // Some endpoints don't require real keys
		}
		model := DefaultOpenAIModel
		if customModel := os.Getenv("OPENAI_MODEL"); customModel != "" {
			model = customModel
		}
		return ClientConfig{
			Provider: "openai",
			Model:    model,
			APIKey:   apiKey,
			BaseURL:  baseURL,
			Timeout:  parseTimeoutFromEnv("OPENAI_TIMEOUT", DefaultRequestTimeout),
		}
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		return ClientConfig{
			Provider: "openai",
			Model:    DefaultOpenAIModel,
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("OPENAI_TIMEOUT", DefaultRequestTimeout),
		}
	}

	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		model := DefaultGeminiModel
		if customModel := os.Getenv("GEMINI_MODEL"); customModel != "" {
			model = customModel
		}
		return ClientConfig{
			Provider: "gemini",
			Model:    model,
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("GEMINI_TIMEOUT", DefaultRequestTimeout),
		}
	}

	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		return ClientConfig{
			Provider: "deepseek",
			Model:    DefaultDeepSeekModel,
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("DEEPSEEK_TIMEOUT", DefaultRequestTimeout),
		}
	}

	if apiKey := os.Getenv("OPENROUTER_API_KEY"); apiKey != "" {
		return ClientConfig{
			Provider: "openrouter",
			Model:    DefaultOpenRouterModel,
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("OPENROUTER_TIMEOUT", DefaultRequestTimeout),
		}
	}

	// Bedrock resolves credentials through the AWS default chain.
	return ClientConfig{
		Provider: "bedrock",
		Model:    DefaultBedrockModel,
		Timeout:  parseTimeoutFromEnv("BEDROCK_TIMEOUT", DefaultRequestTimeout),
	}
}
