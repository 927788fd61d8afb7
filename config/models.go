package config

import (
	"fmt"
	"os"
	"strings"
)

// Provider selects the model provider backing agent runs.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderVertex    Provider = "vertex"
)

// DefaultModel maps each provider to its default model identifier.
var DefaultModel = map[Provider]string{
	ProviderAnthropic: "claude-3-7-sonnet-20250219",
	ProviderBedrock:   "anthropic.claude-3-5-sonnet-20241022-v2:0",
	ProviderVertex:    "claude-3-5-sonnet-v2@20241022",
}

// ModelConfig carries per-model run limits and capabilities.
type ModelConfig struct {
	ToolVersion         string
	MaxOutputTokens     int
	DefaultOutputTokens int
	HasThinking         bool
}

var (
	// Sonnet35New covers the 3.5 generation models.
	Sonnet35New = ModelConfig{
		ToolVersion:         "computer_use_20241022",
		MaxOutputTokens:     1024 * 8,
		DefaultOutputTokens: 1024 * 4,
	}

	// Sonnet37 supports extended thinking and the larger output window.
	Sonnet37 = ModelConfig{
		ToolVersion:         "computer_use_20250124",
		MaxOutputTokens:     128_000,
		DefaultOutputTokens: 1024 * 16,
		HasThinking:         true,
	}
)

var modelConfigs = map[string]ModelConfig{
	"claude-3-7-sonnet-20250219": Sonnet37,
}

// ModelConfigFor resolves the configuration for a model identifier, falling
// back to the 3.5 defaults for unknown models.
func ModelConfigFor(model string) ModelConfig {
	if strings.Contains(model, "3-7") {
		return Sonnet37
	}
	if conf, ok := modelConfigs[model]; ok {
		return conf
	}
	return Sonnet35New
}

// DefaultThinkingBudget is half the default output budget, matching the
// model's recommended split.
func (c ModelConfig) DefaultThinkingBudget() int {
	return c.DefaultOutputTokens / 2
}

// ValidateAuth checks whether the credentials needed for a provider are
// present. The returned error carries guidance for the user; session state
// stays consistent and usable for retry.
func ValidateAuth(provider Provider, apiKey string) error {
	switch provider {
	case ProviderAnthropic:
		if apiKey == "" {
			return fmt.Errorf("enter your Anthropic API key to continue")
		}
	case ProviderBedrock:
		if os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == "" {
			return fmt.Errorf("you must have AWS credentials set up to use the Bedrock API")
		}
	case ProviderVertex:
		if os.Getenv("CLOUD_ML_REGION") == "" {
			return fmt.Errorf("set the CLOUD_ML_REGION environment variable to use the Vertex API")
		}
		if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			return fmt.Errorf("your Google Cloud credentials are not set up correctly")
		}
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	return nil
}
