package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/fletch-dev/fletch/internal/config"
)

// ParseProviderModel parses "provider:model" or just "provider" from a
// flag value. Model is empty when not specified.
func ParseProviderModel(s string) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider := strings.TrimSpace(parts[0])
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}
	switch provider {
	case config.ProviderClaudeBin, config.ProviderAnthropic,
		config.ProviderOpenRouter, config.ProviderOpenAICompat:
		return provider, model, nil
	}
	return "", "", fmt.Errorf("unknown provider: %s", provider)
}

// NewProvider creates the configured provider wrapped with automatic
// retry for rate limits and transient errors.
func NewProvider(cfg *config.Config) (Provider, error) {
	return NewProviderByName(cfg, cfg.Provider)
}

// NewProviderWithBridge is like NewProvider but points a child-process
// provider at the given MCP config file so local tools are reachable
// from the child. Other providers ignore the path.
func NewProviderWithBridge(cfg *config.Config, mcpConfigPath string) (Provider, error) {
	provider, err := createProviderFromConfig(cfg, cfg.Provider)
	if err != nil {
		return nil, err
	}
	if child, ok := provider.(*ChildProcessProvider); ok {
		child.SetMCPConfigPath(mcpConfigPath)
	}
	retryCfg := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	return WrapWithRetry(provider, retryCfg), nil
}

// NewProviderByName creates a provider by name from the config. Useful
// for per-command provider overrides.
func NewProviderByName(cfg *config.Config, name string) (Provider, error) {
	provider, err := createProviderFromConfig(cfg, name)
	if err != nil {
		return nil, err
	}
	retryCfg := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	return WrapWithRetry(provider, retryCfg), nil
}

func createProviderFromConfig(cfg *config.Config, name string) (Provider, error) {
	switch name {
	case config.ProviderClaudeBin:
		return NewChildProcessProvider(ChildProcessConfig{
			BinaryPath:             cfg.ClaudeBin.BinaryPath,
			Model:                  firstNonEmpty(cfg.Model, cfg.ClaudeBin.Model),
			ExtraArgs:              cfg.ClaudeBin.ExtraArgs,
			AdditionalSystemPrompt: cfg.ClaudeBin.AdditionalSystemPrompt,
			Timeout:                time.Duration(cfg.TimeoutSeconds) * time.Second,
		})

	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg.Anthropic.APIKey, firstNonEmpty(cfg.Model, cfg.Anthropic.Model))

	case config.ProviderOpenRouter:
		var webSearch *WebSearchPlugin
		if cfg.OpenRouter.EnableWebSearch {
			webSearch = &WebSearchPlugin{
				MaxResults:   cfg.OpenRouter.WebSearchMaxResults,
				SearchPrompt: cfg.OpenRouter.SearchPrompt,
			}
		}
		return NewOpenRouterProvider(HTTPChatConfig{
			APIKey:           cfg.OpenRouter.APIKey,
			Model:            firstNonEmpty(cfg.Model, cfg.OpenRouter.Model),
			Timeout:          time.Duration(cfg.TimeoutSeconds) * time.Second,
			RateLimitDelay:   time.Duration(cfg.OpenRouter.RateLimitDelayMs) * time.Millisecond,
			RateLimitCeiling: time.Duration(cfg.OpenRouter.RateLimitCeilingMs) * time.Millisecond,
			MaxHistory:       cfg.MaxHistory,
			Preferences:      cfg.OpenRouter.ProviderPreferences,
			WebSearch:        webSearch,
		})

	case config.ProviderOpenAICompat:
		return NewOpenAICompatProvider(HTTPChatConfig{
			BaseURL:          cfg.OpenAICompat.BaseURL,
			APIKey:           cfg.OpenAICompat.APIKey,
			Model:            firstNonEmpty(cfg.Model, cfg.OpenAICompat.Model),
			Timeout:          time.Duration(cfg.TimeoutSeconds) * time.Second,
			RateLimitDelay:   time.Duration(cfg.OpenAICompat.RateLimitDelayMs) * time.Millisecond,
			RateLimitCeiling: time.Duration(cfg.OpenAICompat.RateLimitCeilingMs) * time.Millisecond,
			MaxHistory:       cfg.MaxHistory,
			StrictSchemas:    cfg.OpenAICompat.StrictSchemas,
		})

	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
