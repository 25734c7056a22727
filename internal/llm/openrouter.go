package llm

// OpenRouter fronts many upstream models behind one OpenAI-compatible
// endpoint. It shares the chat-completions decode path and adds routing
// preferences, attribution headers and the inline web-search plugin.

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterProvider builds a router-backed provider. The web-search
// plugin and provider preferences pass through to the routed backend.
func NewOpenRouterProvider(cfg HTTPChatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openRouterBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "OpenRouter"
	}
	if cfg.APIKey == "" {
		return nil, &ConfigError{Provider: cfg.Name, Reason: "api_key is required"}
	}
	headers := map[string]string{
		"HTTP-Referer": "https://github.com/fletch-dev/fletch",
		"X-Title":      "fletch",
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	cfg.Headers = headers
	return NewOpenAICompatProvider(cfg)
}
