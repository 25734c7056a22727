// Package config loads fletch configuration from the XDG config
// directory and FLETCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in the provider key.
const (
	ProviderClaudeBin    = "claude-bin"
	ProviderAnthropic    = "anthropic"
	ProviderOpenRouter   = "openrouter"
	ProviderOpenAICompat = "openai-compat"
)

type Config struct {
	Provider          string `mapstructure:"provider"`
	Model             string `mapstructure:"model"`
	TimeoutSeconds    int    `mapstructure:"timeout_s"`
	MaxRetries        int    `mapstructure:"max_retries"`
	MaxReasoningSteps int    `mapstructure:"max_reasoning_steps"`
	MaxHistory        int    `mapstructure:"max_history"`
	Debug             bool   `mapstructure:"debug"`

	ClaudeBin    ClaudeBinConfig    `mapstructure:"claude_bin"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	OpenRouter   OpenRouterConfig   `mapstructure:"openrouter"`
	OpenAICompat OpenAICompatConfig `mapstructure:"openai-compat"`

	Search SearchConfig `mapstructure:"search"`

	// MCPServers declares external MCP servers whose tools are exposed
	// to the model as mcp__<name>__<tool>.
	MCPServers map[string]MCPServerConfig `mapstructure:"mcp_servers"`
}

// SearchConfig points at the external code search index backing the
// repository and semantic search tools. Without a base URL those tools
// report that search is not configured.
type SearchConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ClaudeBinConfig configures the child-process provider.
type ClaudeBinConfig struct {
	BinaryPath             string   `mapstructure:"binary_path"`
	Model                  string   `mapstructure:"model"`
	ExtraArgs              []string `mapstructure:"extra_args"`
	AdditionalSystemPrompt string   `mapstructure:"additional_system_prompt"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenRouterConfig struct {
	APIKey              string         `mapstructure:"api_key"`
	Model               string         `mapstructure:"model"`
	RateLimitDelayMs    int            `mapstructure:"rate_limit_delay_ms"`
	RateLimitCeilingMs  int            `mapstructure:"rate_limit_ceiling_ms"`
	ProviderPreferences map[string]any `mapstructure:"provider_preferences"`
	EnableWebSearch     bool           `mapstructure:"enable_web_search"`
	WebSearchMaxResults int            `mapstructure:"web_search_max_results"`
	SearchPrompt        string         `mapstructure:"search_prompt"`
}

// OpenAICompatConfig configures a generic OpenAI-compatible server.
type OpenAICompatConfig struct {
	BaseURL            string `mapstructure:"base_url"` // Required - no default
	APIKey             string `mapstructure:"api_key"`  // Optional
	Model              string `mapstructure:"model"`
	RateLimitDelayMs   int    `mapstructure:"rate_limit_delay_ms"`
	RateLimitCeilingMs int    `mapstructure:"rate_limit_ceiling_ms"`
	StrictSchemas      bool   `mapstructure:"strict_schemas"`
}

// MCPServerConfig declares one external MCP server process.
type MCPServerConfig struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper lower-cases map keys, which would corrupt server names and
	// the environment variables handed to external MCP servers. Take the
	// mcp_servers block straight from the file instead.
	if file := v.ConfigFileUsed(); file != "" {
		servers, err := loadMCPServers(file)
		if err != nil {
			return nil, err
		}
		cfg.MCPServers = servers
	}

	resolveCredentials(&cfg)
	return &cfg, nil
}

func loadMCPServers(path string) (map[string]MCPServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var doc struct {
		MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mcp_servers: %w", err)
	}
	return doc.MCPServers, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderClaudeBin)
	v.SetDefault("timeout_s", 600)
	v.SetDefault("max_retries", 5)
	v.SetDefault("max_reasoning_steps", 16)
	v.SetDefault("max_history", 10)
	v.SetDefault("claude_bin.binary_path", "claude")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("openrouter.model", "anthropic/claude-sonnet-4.5")
	v.SetDefault("openrouter.rate_limit_delay_ms", 500)
	v.SetDefault("openrouter.rate_limit_ceiling_ms", 60000)
	v.SetDefault("openrouter.web_search_max_results", 5)
	v.SetDefault("openai-compat.rate_limit_delay_ms", 500)
	v.SetDefault("openai-compat.rate_limit_ceiling_ms", 60000)
}

func resolveCredentials(cfg *Config) {
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	cfg.OpenRouter.APIKey = expandEnv(cfg.OpenRouter.APIKey)
	if cfg.OpenRouter.APIKey == "" {
		cfg.OpenRouter.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	cfg.OpenAICompat.APIKey = expandEnv(cfg.OpenAICompat.APIKey)
	cfg.Search.APIKey = expandEnv(cfg.Search.APIKey)
}

// ApplyOverrides applies provider and model flag overrides.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		c.Model = model
		switch c.Provider {
		case ProviderClaudeBin:
			c.ClaudeBin.Model = model
		case ProviderAnthropic:
			c.Anthropic.Model = model
		case ProviderOpenRouter:
			c.OpenRouter.Model = model
		case ProviderOpenAICompat:
			c.OpenAICompat.Model = model
		}
	}
}

// expandEnv expands ${VAR} and $VAR references in config values.
func expandEnv(s string) string {
	if s == "" {
		return s
	}
	return os.ExpandEnv(s)
}

// GetConfigDir returns the XDG config directory for fletch.
func GetConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fletch"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "fletch"), nil
}

// GetConfigPath returns the full path to the config file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists reports whether a config file is present.
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
