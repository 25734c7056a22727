package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fletch-dev/fletch/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		if config.Exists() {
			fmt.Printf("# %s\n", path)
		} else {
			fmt.Printf("# no config file found, using defaults (path: %s)\n", path)
		}

		redacted := *cfg
		redacted.Anthropic.APIKey = redactKey(cfg.Anthropic.APIKey)
		redacted.OpenRouter.APIKey = redactKey(cfg.OpenRouter.APIKey)
		redacted.OpenAICompat.APIKey = redactKey(cfg.OpenAICompat.APIKey)

		out, err := yaml.Marshal(&redacted)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func redactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
