package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	flagProvider string
	flagModel    string
	flagDebug    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProvider, "provider", "p", "", "Provider override (claude-bin, anthropic, openrouter, openai-compat)")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "Model override")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Write provider traffic to a debug log")
}

var rootCmd = &cobra.Command{
	Use:   "fletch",
	Short: "Stream LLM conversations with tool calling from the terminal",
	Long: `fletch drives streaming LLM conversations with tool calling
against a local claude binary, the Anthropic API, OpenRouter, or any
OpenAI-compatible server.

Examples:
  fletch ask "what does this error mean: EADDRINUSE"
  fletch chat -p openrouter
  fletch models
  fletch config`,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
