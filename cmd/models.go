package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fletch-dev/fletch/internal/llm"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available from the configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		provider, err := llm.NewProvider(cfg)
		if err != nil {
			return err
		}
		lister, ok := provider.(llm.ModelLister)
		if !ok {
			return fmt.Errorf("provider %s does not support listing models", provider.Name())
		}
		models, err := lister.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		for _, m := range models {
			if m.OwnedBy != "" {
				fmt.Printf("%s\t%s\n", m.ID, m.OwnedBy)
			} else {
				fmt.Println(m.ID)
			}
		}
		return nil
	},
}
