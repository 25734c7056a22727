package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fletch-dev/fletch/internal/llm"
)

func init() {
	rootCmd.AddCommand(askCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		question := strings.Join(args, " ")
		finish, err := renderStream(s, s.engine.Send(ctx, question))
		fmt.Println()
		if err != nil {
			return err
		}
		switch finish {
		case llm.FinishCancel:
			return fmt.Errorf("cancelled")
		case llm.FinishTimeout:
			return fmt.Errorf("timed out")
		}
		return nil
	},
}
