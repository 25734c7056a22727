package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fletch-dev/fletch/internal/llm"
)

var chatSystemPrompt string

func init() {
	chatCmd.Flags().StringVar(&chatSystemPrompt, "system", "", "System prompt for the conversation")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if chatSystemPrompt != "" {
			s.engine.History().Append(llm.SystemText(chatSystemPrompt))
		}

		fmt.Println("fletch chat - empty line or /quit to exit")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" || line == "/quit" || line == "/exit" {
				break
			}
			if ctx.Err() != nil {
				break
			}
			if _, err := renderStream(s, s.engine.Send(ctx, line)); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			fmt.Println()
		}
		return scanner.Err()
	},
}
