package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fletch-dev/fletch/internal/llm"
)

// renderStream prints a conversation turn to stdout and returns the
// finish reason of the terminal event.
func renderStream(s *session, stream llm.Stream) (string, error) {
	defer stream.Close()
	finish := ""
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return finish, nil
		}
		if err != nil {
			return finish, err
		}
		if s.logger != nil {
			s.logger.LogEvent(ev)
		}
		switch ev.Type {
		case llm.EventTextDelta:
			fmt.Print(ev.Text)
		case llm.EventThoughtDelta:
			// Thinking stays off the transcript unless debugging.
			if s.cfg.Debug {
				fmt.Fprintf(os.Stderr, "%s", ev.Text)
			}
		case llm.EventToolCall:
			fmt.Fprintf(os.Stderr, "\n[tool] %s %s\n", ev.Tool.Name, ev.Tool.Arguments)
		case llm.EventToolResult:
			if ev.ToolResult.IsError {
				fmt.Fprintf(os.Stderr, "[tool] %s failed\n", ev.ToolResult.Name)
			}
		case llm.EventRetry:
			fmt.Fprintf(os.Stderr, "[retry %d/%d] waiting %.1fs\n",
				ev.RetryAttempt, ev.RetryMaxAttempts, ev.RetryWaitSecs)
		case llm.EventError:
			fmt.Fprintf(os.Stderr, "error: %v\n", ev.Err)
		case llm.EventDone:
			finish = ev.FinishReason
			if ev.Use != nil && s.cfg.Debug {
				fmt.Fprintf(os.Stderr, "\n[usage] prompt=%d completion=%d total=%d\n",
					ev.Use.PromptTokens, ev.Use.CompletionTokens, ev.Use.TotalTokens)
			}
		}
	}
}
