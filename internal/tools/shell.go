package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"github.com/fletch-dev/fletch/internal/llm"
)

// Shell timeout bounds in seconds.
const (
	DefaultShellTimeout = 30
	MaxShellTimeout     = 300
)

// ShellExecuteTool implements shell_execute.
type ShellExecuteTool struct{}

func NewShellExecuteTool() *ShellExecuteTool {
	return &ShellExecuteTool{}
}

// ShellArgs are the arguments for shell_execute.
type ShellArgs struct {
	Command        string `json:"command"`
	WorkingDir     string `json:"working_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ShellResult contains the result of a shell command.
type ShellResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (t *ShellExecuteTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ShellExecuteToolName,
		Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"working_dir": map[string]interface{}{
					"type":        "string",
					"description": "Working directory (defaults to current directory)",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Command timeout in seconds (default: 30, max: 300)",
					"default":     DefaultShellTimeout,
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellExecuteTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Command == "" {
		return nil, NewToolError(ErrInvalidParams, "command is required")
	}

	timeout := a.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	if timeout > MaxShellTimeout {
		timeout = MaxShellTimeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", a.Command)
	if a.WorkingDir != "" {
		cmd.Dir = a.WorkingDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := ShellResult{
		ExitCode: 0,
		TimedOut: errors.Is(cmdCtx.Err(), context.DeadlineExceeded),
	}
	result.Stdout, _ = truncateOutput(stdout.String(), DefaultOutputLimit)
	result.Stderr, _ = truncateOutput(stderr.String(), DefaultOutputLimit)

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if result.TimedOut {
			result.ExitCode = -1
		} else {
			return nil, NewToolError(ErrExecutionFailed, runErr.Error())
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return data, nil
}
