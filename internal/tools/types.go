// Package tools provides the local tool catalog exposed to the model.
package tools

import (
	"encoding/json"
	"fmt"
)

// ToolErrorType provides structured errors for agent retry logic.
type ToolErrorType string

const (
	ErrFileNotFound    ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams   ToolErrorType = "INVALID_PARAMS"
	ErrExecutionFailed ToolErrorType = "EXECUTION_FAILED"
	ErrFileTooLarge    ToolErrorType = "FILE_TOO_LARGE"
	ErrNotConfigured   ToolErrorType = "NOT_CONFIGURED"
	ErrTimeout         ToolErrorType = "TIMEOUT"
)

// ToolError provides structured error information for retry logic.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Tool spec names.
const (
	PingToolName            = "ping"
	ReadFileToolName        = "read_file"
	WriteFileToolName       = "write_file"
	EditFileToolName        = "edit_file"
	MultiEditFileToolName   = "multi_edit_file"
	ShellExecuteToolName    = "shell_execute"
	RipgrepToolName         = "ripgrep"
	SearchFileToolName      = "search_file"
	TodoReadToolName        = "todo_read"
	TodoWriteToolName       = "todo_write"
	WorkingDirToolName      = "current_working_directory"
	SemanticSearchToolName  = "semantic_code_search"
	RepoAddToolName         = "repository_add"
	RepoListToolName        = "repository_list"
	RepoSyncToolName        = "repository_sync"
	RepoSwitchBranchName    = "repository_switch_branch"
	RepoListBranchesName    = "repository_list_branches"
)

// DefaultOutputLimit caps tool output fed back to the model.
const DefaultOutputLimit = 50 * 1024

func textResult(s string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"output": s})
	return data
}

func truncateOutput(s string, limit int) (string, bool) {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	if len(s) <= limit {
		return s, false
	}
	return s[:limit] + "\n... (output truncated)", true
}
