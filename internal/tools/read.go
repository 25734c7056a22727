package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fletch-dev/fletch/internal/llm"
)

// MaxReadFileBytes refuses reads of files larger than this.
const MaxReadFileBytes = 10 * 1024 * 1024

// ReadFileTool implements read_file.
type ReadFileTool struct{}

func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{}
}

// ReadFileArgs are the arguments for read_file.
type ReadFileArgs struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *ReadFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReadFileToolName,
		Description: "Read file contents. Returns line-numbered output. Use start_line/end_line for pagination.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute or relative path to the file to read",
				},
				"start_line": map[string]interface{}{
					"type":        "integer",
					"description": "1-indexed start line (default: 1)",
				},
				"end_line": map[string]interface{}{
					"type":        "integer",
					"description": "1-indexed end line (default: EOF)",
				},
			},
			"required":             []string{"file_path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a ReadFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.FilePath == "" {
		return nil, NewToolError(ErrInvalidParams, "file_path is required")
	}

	info, err := os.Stat(a.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewToolErrorf(ErrFileNotFound, "file not found: %s", a.FilePath)
		}
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	if info.Size() > MaxReadFileBytes {
		return nil, NewToolErrorf(ErrFileTooLarge, "file is %d bytes, limit is %d", info.Size(), MaxReadFileBytes)
	}

	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}

	lines := strings.Split(string(data), "\n")
	start := a.StartLine
	if start < 1 {
		start = 1
	}
	end := a.EndLine
	if end < 1 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return nil, NewToolErrorf(ErrInvalidParams, "start_line %d is beyond end of file (%d lines)", start, len(lines))
	}

	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i, lines[i-1])
	}
	out, _ := truncateOutput(sb.String(), DefaultOutputLimit)
	return textResult(out), nil
}

// WriteFileTool implements write_file.
type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

// WriteFileArgs are the arguments for write_file.
type WriteFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (t *WriteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WriteFileToolName,
		Description: "Write content to a file, creating it if needed and replacing any existing content.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to write",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full file content",
				},
			},
			"required":             []string{"file_path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.FilePath == "" {
		return nil, NewToolError(ErrInvalidParams, "file_path is required")
	}
	if err := os.WriteFile(a.FilePath, []byte(a.Content), 0o644); err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return textResult(fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.FilePath)), nil
}

// WorkingDirTool implements current_working_directory.
type WorkingDirTool struct{}

func NewWorkingDirTool() *WorkingDirTool {
	return &WorkingDirTool{}
}

func (t *WorkingDirTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WorkingDirToolName,
		Description: "Return the current working directory.",
		Schema: map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"additionalProperties": false,
		},
	}
}

func (t *WorkingDirTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return textResult(wd), nil
}

// PingTool implements ping, a liveness check with no side effects.
type PingTool struct{}

func NewPingTool() *PingTool {
	return &PingTool{}
}

func (t *PingTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        PingToolName,
		Description: "Liveness check. Always returns pong.",
		Schema: map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"additionalProperties": false,
		},
	}
}

func (t *PingTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return textResult("pong"), nil
}
