package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fletch-dev/fletch/internal/llm"
)

// EditFileTool implements edit_file, a single exact-match replacement.
type EditFileTool struct{}

func NewEditFileTool() *EditFileTool {
	return &EditFileTool{}
}

// EditFileArgs are the arguments for edit_file.
type EditFileArgs struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        EditFileToolName,
		Description: "Replace an exact string in a file. old_string must match exactly once unless replace_all is set.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to edit",
				},
				"old_string": map[string]interface{}{
					"type":        "string",
					"description": "Exact text to replace",
				},
				"new_string": map[string]interface{}{
					"type":        "string",
					"description": "Replacement text",
				},
				"replace_all": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace every occurrence instead of requiring a unique match",
				},
			},
			"required":             []string{"file_path", "old_string", "new_string"},
			"additionalProperties": false,
		},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	count, err := applyEdit(a.FilePath, a.OldString, a.NewString, a.ReplaceAll)
	if err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("replaced %d occurrence(s) in %s", count, a.FilePath)), nil
}

// MultiEditFileTool implements multi_edit_file, applying a sequence of
// edits to one file atomically.
type MultiEditFileTool struct{}

func NewMultiEditFileTool() *MultiEditFileTool {
	return &MultiEditFileTool{}
}

// MultiEditArgs are the arguments for multi_edit_file.
type MultiEditArgs struct {
	FilePath string `json:"file_path"`
	Edits    []struct {
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all,omitempty"`
	} `json:"edits"`
}

func (t *MultiEditFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        MultiEditFileToolName,
		Description: "Apply several exact-string edits to one file in order. All edits succeed or none are written.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to edit",
				},
				"edits": map[string]interface{}{
					"type":        "array",
					"description": "Edits applied in order",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"old_string":  map[string]interface{}{"type": "string"},
							"new_string":  map[string]interface{}{"type": "string"},
							"replace_all": map[string]interface{}{"type": "boolean"},
						},
						"required":             []string{"old_string", "new_string"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"file_path", "edits"},
			"additionalProperties": false,
		},
	}
}

func (t *MultiEditFileTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a MultiEditArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.FilePath == "" {
		return nil, NewToolError(ErrInvalidParams, "file_path is required")
	}
	if len(a.Edits) == 0 {
		return nil, NewToolError(ErrInvalidParams, "edits must not be empty")
	}

	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewToolErrorf(ErrFileNotFound, "file not found: %s", a.FilePath)
		}
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}

	content := string(data)
	total := 0
	for i, edit := range a.Edits {
		next, count, err := replaceInContent(content, edit.OldString, edit.NewString, edit.ReplaceAll)
		if err != nil {
			return nil, NewToolErrorf(ErrInvalidParams, "edit %d: %s", i+1, err.Error())
		}
		content = next
		total += count
	}

	if err := os.WriteFile(a.FilePath, []byte(content), 0o644); err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return textResult(fmt.Sprintf("applied %d edit(s), %d replacement(s) in %s", len(a.Edits), total, a.FilePath)), nil
}

func applyEdit(path, oldStr, newStr string, replaceAll bool) (int, error) {
	if path == "" {
		return 0, NewToolError(ErrInvalidParams, "file_path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, NewToolErrorf(ErrFileNotFound, "file not found: %s", path)
		}
		return 0, NewToolError(ErrExecutionFailed, err.Error())
	}
	content, count, err := replaceInContent(string(data), oldStr, newStr, replaceAll)
	if err != nil {
		return 0, NewToolError(ErrInvalidParams, err.Error())
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return 0, NewToolError(ErrExecutionFailed, err.Error())
	}
	return count, nil
}

func replaceInContent(content, oldStr, newStr string, replaceAll bool) (string, int, error) {
	if oldStr == "" {
		return "", 0, fmt.Errorf("old_string must not be empty")
	}
	if oldStr == newStr {
		return "", 0, fmt.Errorf("old_string and new_string are identical")
	}
	count := strings.Count(content, oldStr)
	if count == 0 {
		return "", 0, fmt.Errorf("old_string not found in file")
	}
	if count > 1 && !replaceAll {
		return "", 0, fmt.Errorf("old_string matches %d times; make it unique or set replace_all", count)
	}
	if replaceAll {
		return strings.ReplaceAll(content, oldStr, newStr), count, nil
	}
	return strings.Replace(content, oldStr, newStr, 1), 1, nil
}
