package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fletch-dev/fletch/internal/llm"
)

// DefaultGrepMaxResults caps ripgrep matches returned to the model.
const DefaultGrepMaxResults = 50

// RipgrepTool implements ripgrep content search backed by the rg binary.
type RipgrepTool struct{}

func NewRipgrepTool() *RipgrepTool {
	return &RipgrepTool{}
}

// RipgrepArgs are the arguments for ripgrep.
type RipgrepArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	Include    string `json:"include,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// GrepMatch is a single content match.
type GrepMatch struct {
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	Line       string `json:"line"`
}

func (t *RipgrepTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RipgrepToolName,
		Description: "Search file contents with a regular expression using ripgrep.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Regular expression to search for",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File or directory to search (default: current directory)",
				},
				"include": map[string]interface{}{
					"type":        "string",
					"description": "Glob to restrict searched files, e.g. *.go",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum matches to return (default: 50)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *RipgrepTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a RipgrepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Pattern == "" {
		return nil, NewToolError(ErrInvalidParams, "pattern is required")
	}
	if _, err := exec.LookPath("rg"); err != nil {
		return nil, NewToolError(ErrNotConfigured, "ripgrep (rg) is not installed")
	}

	searchPath := a.Path
	if searchPath == "" {
		searchPath = "."
	}
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultGrepMaxResults
	}

	matches, err := runRipgrep(ctx, a.Pattern, searchPath, a.Include, maxResults)
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	if len(matches) == 0 {
		return textResult("no matches found"), nil
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.FilePath, m.LineNumber, m.Line)
	}
	out, _ := truncateOutput(sb.String(), DefaultOutputLimit)
	return textResult(out), nil
}

// rgMessage is one line of ripgrep JSON output.
type rgMessage struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		Lines struct {
			Text string `json:"text"`
		} `json:"lines"`
		LineNumber int `json:"line_number"`
	} `json:"data"`
}

func runRipgrep(ctx context.Context, pattern, searchPath, include string, maxResults int) ([]GrepMatch, error) {
	args := []string{
		"--json",
		"--max-count", strconv.Itoa(maxResults),
		"--hidden",
		"--glob", "!.git",
	}
	if include != "" {
		args = append(args, "--glob", include)
	}
	args = append(args, pattern, searchPath)

	cmd := exec.CommandContext(ctx, "rg", args...)
	output, err := cmd.Output()
	if err != nil {
		// Exit code 1 means no matches.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}

	var matches []GrepMatch
	for _, line := range strings.Split(string(output), "\n") {
		if line == "" {
			continue
		}
		var msg rgMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type != "match" {
			continue
		}
		matches = append(matches, GrepMatch{
			FilePath:   msg.Data.Path.Text,
			LineNumber: msg.Data.LineNumber,
			Line:       strings.TrimSuffix(msg.Data.Lines.Text, "\n"),
		})
		if len(matches) >= maxResults {
			break
		}
	}
	return matches, nil
}

// SearchFileTool implements search_file, a filename pattern search.
type SearchFileTool struct{}

func NewSearchFileTool() *SearchFileTool {
	return &SearchFileTool{}
}

// SearchFileArgs are the arguments for search_file.
type SearchFileArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (t *SearchFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        SearchFileToolName,
		Description: "Find files whose name matches a glob pattern, e.g. *.go or config*.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern matched against file names",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory to search (default: current directory)",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum files to return (default: 50)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *SearchFileTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a SearchFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Pattern == "" {
		return nil, NewToolError(ErrInvalidParams, "pattern is required")
	}
	root := a.Path
	if root == "" {
		root = "."
	}
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultGrepMaxResults
	}

	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(a.Pattern, d.Name()); ok {
			found = append(found, path)
			if len(found) >= maxResults {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	if len(found) == 0 {
		return textResult("no files found"), nil
	}
	return textResult(strings.Join(found, "\n")), nil
}
