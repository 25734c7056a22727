package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFileNumbersLines(t *testing.T) {
	path := writeTemp(t, "a.txt", "alpha\nbeta\ngamma\n")
	tool := NewReadFileTool()

	args, _ := json.Marshal(ReadFileArgs{FilePath: path})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var out struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Output, "1\talpha") || !strings.Contains(out.Output, "3\tgamma") {
		t.Errorf("output = %q", out.Output)
	}
}

func TestReadFileRange(t *testing.T) {
	path := writeTemp(t, "a.txt", "one\ntwo\nthree\nfour\n")
	tool := NewReadFileTool()

	args, _ := json.Marshal(ReadFileArgs{FilePath: path, StartLine: 2, EndLine: 3})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	text := string(result)
	if strings.Contains(text, "one") || strings.Contains(text, "four") {
		t.Errorf("range not honored: %s", text)
	}
	if !strings.Contains(text, "two") || !strings.Contains(text, "three") {
		t.Errorf("range missing lines: %s", text)
	}
}

func TestReadFileNotFound(t *testing.T) {
	tool := NewReadFileTool()
	args, _ := json.Marshal(ReadFileArgs{FilePath: filepath.Join(t.TempDir(), "missing.txt")})
	_, err := tool.Execute(context.Background(), args)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Type != ErrFileNotFound {
		t.Errorf("err = %v, want FILE_NOT_FOUND", err)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.txt")
	tool := NewWriteFileTool()

	args, _ := json.Marshal(WriteFileArgs{FilePath: path, Content: "hello\n"})
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Errorf("content = %q", data)
	}
}

func TestEditFileSingleReplacement(t *testing.T) {
	path := writeTemp(t, "a.go", "package main\n\nfunc old() {}\n")
	tool := NewEditFileTool()

	args, _ := json.Marshal(EditFileArgs{FilePath: path, OldString: "func old()", NewString: "func renamed()"})
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "func renamed()") {
		t.Errorf("content = %s", data)
	}
}

func TestEditFileAmbiguousMatchRejected(t *testing.T) {
	path := writeTemp(t, "a.txt", "x\nx\n")
	tool := NewEditFileTool()

	args, _ := json.Marshal(EditFileArgs{FilePath: path, OldString: "x", NewString: "y"})
	if _, err := tool.Execute(context.Background(), args); err == nil {
		t.Fatal("ambiguous match should fail without replace_all")
	}

	args, _ = json.Marshal(EditFileArgs{FilePath: path, OldString: "x", NewString: "y", ReplaceAll: true})
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("replace_all: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "y\ny\n" {
		t.Errorf("content = %q", data)
	}
}

func TestMultiEditAppliesInOrder(t *testing.T) {
	path := writeTemp(t, "a.txt", "aaa bbb ccc\n")
	tool := NewMultiEditFileTool()

	args := json.RawMessage(fmt.Sprintf(`{
		"file_path": %q,
		"edits": [
			{"old_string": "aaa", "new_string": "AAA"},
			{"old_string": "AAA bbb", "new_string": "done"}
		]
	}`, path))
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "done ccc\n" {
		t.Errorf("content = %q", data)
	}
}

func TestMultiEditFailureLeavesFileUntouched(t *testing.T) {
	path := writeTemp(t, "a.txt", "original\n")
	tool := NewMultiEditFileTool()

	args := json.RawMessage(fmt.Sprintf(`{
		"file_path": %q,
		"edits": [
			{"old_string": "original", "new_string": "changed"},
			{"old_string": "does-not-exist", "new_string": "x"}
		]
	}`, path))
	if _, err := tool.Execute(context.Background(), args); err == nil {
		t.Fatal("expected failure on second edit")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "original\n" {
		t.Errorf("file should be untouched after failed batch, got %q", data)
	}
}

func TestShellExecuteCapturesOutput(t *testing.T) {
	tool := NewShellExecuteTool()
	args, _ := json.Marshal(ShellArgs{Command: "echo out; echo err >&2; exit 4"})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var r ShellResult
	if err := json.Unmarshal(result, &r); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.Stdout, "out") {
		t.Errorf("stdout = %q", r.Stdout)
	}
	if !strings.Contains(r.Stderr, "err") {
		t.Errorf("stderr = %q", r.Stderr)
	}
	if r.ExitCode != 4 {
		t.Errorf("exit code = %d, want 4", r.ExitCode)
	}
}

func TestShellExecuteWorkingDir(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellExecuteTool()
	args, _ := json.Marshal(ShellArgs{Command: "pwd", WorkingDir: dir})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var r ShellResult
	if err := json.Unmarshal(result, &r); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(r.Stdout) != dir {
		t.Errorf("pwd = %q, want %q", r.Stdout, dir)
	}
}

func TestSearchFileFindsByPattern(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"main.go", "util.go", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tool := NewSearchFileTool()
	args, _ := json.Marshal(SearchFileArgs{Pattern: "*.go", Path: dir})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	text := string(result)
	if !strings.Contains(text, "main.go") || !strings.Contains(text, "util.go") {
		t.Errorf("result = %s", text)
	}
	if strings.Contains(text, "readme.md") {
		t.Errorf("pattern should exclude readme.md: %s", text)
	}
}

func TestTodoRoundTrip(t *testing.T) {
	store := NewTodoStore()
	write := NewTodoWriteTool(store)
	read := NewTodoReadTool(store)

	args, _ := json.Marshal(TodoWriteArgs{Todos: []TodoItem{
		{Content: "write tests", Status: TodoInProgress},
		{Content: "ship", Status: TodoPending},
	}})
	if _, err := write.Execute(context.Background(), args); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := read.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(result)
	if !strings.Contains(text, "write tests") || !strings.Contains(text, "in_progress") {
		t.Errorf("result = %s", text)
	}
}

func TestTodoWriteRejectsBadStatus(t *testing.T) {
	write := NewTodoWriteTool(NewTodoStore())
	args, _ := json.Marshal(TodoWriteArgs{Todos: []TodoItem{{Content: "x", Status: "later"}}})
	if _, err := write.Execute(context.Background(), args); err == nil {
		t.Fatal("expected invalid status error")
	}
}
