package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fletch-dev/fletch/internal/llm"
)

// TodoItem is one entry in the session task list.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// Valid todo statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// TodoStore holds the session task list shared by todo_read and
// todo_write.
type TodoStore struct {
	mu    sync.Mutex
	items []TodoItem
}

func NewTodoStore() *TodoStore {
	return &TodoStore{}
}

func (s *TodoStore) Get() []TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TodoItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *TodoStore) Set(items []TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]TodoItem, len(items))
	copy(s.items, items)
}

// TodoReadTool implements todo_read.
type TodoReadTool struct {
	store *TodoStore
}

func NewTodoReadTool(store *TodoStore) *TodoReadTool {
	return &TodoReadTool{store: store}
}

func (t *TodoReadTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        TodoReadToolName,
		Description: "Read the current session task list.",
		Schema: map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"additionalProperties": false,
		},
	}
}

func (t *TodoReadTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	items := t.store.Get()
	if len(items) == 0 {
		return textResult("task list is empty"), nil
	}
	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, item.Status, item.Content)
	}
	return textResult(sb.String()), nil
}

// TodoWriteTool implements todo_write.
type TodoWriteTool struct {
	store *TodoStore
}

func NewTodoWriteTool(store *TodoStore) *TodoWriteTool {
	return &TodoWriteTool{store: store}
}

// TodoWriteArgs are the arguments for todo_write.
type TodoWriteArgs struct {
	Todos []TodoItem `json:"todos"`
}

func (t *TodoWriteTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        TodoWriteToolName,
		Description: "Replace the session task list. Statuses: pending, in_progress, completed.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"todos": map[string]interface{}{
					"type":        "array",
					"description": "Full task list; replaces the stored list",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"content": map[string]interface{}{"type": "string"},
							"status": map[string]interface{}{
								"type": "string",
								"enum": []string{TodoPending, TodoInProgress, TodoCompleted},
							},
						},
						"required":             []string{"content", "status"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"todos"},
			"additionalProperties": false,
		},
	}
}

func (t *TodoWriteTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a TodoWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	for i, item := range a.Todos {
		if item.Content == "" {
			return nil, NewToolErrorf(ErrInvalidParams, "todo %d: content is required", i+1)
		}
		switch item.Status {
		case TodoPending, TodoInProgress, TodoCompleted:
		default:
			return nil, NewToolErrorf(ErrInvalidParams, "todo %d: invalid status %q", i+1, item.Status)
		}
	}
	t.store.Set(a.Todos)
	return textResult(fmt.Sprintf("stored %d task(s)", len(a.Todos))), nil
}
