// Package debuglog records provider traffic to JSONL files for
// offline inspection.
package debuglog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fletch-dev/fletch/internal/llm"
)

// Logger appends request and event records for one session to a JSONL
// file. Safe for concurrent use.
type Logger struct {
	sessionID string
	path      string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

type entry struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`

	Provider string          `json:"provider,omitempty"`
	Model    string          `json:"model,omitempty"`
	Step     int             `json:"step,omitempty"`
	Messages []entryMessage  `json:"messages,omitempty"`
	Tools    []string        `json:"tools,omitempty"`
	Event    string          `json:"event,omitempty"`
	Text     string          `json:"text,omitempty"`
	Tool     string          `json:"tool,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Finish   string          `json:"finish_reason,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type entryMessage struct {
	Role  string `json:"role"`
	Chars int    `json:"chars"`
	Tool  string `json:"tool,omitempty"`
}

// New opens a session log under dir, creating it if needed. An empty
// dir falls back to the user cache directory.
func New(dir, sessionID string) (*Logger, error) {
	if dir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(cache, "fletch", "debug")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug log dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	return &Logger{
		sessionID: sessionID,
		path:      path,
		file:      file,
		writer:    bufio.NewWriter(file),
	}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

// LogRequest records an outgoing provider request.
func (l *Logger) LogRequest(provider string, step int, req llm.Request) {
	e := entry{
		Type:     "request",
		Provider: provider,
		Model:    req.Model,
		Step:     step,
	}
	for _, msg := range req.Messages {
		em := entryMessage{Role: string(msg.Role), Chars: len(msg.TextContent())}
		if call := msg.FirstToolCall(); call != nil {
			em.Tool = call.Name
		}
		e.Messages = append(e.Messages, em)
	}
	for _, tool := range req.Tools {
		e.Tools = append(e.Tools, tool.Name)
	}
	l.write(e)
}

// LogEvent records one streamed event.
func (l *Logger) LogEvent(ev llm.Event) {
	e := entry{
		Type:   "event",
		Event:  string(ev.Type),
		Finish: ev.FinishReason,
	}
	switch ev.Type {
	case llm.EventTextDelta, llm.EventThoughtDelta:
		e.Text = ev.Text
	case llm.EventToolCall:
		if ev.Tool != nil {
			e.Tool = ev.Tool.Name
			e.Args = ev.Tool.Arguments
		}
	case llm.EventToolResult:
		if ev.ToolResult != nil {
			e.Tool = ev.ToolResult.Name
		}
	case llm.EventError:
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
	}
	l.write(e)
}

func (l *Logger) write(e entry) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.SessionID = l.sessionID

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.WriteByte('\n')
	l.writer.Flush()
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.writer.Flush()
	return l.file.Close()
}
