package llm

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ModelLister is an optional interface for providers that can enumerate
// their available models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Capabilities describe optional provider features.
type Capabilities struct {
	ToolCalls bool
	WebSearch bool // Inline web-search plugin support
	Thinking  bool // Provider emits thought deltas
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []ToolSpec
	SystemPrompt string // System text for providers that take it out-of-band
	Debug        bool
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartThought    PartType = "thought"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts. A RoleTool message carries
// exactly one PartToolResult; an assistant message may mix text and thought
// parts with at most one PartToolCall.
type Message struct {
	ID    uuid.UUID
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string // For PartText and PartThought
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
	Category    string
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Result  json.RawMessage
	IsError bool
}

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventThoughtDelta EventType = "thought_delta"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventUsage        EventType = "usage"
	EventError        EventType = "error"
	EventRetry        EventType = "retry" // Retrying after a transient failure
	EventDone         EventType = "done"  // Terminal; exactly one per stream
)

// Event represents a streamed output update. Exactly one EventDone is
// delivered per stream; it carries the finish reason and final usage.
type Event struct {
	Type       EventType
	Text       string
	Tool       *ToolCall
	ToolResult *ToolResult
	Use        *Usage
	Err        error

	// EventDone only
	FinishReason string

	// EventRetry only
	RetryAttempt     int
	RetryMaxAttempts int
	RetryWaitSecs    float64
}

// Finish reasons carried by the terminal event.
const (
	FinishStop     = "stop"
	FinishToolUse  = "tool_use"
	FinishMaxSteps = "max_steps"
	FinishCancel   = "cancelled"
	FinishTimeout  = "timeout"
	FinishAbrupt   = "abrupt"
)

// Usage captures token accounting, accumulated across a turn.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CachedTokens     int
	ModelName        string
	PaidUsage        bool // False when the child provider runs on subscription auth
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	u.CachedTokens += other.CachedTokens
	if other.ModelName != "" {
		u.ModelName = other.ModelName
	}
	if other.PaidUsage {
		u.PaidUsage = true
	}
}

// ModelInfo represents a model available from a provider.
type ModelInfo struct {
	ID          string
	DisplayName string
	Created     int64
	OwnedBy     string
}

func SystemText(text string) Message {
	return Message{
		ID:    uuid.New(),
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		ID:    uuid.New(),
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		ID:    uuid.New(),
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func ToolResultMessage(id, name string, result json.RawMessage) Message {
	return Message{
		ID:   uuid.New(),
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:     id,
				Name:   name,
				Result: result,
			},
		}},
	}
}

// ToolErrorMessage creates a tool result message flagged as an error. The
// error text goes back to the model so it can recover instead of failing
// the whole turn.
func ToolErrorMessage(id, name, errorText string) Message {
	result, _ := json.Marshal(map[string]string{"error": errorText})
	return Message{
		ID:   uuid.New(),
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Result:  result,
				IsError: true,
			},
		}},
	}
}

// TextContent joins the plain text parts of a message.
func (m Message) TextContent() string {
	var out string
	for _, part := range m.Parts {
		if part.Type == PartText && part.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += part.Text
		}
	}
	return out
}

// FirstToolCall returns the first tool call part, or nil.
func (m Message) FirstToolCall() *ToolCall {
	for _, part := range m.Parts {
		if part.Type == PartToolCall && part.ToolCall != nil {
			return part.ToolCall
		}
	}
	return nil
}

// IsEmpty reports whether the message carries no text, tool call or result.
func (m Message) IsEmpty() bool {
	for _, part := range m.Parts {
		switch part.Type {
		case PartText, PartThought:
			if part.Text != "" {
				return false
			}
		case PartToolCall:
			if part.ToolCall != nil {
				return false
			}
		case PartToolResult:
			if part.ToolResult != nil {
				return false
			}
		}
	}
	return true
}
