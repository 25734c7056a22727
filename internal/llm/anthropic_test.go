package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestParseModelThinking(t *testing.T) {
	model, budget := parseModelThinking("claude-sonnet-4-5-thinking")
	if model != "claude-sonnet-4-5" || budget != 10000 {
		t.Errorf("got (%q, %d)", model, budget)
	}

	model, budget = parseModelThinking("claude-sonnet-4-5")
	if model != "claude-sonnet-4-5" || budget != 0 {
		t.Errorf("got (%q, %d)", model, budget)
	}
}

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicProvider("", "claude-sonnet-4-5")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestBuildAnthropicMessagesSplitsSystem(t *testing.T) {
	system, messages := buildAnthropicMessages([]Message{
		SystemText("be terse"),
		UserText("hello"),
		AssistantText("hi"),
	})
	if system != "be terse" {
		t.Errorf("system = %q", system)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
}

func TestBuildAnthropicMessagesKeepsLongHistory(t *testing.T) {
	long := []Message{SystemText("be terse")}
	for i := 0; i < 15; i++ {
		long = append(long, UserText(fmt.Sprintf("q%d", i)), AssistantText(fmt.Sprintf("a%d", i)))
	}
	_, messages := buildAnthropicMessages(DropEmptyMessages(long))
	if len(messages) != 30 {
		t.Errorf("got %d messages, want 30; history must not be re-truncated here", len(messages))
	}
}

func TestBuildAnthropicTools(t *testing.T) {
	tools := buildAnthropicTools([]ToolSpec{{
		Name:        "lookup",
		Description: "Look things up",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []any{"query"},
		},
	}})
	if len(tools) != 1 {
		t.Fatalf("got %d tools", len(tools))
	}
	tool := tools[0].OfTool
	if tool == nil {
		t.Fatal("expected plain tool variant")
	}
	if tool.Name != "lookup" {
		t.Errorf("name = %q", tool.Name)
	}
	if tool.InputSchema.Properties == nil {
		t.Error("properties not forwarded")
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "query" {
		t.Errorf("required = %v", tool.InputSchema.Required)
	}
}

func TestToolCallAccumulator(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(2, ToolCall{ID: "toolu_1", Name: "get_weather"})
	acc.Append(2, `{"city":`)
	acc.Append(2, `"Oslo"}`)

	call, ok := acc.Finish(2)
	if !ok {
		t.Fatal("Finish found no pending call")
	}
	if call.ID != "toolu_1" || call.Name != "get_weather" {
		t.Errorf("call = %+v", call)
	}
	if string(call.Arguments) != `{"city":"Oslo"}` {
		t.Errorf("arguments = %s", call.Arguments)
	}
	if _, ok := acc.Finish(2); ok {
		t.Error("Finish should consume the pending call")
	}
}

func TestToolCallAccumulatorEmptyArgs(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(0, ToolCall{ID: "toolu_2", Name: "ping"})

	call, ok := acc.Finish(0)
	if !ok {
		t.Fatal("Finish found no pending call")
	}
	if !json.Valid(call.Arguments) || string(call.Arguments) != "{}" {
		t.Errorf("arguments = %s", call.Arguments)
	}
}
