package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func sseBody(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString("data: " + p + "\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return sb.String()
}

func newCompatProvider(t *testing.T, url string, mutate func(*HTTPChatConfig)) *OpenAICompatProvider {
	t.Helper()
	cfg := HTTPChatConfig{
		Name:             "test",
		BaseURL:          url,
		APIKey:           "sk-test",
		Model:            "test-model",
		RateLimitDelay:   time.Millisecond,
		RateLimitCeiling: 50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewOpenAICompatProvider(cfg)
	if err != nil {
		t.Fatalf("NewOpenAICompatProvider: %v", err)
	}
	return p
}

func TestCompatStreamText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"id":"c1","model":"test-model","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
			`{"id":"c1","model":"test-model","choices":[{"index":0,"delta":{"content":" world"}}]}`,
			`{"id":"c1","model":"test-model","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
		))
	}))
	defer server.Close()

	p := newCompatProvider(t, server.URL, nil)
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drainStream(t, stream)

	var text string
	var dones int
	var done Event
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text += ev.Text
		case EventDone:
			dones++
			done = ev
		}
	}
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}
	if dones != 1 {
		t.Fatalf("got %d terminal events, want 1", dones)
	}
	if done.FinishReason != FinishStop {
		t.Errorf("finish reason = %q", done.FinishReason)
	}
	if done.Use == nil || done.Use.TotalTokens != 9 {
		t.Errorf("usage = %+v", done.Use)
	}
}

func TestCompatToolFragmentAssembly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Oslo\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		))
	}))
	defer server.Close()

	p := newCompatProvider(t, server.URL, nil)
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("weather?")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drainStream(t, stream)

	var call *ToolCall
	var done Event
	for _, ev := range events {
		switch ev.Type {
		case EventToolCall:
			if call != nil {
				t.Fatal("more than one tool call emitted")
			}
			call = ev.Tool
		case EventDone:
			done = ev
		}
	}
	if call == nil {
		t.Fatal("no tool call emitted")
	}
	if call.ID != "call_1" || call.Name != "get_weather" {
		t.Errorf("call = %+v", call)
	}
	if string(call.Arguments) != `{"city":"Oslo"}` {
		t.Errorf("arguments = %s", call.Arguments)
	}
	if done.FinishReason != FinishToolUse {
		t.Errorf("finish reason = %q", done.FinishReason)
	}
}

func TestCompatSurplusToolCallsDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"first","arguments":"{}"}},{"index":1,"id":"call_b","function":{"name":"second","arguments":"{}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		))
	}))
	defer server.Close()

	p := newCompatProvider(t, server.URL, nil)
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("go")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drainStream(t, stream)

	var calls []string
	for _, ev := range events {
		if ev.Type == EventToolCall {
			calls = append(calls, ev.Tool.Name)
		}
	}
	if len(calls) != 1 || calls[0] != "first" {
		t.Errorf("emitted calls = %v, want only the first", calls)
	}
}

func TestCompatRequestShape(t *testing.T) {
	var captured oaiChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(`{"choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := newCompatProvider(t, server.URL, func(cfg *HTTPChatConfig) {
		cfg.StrictSchemas = true
		cfg.WebSearch = &WebSearchPlugin{MaxResults: 3, SearchPrompt: "cite sources"}
		cfg.Preferences = map[string]any{"order": []string{"anthropic"}}
	})
	stream, err := p.Stream(context.Background(), Request{
		Messages: []Message{UserText("hi")},
		Tools: []ToolSpec{{
			Name:        "lookup",
			Description: "Look things up",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer"},
				},
				"required": []any{"query"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	drainStream(t, stream)

	if captured.ToolChoice != "auto" {
		t.Errorf("tool_choice = %v", captured.ToolChoice)
	}
	if len(captured.Plugins) != 1 {
		t.Fatalf("plugins = %+v", captured.Plugins)
	}
	plugin := captured.Plugins[0]
	if plugin.ID != "web" || plugin.MaxResults != 3 || plugin.SearchPrompt != "cite sources" {
		t.Errorf("plugin = %+v", plugin)
	}
	if captured.Provider == nil {
		t.Error("provider preferences not forwarded")
	}
	if len(captured.Tools) != 1 {
		t.Fatalf("tools = %+v", captured.Tools)
	}
	fn := captured.Tools[0].Function
	if !fn.Strict {
		t.Error("strict flag not set")
	}
	if fn.Parameters["additionalProperties"] != false {
		t.Errorf("schema not rewritten for strict mode: %v", fn.Parameters)
	}
	props := fn.Parameters["properties"].(map[string]any)
	limit := props["limit"].(map[string]any)
	types, ok := limit["type"].([]any)
	if !ok || len(types) != 2 {
		t.Errorf("non-required property should allow null, got %v", limit["type"])
	}
	query := props["query"].(map[string]any)
	if _, isList := query["type"].([]any); isList {
		t.Errorf("required property must keep its type, got %v", query["type"])
	}
}

func TestCompatRateLimitThenRecovery(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(`{"choices":[{"index":0,"delta":{"content":"recovered"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	inner := newCompatProvider(t, server.URL, func(cfg *HTTPChatConfig) {
		cfg.RateLimitDelay = 5 * time.Millisecond
		cfg.RateLimitCeiling = 100 * time.Millisecond
	})
	p := WrapWithRetry(inner, RetryConfig{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond})

	start := time.Now()
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drainStream(t, stream)
	elapsed := time.Since(start)

	if got := requests.Load(); got != 3 {
		t.Fatalf("server saw %d requests, want 3", got)
	}
	// The limiter spaces attempt 2 by the floor and attempt 3 by twice
	// the floor after consecutive 429s.
	if elapsed < 15*time.Millisecond {
		t.Errorf("elapsed = %v, want at least the doubled spacing", elapsed)
	}

	var text string
	var retries, dones int
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text += ev.Text
		case EventRetry:
			retries++
		case EventDone:
			dones++
		}
	}
	if text != "recovered" {
		t.Errorf("text = %q", text)
	}
	if retries != 2 {
		t.Errorf("retry events = %d, want 2", retries)
	}
	if dones != 1 {
		t.Errorf("terminal events = %d, want 1", dones)
	}
}

func TestCompatRateLimitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newCompatProvider(t, server.URL, nil)
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	_, recvErr := stream.Recv()
	rle, ok := recvErr.(*RateLimitError)
	if !ok {
		t.Fatalf("err = %v, want *RateLimitError", recvErr)
	}
	if rle.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v", rle.RetryAfter)
	}
}

func TestCompatServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream broke")
	}))
	defer server.Close()

	p := newCompatProvider(t, server.URL, nil)
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	_, recvErr := stream.Recv()
	if recvErr == nil || !strings.Contains(recvErr.Error(), "502") {
		t.Errorf("err = %v", recvErr)
	}
}

func TestCompatEmptyMessagesRejected(t *testing.T) {
	p := newCompatProvider(t, "http://localhost:1", nil)
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{
		{Role: RoleUser, Parts: []Part{{Type: PartText, Text: ""}}},
	}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	_, recvErr := stream.Recv()
	if recvErr == nil || !strings.Contains(recvErr.Error(), "no messages") {
		t.Errorf("err = %v", recvErr)
	}
}

func TestCompatListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"m-1","created":100,"owned_by":"acme"},{"id":"m-2"}]}`)
	}))
	defer server.Close()

	p := newCompatProvider(t, server.URL, nil)
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0].ID != "m-1" || models[0].OwnedBy != "acme" {
		t.Errorf("models = %+v", models)
	}
}
