package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds a single chat-completions request.
const DefaultHTTPTimeout = 2 * time.Minute

// HTTPChatConfig configures an OpenAI-compatible chat-completions
// provider. Preferences and WebSearch are only consulted by backends that
// understand them.
type HTTPChatConfig struct {
	Name             string // Display name
	BaseURL          string
	APIKey           string
	Model            string
	Headers          map[string]string
	Timeout          time.Duration
	RateLimitDelay   time.Duration
	RateLimitCeiling time.Duration
	MaxHistory       int
	Preferences      map[string]any
	WebSearch        *WebSearchPlugin
	StrictSchemas    bool // Model supports structured outputs
}

// WebSearchPlugin is the inline web-search descriptor some routers accept.
type WebSearchPlugin struct {
	MaxResults   int
	SearchPrompt string
}

// OpenAICompatProvider implements Provider for OpenAI-compatible
// chat-completions APIs.
type OpenAICompatProvider struct {
	cfg     HTTPChatConfig
	client  *http.Client
	limiter *RateLimiter
}

func NewOpenAICompatProvider(cfg HTTPChatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, &ConfigError{Provider: cfg.Name, Reason: "base_url is required"}
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Name == "" {
		cfg.Name = "openai-compat"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	return &OpenAICompatProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RateLimitDelay, cfg.RateLimitCeiling),
	}, nil
}

func (p *OpenAICompatProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.cfg.Name, p.cfg.Model)
}

func (p *OpenAICompatProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, WebSearch: p.cfg.WebSearch != nil}
}

// OpenAI-compatible wire structures.

type oaiChatRequest struct {
	Model      string          `json:"model"`
	Messages   []oaiMessage    `json:"messages"`
	Stream     bool            `json:"stream"`
	Tools      []oaiTool       `json:"tools,omitempty"`
	ToolChoice any             `json:"tool_choice,omitempty"`
	Provider   map[string]any  `json:"provider,omitempty"`
	Plugins    []oaiPluginSpec `json:"plugins,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict,omitempty"`
}

type oaiToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type oaiPluginSpec struct {
	ID           string `json:"id"`
	MaxResults   int    `json:"max_results,omitempty"`
	SearchPrompt string `json:"search_prompt,omitempty"`
}

type oaiChatChunk struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []oaiChoice  `json:"choices"`
	Usage   *oaiUsage    `json:"usage,omitempty"`
	Error   *oaiAPIError `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int         `json:"index"`
	Delta        *oaiMessage `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type oaiModelsResponse struct {
	Data []oaiModel `json:"data"`
}

type oaiModel struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (p *OpenAICompatProvider) makeRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	for key, value := range p.cfg.Headers {
		if value != "" {
			httpReq.Header.Set(key, value)
		}
	}
	return p.client.Do(httpReq)
}

// ListModels returns the models the server advertises.
func (p *OpenAICompatProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := p.makeRequest(ctx, "GET", "/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%s API error (status %d): %s", p.cfg.Name, resp.StatusCode, string(body))
	}

	var modelsResp oaiModelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}
	models := make([]ModelInfo, len(modelsResp.Data))
	for i, m := range modelsResp.Data {
		models[i] = ModelInfo{ID: m.ID, Created: m.Created, OwnedBy: m.OwnedBy}
	}
	return models, nil
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages := buildCompatMessages(TruncateMessages(req.Messages, p.cfg.MaxHistory))
		if len(messages) == 0 {
			return fmt.Errorf("no messages provided")
		}

		chatReq := oaiChatRequest{
			Model:    chooseModel(req.Model, p.cfg.Model),
			Messages: messages,
			Stream:   true,
			Tools:    buildCompatTools(req.Tools, p.cfg.StrictSchemas),
			Provider: p.cfg.Preferences,
		}
		if len(chatReq.Tools) > 0 {
			chatReq.ToolChoice = "auto"
		}
		if p.cfg.WebSearch != nil {
			chatReq.Plugins = []oaiPluginSpec{{
				ID:           "web",
				MaxResults:   p.cfg.WebSearch.MaxResults,
				SearchPrompt: p.cfg.WebSearch.SearchPrompt,
			}}
		}

		body, err := json.Marshal(chatReq)
		if err != nil {
			return err
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := p.makeRequest(ctx, "POST", "/chat/completions", body)
		p.limiter.RecordRequest()
		if err != nil {
			return fmt.Errorf("%s API request failed: %w", p.cfg.Name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			p.limiter.OnRateLimited()
			return &RateLimitError{
				Provider:   p.cfg.Name,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		if resp.StatusCode != 200 {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			return fmt.Errorf("%s API error (status %d): %s", p.cfg.Name, resp.StatusCode, string(errBody))
		}
		p.limiter.OnSuccess()

		return decodeChatSSE(ctx, p.cfg.Name, resp.Body, events)
	}), nil
}

// decodeChatSSE drains an SSE chat-completions body and emits the
// corresponding events, ending with exactly one terminal event.
func decodeChatSSE(ctx context.Context, name string, body io.Reader, events chan<- Event) error {
	framer := NewLineFramer(FrameSSE)
	toolState := newCompatToolState()
	var usage *Usage
	finishReason := ""
	buf := make([]byte, 32*1024)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			frames, ferr := framer.Push(buf[:n])
			for _, frame := range frames {
				if frame.Done {
					goto drained
				}
				var chunk oaiChatChunk
				if err := json.Unmarshal(frame.Data, &chunk); err != nil {
					if err := emit(ctx, events, Event{Type: EventError,
						Err: fmt.Errorf("%s: malformed SSE payload: %w", name, err)}); err != nil {
						return err
					}
					continue
				}
				if chunk.Error != nil {
					return fmt.Errorf("%s API error: %s", name, chunk.Error.Message)
				}
				if chunk.Usage != nil {
					usage = &Usage{
						PromptTokens:     chunk.Usage.PromptTokens,
						CompletionTokens: chunk.Usage.CompletionTokens,
						TotalTokens:      chunk.Usage.TotalTokens,
						ModelName:        chunk.Model,
					}
				}
				for _, choice := range chunk.Choices {
					if choice.Delta != nil {
						if choice.Delta.Content != "" {
							if err := emit(ctx, events, Event{Type: EventTextDelta, Text: choice.Delta.Content}); err != nil {
								return err
							}
						}
						if len(choice.Delta.ToolCalls) > 0 {
							toolState.Add(choice.Delta.ToolCalls)
						}
					}
					if choice.FinishReason != "" {
						finishReason = choice.FinishReason
					}
				}
			}
			if ferr != nil {
				return fmt.Errorf("%s SSE framing: %w", name, ferr)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				return fmt.Errorf("%s streaming error: %w", name, readErr)
			}
			break
		}
	}

drained:
	calls := toolState.Calls()
	if len(calls) > 0 {
		if err := emit(ctx, events, Event{Type: EventToolCall, Tool: &calls[0]}); err != nil {
			return err
		}
		for _, extra := range calls[1:] {
			slog.Warn("dropping surplus tool call in turn", "tool", extra.Name, "id", extra.ID)
		}
		if finishReason == "" {
			finishReason = "tool_calls"
		}
	}
	return emit(ctx, events, Event{
		Type:         EventDone,
		FinishReason: mapCompatFinishReason(finishReason),
		Use:          usage,
	})
}

func mapCompatFinishReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return FinishToolUse
	case "stop", "length", "":
		return FinishStop
	default:
		return reason
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func chooseModel(requested, configured string) string {
	if requested != "" {
		return requested
	}
	return configured
}

// buildCompatMessages converts internal messages into the wire shape.
// Thoughts are folded into the text inside <thinking> markers; messages
// left with no content are dropped.
func buildCompatMessages(messages []Message) []oaiMessage {
	var result []oaiMessage
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			text, toolCalls := splitParts(msg.Parts)
			if msg.Role == RoleAssistant && len(toolCalls) > 0 {
				result = append(result, oaiMessage{
					Role:      "assistant",
					Content:   text,
					ToolCalls: toolCalls,
				})
				continue
			}
			if text == "" {
				continue
			}
			result = append(result, oaiMessage{Role: string(msg.Role), Content: text})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, oaiMessage{
					Role:       "tool",
					Content:    string(part.ToolResult.Result),
					ToolCallID: part.ToolResult.ID,
					Name:       part.ToolResult.Name,
				})
			}
		}
	}
	return result
}

func splitParts(parts []Part) (string, []oaiToolCall) {
	var textParts []string
	var toolCalls []oaiToolCall
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}
		case PartThought:
			if part.Text != "" {
				textParts = append(textParts, "<thinking>"+part.Text+"</thinking>")
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			call := oaiToolCall{ID: part.ToolCall.ID, Type: "function"}
			call.Function.Name = part.ToolCall.Name
			call.Function.Arguments = string(part.ToolCall.Arguments)
			toolCalls = append(toolCalls, call)
		}
	}
	return strings.Join(textParts, "\n"), toolCalls
}

func buildCompatTools(specs []ToolSpec, strict bool) []oaiTool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]oaiTool, 0, len(specs))
	for _, spec := range specs {
		params := spec.Schema
		if strict {
			params = StrictSchema(params)
		}
		tools = append(tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
				Strict:      strict,
			},
		})
	}
	return tools
}

// compatToolState accumulates incremental tool-call fragments keyed by
// choice index until the stream ends.
type compatToolState struct {
	byIndex map[int]*toolCallState
	order   []int
}

type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

func newCompatToolState() *compatToolState {
	return &compatToolState{byIndex: make(map[int]*toolCallState)}
}

func (s *compatToolState) Add(calls []oaiToolCall) {
	for _, call := range calls {
		idx := call.Index
		state, ok := s.byIndex[idx]
		if !ok {
			state = &toolCallState{}
			s.byIndex[idx] = state
			s.order = append(s.order, idx)
		}
		if call.ID != "" {
			state.id = call.ID
		}
		if call.Function.Name != "" {
			state.name = call.Function.Name
		}
		if call.Function.Arguments != "" {
			state.args.WriteString(call.Function.Arguments)
		}
	}
}

// Calls flushes the assembled tool calls. Argument fragments that never
// formed valid JSON are passed through as a quoted string so the tool
// layer can report a usable error.
func (s *compatToolState) Calls() []ToolCall {
	if len(s.order) == 0 {
		return nil
	}
	sort.Ints(s.order)
	calls := make([]ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		state := s.byIndex[idx]
		if state == nil {
			continue
		}
		args := state.args.String()
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			quoted, _ := json.Marshal(args)
			args = string(quoted)
		}
		calls = append(calls, ToolCall{
			ID:        state.id,
			Name:      state.name,
			Arguments: json.RawMessage(args),
		})
	}
	return calls
}
