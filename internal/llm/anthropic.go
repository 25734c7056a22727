package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicProvider implements Provider against the native messages API
// (x-api-key auth, anthropic-version header, /v1/messages endpoint).
type AnthropicProvider struct {
	client         *anthropic.Client
	model          string
	thinkingBudget int64
}

// parseModelThinking extracts a -thinking suffix from a model name.
// "claude-sonnet-4-thinking" -> ("claude-sonnet-4", 10000)
func parseModelThinking(model string) (string, int64) {
	if strings.HasSuffix(model, "-thinking") {
		return strings.TrimSuffix(model, "-thinking"), 10000
	}
	return model, 0
}

func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigError{Provider: "anthropic", Reason: "api_key or ANTHROPIC_API_KEY is required"}
	}
	actualModel, thinkingBudget := parseModelThinking(model)
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client:         &client,
		model:          actualModel,
		thinkingBudget: thinkingBudget,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	if p.thinkingBudget > 0 {
		return fmt.Sprintf("Anthropic (%s, thinking)", p.model)
	}
	return fmt.Sprintf("Anthropic (%s)", p.model)
}

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Thinking: p.thinkingBudget > 0}
}

// ListModels returns available models from Anthropic.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Created:     m.CreatedAt.Unix(),
		})
	}
	return models, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		// The engine already applies the configured history window; only
		// empty blocks are stripped here.
		system, messages := buildAnthropicMessages(DropEmptyMessages(req.Messages))
		if req.SystemPrompt != "" {
			system = req.SystemPrompt
		}
		accumulator := newToolCallAccumulator()
		model := chooseModel(req.Model, p.model)

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: 4096,
			Messages:  messages,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if len(req.Tools) > 0 {
			params.Tools = buildAnthropicTools(req.Tools)
		}
		if p.thinkingBudget > 0 {
			params.MaxTokens = 16000
			params.Thinking = anthropic.ThinkingConfigParamUnion{
				OfEnabled: &anthropic.ThinkingConfigEnabledParam{
					BudgetTokens: p.thinkingBudget,
				},
			}
		}

		usage := Usage{ModelName: model}
		toolEmitted := false
		stopReason := ""

		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						if err := emit(ctx, events, Event{Type: EventTextDelta, Text: delta.Text}); err != nil {
							return err
						}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						if err := emit(ctx, events, Event{Type: EventThoughtDelta, Text: delta.Thinking}); err != nil {
							return err
						}
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						accumulator.Append(variant.Index, delta.PartialJSON)
					}
				}
			case anthropic.ContentBlockStartEvent:
				switch block := variant.ContentBlock.AsAny().(type) {
				case anthropic.ThinkingBlock:
					if block.Thinking != "" {
						if err := emit(ctx, events, Event{Type: EventThoughtDelta, Text: block.Thinking}); err != nil {
							return err
						}
					}
				case anthropic.RedactedThinkingBlock:
					if err := emit(ctx, events, Event{Type: EventThoughtDelta, Text: redactedThoughtPlaceholder}); err != nil {
						return err
					}
				case anthropic.ToolUseBlock:
					accumulator.Start(variant.Index, ToolCall{
						ID:        block.ID,
						Name:      block.Name,
						Arguments: toolInputToRaw(block.Input),
					})
				}
			case anthropic.ContentBlockStopEvent:
				if toolCall, ok := accumulator.Finish(variant.Index); ok {
					if toolEmitted {
						slog.Warn("dropping surplus tool call in turn", "tool", toolCall.Name, "id", toolCall.ID)
						continue
					}
					toolEmitted = true
					if err := emit(ctx, events, Event{Type: EventToolCall, Tool: &toolCall}); err != nil {
						return err
					}
				}
			case anthropic.MessageDeltaEvent:
				usage.Add(Usage{
					PromptTokens:     int(variant.Usage.InputTokens),
					CompletionTokens: int(variant.Usage.OutputTokens),
				})
				if variant.Delta.StopReason != "" {
					stopReason = string(variant.Delta.StopReason)
				}
			}
		}
		if err := stream.Err(); err != nil {
			if strings.Contains(err.Error(), "429") {
				return &RateLimitError{Provider: "anthropic"}
			}
			return fmt.Errorf("anthropic streaming error: %w", err)
		}

		reason := mapStopReason(stopReason)
		if stopReason == "" {
			reason = FinishStop
			if toolEmitted {
				reason = FinishToolUse
			}
		}
		return emit(ctx, events, Event{Type: EventDone, FinishReason: reason, Use: &usage})
	}), nil
}

func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var systemParts []string
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.TextContent(); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser, RoleTool:
			blocks := buildAnthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			blocks := buildAnthropicBlocks(msg.Parts, true)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

func buildAnthropicBlocks(parts []Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartToolCall:
			if allowToolUse && part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, part.ToolCall.Arguments, part.ToolCall.Name))
			}
		case PartToolResult:
			if part.ToolResult != nil {
				block := anthropic.ToolResultBlockParam{
					ToolUseID: part.ToolResult.ID,
					IsError:   anthropic.Bool(part.ToolResult.IsError),
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: string(part.ToolResult.Result)},
					}},
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolResult: &block})
			}
		}
	}
	return blocks
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]any) []string {
	list, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toolInputToRaw(input any) json.RawMessage {
	if input == nil {
		return nil
	}
	if raw, ok := input.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	return data
}

// toolCallAccumulator assembles tool-use blocks whose argument JSON
// arrives in fragments.
type toolCallAccumulator struct {
	calls map[int64]*pendingToolCall
}

type pendingToolCall struct {
	call ToolCall
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int64]*pendingToolCall)}
}

func (a *toolCallAccumulator) Start(index int64, call ToolCall) {
	a.calls[index] = &pendingToolCall{call: call}
}

func (a *toolCallAccumulator) Append(index int64, fragment string) {
	if pending, ok := a.calls[index]; ok {
		pending.args.WriteString(fragment)
	}
}

func (a *toolCallAccumulator) Finish(index int64) (ToolCall, bool) {
	pending, ok := a.calls[index]
	if !ok {
		return ToolCall{}, false
	}
	delete(a.calls, index)
	call := pending.call
	if args := pending.args.String(); args != "" {
		call.Arguments = json.RawMessage(args)
	}
	if len(call.Arguments) == 0 {
		call.Arguments = json.RawMessage("{}")
	}
	return call, true
}
