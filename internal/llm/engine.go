package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxSteps bounds the number of reasoning steps in one user turn.
const DefaultMaxSteps = 16

// ToolRunner is the engine's view of the external tool registry. Tools
// are opaque named functions producing JSON.
type ToolRunner interface {
	Specs() []ToolSpec
	Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// EngineConfig tunes the reasoning loop.
type EngineConfig struct {
	MaxSteps   int
	MaxHistory int
	Model      string
	Debug      bool
}

// Engine drives the reasoning loop for one conversation: it streams the
// model, dispatches at most one tool call per model turn, feeds the
// result back in, and repeats until the model stops or the step bound is
// hit. User turns on the same conversation are serialised; every stream
// handed to the caller terminates with exactly one done event.
type Engine struct {
	provider Provider
	tools    ToolRunner
	cfg      EngineConfig
	history  *History

	// turnMu is the conversation mutex. It is held for the whole user
	// turn so concurrent sends observe strict ordering.
	turnMu sync.Mutex
}

func NewEngine(provider Provider, tools ToolRunner, cfg EngineConfig) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	return &Engine{
		provider: provider,
		tools:    tools,
		cfg:      cfg,
		history:  NewHistory(),
	}
}

// History exposes the conversation's stored messages.
func (e *Engine) History() *History {
	return e.history
}

// turnState tracks one in-flight model turn.
type turnState struct {
	usage       Usage
	stepIndex   int
	toolEmitted bool
}

// Send appends a user message and returns the stream of chunks for the
// whole reasoning loop it triggers.
func (e *Engine) Send(ctx context.Context, text string) Stream {
	return e.run(ctx, UserText(text))
}

// SendMessage is Send for callers that build their own message.
func (e *Engine) SendMessage(ctx context.Context, msg Message) Stream {
	return e.run(ctx, msg)
}

func (e *Engine) run(ctx context.Context, userMsg Message) Stream {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		e.turnMu.Lock()
		defer e.turnMu.Unlock()

		e.history.Append(userMsg)

		turn := &turnState{usage: Usage{ModelName: e.cfg.Model}}
		for {
			if turn.stepIndex >= e.cfg.MaxSteps {
				return emit(ctx, events, Event{
					Type:         EventDone,
					FinishReason: FinishMaxSteps,
					Use:          &turn.usage,
				})
			}

			outcome, err := e.runModelStep(ctx, events, turn)
			if err != nil {
				return e.finishFailed(ctx, events, turn, err)
			}
			if outcome.call == nil {
				// Terminal model reply.
				if asst := buildAssistantMessage(outcome); !asst.IsEmpty() {
					e.history.Append(asst)
				}
				return emit(ctx, events, Event{
					Type:         EventDone,
					FinishReason: outcome.finishReason,
					Use:          &turn.usage,
				})
			}

			e.history.Append(buildAssistantMessage(outcome))
			if err := e.dispatchTool(ctx, events, outcome.call); err != nil {
				return e.finishFailed(ctx, events, turn, err)
			}
			turn.stepIndex++
			turn.toolEmitted = false
		}
	})
}

// stepOutcome is what one drained provider stream produced.
type stepOutcome struct {
	text         string
	thought      string
	call         *ToolCall
	finishReason string
}

// runModelStep streams one provider request and forwards chunks to the
// caller. The provider's terminal event is swallowed when a tool call
// will keep the loop going; only the last step's finish reason reaches
// the caller.
func (e *Engine) runModelStep(ctx context.Context, events chan<- Event, turn *turnState) (*stepOutcome, error) {
	req := Request{
		Model:    e.cfg.Model,
		Messages: e.history.TruncatedView(e.cfg.MaxHistory),
		Debug:    e.cfg.Debug,
	}
	if e.tools != nil {
		req.Tools = e.tools.Specs()
	}

	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	outcome := &stepOutcome{}
	sawDone := false

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch event.Type {
		case EventTextDelta:
			outcome.text += event.Text
			if err := emit(ctx, events, event); err != nil {
				return nil, err
			}
		case EventThoughtDelta:
			outcome.thought += event.Text
			if err := emit(ctx, events, event); err != nil {
				return nil, err
			}
		case EventToolCall:
			if turn.toolEmitted {
				slog.Warn("dropping surplus tool call in turn", "tool", event.Tool.Name, "id", event.Tool.ID)
				continue
			}
			turn.toolEmitted = true
			call := *event.Tool
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()[:8]
			}
			outcome.call = &call
			if err := emit(ctx, events, Event{Type: EventToolCall, Tool: &call}); err != nil {
				return nil, err
			}
		case EventUsage:
			if event.Use != nil {
				turn.usage.Add(*event.Use)
				if err := emit(ctx, events, Event{Type: EventUsage, Use: &turn.usage}); err != nil {
					return nil, err
				}
			}
		case EventDone:
			sawDone = true
			if event.Use != nil {
				turn.usage.Add(*event.Use)
			}
			outcome.finishReason = event.FinishReason
		case EventError, EventRetry:
			if err := emit(ctx, events, event); err != nil {
				return nil, err
			}
		}
	}

	if !sawDone {
		outcome.finishReason = FinishAbrupt
	}
	if outcome.finishReason == "" {
		outcome.finishReason = FinishStop
	}
	if outcome.call != nil {
		outcome.finishReason = FinishToolUse
	}
	return outcome, nil
}

// dispatchTool executes the captured call, forwards the result chunk and
// records the tool message. Tool failures are not fatal: the error goes
// back to the model as an error-flagged result.
func (e *Engine) dispatchTool(ctx context.Context, events chan<- Event, call *ToolCall) error {
	var resultMsg Message
	var result *ToolResult

	if e.tools == nil {
		resultMsg = ToolErrorMessage(call.ID, call.Name, "no tool registry configured")
	} else {
		out, err := e.tools.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			resultMsg = ToolErrorMessage(call.ID, call.Name, err.Error())
		} else {
			resultMsg = ToolResultMessage(call.ID, call.Name, out)
		}
	}
	result = resultMsg.Parts[0].ToolResult

	if err := emit(ctx, events, Event{Type: EventToolResult, ToolResult: result}); err != nil {
		return err
	}
	e.history.Append(resultMsg)
	return nil
}

// finishFailed terminates the caller-visible stream after an error: an
// error chunk followed by the mandatory terminal chunk.
func (e *Engine) finishFailed(ctx context.Context, events chan<- Event, turn *turnState, cause error) error {
	reason := FinishAbrupt
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		reason = FinishTimeout
	case errors.Is(cause, context.Canceled):
		reason = FinishCancel
	}

	if ctx.Err() != nil {
		// The caller is gone; deliver the terminal chunk if anyone is
		// still listening, but do not block.
		select {
		case events <- Event{Type: EventDone, FinishReason: reason, Use: &turn.usage}:
		default:
		}
		return nil
	}

	if err := emit(ctx, events, Event{Type: EventError, Err: cause}); err != nil {
		return nil
	}
	return emit(ctx, events, Event{Type: EventDone, FinishReason: reason, Use: &turn.usage})
}

func buildAssistantMessage(outcome *stepOutcome) Message {
	msg := Message{ID: uuid.New(), Role: RoleAssistant}
	if outcome.thought != "" {
		msg.Parts = append(msg.Parts, Part{Type: PartThought, Text: outcome.thought})
	}
	if outcome.text != "" {
		msg.Parts = append(msg.Parts, Part{Type: PartText, Text: outcome.text})
	}
	if outcome.call != nil {
		msg.Parts = append(msg.Parts, Part{Type: PartToolCall, ToolCall: outcome.call})
	}
	return msg
}

// GenerateResult is the non-streaming reply shape.
type GenerateResult struct {
	Message   Message
	ToolCalls []ToolCall
	Usage     Usage
}

// Generate runs a full reasoning loop and assembles the streamed output
// into a single message.
func (e *Engine) Generate(ctx context.Context, text string) (*GenerateResult, error) {
	stream := e.Send(ctx, text)
	defer stream.Close()

	res := &GenerateResult{Message: Message{ID: uuid.New(), Role: RoleAssistant}}
	var textBuf, thoughtBuf string
	var streamErr error

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch event.Type {
		case EventTextDelta:
			textBuf += event.Text
		case EventThoughtDelta:
			thoughtBuf += event.Text
		case EventToolCall:
			res.ToolCalls = append(res.ToolCalls, *event.Tool)
		case EventError:
			streamErr = event.Err
		case EventDone:
			if event.Use != nil {
				res.Usage = *event.Use
			}
			if event.FinishReason == FinishAbrupt && streamErr != nil {
				return nil, fmt.Errorf("generation failed: %w", streamErr)
			}
		}
	}

	if thoughtBuf != "" {
		res.Message.Parts = append(res.Message.Parts, Part{Type: PartThought, Text: thoughtBuf})
	}
	res.Message.Parts = append(res.Message.Parts, Part{Type: PartText, Text: textBuf})
	return res, nil
}
