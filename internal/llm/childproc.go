package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultChildProcessTimeout bounds a single child-process turn.
const DefaultChildProcessTimeout = 10 * time.Minute

// redactedThoughtPlaceholder stands in for reasoning the backend withheld.
const redactedThoughtPlaceholder = "[redacted]"

// ChildProcessConfig configures the CLI-backed provider.
type ChildProcessConfig struct {
	BinaryPath             string
	Model                  string
	ExtraArgs              []string
	AdditionalSystemPrompt string
	Timeout                time.Duration
	MCPConfigPath          string // Written by the MCP bridge; passed via --mcp-config
}

// ChildProcessProvider runs inference by spawning a CLI binary that emits
// newline-delimited JSON events on stdout. Tool calls reach the host
// either as native tool_use blocks or as XML elements inline in the text;
// both paths share the per-turn single-call gate.
type ChildProcessProvider struct {
	cfg ChildProcessConfig
}

func NewChildProcessProvider(cfg ChildProcessConfig) (*ChildProcessProvider, error) {
	if cfg.BinaryPath == "" {
		return nil, &ConfigError{Provider: "child-process", Reason: "binary_path is required"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultChildProcessTimeout
	}
	return &ChildProcessProvider{cfg: cfg}, nil
}

// SetMCPConfigPath points the child at a bridge config file so tool
// calls route back into this process. Call before the first Stream.
func (p *ChildProcessProvider) SetMCPConfigPath(path string) {
	p.cfg.MCPConfigPath = path
}

func (p *ChildProcessProvider) Name() string {
	if p.cfg.Model != "" {
		return fmt.Sprintf("child-process (%s)", p.cfg.Model)
	}
	return "child-process"
}

func (p *ChildProcessProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Thinking: true}
}

func (p *ChildProcessProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		extractor := NewXMLToolExtractor(req.Tools)

		args := p.buildArgs(req)
		prompt := buildConversationPrompt(req.Messages)

		cmd := exec.CommandContext(ctx, p.cfg.BinaryPath, args...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to get stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to get stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("failed to get stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", p.cfg.BinaryPath, err)
		}

		ring := newStderrRing(8 * 1024)
		var stderrWG sync.WaitGroup
		stderrWG.Add(1)
		go func() {
			defer stderrWG.Done()
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				ring.WriteLine(scanner.Text())
			}
		}()

		go func() {
			defer stdin.Close()
			io.WriteString(stdin, prompt)
		}()

		turn := newTurnDecoder(extractor, p.cfg.Model)
		framer := NewLineFramer(FrameNDJSON)
		buf := make([]byte, 32*1024)
		sawOutput := false

		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				frames, ferr := framer.Push(buf[:n])
				if len(frames) > 0 {
					sawOutput = true
				}
				for _, frame := range frames {
					if frame.Err != nil {
						if err := emit(ctx, events, Event{Type: EventError, Err: frame.Err}); err != nil {
							return p.finishCancelled(ctx, cmd, events, turn)
						}
						continue
					}
					for _, ev := range turn.decode(frame.Data) {
						if err := emit(ctx, events, ev); err != nil {
							return p.finishCancelled(ctx, cmd, events, turn)
						}
					}
				}
				if ferr != nil {
					cmd.Process.Kill()
					cmd.Wait()
					return fmt.Errorf("framing error from %s: %w", p.cfg.BinaryPath, ferr)
				}
			}
			if readErr != nil {
				if readErr != io.EOF && ctx.Err() == nil {
					cmd.Wait()
					return fmt.Errorf("error reading %s output: %w", p.cfg.BinaryPath, readErr)
				}
				break
			}
		}

		stderrWG.Wait()
		waitErr := cmd.Wait()

		if ctx.Err() != nil {
			return p.finishCancelled(ctx, cmd, events, turn)
		}

		if waitErr != nil {
			var exitErr *exec.ExitError
			detail := ring.String()
			if !sawOutput && errors.As(waitErr, &exitErr) {
				return fmt.Errorf("%s exited with code %d before producing output: %s",
					p.cfg.BinaryPath, exitErr.ExitCode(), detail)
			}
			return fmt.Errorf("%s failed: %w: %s", p.cfg.BinaryPath, waitErr, detail)
		}

		if !turn.doneEmitted {
			// The stream ended without a terminal record.
			return emit(ctx, events, Event{
				Type:         EventDone,
				FinishReason: FinishAbrupt,
				Use:          turn.usagePtr(),
			})
		}
		return nil
	}), nil
}

// finishCancelled kills the child and emits the terminal chunk for a
// cancelled or timed-out turn.
func (p *ChildProcessProvider) finishCancelled(ctx context.Context, cmd *exec.Cmd, events chan<- Event, turn *turnDecoder) error {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	cmd.Wait()
	if turn.doneEmitted {
		return nil
	}
	reason := FinishCancel
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = FinishTimeout
	}
	// Best effort without the context: the caller may already be gone.
	select {
	case events <- Event{Type: EventDone, FinishReason: reason, Use: turn.usagePtr()}:
	default:
	}
	return nil
}

func (p *ChildProcessProvider) buildArgs(req Request) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}
	model := p.cfg.Model
	if req.Model != "" {
		model = req.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	system := extractSystemPrompt(req.Messages, req.SystemPrompt)
	if p.cfg.AdditionalSystemPrompt != "" {
		if system != "" {
			system += "\n\n"
		}
		system += p.cfg.AdditionalSystemPrompt
	}
	if system != "" {
		args = append(args, "--system-prompt", system)
	}
	if p.cfg.MCPConfigPath != "" && len(req.Tools) > 0 {
		args = append(args, "--mcp-config", p.cfg.MCPConfigPath)
	}
	args = append(args, p.cfg.ExtraArgs...)
	return args
}

// extractSystemPrompt joins every system message; an explicit request
// override wins over message content.
func extractSystemPrompt(messages []Message, override string) string {
	if override != "" {
		return override
	}
	var parts []string
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if text := msg.TextContent(); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// buildConversationPrompt renders the history as alternating Human and
// Assistant blocks separated by blank lines. System messages travel on a
// dedicated flag and are skipped here.
func buildConversationPrompt(messages []Message) string {
	var blocks []string
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleUser:
			if text := msg.TextContent(); text != "" {
				blocks = append(blocks, "Human: "+text)
			}
		case RoleAssistant:
			var lines []string
			if text := msg.TextContent(); text != "" {
				lines = append(lines, text)
			}
			if call := msg.FirstToolCall(); call != nil {
				lines = append(lines, fmt.Sprintf("[called tool %s with %s]", call.Name, call.Arguments))
			}
			if len(lines) > 0 {
				blocks = append(blocks, "Assistant: "+strings.Join(lines, "\n"))
			}
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					blocks = append(blocks, fmt.Sprintf("Human: Tool result (%s): %s",
						part.ToolResult.Name, part.ToolResult.Result))
				}
			}
		}
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}

// turnDecoder maps NDJSON records from the child process onto events and
// enforces the single-tool-call gate for the turn.
type turnDecoder struct {
	extractor   *XMLToolExtractor
	usage       Usage
	toolEmitted bool
	doneEmitted bool
	paid        bool
}

func newTurnDecoder(extractor *XMLToolExtractor, model string) *turnDecoder {
	return &turnDecoder{extractor: extractor, usage: Usage{ModelName: model}}
}

func (d *turnDecoder) usagePtr() *Usage {
	u := d.usage
	u.PaidUsage = d.paid
	return &u
}

func (d *turnDecoder) decode(line []byte) []Event {
	if d.doneEmitted {
		return nil
	}
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return []Event{{Type: EventError, Err: fmt.Errorf("unparseable record: %w", err)}}
	}

	switch base.Type {
	case "system":
		var msg childSystemRecord
		if err := json.Unmarshal(line, &msg); err == nil && msg.Subtype == "init" {
			d.paid = msg.APIKeySource != "" && msg.APIKeySource != "none"
		}
		return nil

	case "assistant":
		var msg childAssistantRecord
		if err := json.Unmarshal(line, &msg); err != nil {
			return []Event{{Type: EventError, Err: fmt.Errorf("malformed assistant record: %w", err)}}
		}
		var out []Event
		for _, block := range msg.Message.Content {
			out = append(out, d.decodeBlock(block)...)
		}
		if msg.Message.Usage != nil {
			d.usage.Add(Usage{
				PromptTokens:     msg.Message.Usage.InputTokens,
				CompletionTokens: msg.Message.Usage.OutputTokens,
				CachedTokens:     msg.Message.Usage.CacheReadInputTokens,
			})
		}
		if msg.Message.StopReason != "" {
			out = append(out, d.finish(mapStopReason(msg.Message.StopReason)))
		}
		return out

	case "user":
		var msg childUserRecord
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil
		}
		var out []Event
		for _, block := range msg.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			out = append(out, Event{Type: EventToolResult, ToolResult: &ToolResult{
				ID:      block.ToolUseID,
				Result:  block.Content,
				IsError: block.IsError,
			}})
		}
		return out

	case "result":
		var msg childResultRecord
		if err := json.Unmarshal(line, &msg); err != nil {
			return []Event{{Type: EventError, Err: fmt.Errorf("malformed result record: %w", err)}}
		}
		if msg.IsError {
			errText := msg.Result
			if errText == "" {
				errText = msg.Subtype
			}
			return []Event{
				{Type: EventError, Err: errors.New(errText)},
				d.finish(FinishStop),
			}
		}
		if msg.Usage != nil {
			d.usage.Add(Usage{
				PromptTokens:     msg.Usage.InputTokens,
				CompletionTokens: msg.Usage.OutputTokens,
				CachedTokens:     msg.Usage.CacheReadInputTokens,
			})
		}
		reason := FinishStop
		if d.toolEmitted {
			reason = FinishToolUse
		}
		return []Event{d.finish(reason)}
	}

	// Unknown record types are tolerated; the protocol grows over time.
	return nil
}

func (d *turnDecoder) decodeBlock(block childContentBlock) []Event {
	switch block.Type {
	case "text":
		return d.decodeText(block.Text)
	case "thinking":
		if block.Thinking == "" {
			return nil
		}
		return []Event{{Type: EventThoughtDelta, Text: block.Thinking}}
	case "redacted_thinking":
		return []Event{{Type: EventThoughtDelta, Text: redactedThoughtPlaceholder}}
	case "tool_use":
		call := &ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input}
		if ev, ok := d.gateToolCall(call); ok {
			return []Event{ev}
		}
		return nil
	}
	return nil
}

// decodeText forwards a text block, routing any inline XML tool element
// through the same gate as native tool_use blocks. Text after the first
// extracted element stays visible.
func (d *turnDecoder) decodeText(text string) []Event {
	if text == "" {
		return nil
	}
	var out []Event
	if !d.toolEmitted && d.extractor != nil {
		before, after, call := d.extractor.Extract(text)
		if call != nil {
			if before != "" {
				out = append(out, Event{Type: EventTextDelta, Text: before})
			}
			if ev, ok := d.gateToolCall(call); ok {
				out = append(out, ev)
			}
			if after != "" {
				out = append(out, Event{Type: EventTextDelta, Text: after})
			}
			return out
		}
	}
	return []Event{{Type: EventTextDelta, Text: text}}
}

func (d *turnDecoder) gateToolCall(call *ToolCall) (Event, bool) {
	if d.toolEmitted {
		slog.Warn("dropping surplus tool call in turn", "tool", call.Name, "id", call.ID)
		return Event{}, false
	}
	d.toolEmitted = true
	return Event{Type: EventToolCall, Tool: call}, true
}

func (d *turnDecoder) finish(reason string) Event {
	d.doneEmitted = true
	return Event{Type: EventDone, FinishReason: reason, Use: d.usagePtr()}
}

func mapStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return FinishToolUse
	case "end_turn", "stop_sequence", "stop":
		return FinishStop
	default:
		return reason
	}
}

// stderrRing keeps the tail of the child's stderr for error reporting.
type stderrRing struct {
	mu    sync.Mutex
	limit int
	lines []string
	size  int
}

func newStderrRing(limit int) *stderrRing {
	return &stderrRing{limit: limit}
}

func (r *stderrRing) WriteLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	r.size += len(line) + 1
	for r.size > r.limit && len(r.lines) > 1 {
		r.size -= len(r.lines[0]) + 1
		r.lines = r.lines[1:]
	}
}

func (r *stderrRing) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.TrimSpace(strings.Join(r.lines, "\n"))
}

// NDJSON record shapes emitted by the child process.

type childSystemRecord struct {
	Type         string `json:"type"`
	Subtype      string `json:"subtype"`
	APIKeySource string `json:"apiKeySource"`
	SessionID    string `json:"session_id"`
	Model        string `json:"model"`
}

type childAssistantRecord struct {
	Type    string `json:"type"`
	Message struct {
		Content    []childContentBlock `json:"content"`
		StopReason string              `json:"stop_reason"`
		Usage      *childUsage         `json:"usage"`
	} `json:"message"`
}

type childUserRecord struct {
	Type    string `json:"type"`
	Message struct {
		Content []childContentBlock `json:"content"`
	} `json:"message"`
}

type childContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type childResultRecord struct {
	Type         string      `json:"type"`
	Subtype      string      `json:"subtype"`
	IsError      bool        `json:"is_error"`
	Result       string      `json:"result"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	Usage        *childUsage `json:"usage"`
}

type childUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens"`
}
