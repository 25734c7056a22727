package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fletch-dev/fletch/internal/llm"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server exposes the tool registry over line-delimited JSON-RPC on
// stdio. It is the entrypoint behind the internal sentinel flag.
type Server struct {
	registry llm.ToolRunner
}

func NewServer(registry llm.ToolRunner) *Server {
	return &Server{registry: registry}
}

// Run serves requests until in reaches EOF. A clean EOF returns nil;
// write failures are fatal.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if err := enc.Encode(rpcResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: codeParseError, Message: "parse error"},
			}); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			continue
		}

		resp, reply := s.dispatch(ctx, req)
		if !reply {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}

// dispatch handles one request. Notifications (no id) produce no reply.
func (s *Server) dispatch(ctx context.Context, req rpcRequest) (rpcResponse, bool) {
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = &rpcError{Code: codeInvalidRequest, Message: "invalid request"}
		return resp, !isNotification
	}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    DefaultServerName,
				"version": "1.0.0",
			},
		}

	case "initialized", "notifications/initialized":
		return rpcResponse{}, false

	case "ping":
		resp.Result = map[string]any{"message": "pong"}

	case "tools/list":
		resp.Result = map[string]any{"tools": s.listTools()}

	case "tools/call":
		result, rpcErr := s.callTool(ctx, req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}

	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	return resp, !isNotification
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (s *Server) listTools() []toolDescriptor {
	specs := s.registry.Specs()
	out := make([]toolDescriptor, 0, len(specs))
	for _, spec := range specs {
		schema := spec.Schema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, toolDescriptor{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: schema,
		})
	}
	return out
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var call callParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}
	if call.Name == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "tool name is required"}
	}

	name := ResolveToolName(call.Name)
	result, err := s.registry.Execute(ctx, name, call.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &rpcError{Code: codeInternalError, Message: ctx.Err().Error()}
		}
		slog.Warn("tool call failed", "tool", name, "error", err)
		return toolCallResult(err.Error(), true), nil
	}
	return toolCallResult(prettyJSON(result), false), nil
}

func toolCallResult(text string, isError bool) map[string]any {
	return map[string]any{
		"content": []map[string]any{{
			"type": "text",
			"text": text,
		}},
		"isError": isError,
	}
}

// prettyJSON re-indents a JSON payload for the model; anything that is
// not valid JSON passes through untouched.
func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}

// ResolveToolName strips the mcp__<server>__ prefix used when tools are
// namespaced per server.
func ResolveToolName(name string) string {
	if !strings.HasPrefix(name, "mcp__") {
		return name
	}
	rest := name[len("mcp__"):]
	if idx := strings.Index(rest, "__"); idx >= 0 {
		return rest[idx+2:]
	}
	return name
}
