package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fletch-dev/fletch/internal/llm"
	"github.com/fletch-dev/fletch/internal/mcp"
)

// Tool is a locally executed tool.
type Tool interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ExternalServer is a source of remotely executed tools, typically an
// MCP client. Its specs already carry namespaced names.
type ExternalServer interface {
	Name() string
	Tools() []llm.ToolSpec
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Registry holds local tools plus any connected external servers and
// routes execution between them. It satisfies llm.ToolRunner.
type Registry struct {
	mu       sync.RWMutex
	local    map[string]Tool
	external map[string]ExternalServer
}

func NewRegistry() *Registry {
	return &Registry{
		local:    make(map[string]Tool),
		external: make(map[string]ExternalServer),
	}
}

// NewDefaultRegistry builds a registry with the standard local catalog.
func NewDefaultRegistry(search SearchService) *Registry {
	r := NewRegistry()
	todos := NewTodoStore()
	r.Register(NewPingTool())
	r.Register(NewReadFileTool())
	r.Register(NewWriteFileTool())
	r.Register(NewEditFileTool())
	r.Register(NewMultiEditFileTool())
	r.Register(NewShellExecuteTool())
	r.Register(NewRipgrepTool())
	r.Register(NewSearchFileTool())
	r.Register(NewTodoReadTool(todos))
	r.Register(NewTodoWriteTool(todos))
	r.Register(NewWorkingDirTool())
	for _, t := range NewSearchTools(search) {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[tool.Spec().Name] = tool
}

// AddServer attaches an external server. Its tools appear in Specs
// under the mcp__<server>__<tool> namespace.
func (r *Registry) AddServer(server ExternalServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.external[server.Name()] = server
}

func (r *Registry) RemoveServer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.external, name)
}

// Specs returns all tool specs, local first, sorted by name within each
// group.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(r.local))
	for _, tool := range r.local {
		specs = append(specs, tool.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	names := make([]string, 0, len(r.external))
	for name := range r.external {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		specs = append(specs, r.external[name].Tools()...)
	}
	return specs
}

// Execute routes to a local tool, or to the owning external server when
// the name carries an mcp__<server>__ prefix.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if server, bare, ok := splitNamespacedName(name); ok {
		r.mu.RLock()
		ext, found := r.external[server]
		r.mu.RUnlock()
		if !found {
			return nil, fmt.Errorf("unknown MCP server: %s", server)
		}
		return ext.CallTool(ctx, bare, args)
	}

	r.mu.RLock()
	tool, found := r.local[name]
	r.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Execute(ctx, args)
}

// Start connects all attached bridge clients.
func StartClients(ctx context.Context, r *Registry, clients []*mcp.Client) error {
	for _, c := range clients {
		if err := c.Start(ctx); err != nil {
			return err
		}
		r.AddServer(c)
	}
	return nil
}

func splitNamespacedName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, "mcp__")
	if !found {
		return "", "", false
	}
	server, tool, found = strings.Cut(rest, "__")
	if !found || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}
