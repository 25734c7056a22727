package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// InternalFlag is the sentinel argument that makes this binary run the
// stdio tool server instead of the normal CLI.
const InternalFlag = "--mcp-internal"

// DefaultServerName is the server key written into the bridge config.
const DefaultServerName = "fletch"

// Bridge makes the in-process tool registry reachable by a child-process
// provider that expects an external MCP server. It writes a config file
// declaring one server whose command is this same executable launched
// with the internal sentinel flag.
type Bridge struct {
	mu         sync.Mutex
	serverName string
	configPath string
}

func NewBridge(serverName string) *Bridge {
	if serverName == "" {
		serverName = DefaultServerName
	}
	return &Bridge{serverName: serverName}
}

// Start writes the config file on first use and returns its path. Later
// calls return the same path.
func (b *Bridge) Start() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.configPath != "" {
		return b.configPath, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable: %w", err)
	}

	config := map[string]any{
		"mcpServers": map[string]any{
			b.serverName: map[string]any{
				"command": self,
				"args":    []string{InternalFlag},
			},
		},
	}
	data, err := json.Marshal(config)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "fletch-mcp-*.json")
	if err != nil {
		return "", fmt.Errorf("create bridge config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	b.configPath = tmp.Name()
	return b.configPath, nil
}

// Stop deletes the config file. Safe to call repeatedly or before Start.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.configPath != "" {
		os.Remove(b.configPath)
		b.configPath = ""
	}
}
