package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fletch-dev/fletch/internal/config"
	"github.com/fletch-dev/fletch/internal/debuglog"
	"github.com/fletch-dev/fletch/internal/llm"
	"github.com/fletch-dev/fletch/internal/mcp"
	"github.com/fletch-dev/fletch/internal/tools"
)

// session bundles everything a conversation command needs, plus the
// cleanup for the MCP bridge and any external servers.
type session struct {
	cfg      *config.Config
	engine   *llm.Engine
	registry *tools.Registry
	logger   *debuglog.Logger
	cleanup  []func()
}

func (s *session) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(flagProvider, flagModel)
	if flagDebug {
		cfg.Debug = true
	}
	return cfg, nil
}

// newSession wires config, tools, the MCP bridge and the provider into
// a ready engine.
func newSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var search tools.SearchService
	if cfg.Search.BaseURL != "" {
		search = tools.NewHTTPSearchService(cfg.Search.BaseURL, cfg.Search.APIKey)
	}
	s := &session{cfg: cfg, registry: tools.NewDefaultRegistry(search)}

	for name, serverCfg := range cfg.MCPServers {
		client := mcp.NewClient(name, mcp.ServerConfig{
			Command: serverCfg.Command,
			Args:    serverCfg.Args,
			Env:     serverCfg.Env,
		})
		if err := client.Start(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("start MCP server %s: %w", name, err)
		}
		s.registry.AddServer(client)
		s.cleanup = append(s.cleanup, func() { client.Stop() })
	}

	var provider llm.Provider
	if cfg.Provider == config.ProviderClaudeBin {
		// The child process reaches local tools through a config file
		// pointing back at this binary.
		bridge := mcp.NewBridge(mcp.DefaultServerName)
		path, err := bridge.Start()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.cleanup = append(s.cleanup, bridge.Stop)
		provider, err = llm.NewProviderWithBridge(cfg, path)
		if err != nil {
			s.Close()
			return nil, err
		}
	} else {
		provider, err = llm.NewProvider(cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	if cfg.Debug {
		logger, err := debuglog.New("", uuid.NewString()[:8])
		if err != nil {
			s.Close()
			return nil, err
		}
		s.logger = logger
		s.cleanup = append(s.cleanup, func() { logger.Close() })
		provider = llm.WrapWithLogging(provider, logger)
	}

	s.engine = llm.NewEngine(provider, s.registry, llm.EngineConfig{
		MaxSteps:   cfg.MaxReasoningSteps,
		MaxHistory: cfg.MaxHistory,
		Model:      cfg.Model,
		Debug:      cfg.Debug,
	})
	return s, nil
}
