package main

import (
	"context"
	"fmt"

	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/mcpserver"
)

// provideMcpServer starts the embedded MCP server if enabled. The tools it
// exposes call back into this process's own REST API. Returns the SSE
// endpoint URL and a cleanup function.
func provideMcpServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (string, func() error, error) {
	if !cfg.MCP.Enabled {
		return "", nil, nil
	}

	mcpCfg := mcpserver.Config{
		Port:        cfg.MCP.Port,
		APIBaseURL:  fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		RequesterID: cfg.MCP.RequesterID,
	}

	srv, cleanup, err := mcpserver.Provide(ctx, mcpCfg, log)
	if err != nil {
		return "", nil, fmt.Errorf("failed to start MCP server: %w", err)
	}

	return srv.SSEEndpoint(), cleanup, nil
}
