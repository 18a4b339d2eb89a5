package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarr-ai/a4s/internal/common/config"
)

func TestProvideMcpServerDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.MCP.Enabled = false

	endpoint, cleanup, err := provideMcpServer(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)
	assert.Empty(t, endpoint)
	assert.Nil(t, cleanup)
}

func TestProvideMcpServerEnabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.MCP.Enabled = true
	cfg.MCP.Port = 0 // ephemeral
	cfg.Server.Port = 8000

	endpoint, cleanup, err := provideMcpServer(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	assert.Contains(t, endpoint, "/sse")
	require.NoError(t, cleanup())
}
