package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/agent/docker"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/logger"
)

type fakeRegistry struct {
	mu     sync.Mutex
	agents map[string]*agent.Agent
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{agents: make(map[string]*agent.Agent)}
}

func (f *fakeRegistry) Register(_ context.Context, a *agent.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *a
	f.agents[a.ID] = &copied
	return nil
}

func (f *fakeRegistry) Get(_ context.Context, id string) (*agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, registry.ErrNotRegistered
	}
	copied := *a
	return &copied, nil
}

func (f *fakeRegistry) List(_ context.Context, _, _ int) ([]*agent.Agent, int, error) {
	return nil, 0, nil
}

func (f *fakeRegistry) Search(_ context.Context, _ string, _ int) ([]registry.SearchHit, error) {
	return nil, nil
}

func (f *fakeRegistry) Unregister(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.agents, id)
	return nil
}

func (f *fakeRegistry) Ping(_ context.Context) error { return nil }
func (f *fakeRegistry) Close() error                 { return nil }

type fakeRuntime struct {
	status   agent.Status
	spawnErr error
	spawned  []*agent.Agent
}

func (f *fakeRuntime) Spawn(_ context.Context, a *agent.Agent) (*agent.Container, error) {
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.spawned = append(f.spawned, a)
	return &agent.Container{AgentID: a.ID, ContainerName: agent.ContainerName(a.ID)}, nil
}

func (f *fakeRuntime) Status(_ context.Context, containerName string) (agent.Status, error) {
	if f.status == "" {
		return "", fmt.Errorf("%w: %s", docker.ErrContainerNotFound, containerName)
	}
	return f.status, nil
}

func testBackboneConfig() config.BackboneConfig {
	return config.BackboneConfig{
		Enabled:       true,
		ID:            "backbone",
		Name:          "backbone",
		Description:   "Routes messages to the best-suited agents",
		Image:         "a4s-backbone:latest",
		Version:       "0.1.0",
		ModelProvider: "google",
		ModelID:       "gemini-3-flash-preview",
		MCPToolFilter: "search_agents,send_a2a_message",
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func TestEnsureBackboneAgentRegistersAndSpawns(t *testing.T) {
	reg := newFakeRegistry()
	rt := &fakeRuntime{}

	err := ensureBackboneAgent(context.Background(), testBackboneConfig(), 8000, reg, rt, testLogger(t))
	require.NoError(t, err)

	a, err := reg.Get(context.Background(), "backbone")
	require.NoError(t, err)
	assert.Equal(t, agent.ModePermanent, a.Mode)
	assert.Equal(t, agent.DefaultURL("backbone", 8000), a.URL)
	require.NotNil(t, a.SpawnConfig)
	assert.Equal(t, "a4s-backbone:latest", a.SpawnConfig.Image)
	assert.Equal(t, "search_agents,send_a2a_message", a.SpawnConfig.MCPToolFilter)
	require.NotNil(t, a.SpawnConfig.Model)
	assert.Equal(t, "google", a.SpawnConfig.Model.Provider)

	require.Len(t, rt.spawned, 1)
	assert.Equal(t, "backbone", rt.spawned[0].ID)
}

func TestEnsureBackboneAgentSkipsSpawnWhenRunning(t *testing.T) {
	reg := newFakeRegistry()
	rt := &fakeRuntime{status: agent.StatusRunning}

	err := ensureBackboneAgent(context.Background(), testBackboneConfig(), 8000, reg, rt, testLogger(t))
	require.NoError(t, err)
	assert.Empty(t, rt.spawned)
}

func TestEnsureBackboneAgentPreservesCreatedAt(t *testing.T) {
	reg := newFakeRegistry()
	created := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Register(context.Background(), &agent.Agent{
		ID:        "backbone",
		Name:      "backbone",
		Mode:      agent.ModePermanent,
		CreatedAt: created,
	}))

	err := ensureBackboneAgent(context.Background(), testBackboneConfig(), 8000, reg, &fakeRuntime{status: agent.StatusRunning}, testLogger(t))
	require.NoError(t, err)

	a, err := reg.Get(context.Background(), "backbone")
	require.NoError(t, err)
	assert.Equal(t, created, a.CreatedAt)
	assert.Equal(t, "a4s-backbone:latest", a.SpawnConfig.Image)
}

func TestEnsureBackboneAgentSpawnFailure(t *testing.T) {
	reg := newFakeRegistry()
	rt := &fakeRuntime{spawnErr: errors.New("image pull failed")}

	err := ensureBackboneAgent(context.Background(), testBackboneConfig(), 8000, reg, rt, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to spawn backbone agent")

	// The record still lands in the registry so routing can fall back.
	_, err = reg.Get(context.Background(), "backbone")
	assert.NoError(t, err)
}
