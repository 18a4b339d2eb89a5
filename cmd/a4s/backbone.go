package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/agent/docker"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/logger"
)

// backboneRuntime is the container-runtime surface the bootstrap needs.
type backboneRuntime interface {
	Spawn(ctx context.Context, a *agent.Agent) (*agent.Container, error)
	Status(ctx context.Context, containerName string) (agent.Status, error)
}

// ensureBackboneAgent registers the backbone agent and makes sure its
// container is up so channel routing has somewhere to send prompts. The
// record is permanent: the scheduler never spawns or reaps it, so the
// container is started here. An existing registration is refreshed in place
// to pick up config changes across restarts.
func ensureBackboneAgent(
	ctx context.Context,
	cfg config.BackboneConfig,
	agentPort int,
	reg registry.Registry,
	rt backboneRuntime,
	log *logger.Logger,
) error {
	a := &agent.Agent{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		URL:         agent.DefaultURL(cfg.ID, agentPort),
		Port:        agentPort,
		Status:      agent.StatusRunning,
		Version:     cfg.Version,
		Mode:        agent.ModePermanent,
		SpawnConfig: &agent.SpawnConfig{
			Image:         cfg.Image,
			Model:         &agent.Model{Provider: cfg.ModelProvider, ID: cfg.ModelID},
			Instruction:   cfg.Instruction,
			MCPToolFilter: cfg.MCPToolFilter,
		},
		CreatedAt: time.Now().UTC(),
	}

	existing, err := reg.Get(ctx, cfg.ID)
	switch {
	case err == nil:
		a.CreatedAt = existing.CreatedAt
	case !errors.Is(err, registry.ErrNotRegistered):
		return fmt.Errorf("failed to look up backbone agent: %w", err)
	}

	if err := reg.Register(ctx, a); err != nil {
		return fmt.Errorf("failed to register backbone agent: %w", err)
	}

	containerName := agent.ContainerName(cfg.ID)
	status, err := rt.Status(ctx, containerName)
	if err == nil && status == agent.StatusRunning {
		log.Info("Backbone agent already running", zap.String("agent_id", cfg.ID))
		return nil
	}
	if err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
		log.Warn("backbone container status check failed, attempting spawn",
			zap.String("agent_id", cfg.ID),
			zap.Error(err))
	}

	if _, err := rt.Spawn(ctx, a); err != nil {
		return fmt.Errorf("failed to spawn backbone agent: %w", err)
	}
	log.Info("Backbone agent started",
		zap.String("agent_id", cfg.ID),
		zap.String("image", cfg.Image))
	return nil
}
