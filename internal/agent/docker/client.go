// Package docker wraps the Docker SDK as the agent container runtime.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/logger"
)

// Container labels identifying agent containers managed by this control plane.
const (
	LabelManaged     = "a4s.managed"
	LabelAgentID     = "a4s.agent_id"
	LabelName        = "a4s.name"
	LabelDescription = "a4s.description"
	LabelVersion     = "a4s.version"
)

// passthroughEnvKeys are host environment variables forwarded into agent
// containers when set, unless the spawn config already provides them.
var passthroughEnvKeys = []string{
	"GOOGLE_API_KEY",
	"OPENAI_API_KEY",
	"OPENROUTER_API_KEY",
	"GITHUB_TOKEN",
	"LINEAR_API_KEY",
}

// stopTimeout is how long a container gets to shut down before SIGKILL.
const stopTimeout = 10 * time.Second

// Errors the HTTP layer maps to status codes.
var (
	ErrImageNotFound     = errors.New("docker: image not found")
	ErrContainerNotFound = errors.New("docker: container not found")
)

// Runtime drives agent containers through the Docker API.
type Runtime struct {
	cli        *client.Client
	logger     *logger.Logger
	config     config.DockerConfig
	apiURL     string
	gatewayURL string
}

// NewRuntime creates a Docker-backed agent runtime. apiURL is injected into
// every spawned container as A4S_API_URL; gatewayURL is the base agents are
// addressed through and falls back to apiURL when empty.
func NewRuntime(cfg config.DockerConfig, apiURL, gatewayURL string, log *logger.Logger) (*Runtime, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}

	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if gatewayURL == "" {
		gatewayURL = apiURL
	}

	log.Info("Docker runtime created",
		zap.String("host", cfg.Host),
		zap.String("network", cfg.Network),
	)

	return &Runtime{
		cli:        cli,
		logger:     log,
		config:     cfg,
		apiURL:     apiURL,
		gatewayURL: gatewayURL,
	}, nil
}

// Close closes the Docker client.
func (r *Runtime) Close() error {
	r.logger.Debug("Closing Docker runtime")
	return r.cli.Close()
}

// Ping checks if Docker is available.
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// EnsureNetwork creates the agent bridge network if it does not exist.
// Agents resolve each other by container name on this network.
func (r *Runtime) EnsureNetwork(ctx context.Context) error {
	name := r.config.Network
	_, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect network %s: %w", name, err)
	}

	r.logger.Info("Creating agent network", zap.String("network", name))
	if _, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	return nil
}

// Spawn starts a container for the agent and returns its runtime view. An
// exited container with the same name is replaced.
func (r *Runtime) Spawn(ctx context.Context, a *agent.Agent) (*agent.Container, error) {
	if a.SpawnConfig == nil {
		return nil, fmt.Errorf("docker: agent %s has no spawn config", a.ID)
	}

	containerName := agent.ContainerName(a.ID)
	r.logger.Info("Spawning agent container",
		zap.String("agent_id", a.ID),
		zap.String("container", containerName),
		zap.String("image", a.SpawnConfig.Image),
	)

	if err := r.ensureImage(ctx, a.SpawnConfig.Image); err != nil {
		return nil, err
	}
	if err := r.removeStale(ctx, containerName); err != nil {
		return nil, err
	}

	containerCfg := &container.Config{
		Image:  a.SpawnConfig.Image,
		Env:    r.buildEnv(a, containerName),
		Labels: buildLabels(a),
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(r.config.Network),
	}
	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			r.config.Network: {},
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, containerName)
	if err != nil {
		r.logger.Error("Failed to create agent container",
			zap.String("agent_id", a.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create container %s: %w", containerName, err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.logger.Error("Failed to start agent container",
			zap.String("agent_id", a.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to start container %s: %w", containerName, err)
	}

	r.logger.Info("Agent container started",
		zap.String("agent_id", a.ID),
		zap.String("container_id", resp.ID),
	)

	return &agent.Container{
		AgentID:       a.ID,
		Name:          a.Name,
		Description:   a.Description,
		Version:       a.Version,
		Status:        agent.StatusRunning,
		ContainerName: containerName,
	}, nil
}

// Stop stops and removes the named container.
func (r *Runtime) Stop(ctx context.Context, containerName string) error {
	r.logger.Info("Stopping agent container", zap.String("container", containerName))

	timeoutSeconds := int(stopTimeout.Seconds())
	err := r.cli.ContainerStop(ctx, containerName, container.StopOptions{Timeout: &timeoutSeconds})
	if err != nil {
		if client.IsErrNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("failed to stop container %s: %w", containerName, err)
	}

	err = r.cli.ContainerRemove(ctx, containerName, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", containerName, err)
	}

	r.logger.Info("Agent container stopped", zap.String("container", containerName))
	return nil
}

// Status returns the lifecycle state of the named container.
func (r *Runtime) Status(ctx context.Context, containerName string) (agent.Status, error) {
	inspect, err := r.cli.ContainerInspect(ctx, containerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("failed to inspect container %s: %w", containerName, err)
	}
	return mapState(inspect.State.Status), nil
}

// List returns every agent container managed by this control plane,
// including stopped ones.
func (r *Runtime) List(ctx context.Context) ([]agent.Container, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", LabelManaged+"=true")

	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]agent.Container, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		infos = append(infos, agent.Container{
			AgentID:       ctr.Labels[LabelAgentID],
			Name:          ctr.Labels[LabelName],
			Description:   ctr.Labels[LabelDescription],
			Version:       ctr.Labels[LabelVersion],
			Status:        mapState(ctr.State),
			ContainerName: name,
		})
	}

	r.logger.Debug("Listed agent containers", zap.Int("count", len(infos)))
	return infos, nil
}

// ensureImage checks for the image locally and pulls it when missing. A
// failed pull surfaces as ErrImageNotFound so callers can reject the spawn
// config rather than retry.
func (r *Runtime) ensureImage(ctx context.Context, imageName string) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("reference", imageName)
	images, err := r.cli.ImageList(ctx, image.ListOptions{Filters: filterArgs})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	r.logger.Info("Pulling image", zap.String("image", imageName))
	reader, err := r.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s", ErrImageNotFound, imageName)
	}
	defer func() { _ = reader.Close() }()

	// Read the output to ensure the image is fully pulled
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("%w: %s", ErrImageNotFound, imageName)
	}

	r.logger.Info("Image pulled successfully", zap.String("image", imageName))
	return nil
}

// removeStale force-removes a leftover container occupying the agent's name.
func (r *Runtime) removeStale(ctx context.Context, containerName string) error {
	_, err := r.cli.ContainerInspect(ctx, containerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect container %s: %w", containerName, err)
	}

	r.logger.Info("Replacing stale agent container", zap.String("container", containerName))
	err = r.cli.ContainerRemove(ctx, containerName, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove stale container %s: %w", containerName, err)
	}
	return nil
}

// buildEnv assembles the container environment: spawn config env first, then
// the standard agent variables (which win on conflict), then host
// pass-through keys that are not already set.
func (r *Runtime) buildEnv(a *agent.Agent, containerName string) []string {
	cfg := a.SpawnConfig

	env := make(map[string]string, len(cfg.Env)+12)
	for k, v := range cfg.Env {
		env[k] = v
	}

	env["AGENT_NAME"] = a.Name
	env["AGENT_ID"] = a.ID
	env["AGENT_HOST"] = containerName
	if cfg.Model != nil {
		env["AGENT_MODEL_PROVIDER"] = cfg.Model.Provider
		env["AGENT_MODEL_ID"] = cfg.Model.ID
	}
	if cfg.Instruction != "" {
		env["AGENT_INSTRUCTION"] = cfg.Instruction
	}
	if len(cfg.Tools) > 0 {
		env["AGENT_TOOLS"] = strings.Join(cfg.Tools, ",")
	}
	if cfg.MCPToolFilter != "" {
		env["AGENT_MCP_TOOL_FILTER"] = cfg.MCPToolFilter
	}
	env["A4S_API_URL"] = r.apiURL
	env["A4S_AGENT_URL"] = strings.TrimSuffix(r.gatewayURL, "/") + "/agents/" + a.ID + "/"

	for _, key := range passthroughEnvKeys {
		if _, ok := env[key]; ok {
			continue
		}
		if value := os.Getenv(key); value != "" {
			env[key] = value
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func buildLabels(a *agent.Agent) map[string]string {
	return map[string]string{
		LabelManaged:     "true",
		LabelAgentID:     a.ID,
		LabelName:        a.Name,
		LabelDescription: a.Description,
		LabelVersion:     a.Version,
	}
}

// mapState folds Docker container states into agent lifecycle states.
func mapState(state string) agent.Status {
	switch state {
	case "created", "restarting":
		return agent.StatusPending
	case "running", "paused":
		return agent.StatusRunning
	case "removing", "exited":
		return agent.StatusStopped
	case "dead":
		return agent.StatusError
	default:
		return agent.StatusError
	}
}
