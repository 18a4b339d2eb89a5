// Package scheduler keeps serverless agent containers alive while they are
// in use and reaps them once idle.
package scheduler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/agent/docker"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/events"
	"github.com/lunarr-ai/a4s/internal/events/bus"
)

// Common errors
var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)

// Readiness probe tuning. A freshly spawned container is polled until its
// HTTP endpoint answers with anything below 500.
const (
	readyProbeTimeout = 2 * time.Second
	readyInterval     = 500 * time.Millisecond
	readyDeadline     = 30 * time.Second
)

// Config tunes the scheduler and its reaper.
type Config struct {
	IdleTimeout    time.Duration // inactivity window before a serverless agent is stopped
	ReaperInterval time.Duration // how often the reaper scans for idle agents
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    5 * time.Minute,
		ReaperInterval: 30 * time.Second,
	}
}

// AgentSource resolves agents for spawn and reap decisions.
type AgentSource interface {
	Get(ctx context.Context, id string) (*agent.Agent, error)
}

// Runtime is the container-runtime surface the scheduler drives.
type Runtime interface {
	Spawn(ctx context.Context, a *agent.Agent) (*agent.Container, error)
	Stop(ctx context.Context, containerName string) error
	Status(ctx context.Context, containerName string) (agent.Status, error)
}

// Scheduler cold-starts serverless agents on demand and stops them after a
// period of inactivity. Concurrent cold starts for the same agent are
// coalesced so at most one spawn is in flight per id.
type Scheduler struct {
	agents  AgentSource
	runtime Runtime
	bus     bus.EventBus
	monitor *Monitor
	logger  *logger.Logger
	config  Config

	flight singleflight.Group
	probe  *http.Client

	// Readiness tuning, overridable in tests.
	readyInterval time.Duration
	readyDeadline time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ensureResult is the shared outcome of a coalesced cold start.
type ensureResult struct {
	agent       *agent.Agent
	coldStartMS *int64
}

// NewScheduler creates a scheduler. The event bus may be nil, in which case
// lifecycle events are not published.
func NewScheduler(agents AgentSource, runtime Runtime, eventBus bus.EventBus, log *logger.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		agents:        agents,
		runtime:       runtime,
		bus:           eventBus,
		monitor:       NewMonitor(),
		logger:        log.WithFields(zap.String("component", "scheduler")),
		config:        cfg,
		probe:         &http.Client{Timeout: readyProbeTimeout},
		readyInterval: readyInterval,
		readyDeadline: readyDeadline,
	}
}

// EnsureRunning guarantees the agent's container is up before returning. It
// returns the registry view of the agent and, when a cold start happened,
// the spawn latency in milliseconds.
//
// Permanent agents are assumed running and returned as-is. For serverless
// agents the container status is checked and a spawn is issued when needed;
// concurrent callers for the same id share a single spawn and observe the
// same result.
func (s *Scheduler) EnsureRunning(ctx context.Context, id string) (*agent.Agent, *int64, error) {
	a, err := s.agents.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !a.Serverless() {
		return a, nil, nil
	}

	v, err, _ := s.flight.Do(id, func() (interface{}, error) {
		return s.ensureServerless(ctx, a)
	})
	if err != nil {
		return nil, nil, err
	}

	res := v.(*ensureResult)
	return res.agent, res.coldStartMS, nil
}

// ensureServerless runs under the per-id flight group: status check, spawn
// and readiness wait happen at most once per agent at any moment.
func (s *Scheduler) ensureServerless(ctx context.Context, a *agent.Agent) (*ensureResult, error) {
	containerName := agent.ContainerName(a.ID)

	status, err := s.runtime.Status(ctx, containerName)
	if err == nil && status == agent.StatusRunning {
		return &ensureResult{agent: a}, nil
	}
	if err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
		s.logger.Warn("container status check failed, attempting spawn",
			zap.String("agent_id", a.ID),
			zap.Error(err))
	}

	s.logger.Info("cold starting agent",
		zap.String("agent_id", a.ID),
		zap.String("container", containerName))

	started := time.Now()
	if _, err := s.runtime.Spawn(ctx, a); err != nil {
		return nil, err
	}
	s.waitForReady(ctx, a.URL)
	elapsed := time.Since(started).Milliseconds()

	s.logger.Info("agent cold start complete",
		zap.String("agent_id", a.ID),
		zap.Int64("cold_start_ms", elapsed))
	s.publish(events.AgentSpawned, a.ID, map[string]interface{}{
		"agent_id":      a.ID,
		"cold_start_ms": elapsed,
	})

	return &ensureResult{agent: a, coldStartMS: &elapsed}, nil
}

// waitForReady polls the agent's base URL until it answers with any status
// below 500. Hitting the deadline is logged but not returned as an error;
// the caller's own request will surface the real failure.
func (s *Scheduler) waitForReady(ctx context.Context, url string) {
	deadline := time.Now().Add(s.readyDeadline)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			s.logger.Warn("invalid agent URL, skipping readiness wait", zap.String("url", url), zap.Error(err))
			return
		}

		resp, err := s.probe.Do(req)
		if err == nil {
			code := resp.StatusCode
			_ = resp.Body.Close()
			if code < 500 {
				s.logger.Debug("agent ready", zap.String("url", url), zap.Int("status", code))
				return
			}
		}

		if time.Now().After(deadline) {
			s.logger.Warn("agent did not become ready before deadline",
				zap.String("url", url),
				zap.Duration("deadline", s.readyDeadline))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.readyInterval):
		}
	}
}

// RecordActivity marks the agent as recently used so the reaper skips it.
func (s *Scheduler) RecordActivity(id string) {
	s.monitor.Record(id)
}

// Start launches the idle reaper loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("reaper starting",
		zap.Duration("idle_timeout", s.config.IdleTimeout),
		zap.Duration("reaper_interval", s.config.ReaperInterval))

	s.wg.Add(1)
	go s.reapLoop(ctx)

	return nil
}

// Stop halts the reaper loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("reaper stopped")
	return nil
}

// IsRunning reports whether the reaper loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) reapLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reaper stopping due to context cancellation")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reapIdle(ctx)
		}
	}
}

// reapIdle stops every agent that has been idle past the threshold.
func (s *Scheduler) reapIdle(ctx context.Context) {
	idle := s.monitor.Idle(s.config.IdleTimeout)
	for _, id := range idle {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		s.reapOne(ctx, id)
	}
}

// reapOne stops a single idle agent. A missing container still clears the
// activity entry; any other stop failure keeps the entry so the next cycle
// retries.
func (s *Scheduler) reapOne(ctx context.Context, id string) {
	a, err := s.agents.Get(ctx, id)
	switch {
	case err == nil && !a.Serverless():
		// Permanent agents are never reaped. Drop the stray entry.
		s.monitor.Remove(id)
		return
	case err != nil && !errors.Is(err, registry.ErrNotRegistered):
		s.logger.Warn("skipping idle agent, registry lookup failed",
			zap.String("agent_id", id),
			zap.Error(err))
		return
	}
	// An unregistered id falls through: its leftover container is still
	// ours to stop.

	containerName := agent.ContainerName(id)
	if err := s.runtime.Stop(ctx, containerName); err != nil {
		if !errors.Is(err, docker.ErrContainerNotFound) {
			s.logger.Error("failed to stop idle agent",
				zap.String("agent_id", id),
				zap.String("container", containerName),
				zap.Error(err))
			return
		}
	}

	s.monitor.Remove(id)
	s.logger.Info("reaped idle agent",
		zap.String("agent_id", id),
		zap.String("container", containerName))
	s.publish(events.AgentReaped, id, map[string]interface{}{"agent_id": id})
}

// publish emits a lifecycle event, tolerating a nil bus.
func (s *Scheduler) publish(eventType, agentID string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := bus.NewEvent(eventType, "scheduler", data)
	if err := s.bus.Publish(ctx, events.BuildAgentSubject(eventType, agentID), event); err != nil {
		s.logger.Warn("failed to publish lifecycle event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}
