// Package agent defines the agent records shared by the registry, the
// container runtime, and the HTTP layer.
package agent

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Mode controls how the scheduler treats an agent's lifecycle.
type Mode string

const (
	// ModeServerless agents are spawned on demand and reaped when idle.
	ModeServerless Mode = "serverless"
	// ModePermanent agents are expected to be running already and are never
	// spawned or reaped by the control plane.
	ModePermanent Mode = "permanent"
)

// Status is the lifecycle state of an agent container.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Model selects the LLM backing a spawned agent.
type Model struct {
	Provider string `json:"provider"`
	ID       string `json:"model_id"`
}

// SpawnConfig describes how to start an agent container.
type SpawnConfig struct {
	Image         string            `json:"image"`
	Env           map[string]string `json:"env,omitempty"`
	Model         *Model            `json:"model,omitempty"`
	Instruction   string            `json:"instruction,omitempty"`
	Tools         []string          `json:"tools,omitempty"`
	MCPToolFilter string            `json:"mcp_tool_filter,omitempty"`
}

// Agent is the registry record for a registered agent. Status is advisory;
// the authoritative state comes from the runtime driver at read time.
type Agent struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Port        int          `json:"port"`
	OwnerID     string       `json:"owner_id,omitempty"`
	Status      Status       `json:"status"`
	Version     string       `json:"version"`
	Mode        Mode         `json:"mode"`
	SpawnConfig *SpawnConfig `json:"spawn_config,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Serverless reports whether the scheduler manages this agent's containers.
func (a *Agent) Serverless() bool {
	return a.Mode == ModeServerless
}

// Container is the runtime view of a managed agent container, reconstructed
// from container labels.
type Container struct {
	AgentID       string `json:"agent_id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Version       string `json:"version"`
	Status        Status `json:"status"`
	ContainerName string `json:"container_name"`
}

// containerPrefix namespaces every container the control plane manages.
const containerPrefix = "a4s-agent-"

var idCharset = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

var nonSlug = regexp.MustCompile(`[^a-z0-9-]+`)

// GenerateID derives a unique agent id from a display name: the lowercased
// name with non [a-z0-9-] runs collapsed to '-', plus a 5 character random
// suffix. Empty slugs fall back to "agent".
func GenerateID(name string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "agent"
	}
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = idCharset[rand.Intn(len(idCharset))]
	}
	return slug + "-" + string(suffix)
}

// ContainerName returns the container name for an agent id.
func ContainerName(agentID string) string {
	return containerPrefix + agentID
}

// DefaultURL returns the in-network base URL for a spawned agent.
func DefaultURL(agentID string, port int) string {
	return fmt.Sprintf("http://%s:%d", ContainerName(agentID), port)
}
