// Package events provides event types and utilities for the A4S event system.
package events

// Event types for agent lifecycle
const (
	AgentRegistered   = "agent.registered"
	AgentUnregistered = "agent.unregistered"
	AgentSpawned      = "agent.spawned"
	AgentStopped      = "agent.stopped"
	AgentReaped       = "agent.reaped"
)

// Event types for channels
const (
	ChannelCreated = "channel.created"
	ChannelUpdated = "channel.updated"
	ChannelDeleted = "channel.deleted"
	ChannelMessage = "channel.message"
)

// BuildAgentSubject creates an agent lifecycle subject for a specific agent
func BuildAgentSubject(eventType, agentID string) string {
	return eventType + "." + agentID
}

// BuildAgentWildcardSubject creates a wildcard subscription for all agent lifecycle events
func BuildAgentWildcardSubject() string {
	return "agent.>"
}

// BuildChannelSubject creates a channel subject for a specific channel
func BuildChannelSubject(eventType, channelID string) string {
	return eventType + "." + channelID
}

// BuildChannelWildcardSubject creates a wildcard subscription for all channel events
func BuildChannelWildcardSubject() string {
	return "channel.>"
}
