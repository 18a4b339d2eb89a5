package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAgent(t *testing.T) {
	ch := &Channel{AgentIDs: []string{"writer-ab12c", "critic-de34f"}}

	assert.True(t, ch.HasAgent("writer-ab12c"))
	assert.False(t, ch.HasAgent("coder-gh56i"))
	assert.False(t, (&Channel{}).HasAgent("writer-ab12c"))
}

func TestAddAgentsPreservesOrder(t *testing.T) {
	ch := &Channel{AgentIDs: []string{"writer-ab12c"}}

	ch.AddAgents([]string{"critic-de34f", "writer-ab12c", "coder-gh56i", "critic-de34f"})

	assert.Equal(t, []string{"writer-ab12c", "critic-de34f", "coder-gh56i"}, ch.AgentIDs)
}

func TestRemoveAgentsIgnoresUnknown(t *testing.T) {
	ch := &Channel{AgentIDs: []string{"writer-ab12c", "critic-de34f", "coder-gh56i"}}

	ch.RemoveAgents([]string{"critic-de34f", "never-there"})

	assert.Equal(t, []string{"writer-ab12c", "coder-gh56i"}, ch.AgentIDs)
}
