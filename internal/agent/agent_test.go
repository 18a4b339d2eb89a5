package agent

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIDShape(t *testing.T) {
	idPattern := regexp.MustCompile(`^[a-z0-9][a-z0-9-]*-[a-z0-9]{5}$`)

	cases := map[string]string{
		"Data Analyst":     "data-analyst-",
		"writer":           "writer-",
		"  Spaced  Name  ": "spaced-name-",
		"UPPER_case.42":    "upper-case-42-",
	}
	for name, prefix := range cases {
		id := GenerateID(name)
		assert.True(t, idPattern.MatchString(id), "id %q for name %q", id, name)
		assert.Contains(t, id, prefix)
	}
}

func TestGenerateIDEmptyNameFallsBack(t *testing.T) {
	id := GenerateID("!!!")
	require.Regexp(t, `^agent-[a-z0-9]{5}$`, id)
}

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := GenerateID("helper")
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestContainerNameAndURL(t *testing.T) {
	assert.Equal(t, "a4s-agent-writer-ab12c", ContainerName("writer-ab12c"))
	assert.Equal(t, "http://a4s-agent-writer-ab12c:8000", DefaultURL("writer-ab12c", 8000))
}

func TestServerless(t *testing.T) {
	assert.True(t, (&Agent{Mode: ModeServerless}).Serverless())
	assert.False(t, (&Agent{Mode: ModePermanent}).Serverless())
}
