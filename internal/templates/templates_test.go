package templates

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarr-ai/a4s/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func TestLoadBuiltinWhenPathEmpty(t *testing.T) {
	catalog, err := Load("", testLogger(t))
	require.NoError(t, err)

	templates := catalog.List()
	require.NotEmpty(t, templates)
	assert.Equal(t, "personal-assistant", templates[0].TemplateID)
	assert.Equal(t, "a4s-personal-assistant:latest", templates[0].ImageName)
	assert.Contains(t, templates[0].AvailableTools, "google_search")
}

func TestLoadBuiltinWhenFileMissing(t *testing.T) {
	catalog, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), testLogger(t))
	require.NoError(t, err)
	assert.NotEmpty(t, catalog.List())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - template_id: research-assistant
    image_name: a4s-research:2.1.0
    version: 2.1.0
    description: Searches and summarizes sources.
    available_tools: [web_search, citation_check]
    tags: [research]
  - template_id: coder
    image_name: a4s-coder:latest
    version: 1.0.0
    description: Writes and reviews code.
    available_tools: []
    tags: [engineering]
`), 0o600))

	catalog, err := Load(path, testLogger(t))
	require.NoError(t, err)

	templates := catalog.List()
	require.Len(t, templates, 2)
	assert.Equal(t, "research-assistant", templates[0].TemplateID)
	assert.Equal(t, "a4s-research:2.1.0", templates[0].ImageName)
	assert.Equal(t, []string{"web_search", "citation_check"}, templates[0].AvailableTools)
	assert.Equal(t, "coder", templates[1].TemplateID)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates: [not closed"), 0o600))

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoadRejectsIncompleteEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - template_id: missing-image
    version: 1.0.0
`), 0o600))

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template_id and image_name")
}

func TestListReturnsCopy(t *testing.T) {
	catalog, err := Load("", testLogger(t))
	require.NoError(t, err)

	first := catalog.List()
	first[0].TemplateID = "mutated"
	assert.Equal(t, "personal-assistant", catalog.List()[0].TemplateID)
}

func TestListTemplateAgentsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	catalog, err := Load("", testLogger(t))
	require.NoError(t, err)

	router := gin.New()
	RegisterRoutes(router, catalog)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/template-agents", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Templates, 1)
	assert.Equal(t, "personal-assistant", resp.Templates[0].TemplateID)
}
