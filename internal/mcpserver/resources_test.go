package mcpserver

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSkillAPI serves the two skill endpoints the resources consume.
func fakeSkillAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/skills/by-name/web-scraping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": 7,
			"name": "web-scraping",
			"description": "Scrapes web pages",
			"body": "# Web Scraping\nFetch pages politely.",
			"compatibility": "Requires network access",
			"allowed_tools": ["fetch", "parse_html"]
		}`)
	})
	mux.HandleFunc("GET /api/v1/skills/by-name/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"skill not found"}`)
	})
	mux.HandleFunc("GET /api/v1/skills/7/files/scripts/clean.py", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/x-python")
		io.WriteString(w, "print('clean')")
	})
	mux.HandleFunc("GET /api/v1/skills/7/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"file not found"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func readRequest(uri string) mcp.ReadResourceRequest {
	var req mcp.ReadResourceRequest
	req.Params.URI = uri
	return req
}

func TestParseSkillURI(t *testing.T) {
	tests := []struct {
		uri      string
		name     string
		filePath string
		wantErr  bool
	}{
		{uri: "skill://web-scraping/instructions", name: "web-scraping"},
		{uri: "skill://web-scraping/file/config.json", name: "web-scraping", filePath: "config.json"},
		{uri: "skill://web-scraping/file/scripts/clean.py", name: "web-scraping", filePath: "scripts/clean.py"},
		{uri: "skill://web-scraping", wantErr: true},
		{uri: "skill://web-scraping/file/", wantErr: true},
		{uri: "skill:///instructions", wantErr: true},
		{uri: "agent://x/instructions", wantErr: true},
	}

	for _, tt := range tests {
		name, filePath, err := parseSkillURI(tt.uri)
		if tt.wantErr {
			assert.Error(t, err, tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.name, name, tt.uri)
		assert.Equal(t, tt.filePath, filePath, tt.uri)
	}
}

func TestSkillInstructionsResource(t *testing.T) {
	srv := fakeSkillAPI(t)
	handler := skillInstructionsHandler(Config{APIBaseURL: srv.URL}, testLogger(t))

	contents, err := handler(context.Background(), readRequest("skill://web-scraping/instructions"))
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "skill://web-scraping/instructions", text.URI)
	assert.Equal(t, "text/markdown", text.MIMEType)
	assert.Contains(t, text.Text, "Fetch pages politely")
}

func TestSkillInstructionsResourceMissingSkill(t *testing.T) {
	srv := fakeSkillAPI(t)
	handler := skillInstructionsHandler(Config{APIBaseURL: srv.URL}, testLogger(t))

	_, err := handler(context.Background(), readRequest("skill://ghost/instructions"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skill not found")
}

func TestSkillFileResource(t *testing.T) {
	srv := fakeSkillAPI(t)
	handler := skillFileHandler(Config{APIBaseURL: srv.URL}, testLogger(t))

	contents, err := handler(context.Background(), readRequest("skill://web-scraping/file/scripts/clean.py"))
	require.NoError(t, err)
	require.Len(t, contents, 1)

	blob, ok := contents[0].(mcp.BlobResourceContents)
	require.True(t, ok)
	assert.Equal(t, "text/x-python", blob.MIMEType)

	data, err := base64.StdEncoding.DecodeString(blob.Blob)
	require.NoError(t, err)
	assert.Equal(t, "print('clean')", string(data))
}

func TestSkillFileResourceMissingFile(t *testing.T) {
	srv := fakeSkillAPI(t)
	handler := skillFileHandler(Config{APIBaseURL: srv.URL}, testLogger(t))

	_, err := handler(context.Background(), readRequest("skill://web-scraping/file/missing.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `file "missing.txt" not found`)
}

func TestActivateSkillPrompt(t *testing.T) {
	srv := fakeSkillAPI(t)
	handler := activateSkillPrompt(Config{APIBaseURL: srv.URL}, testLogger(t))

	var req mcp.GetPromptRequest
	req.Params.Name = "activate_skill"
	req.Params.Arguments = map[string]string{"skill_name": "web-scraping"}

	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)

	content, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, content.Text, "# Skill: web-scraping")
	assert.Contains(t, content.Text, "## Compatibility\nRequires network access")
	assert.Contains(t, content.Text, "## Allowed Tools\nfetch, parse_html")
	assert.Contains(t, content.Text, "Fetch pages politely")
	assert.Contains(t, content.Text, "You are now operating with this skill activated")
}

func TestActivateSkillPromptMissingSkill(t *testing.T) {
	srv := fakeSkillAPI(t)
	handler := activateSkillPrompt(Config{APIBaseURL: srv.URL}, testLogger(t))

	var req mcp.GetPromptRequest
	req.Params.Name = "activate_skill"
	req.Params.Arguments = map[string]string{"skill_name": "ghost"}

	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)

	content, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, content.Text, "Error: Skill 'ghost' not found. Use search_skills")
}
