package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/memory"
)

type fakeManager struct {
	addResult *memory.AddResult
	found     []memory.Memory
	updated   *memory.Memory
	ack       *memory.IngestAck
	err       error

	gotAdd       *memory.AddRequest
	gotSearch    *memory.SearchRequest
	gotIngest    *memory.IngestRequest
	gotOwner     string
	gotRequester string
	deletedID    string
}

func (f *fakeManager) Add(_ context.Context, req memory.AddRequest, ownerID, requesterID string) (*memory.AddResult, error) {
	f.gotAdd = &req
	f.gotOwner = ownerID
	f.gotRequester = requesterID
	if f.err != nil {
		return nil, f.err
	}
	return f.addResult, nil
}

func (f *fakeManager) Search(_ context.Context, req memory.SearchRequest) ([]memory.Memory, error) {
	f.gotSearch = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.found, nil
}

func (f *fakeManager) Update(_ context.Context, id, content string) (*memory.Memory, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.updated != nil {
		return f.updated, nil
	}
	return &memory.Memory{ID: id, Content: content}, nil
}

func (f *fakeManager) Delete(_ context.Context, id, ownerID, requesterID string) error {
	f.deletedID = id
	f.gotOwner = ownerID
	f.gotRequester = requesterID
	return f.err
}

func (f *fakeManager) IngestDocument(_ context.Context, req memory.IngestRequest, ownerID, requesterID string) (*memory.IngestAck, error) {
	f.gotIngest = &req
	f.gotOwner = ownerID
	f.gotRequester = requesterID
	if f.err != nil {
		return nil, f.err
	}
	if f.ack != nil {
		return f.ack, nil
	}
	return &memory.IngestAck{Message: "queued", Source: req.Source}, nil
}

func (f *fakeManager) Close() error { return nil }

type fakeAgents struct {
	agents map[string]*agent.Agent
}

func (f *fakeAgents) Get(_ context.Context, id string) (*agent.Agent, error) {
	if a, ok := f.agents[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", registry.ErrNotRegistered, id)
}

type fixture struct {
	router  *gin.Engine
	manager *fakeManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	manager := &fakeManager{}
	agents := &fakeAgents{agents: map[string]*agent.Agent{
		"assistant-1": {ID: "assistant-1", Name: "Assistant", OwnerID: "owner-1"},
	}}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(manager, agents, log).register(router)

	return &fixture{router: router, manager: manager}
}

func (f *fixture) doJSON(t *testing.T, method, path, body, requester string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if requester != "" {
		req.Header.Set(requesterHeader, requester)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func multipartDoc(t *testing.T, filename string, content []byte, agentID string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	if agentID != "" {
		require.NoError(t, w.WriteField("agent_id", agentID))
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func (f *fixture) doIngest(t *testing.T, body *bytes.Buffer, contentType, requester string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories/ingest-document", body)
	req.Header.Set("Content-Type", contentType)
	if requester != "" {
		req.Header.Set(requesterHeader, requester)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestAddMemoryStored(t *testing.T) {
	f := newFixture(t)
	f.manager.addResult = &memory.AddResult{Memory: &memory.Memory{ID: "mem-1", Content: "prefers dark mode"}}

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories",
		`{"messages": "I prefer dark mode", "agent_id": "assistant-1"}`, "owner-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got memory.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "mem-1", got.ID)

	assert.Equal(t, "owner-1", f.manager.gotOwner)
	assert.Equal(t, "owner-1", f.manager.gotRequester)
	assert.Equal(t, "I prefer dark mode", f.manager.gotAdd.Messages.Flatten())
}

func TestAddMemoryQueued(t *testing.T) {
	f := newFixture(t)
	f.manager.addResult = &memory.AddResult{Queued: &memory.Queued{Message: "queued", GroupID: "agent-assistant-1"}}

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories",
		`{"messages": "note", "agent_id": "assistant-1"}`, "owner-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"message": "queued", "group_id": "agent-assistant-1"}`, rec.Body.String())
}

func TestAddMemoryTranscript(t *testing.T) {
	f := newFixture(t)
	f.manager.addResult = &memory.AddResult{Memory: &memory.Memory{ID: "mem-1"}}

	body := `{"messages": [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}], "agent_id": "assistant-1"}`
	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories", body, "owner-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user: hi\nassistant: hello", f.manager.gotAdd.Messages.Flatten())
}

func TestAddMemoryRejectsBadMessages(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories",
		`{"messages": {"role": "user"}, "agent_id": "assistant-1"}`, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "messages must be")
}

func TestAddMemoryMissingRequesterHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories",
		`{"messages": "note", "agent_id": "assistant-1"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing X-Requester-Id header", decodeDetail(t, rec))
}

func TestAddMemoryUnknownAgentBeatsMissingHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories",
		`{"messages": "note", "agent_id": "ghost"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddMemoryPermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.manager.err = fmt.Errorf("%w: only the owner can write to agent memory", memory.ErrPermissionDenied)

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories",
		`{"messages": "note", "agent_id": "assistant-1"}`, "intruder")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "only the owner")
}

func TestSearchMemoriesDefaultsLimit(t *testing.T) {
	f := newFixture(t)
	f.manager.found = []memory.Memory{{ID: "mem-1", Content: "prefers dark mode"}}

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories/search",
		`{"query": "dark mode", "agent_id": "assistant-1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []memory.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 10, f.manager.gotSearch.Limit)
}

func TestSearchMemoriesEmptyResultRendersArray(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories/search",
		`{"query": "nothing", "agent_id": "assistant-1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestSearchMemoriesValidatesLimit(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/api/v1/memories/search",
		`{"query": "x", "agent_id": "assistant-1", "limit": 1000}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateMemory(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPut, "/api/v1/memories/mem-1",
		`{"content": "prefers light mode now"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got memory.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "mem-1", got.ID)
	assert.Equal(t, "prefers light mode now", got.Content)
}

func TestUpdateMemoryNotFound(t *testing.T) {
	f := newFixture(t)
	f.manager.err = fmt.Errorf("%w: mem-9", memory.ErrNotFound)

	rec := f.doJSON(t, http.MethodPut, "/api/v1/memories/mem-9", `{"content": "x"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMemory(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodDelete, "/api/v1/memories/mem-1?agent_id=assistant-1", "", "owner-1")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "mem-1", f.manager.deletedID)
	assert.Equal(t, "owner-1", f.manager.gotOwner)
	assert.Equal(t, "owner-1", f.manager.gotRequester)
}

func TestDeleteMemoryRequiresAgentID(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodDelete, "/api/v1/memories/mem-1", "", "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "agent_id")
}

func TestDeleteMemoryMissingRequesterHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodDelete, "/api/v1/memories/mem-1?agent_id=assistant-1", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing X-Requester-Id header", decodeDetail(t, rec))
}

func TestIngestDocument(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartDoc(t, "notes.md", []byte("# Notes\nremember the deadline"), "assistant-1")
	rec := f.doIngest(t, body, contentType, "owner-1")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var ack memory.IngestAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "notes.md", ack.Source)

	require.NotNil(t, f.manager.gotIngest)
	assert.Equal(t, "markdown", f.manager.gotIngest.Format)
	assert.Equal(t, "assistant-1", f.manager.gotIngest.AgentID)
	assert.Equal(t, "owner-1", f.manager.gotRequester)
}

func TestIngestDocumentRejectsExtension(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartDoc(t, "report.pdf", []byte("binary"), "assistant-1")
	rec := f.doIngest(t, body, contentType, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "unsupported file format")
	assert.Nil(t, f.manager.gotIngest)
}

func TestIngestDocumentRejectsBinary(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartDoc(t, "notes.txt", []byte{0xff, 0xfe, 0xfd}, "assistant-1")
	rec := f.doIngest(t, body, contentType, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "UTF-8")
}

func TestIngestDocumentRejectsOversize(t *testing.T) {
	f := newFixture(t)

	huge := strings.Repeat("a", memory.MaxDocumentSize+1)
	body, contentType := multipartDoc(t, "huge.txt", []byte(huge), "assistant-1")
	rec := f.doIngest(t, body, contentType, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "exceeds maximum size")
}

func TestIngestDocumentRejectsBlank(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartDoc(t, "empty.txt", []byte("   \n\t"), "assistant-1")
	rec := f.doIngest(t, body, contentType, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "cannot be empty")
}

func TestIngestDocumentRequiresFile(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartDoc(t, "", nil, "assistant-1")
	rec := f.doIngest(t, body, contentType, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "file is required")
}

func TestIngestDocumentRequiresAgentID(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartDoc(t, "notes.txt", []byte("content"), "")
	rec := f.doIngest(t, body, contentType, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "agent_id is required")
}

func TestIngestDocumentMissingRequesterHeader(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartDoc(t, "notes.txt", []byte("content"), "assistant-1")
	rec := f.doIngest(t, body, contentType, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing X-Requester-Id header", decodeDetail(t, rec))
}
