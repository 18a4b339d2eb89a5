package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lunarr-ai/a4s/internal/common/config"
)

const defaultEngineTimeout = 30 * time.Second

// Engine is a Manager backed by an external memory engine over REST:
//
//	POST   {base}/memories          {content, agent_id, metadata?} -> Memory or {message, group_id}
//	POST   {base}/memories/search   {query, agent_id, limit}       -> [Memory]
//	PUT    {base}/memories/{id}     {content}                      -> Memory
//	DELETE {base}/memories/{id}                                    -> 204
//	POST   {base}/documents         {content, agent_id, format, source} -> 202 {message, source}
//
// Ownership checks run here, before any request leaves the process.
type Engine struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Manager = (*Engine)(nil)

// NewEngine creates an engine-backed manager from the memory configuration.
func NewEngine(cfg config.MemoryConfig) *Engine {
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = defaultEngineTimeout
	}
	return &Engine{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Add stores new content in the agent's memory. The content is flattened to
// text before it is sent; structuring the transcript is the engine's job.
func (e *Engine) Add(ctx context.Context, req AddRequest, ownerID, requesterID string) (*AddResult, error) {
	if err := authorizeWrite(ownerID, requesterID, "write to"); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"content":  req.Messages.Flatten(),
		"agent_id": req.AgentID,
	}
	if req.Metadata != nil {
		payload["metadata"] = req.Metadata
	}
	data, err := e.do(ctx, http.MethodPost, "/memories", payload)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Memory
		Message string `json:"message"`
		GroupID string `json:"group_id"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("memory engine: decode add response: %w", err)
	}
	if decoded.GroupID != "" {
		return &AddResult{Queued: &Queued{Message: decoded.Message, GroupID: decoded.GroupID}}, nil
	}
	mem := decoded.Memory
	return &AddResult{Memory: &mem}, nil
}

// Search returns the memories of one agent matching the query.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]Memory, error) {
	data, err := e.do(ctx, http.MethodPost, "/memories/search", map[string]interface{}{
		"query":    req.Query,
		"agent_id": req.AgentID,
		"limit":    req.Limit,
	})
	if err != nil {
		return nil, err
	}

	memories := make([]Memory, 0)
	if err := json.Unmarshal(data, &memories); err != nil {
		return nil, fmt.Errorf("memory engine: decode search response: %w", err)
	}
	return memories, nil
}

// Update replaces the content of one memory.
func (e *Engine) Update(ctx context.Context, id, content string) (*Memory, error) {
	data, err := e.do(ctx, http.MethodPut, "/memories/"+url.PathEscape(id), map[string]string{
		"content": content,
	})
	if err != nil {
		return nil, err
	}

	var mem Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("memory engine: decode update response: %w", err)
	}
	return &mem, nil
}

// Delete removes one memory from the agent's memory.
func (e *Engine) Delete(ctx context.Context, id, ownerID, requesterID string) error {
	if err := authorizeWrite(ownerID, requesterID, "delete"); err != nil {
		return err
	}
	_, err := e.do(ctx, http.MethodDelete, "/memories/"+url.PathEscape(id), nil)
	return err
}

// IngestDocument queues a document for asynchronous extraction.
func (e *Engine) IngestDocument(ctx context.Context, req IngestRequest, ownerID, requesterID string) (*IngestAck, error) {
	if err := authorizeWrite(ownerID, requesterID, "write to"); err != nil {
		return nil, err
	}

	data, err := e.do(ctx, http.MethodPost, "/documents", map[string]string{
		"content":  req.Content,
		"agent_id": req.AgentID,
		"format":   req.Format,
		"source":   req.Source,
	})
	if err != nil {
		return nil, err
	}

	var ack IngestAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("memory engine: decode ingest response: %w", err)
	}
	return &ack, nil
}

// Close releases idle engine connections.
func (e *Engine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// do runs one engine request and returns the response body. A 404 maps to
// ErrNotFound; any other non-2xx status becomes an error carrying the
// engine's detail message.
func (e *Engine) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("memory engine: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("memory engine: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory engine: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("memory engine: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, engineDetail(data))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("memory engine: %s %s returned %d: %s", method, path, resp.StatusCode, engineDetail(data))
	}
	return data, nil
}

// engineDetail extracts the {"detail": ...} message engines return on
// failure, falling back to the raw body.
func engineDetail(data []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(data))
}
