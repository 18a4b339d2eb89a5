package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextFromTaskArtifacts(t *testing.T) {
	result := json.RawMessage(`{
		"artifacts": [
			{"parts": [{"kind": "text", "text": "first"}, {"kind": "data"}]},
			{"parts": [{"kind": "text", "text": "second"}]}
		]
	}`)
	assert.Equal(t, "first\nsecond", ExtractText(result))
}

func TestExtractTextFromMessageParts(t *testing.T) {
	result := json.RawMessage(`{"parts": [{"kind": "text", "text": "hello"}]}`)
	assert.Equal(t, "hello", ExtractText(result))
}

func TestExtractTextFromStatusMessage(t *testing.T) {
	result := json.RawMessage(`{
		"status": {"message": {"role": "agent", "parts": [{"kind": "text", "text": "done"}]}}
	}`)
	assert.Equal(t, "done", ExtractText(result))
}

func TestExtractTextOrderAndSkips(t *testing.T) {
	result := json.RawMessage(`{
		"artifacts": [{"parts": [{"kind": "text", "text": "a"}]}],
		"parts": [{"kind": "text", "text": "b"}, {"kind": "text", "text": ""}],
		"status": {"message": {"parts": [{"kind": "text", "text": "c"}]}}
	}`)
	assert.Equal(t, "a\nb\nc", ExtractText(result))
}

func TestExtractTextEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractText(nil))
	assert.Equal(t, "", ExtractText(json.RawMessage(`{}`)))
	assert.Equal(t, "", ExtractText(json.RawMessage(`{"parts": [{"kind": "data"}]}`)))
	assert.Equal(t, "", ExtractText(json.RawMessage(`not json`)))
}

func TestClientSendBuildsEnvelope(t *testing.T) {
	var captured Request
	var capturedParams MessageSendParams

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		raw, err := json.Marshal(captured.Params)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &capturedParams))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      captured.ID,
			"result":  map[string]interface{}{"parts": []map[string]string{{"kind": "text", "text": "pong"}}},
		})
	}))
	defer srv.Close()

	client := NewClient()
	text, err := client.Send(context.Background(), srv.URL, "ping", SendOptions{Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, "pong", text)

	assert.Equal(t, Version, captured.JSONRPC)
	assert.Equal(t, MethodMessageSend, captured.Method)
	assert.NotEmpty(t, captured.ID)

	msg := capturedParams.Message
	assert.Equal(t, "user", msg.Role)
	assert.NotEmpty(t, msg.MessageID)
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, "text", msg.Parts[0].Kind)
	assert.Equal(t, "ping", msg.Parts[0].Text)
	require.NotNil(t, msg.Metadata)
	assert.EqualValues(t, 1, msg.Metadata["depth"])
}

func TestClientSendOmitsDepthWhenZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Params struct {
				Message struct {
					Metadata map[string]interface{} `json:"metadata"`
				} `json:"message"`
			} `json:"params"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Nil(t, req.Params.Message.Metadata)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "1",
			"result":  map[string]interface{}{"parts": []map[string]string{{"kind": "text", "text": "ok"}}},
		})
	}))
	defer srv.Close()

	_, err := NewClient().Send(context.Background(), srv.URL, "hi", SendOptions{})
	require.NoError(t, err)
}

func TestClientSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient().Send(context.Background(), srv.URL, "hi", SendOptions{})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestClientSendRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "1",
			"error":   map[string]interface{}{"code": -32603, "message": "boom"},
		})
	}))
	defer srv.Close()

	_, err := NewClient().Send(context.Background(), srv.URL, "hi", SendOptions{})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32603, rpcErr.Code)
	assert.Equal(t, "boom", rpcErr.Message)
}

func TestClientSendEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "1",
			"result":  map[string]interface{}{},
		})
	}))
	defer srv.Close()

	_, err := NewClient().Send(context.Background(), srv.URL, "hi", SendOptions{})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestClientSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewClient().Send(context.Background(), srv.URL, "hi", SendOptions{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClientSendConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	_, err := NewClient().Send(context.Background(), srv.URL, "hi", SendOptions{})
	assert.ErrorIs(t, err, ErrConnect)
}

func TestClientSendPrefersArtifactsOverStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "1",
			"result": map[string]interface{}{
				"artifacts": []map[string]interface{}{
					{"parts": []map[string]string{{"kind": "text", "text": "artifact"}}},
				},
				"status": map[string]interface{}{
					"message": map[string]interface{}{
						"parts": []map[string]string{{"kind": "text", "text": "status"}},
					},
				},
			},
		})
	}))
	defer srv.Close()

	text, err := NewClient().Send(context.Background(), srv.URL, "hi", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "artifact\nstatus", text)
}

func TestRPCErrorString(t *testing.T) {
	assert.Equal(t, "a2a: rpc error -32603: boom", (&RPCError{Code: -32603, Message: "boom"}).Error())
	assert.Equal(t, "a2a: rpc error -32700", (&RPCError{Code: -32700}).Error())
	assert.False(t, errors.Is(&RPCError{}, ErrTimeout))
}
