package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/pkg/a2a"
)

type mockAgent struct {
	id     string
	name   string
	logger *logger.Logger
}

// rpcRequest is the inbound JSON-RPC envelope with params kept raw so they
// can be decoded into the typed message/send shape after method dispatch.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (m *mockAgent) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "agent_id": m.id})
}

// handleMessage answers message/send with an echo of the inbound text. The
// result is a bare A2A message, one of the two result shapes peers accept.
func (m *mockAgent) handleMessage(c *gin.Context) {
	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, -32700, "parse error"))
		return
	}
	if req.JSONRPC != a2a.Version {
		c.JSON(http.StatusOK, errorResponse(req.ID, -32600, "invalid request"))
		return
	}
	if req.Method != a2a.MethodMessageSend {
		c.JSON(http.StatusOK, errorResponse(req.ID, -32601, fmt.Sprintf("method %q not found", req.Method)))
		return
	}

	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, errorResponse(req.ID, -32602, "invalid params"))
		return
	}

	text := ""
	for _, part := range params.Message.Parts {
		if part.Kind == "text" && part.Text != "" {
			if text != "" {
				text += "\n"
			}
			text += part.Text
		}
	}
	if text == "" {
		text = "(empty message)"
	}

	m.logger.Debug("Received message",
		zap.String("message_id", params.Message.MessageID),
		zap.Int("text_len", len(text)))

	reply := a2a.Message{
		Role:      "agent",
		Parts:     []a2a.Part{{Kind: "text", Text: fmt.Sprintf("Echo from %s: %s", m.name, text)}},
		MessageID: uuid.New().String(),
	}
	result, err := json.Marshal(reply)
	if err != nil {
		c.JSON(http.StatusOK, errorResponse(req.ID, -32603, "internal error"))
		return
	}
	c.JSON(http.StatusOK, a2a.Response{JSONRPC: a2a.Version, ID: req.ID, Result: result})
}

func errorResponse(id interface{}, code int, message string) a2a.Response {
	return a2a.Response{
		JSONRPC: a2a.Version,
		ID:      id,
		Error:   &a2a.Error{Code: code, Message: message},
	}
}
