// Package a2a implements the JSON-RPC 2.0 message/send exchange used to talk
// to A2A-capable agents over HTTP.
package a2a

import "encoding/json"

// Version is the JSON-RPC protocol version carried by every request.
const Version = "2.0"

// MethodMessageSend is the only A2A method the control plane issues.
const MethodMessageSend = "message/send"

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string      `json:"jsonrpc"` // Always "2.0"
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MessageSendParams is the params payload for message/send.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// Message is an A2A message envelope.
type Message struct {
	Role      string                 `json:"role"`
	Parts     []Part                 `json:"parts"`
	MessageID string                 `json:"messageId"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Part is a single content part. Only kind=="text" parts carry payload the
// control plane cares about; other kinds are preserved but ignored.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Artifact is a produced artifact inside a Task result.
type Artifact struct {
	Parts []Part `json:"parts"`
}

// TaskStatus is the status block of a Task result.
type TaskStatus struct {
	Message *Message `json:"message,omitempty"`
}

// taskResult is the lenient shape used to mine text out of a message/send
// result. Agents reply with either a Task (artifacts + status) or a bare
// Message (parts); the same struct covers both.
type taskResult struct {
	Artifacts []Artifact  `json:"artifacts"`
	Parts     []Part      `json:"parts"`
	Status    *TaskStatus `json:"status"`
}

// ExtractText collects every text part from a message/send result in
// document order: task artifacts first, then top-level message parts, then
// the task status message. Parts are joined with a newline. Returns "" when
// the result carries no text.
func ExtractText(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var tr taskResult
	if err := json.Unmarshal(result, &tr); err != nil {
		return ""
	}

	var texts []string
	appendParts := func(parts []Part) {
		for _, p := range parts {
			if p.Kind == "text" && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
	}

	for _, artifact := range tr.Artifacts {
		appendParts(artifact.Parts)
	}
	appendParts(tr.Parts)
	if tr.Status != nil && tr.Status.Message != nil {
		appendParts(tr.Status.Message.Parts)
	}

	if len(texts) == 0 {
		return ""
	}
	out := texts[0]
	for _, t := range texts[1:] {
		out += "\n" + t
	}
	return out
}
