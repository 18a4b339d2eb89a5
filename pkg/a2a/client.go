package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a single message/send exchange when the caller does
// not supply one.
const DefaultTimeout = 120 * time.Second

// Sentinel errors for transport-level failures. Callers use these to tell a
// slow agent apart from an unreachable one.
var (
	ErrTimeout    = errors.New("a2a: request timed out")
	ErrConnect    = errors.New("a2a: failed to connect")
	ErrEmptyReply = errors.New("a2a: reply contained no text")
)

// HTTPError is returned when the agent answers with a non-200 status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("a2a: http %d", e.StatusCode)
}

// RPCError is returned when the agent answers with a JSON-RPC error object.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("a2a: rpc error %d", e.Code)
	}
	return fmt.Sprintf("a2a: rpc error %d: %s", e.Code, e.Message)
}

// SendOptions tune a single Send call.
type SendOptions struct {
	// Timeout bounds the whole exchange. Zero means DefaultTimeout.
	Timeout time.Duration
	// Depth is forwarded as message metadata so agents can cap recursive
	// agent-to-agent calls. Zero omits the metadata entirely.
	Depth int
}

// Client posts message/send requests to agent base URLs.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an A2A client. Timeouts are applied per request via
// context, not on the underlying http.Client.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{}}
}

// Send delivers text to the agent at agentURL and returns the text extracted
// from the reply. Transport failures map to ErrTimeout/ErrConnect, non-200
// statuses to *HTTPError, protocol errors to *RPCError, and replies with no
// text parts to ErrEmptyReply.
func (c *Client) Send(ctx context.Context, agentURL, text string, opts SendOptions) (string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := Message{
		Role:      "user",
		Parts:     []Part{{Kind: "text", Text: text}},
		MessageID: uuid.New().String(),
	}
	if opts.Depth > 0 {
		msg.Metadata = map[string]interface{}{"depth": opts.Depth}
	}

	body, err := json.Marshal(Request{
		JSONRPC: Version,
		ID:      uuid.New().String(),
		Method:  MethodMessageSend,
		Params:  &MessageSendParams{Message: msg},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal a2a request: %w", err)
	}

	// A2A endpoints serve message/send at the base path with a trailing
	// slash.
	if !strings.HasSuffix(agentURL, "/") {
		agentURL += "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agentURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build a2a request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode}
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return "", fmt.Errorf("failed to parse a2a response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	extracted := ExtractText(rpcResp.Result)
	if extracted == "" {
		return "", ErrEmptyReply
	}
	return extracted, nil
}

// classifyTransportError folds the soup of net/http errors into the two
// cases callers care about: the agent was too slow, or unreachable.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrConnect, err)
}
