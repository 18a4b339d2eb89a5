package handlers

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/gateway/httpapi"
)

// Agents may run long tool calls behind the proxy, so the total budget is
// generous while the connect budget stays short enough to fail fast on a
// dead container.
const (
	proxyTimeout        = 300 * time.Second
	proxyConnectTimeout = 30 * time.Second
)

const (
	proxyTimeoutDetail = "Request timed out"
	proxyConnectDetail = "Failed to connect to agent"
)

// proxySkipHeaders are never copied across the proxy in either direction.
// Host is bound to the upstream target and the transport manages framing
// and compression itself.
var proxySkipHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"transfer-encoding": {},
	"content-encoding":  {},
}

func newProxyClient() *http.Client {
	return &http.Client{
		Timeout: proxyTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: proxyConnectTimeout}).DialContext,
		},
	}
}

// httpProxy forwards any request under /agents/{id}/proxy/ to the agent's
// own HTTP server, cold-starting serverless agents first so callers never
// see a connection refused from a reaped container.
func (h *Handlers) httpProxy(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	if c.Request.Method == http.MethodOptions {
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		c.Status(http.StatusNoContent)
		return
	}

	id := c.Param("agent_id")
	a, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		httpapi.Error(c, err)
		return
	}

	if a.Serverless() {
		if _, _, err := h.scheduler.EnsureRunning(c.Request.Context(), id); err != nil {
			h.logger.Error("failed to cold start agent for proxy",
				zap.String("agent_id", id),
				zap.Error(err))
			httpapi.Error(c, err)
			return
		}
		h.scheduler.RecordActivity(id)
	}

	// The wildcard param carries its leading slash.
	target := strings.TrimRight(a.URL, "/") + c.Param("path")
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		httpapi.Detail(c, http.StatusBadGateway, "invalid upstream URL: "+err.Error())
		return
	}
	req.ContentLength = c.Request.ContentLength
	copyProxyHeaders(req.Header, c.Request.Header)

	resp, err := h.proxy.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			h.logger.Warn("proxy request timed out",
				zap.String("agent_id", id),
				zap.String("target", target))
			httpapi.Detail(c, http.StatusGatewayTimeout, proxyTimeoutDetail)
			return
		}
		h.logger.Warn("proxy request failed",
			zap.String("agent_id", id),
			zap.String("target", target),
			zap.Error(err))
		httpapi.Detail(c, http.StatusBadGateway, proxyConnectDetail)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyProxyHeaders(c.Writer.Header(), resp.Header)
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Status(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}

func copyProxyHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, skip := proxySkipHeaders[strings.ToLower(name)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
