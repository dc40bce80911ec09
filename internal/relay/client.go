// Package relay is the "remote agent" half of spec §6.3's public-exposure
// story: a persistent WebSocket connection to a Cloudflare Worker that
// forwards tool-call requests from an agent running on another machine into
// this daemon's own HTTP tool-call surface, and returns the results.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// toolNames lists the §6.2 tool-call surface's operations, advertised to the
// relay worker at registration time so it knows what this daemon can serve.
var toolNames = []string{
	"search", "remember", "context", "resolve_memory",
	"sessions", "memories", "stats", "activity", "archive_memories",
}

type messageType string

const (
	msgRegister   messageType = "register"
	msgRegistered messageType = "registered"
	msgToolCall   messageType = "tool_call"
	msgToolResult messageType = "tool_result"
	msgHeartbeat  messageType = "heartbeat"
	msgPong       messageType = "pong"
	msgError      messageType = "error"
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 15 * time.Second
	maxResponseBytes  = 1 << 20 // 1 MiB; larger relay responses are rejected rather than fragmented
)

// Status reports the relay connection's current state. Safe to read
// concurrently from any goroutine (e.g. a status tool-call handler) while
// Run is driving the connection on its own.
type Status struct {
	Connected         bool
	WorkerURL         string
	ConnectedAt       time.Time
	LastHeartbeat     time.Time
	Error             string
	ReconnectAttempts int
}

type registerMessage struct {
	Type  messageType `json:"type"`
	Token string      `json:"token"`
	Tools []string    `json:"tools"`
}

type toolCallRequest struct {
	Type      messageType     `json:"type"`
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	TimeoutMS int             `json:"timeout_ms"`
}

type toolCallResponse struct {
	Type   messageType     `json:"type"`
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type wireEnvelope struct {
	Type messageType `json:"type"`
}

// Client maintains the WebSocket connection to a single relay worker and
// forwards every tool_call it receives to this daemon's own "/tools/<name>"
// HTTP surface, the same endpoints internal/server/tools.go exposes.
type Client struct {
	workerURL    string
	token        string
	localAddr    string
	bearerToken  string
	toolTimeout  time.Duration
	reconnectMax time.Duration
	httpClient   *http.Client

	mu                sync.Mutex
	conn              *websocket.Conn
	connected         bool
	connectedAt       time.Time
	lastHeartbeat     time.Time
	lastErr           string
	reconnectAttempts int
}

// New builds a relay Client. localAddr is this daemon's own HTTP address
// (e.g. "127.0.0.1:8751"), and bearerToken authenticates the forwarded calls
// the same way a direct caller would authenticate against the hook surface.
func New(workerURL, token, localAddr, bearerToken string, toolTimeout, reconnectMax time.Duration) *Client {
	return &Client{
		workerURL:    workerURL,
		token:        token,
		localAddr:    localAddr,
		bearerToken:  bearerToken,
		toolTimeout:  toolTimeout,
		reconnectMax: reconnectMax,
		httpClient:   &http.Client{Timeout: toolTimeout + 5*time.Second},
	}
}

// Status returns the relay's current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:         c.connected,
		WorkerURL:         c.workerURL,
		ConnectedAt:       c.connectedAt,
		LastHeartbeat:     c.lastHeartbeat,
		Error:             c.lastErr,
		ReconnectAttempts: c.reconnectAttempts,
	}
}

// Run connects to the relay worker and reconnects with exponential backoff
// until ctx is canceled, mirroring the scheduler/HTTP-server goroutines'
// "runs until told to stop" shape used elsewhere in internal/commands/serve.go.
func (c *Client) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = c.reconnectMax
	b.MaxElapsedTime = 0 // retry for as long as ctx allows

	for ctx.Err() == nil {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.connected = false
		c.reconnectAttempts++
		if err != nil {
			c.lastErr = err.Error()
		}
		attempt := c.reconnectAttempts
		c.mu.Unlock()

		wait := b.NextBackOff()
		slog.Warn("cloud relay disconnected, reconnecting", "attempt", attempt, "error", err, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) wsURL() string {
	u := c.workerURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://"):
		u = "wss://" + u
	}
	if !strings.HasSuffix(u, "/relay") {
		u = strings.TrimSuffix(u, "/") + "/relay"
	}
	return u
}

// connectAndServe dials the worker, registers this daemon's tool set, and
// then blocks reading messages until the connection drops or ctx is
// canceled. A non-nil error means the connection ended abnormally and Run
// should back off and retry.
func (c *Client) connectAndServe(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if c.token != "" {
		header.Set("Sec-WebSocket-Protocol", c.token)
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL(), header)
	if err != nil {
		return fmt.Errorf("dial relay worker: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(registerMessage{Type: msgRegister, Token: c.token, Tools: toolNames}); err != nil {
		return fmt.Errorf("send register message: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	var ack wireEnvelope
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("read registration ack: %w", err)
	}
	switch ack.Type {
	case msgError:
		return fmt.Errorf("relay worker rejected registration")
	case msgRegistered:
		// fall through
	default:
		return fmt.Errorf("unexpected registration response type %q", ack.Type)
	}

	now := time.Now()
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.connectedAt = now
	c.lastHeartbeat = now
	c.lastErr = ""
	c.reconnectAttempts = 0
	c.mu.Unlock()

	slog.Info("cloud relay connected", "worker_url", c.workerURL)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopWatch:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(heartbeatInterval + heartbeatTimeout))
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return fmt.Errorf("relay connection closed: %w", err)
		}

		var env wireEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("invalid relay message", "error", err)
			continue
		}

		switch env.Type {
		case msgToolCall:
			var req toolCallRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				slog.Warn("invalid tool_call message", "error", err)
				continue
			}
			go c.handleToolCall(conn, req)
		case msgHeartbeat:
			c.mu.Lock()
			c.lastHeartbeat = time.Now()
			c.mu.Unlock()
			if err := conn.WriteJSON(wireEnvelope{Type: msgPong}); err != nil {
				return fmt.Errorf("send heartbeat pong: %w", err)
			}
		case msgError:
			slog.Error("relay worker reported an error")
		}
	}
}

// handleToolCall forwards one tool_call to the local HTTP tool-call surface
// and writes back a tool_result, truncating an oversized result into an
// error rather than fragmenting it across frames.
func (c *Client) handleToolCall(conn *websocket.Conn, req toolCallRequest) {
	timeout := c.toolTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	result, callErr := c.callLocalTool(req.ToolName, req.Arguments, timeout)
	resp := toolCallResponse{Type: msgToolResult, CallID: req.CallID}
	if callErr != nil {
		resp.Error = callErr.Error()
	} else {
		resp.Result = result
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal tool_result", "error", err)
		return
	}
	if len(payload) > maxResponseBytes {
		resp = toolCallResponse{
			Type:   msgToolResult,
			CallID: req.CallID,
			Error:  fmt.Sprintf("response too large (%d bytes, max %d)", len(payload), maxResponseBytes),
		}
		payload, _ = json.Marshal(resp)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return // superseded by a reconnect; the worker already timed this call out
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		slog.Error("send tool_result", "error", err)
	}
}

func (c *Client) callLocalTool(toolName string, arguments json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	body := []byte(arguments)
	if len(body) == 0 {
		body = []byte("{}")
	}

	url := fmt.Sprintf("http://%s/tools/%s", c.localAddr, toolName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call local tool %q: %w", toolName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tool %q returned %s: %s", toolName, resp.Status, string(respBody))
	}
	return respBody, nil
}
