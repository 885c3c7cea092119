// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/mcp/protocol"
)

// HTTPClient is the client side of the streamable HTTP transport. It
// POSTs frames to the MCP endpoint, binds the session id issued on
// initialize, and consumes SSE response streams. The id of the last
// event seen is tracked so Resume can replay missed frames after a
// dropped connection.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger

	events chan []byte

	mu          sync.Mutex
	sessionID   string
	lastEventID string
	closed      bool
}

var _ Transport = (*HTTPClient)(nil)

// HTTPClientOptions configures NewHTTPClient.
type HTTPClientOptions struct {
	// Endpoint is the MCP endpoint URL, e.g. "http://127.0.0.1:8080/mcp".
	Endpoint string
	// Timeout bounds each POST; it must cover the full SSE stream of a
	// streamed response. Defaults to 60s.
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewHTTPClient creates a client transport for the given endpoint.
func NewHTTPClient(opts HTTPClientOptions) (*HTTPClient, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		endpoint:   opts.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		events:     make(chan []byte, 100),
	}, nil
}

// SessionID returns the session id bound by the last initialize, or "".
func (c *HTTPClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Send POSTs one frame. Responses, plain JSON or streamed SSE, are
// delivered through Receive.
func (c *HTTPClient) Send(ctx context.Context, message []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(protocol.HeaderProtocolVersion, protocol.ProtocolVersion)
	if sessionID != "" {
		req.Header.Set(protocol.HeaderSessionID, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}

	if id := resp.Header.Get(protocol.HeaderSessionID); id != "" {
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		// Notification accepted, nothing to read.
		resp.Body.Close()
		return nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, body)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		go c.consumeStream(resp.Body)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(body) > 0 {
		c.deliver(body)
	}
	return nil
}

// Resume reopens the session's stream from the last event id seen. The
// server replays every buffered frame after that id; replayed frames
// arrive through Receive like live ones.
func (c *HTTPClient) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	sessionID, lastEventID := c.sessionID, c.lastEventID
	c.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("no session to resume")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(protocol.HeaderSessionID, sessionID)
	req.Header.Set(protocol.HeaderProtocolVersion, protocol.ProtocolVersion)
	if lastEventID != "" {
		req.Header.Set(protocol.HeaderLastEventID, lastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, body)
	}
	go c.consumeStream(resp.Body)
	return nil
}

// consumeStream reads SSE events off one response body and delivers
// their data frames, recording event ids for later resume.
func (c *HTTPClient) consumeStream(body io.ReadCloser) {
	defer body.Close()
	reader := sse.NewEventStreamReader(body, maxBodyBytes)
	for {
		raw, err := reader.ReadEvent()
		if err != nil {
			if err != io.EOF {
				c.logger.Warn("SSE stream read failed", zap.Error(err))
			}
			return
		}
		id, data := parseSSEEvent(raw)
		if id != "" {
			c.mu.Lock()
			c.lastEventID = id
			c.mu.Unlock()
		}
		if len(data) > 0 {
			c.deliver(data)
		}
	}
}

func (c *HTTPClient) deliver(frame []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.events <- frame:
	default:
		c.logger.Warn("inbound frame dropped, receive buffer full")
	}
}

// Receive returns the next inbound frame.
func (c *HTTPClient) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-c.events:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

// Close releases the transport. Sessions are terminated server-side via
// DELETE by the caller when a clean shutdown is wanted.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}

// parseSSEEvent extracts the id and data fields from one raw SSE event.
// Multi-line data fields are joined with newlines per the SSE spec.
func parseSSEEvent(raw []byte) (id string, data []byte) {
	var parts [][]byte
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case bytes.HasPrefix(line, []byte("id:")):
			id = strings.TrimSpace(string(line[len("id:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			d := line[len("data:"):]
			if len(d) > 0 && d[0] == ' ' {
				d = d[1:]
			}
			parts = append(parts, d)
		}
	}
	if len(parts) == 0 {
		return id, nil
	}
	return id, bytes.Join(parts, []byte("\n"))
}
