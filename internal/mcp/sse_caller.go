package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
)

// SSECaller is a Caller that dispatches tool calls to a remote MCP endpoint
// over HTTP, reading the response body as a single Server-Sent-Events
// stream terminated by one "result" event — the same one-shot request/
// response-over-SSE shape MCP tool calls use rather than a long-lived
// bidirectional stream, since a single tool invocation has exactly one
// outcome.
type SSECaller struct {
	BaseURL    string
	HTTPClient *http.Client
	nextID     atomic.Uint64
}

// NewSSECaller constructs an SSECaller against baseURL, defaulting to
// http.DefaultClient when httpClient is nil.
func NewSSECaller(baseURL string, httpClient *http.Client) *SSECaller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SSECaller{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: httpClient}
}

type mcpCallEnvelope struct {
	ID      uint64          `json:"id"`
	Tool    tools.Ident     `json:"tool"`
	Payload json.RawMessage `json:"payload"`
}

func (c *SSECaller) Call(ctx context.Context, name tools.Ident, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	envelope := mcpCallEnvelope{ID: c.nextID.Add(1), Tool: name, Payload: payload}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if session != nil {
		req.Header.Set("X-Session-Id", session.SessionID)
		req.Header.Set("X-Owner-Id", session.OwnerID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: call %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp: call %q: unexpected status %d", name, resp.StatusCode)
	}

	return readSSEResult(resp.Body)
}

// readSSEResult scans an SSE stream for the first "event: result" frame and
// decodes its data payload as a ToolResultMessage. Ping/keepalive events
// (no "event:" line, or any event other than "result"/"error") are skipped.
func readSSEResult(body io.Reader) (*toolregistry.ToolResultMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var event string
	var data strings.Builder

	flush := func() (*toolregistry.ToolResultMessage, bool, error) {
		if event != "result" && event != "error" {
			event, data = "", strings.Builder{}
			return nil, false, nil
		}
		var result toolregistry.ToolResultMessage
		if err := json.Unmarshal([]byte(data.String()), &result); err != nil {
			return nil, true, fmt.Errorf("mcp: decode %s event: %w", event, err)
		}
		return &result, true, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if result, done, err := flush(); done {
				return result, err
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mcp: read stream: %w", err)
	}
	return nil, fmt.Errorf("mcp: stream closed before a result event")
}

func (c *SSECaller) Definitions(ctx context.Context) ([]*tools.ToolSpec, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/tools/definitions", nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: build definitions request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: fetch definitions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp: fetch definitions: unexpected status %d", resp.StatusCode)
	}
	var specs []*tools.ToolSpec
	if err := json.NewDecoder(resp.Body).Decode(&specs); err != nil {
		return nil, fmt.Errorf("mcp: decode definitions: %w", err)
	}
	return specs, nil
}
