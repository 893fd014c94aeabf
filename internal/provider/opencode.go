// ABOUTME: OpenCode provider client speaking the OpenCode server REST API
// ABOUTME: Liveness via direct session lookup, busy via /session/status, prompts via /session/{id}/message

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// OpenCodeClient drives agents running inside an OpenCode server.
// One client serves any number of server instances; the server URL
// travels in the Ref.
type OpenCodeClient struct {
	http   *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*eventStream // server URL -> shared SSE stream
}

// NewOpenCodeClient creates an OpenCode client. Pass nil logger for default.
func NewOpenCodeClient(logger *slog.Logger) *OpenCodeClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenCodeClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "opencode"),
		streams: make(map[string]*eventStream),
	}
}

// sessionInfo is the relevant subset of GET /session/{id}.
type sessionInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// statusEntry is one entry from the /session/status map.
type statusEntry struct {
	Type string `json:"type"` // "busy", "retry", ...
}

// messageRequest is the body for POST /session/{id}/message.
type messageRequest struct {
	Parts []messagePart `json:"parts"`
}

type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// messageResponse is the relevant subset of the prompt response.
type messageResponse struct {
	Info struct {
		Tokens struct {
			Input  int64 `json:"input"`
			Output int64 `json:"output"`
		} `json:"tokens"`
		Cost float64 `json:"cost"`
	} `json:"info"`
	Parts []messagePart `json:"parts"`
}

// IsAlive checks the session with a direct lookup. The session list
// endpoint under-reports (child and compacted sessions are missing
// from it), so GET /session/{id} is the authoritative probe.
func (c *OpenCodeClient) IsAlive(ctx context.Context, ref Ref) bool {
	if ref.SessionID == "" || ref.ServerURL == "" {
		return false
	}

	url := fmt.Sprintf("%s/session/%s", strings.TrimSuffix(ref.ServerURL, "/"), ref.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var info sessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false
	}
	return info.ID == ref.SessionID
}

// IsBusy consults the instance-wide status map. Absence from the map
// means idle; only sessions with active work appear in it.
func (c *OpenCodeClient) IsBusy(ctx context.Context, ref Ref) bool {
	statusMap := c.fetchSessionStatus(ctx, ref.ServerURL)
	entry, ok := statusMap[ref.SessionID]
	return ok && entry.Type != ""
}

// fetchSessionStatus calls GET /session/status and returns the status map.
func (c *OpenCodeClient) fetchSessionStatus(ctx context.Context, base string) map[string]statusEntry {
	url := strings.TrimSuffix(base, "/") + "/session/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var statusMap map[string]statusEntry
	if err := json.NewDecoder(resp.Body).Decode(&statusMap); err != nil {
		return nil
	}
	return statusMap
}

// Prompt sends the prompt and blocks until the final reply. On context
// deadline the in-flight turn is aborted server-side (best effort).
func (c *OpenCodeClient) Prompt(ctx context.Context, ref Ref, prompt string) (*Result, error) {
	return c.PromptWithEvents(ctx, ref, prompt, StreamCallbacks{})
}

// PromptWithEvents sends the prompt while relaying streaming progress
// from the instance's shared SSE /event stream. Stream failures only
// degrade progress reporting; the prompt result is authoritative.
func (c *OpenCodeClient) PromptWithEvents(ctx context.Context, ref Ref, prompt string, cb StreamCallbacks) (*Result, error) {
	if ref.SessionID == "" || ref.ServerURL == "" {
		return nil, errors.New("opencode: empty session reference")
	}

	events, unsubscribe, err := c.subscribe(ref.ServerURL, ref.SessionID)
	if err != nil {
		c.logger.Warn("event stream unavailable, prompting without progress",
			"server", ref.ServerURL, "error", err)
	} else {
		defer unsubscribe()

		streamCtx, stopStream := context.WithCancel(ctx)
		defer stopStream()
		go relaySessionEvents(streamCtx, events, cb)
	}

	return c.postPrompt(ctx, ref, prompt)
}

// relaySessionEvents translates correlated SSE events into callbacks.
// Part updates carry cumulative snapshots, so they go through an
// Accumulator to produce true deltas.
func relaySessionEvents(ctx context.Context, events <-chan sseEvent, cb StreamCallbacks) {
	var acc Accumulator
	started := false

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !started {
				cb.typingStart()
				started = true
			}
			if text, ok := ev.partText(); ok {
				cb.textDelta(acc.Delta(text))
			}
		}
	}
}

// postPrompt performs the blocking message POST and decodes the reply.
func (c *OpenCodeClient) postPrompt(ctx context.Context, ref Ref, prompt string) (*Result, error) {
	base := strings.TrimSuffix(ref.ServerURL, "/")
	url := fmt.Sprintf("%s/session/%s/message", base, ref.SessionID)

	body, err := json.Marshal(messageRequest{
		Parts: []messagePart{{Type: "text", Text: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// The prompt can run for minutes; rely on ctx, not the probe timeout.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.abort(ref)
			return nil, fmt.Errorf("%w: %s", ErrTimeout, ref.SessionID)
		}
		return nil, fmt.Errorf("sending prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prompt failed: status %d", resp.StatusCode)
	}

	var msg messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decoding prompt response: %w", err)
	}

	var text strings.Builder
	for _, part := range msg.Parts {
		if part.Type == "text" {
			text.WriteString(part.Text)
		}
	}

	return &Result{
		Text:         text.String(),
		InputTokens:  msg.Info.Tokens.Input,
		OutputTokens: msg.Info.Tokens.Output,
		Cost:         msg.Info.Cost,
	}, nil
}

// abort asks the server to cancel the in-flight turn. Best effort:
// runs on a fresh short-lived context since the caller's is dead.
func (c *OpenCodeClient) abort(ref Ref) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/session/%s/abort", strings.TrimSuffix(ref.ServerURL, "/"), ref.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("abort request failed", "session_id", ref.SessionID, "error", err)
		return
	}
	resp.Body.Close()
	c.logger.Info("aborted timed-out session turn", "session_id", ref.SessionID)
}

// subscribe returns a channel of SSE events correlated to sessionID,
// connecting the shared per-server stream on first use.
func (c *OpenCodeClient) subscribe(serverURL, sessionID string) (<-chan sseEvent, func(), error) {
	c.mu.Lock()
	stream, ok := c.streams[serverURL]
	if !ok || stream.dead() {
		var err error
		stream, err = newEventStream(serverURL, c.logger)
		if err != nil {
			c.mu.Unlock()
			return nil, nil, err
		}
		c.streams[serverURL] = stream
	}
	c.mu.Unlock()

	ch, subID := stream.subscribe(sessionID)
	return ch, func() { stream.unsubscribe(subID) }, nil
}

// Close tears down all SSE streams.
func (c *OpenCodeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, stream := range c.streams {
		stream.close()
		delete(c.streams, url)
	}
}
