// ABOUTME: Claude Code provider client driving the claude CLI as a subprocess
// ABOUTME: Resumes a session with stream-json output and relays true text deltas

package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ClaudeClient drives agents running as Claude Code sessions. Each
// invocation resumes the session via `claude -p --resume`. There is no
// external endpoint to probe, so the client owns its liveness state:
// a session is alive only after MarkAlive or a successful prompt.
type ClaudeClient struct {
	bin      string
	sessions *sessionSet
	logger   *slog.Logger
}

// NewClaudeClient creates a Claude client using the given binary path.
func NewClaudeClient(bin string, logger *slog.Logger) *ClaudeClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaudeClient{
		bin:      bin,
		sessions: newSessionSet(),
		logger:   logger.With("component", "claude"),
	}
}

// MarkAlive records the session as alive, typically on agent connect.
func (c *ClaudeClient) MarkAlive(sessionID string) {
	c.sessions.markAlive(sessionID)
}

// MarkDead removes the alive mark, typically on agent disconnect.
func (c *ClaudeClient) MarkDead(sessionID string) {
	c.sessions.markDead(sessionID)
}

// IsAlive reports the session's local alive mark. Sessions never
// marked alive read as dead.
func (c *ClaudeClient) IsAlive(_ context.Context, ref Ref) bool {
	return ref.SessionID != "" && c.sessions.isAlive(ref.SessionID)
}

// IsBusy reports whether a prompt against the session is in flight.
func (c *ClaudeClient) IsBusy(_ context.Context, ref Ref) bool {
	return c.sessions.isBusy(ref.SessionID)
}

// Prompt sends the prompt and blocks until the final result.
func (c *ClaudeClient) Prompt(ctx context.Context, ref Ref, prompt string) (*Result, error) {
	return c.PromptWithEvents(ctx, ref, prompt, StreamCallbacks{})
}

// PromptWithEvents resumes the session with streaming JSON output.
// Claude's content_block_delta events already carry true incremental
// fragments, so they pass through to OnTextDelta without re-diffing.
func (c *ClaudeClient) PromptWithEvents(ctx context.Context, ref Ref, prompt string, cb StreamCallbacks) (*Result, error) {
	if ref.SessionID == "" {
		return nil, errors.New("claude: empty session reference")
	}

	c.sessions.markBusy(ref.SessionID)
	defer c.sessions.clearBusy(ref.SessionID)

	cmd := exec.CommandContext(ctx, c.bin,
		"-p",
		"--resume", ref.SessionID,
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	)
	cmd.Stdin = strings.NewReader(prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("claude stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting claude: %w", err)
	}

	var result *Result
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		ev, ok := parseClaudeEvent([]byte(line))
		if !ok {
			continue
		}
		switch ev.kind {
		case claudeEventInit:
			cb.typingStart()
		case claudeEventDelta:
			cb.textDelta(ev.text)
		case claudeEventResult:
			result = &Result{
				Text:         ev.text,
				InputTokens:  ev.inputTokens,
				OutputTokens: ev.outputTokens,
				Cost:         ev.cost,
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, ref.SessionID)
		}
		return nil, fmt.Errorf("claude exited: %w", err)
	}

	if result == nil {
		return nil, errors.New("claude produced no result event")
	}

	c.sessions.markAlive(ref.SessionID)
	return result, nil
}

// claudeEventKind classifies the stream-json lines the hub cares about.
type claudeEventKind int

const (
	claudeEventInit claudeEventKind = iota + 1
	claudeEventDelta
	claudeEventResult
)

type claudeEvent struct {
	kind         claudeEventKind
	text         string
	inputTokens  int64
	outputTokens int64
	cost         float64
}

// claudeLine mirrors the subset of claude's stream-json wire format
// that the hub consumes.
type claudeLine struct {
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype"`
	Result       string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`
}

// parseClaudeEvent decodes one stream-json line. Lines the hub does not
// consume (tool use, thinking, non-text deltas) return ok=false.
func parseClaudeEvent(line []byte) (claudeEvent, bool) {
	var l claudeLine
	if err := json.Unmarshal(line, &l); err != nil {
		return claudeEvent{}, false
	}

	switch l.Type {
	case "system":
		if l.Subtype == "init" {
			return claudeEvent{kind: claudeEventInit}, true
		}
	case "stream_event":
		if l.Event.Type == "content_block_delta" && l.Event.Delta.Type == "text_delta" {
			return claudeEvent{kind: claudeEventDelta, text: l.Event.Delta.Text}, true
		}
	case "result":
		return claudeEvent{
			kind:         claudeEventResult,
			text:         l.Result,
			inputTokens:  l.Usage.InputTokens,
			outputTokens: l.Usage.OutputTokens,
			cost:         l.TotalCostUSD,
		}, true
	}
	return claudeEvent{}, false
}
