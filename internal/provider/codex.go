// ABOUTME: Codex provider client driving the codex CLI as a subprocess
// ABOUTME: Resumes a session with --json output; item updates carry cumulative snapshots

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

// CodexClient drives agents running as Codex sessions. Each invocation
// resumes the session via `codex exec resume`. Like the claude client
// it owns its liveness state: a session is alive only after MarkAlive
// or a successful prompt.
type CodexClient struct {
	bin      string
	sessions *sessionSet
	logger   *slog.Logger
}

// NewCodexClient creates a Codex client using the given binary path.
func NewCodexClient(bin string, logger *slog.Logger) *CodexClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodexClient{
		bin:      bin,
		sessions: newSessionSet(),
		logger:   logger.With("component", "codex"),
	}
}

// MarkAlive records the session as alive, typically on agent connect.
func (c *CodexClient) MarkAlive(sessionID string) {
	c.sessions.markAlive(sessionID)
}

// MarkDead removes the alive mark, typically on agent disconnect.
func (c *CodexClient) MarkDead(sessionID string) {
	c.sessions.markDead(sessionID)
}

// IsAlive reports the session's local alive mark. Sessions never
// marked alive read as dead.
func (c *CodexClient) IsAlive(_ context.Context, ref Ref) bool {
	return ref.SessionID != "" && c.sessions.isAlive(ref.SessionID)
}

// IsBusy reports whether a prompt against the session is in flight.
func (c *CodexClient) IsBusy(_ context.Context, ref Ref) bool {
	return c.sessions.isBusy(ref.SessionID)
}

// Prompt sends the prompt and blocks until the final result.
func (c *CodexClient) Prompt(ctx context.Context, ref Ref, prompt string) (*Result, error) {
	return c.PromptWithEvents(ctx, ref, prompt, StreamCallbacks{})
}

// PromptWithEvents resumes the session with JSONL event output. Codex
// item.updated events carry the whole agent message so far, so they
// are diffed through an Accumulator before reaching OnTextDelta.
func (c *CodexClient) PromptWithEvents(ctx context.Context, ref Ref, prompt string, cb StreamCallbacks) (*Result, error) {
	if ref.SessionID == "" {
		return nil, errors.New("codex: empty session reference")
	}

	c.sessions.markBusy(ref.SessionID)
	defer c.sessions.clearBusy(ref.SessionID)

	cmd := exec.CommandContext(ctx, c.bin, "exec", "resume", ref.SessionID, "--json", prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("codex stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting codex: %w", err)
	}

	var acc Accumulator
	var result Result
	sawTurn := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		ev, ok := parseCodexEvent([]byte(line))
		if !ok {
			continue
		}
		switch ev.kind {
		case codexEventTurnStarted:
			cb.typingStart()
		case codexEventMessageUpdated:
			cb.textDelta(acc.Delta(ev.text))
		case codexEventMessageDone:
			result.Text = ev.text
		case codexEventTurnCompleted:
			sawTurn = true
			result.InputTokens = ev.inputTokens
			result.OutputTokens = ev.outputTokens
		}
	}

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, ref.SessionID)
		}
		return nil, fmt.Errorf("codex exited: %w", err)
	}

	if !sawTurn && result.Text == "" {
		return nil, errors.New("codex produced no turn")
	}

	c.sessions.markAlive(ref.SessionID)
	return &result, nil
}

// codexEventKind classifies the JSONL lines the hub cares about.
type codexEventKind int

const (
	codexEventTurnStarted codexEventKind = iota + 1
	codexEventMessageUpdated
	codexEventMessageDone
	codexEventTurnCompleted
)

type codexEvent struct {
	kind         codexEventKind
	text         string
	inputTokens  int64
	outputTokens int64
}

// codexLine mirrors the subset of codex's --json wire format the hub
// consumes.
type codexLine struct {
	Type string `json:"type"`
	Item struct {
		ItemType string `json:"item_type"`
		Text     string `json:"text"`
	} `json:"item"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// parseCodexEvent decodes one JSONL line. Lines the hub does not
// consume (reasoning, command execution items) return ok=false.
func parseCodexEvent(line []byte) (codexEvent, bool) {
	var l codexLine
	if err := json.Unmarshal(line, &l); err != nil {
		return codexEvent{}, false
	}

	switch l.Type {
	case "turn.started":
		return codexEvent{kind: codexEventTurnStarted}, true
	case "item.updated":
		if l.Item.ItemType == "agent_message" {
			return codexEvent{kind: codexEventMessageUpdated, text: l.Item.Text}, true
		}
	case "item.completed":
		if l.Item.ItemType == "agent_message" {
			return codexEvent{kind: codexEventMessageDone, text: l.Item.Text}, true
		}
	case "turn.completed":
		return codexEvent{
			kind:         codexEventTurnCompleted,
			inputTokens:  l.Usage.InputTokens,
			outputTokens: l.Usage.OutputTokens,
		}, true
	}
	return codexEvent{}, false
}
