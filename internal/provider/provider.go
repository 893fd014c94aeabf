// ABOUTME: Provider client interface and shared types for driving agent runtimes
// ABOUTME: Defines Ref, Result, StreamCallbacks and the Client contract

package provider

import (
	"context"
	"errors"
)

// Kind identifies which runtime drives an agent.
type Kind string

const (
	KindOpenCode Kind = "opencode"
	KindClaude   Kind = "claude"
	KindCodex    Kind = "codex"
	KindSystem   Kind = "system"
)

// ErrTimeout is returned when an invocation exceeds its deadline.
var ErrTimeout = errors.New("invocation timed out")

// Ref is a session reference: everything a client needs to reach one
// live agent session. ServerURL is empty for subprocess providers.
type Ref struct {
	SessionID string
	ServerURL string
}

// Result is the outcome of a completed invocation.
type Result struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// StreamCallbacks receive progress events during PromptWithEvents.
// Either callback may be nil. OnTextDelta always receives true
// incremental fragments, never cumulative snapshots.
type StreamCallbacks struct {
	OnTypingStart func()
	OnTextDelta   func(text string)
}

func (cb StreamCallbacks) typingStart() {
	if cb.OnTypingStart != nil {
		cb.OnTypingStart()
	}
}

func (cb StreamCallbacks) textDelta(text string) {
	if cb.OnTextDelta != nil && text != "" {
		cb.OnTextDelta(text)
	}
}

// Client drives one kind of agent runtime.
type Client interface {
	// IsAlive reports whether the session reference still resolves to a
	// live session. A false result means the reference is stale.
	IsAlive(ctx context.Context, ref Ref) bool

	// IsBusy reports whether the session is currently processing a turn.
	IsBusy(ctx context.Context, ref Ref) bool

	// Prompt sends a prompt and blocks until the final result.
	Prompt(ctx context.Context, ref Ref, prompt string) (*Result, error)

	// PromptWithEvents is Prompt with streaming progress callbacks.
	PromptWithEvents(ctx context.Context, ref Ref, prompt string, cb StreamCallbacks) (*Result, error)
}

// Set maps agent kinds to their provider clients.
type Set map[Kind]Client

// For returns the client for the given kind, if one is registered.
func (s Set) For(kind string) (Client, bool) {
	c, ok := s[Kind(kind)]
	return c, ok
}
