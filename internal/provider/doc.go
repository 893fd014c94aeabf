// Package provider contains the clients that drive agent runtimes.
//
// Each registered agent is backed by one of three runtimes: an OpenCode
// server (REST + SSE), a Claude Code session (subprocess), or a Codex
// session (subprocess). The Client interface abstracts over them:
// liveness probing, busy probing, and blocking prompts with optional
// streaming callbacks.
//
// Streaming semantics differ per runtime. Claude emits true incremental
// deltas; OpenCode and Codex re-send cumulative snapshots, which the
// Accumulator converts into deltas so callers only ever see increments.
package provider
