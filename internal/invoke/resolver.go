// ABOUTME: Resolves agent names to live invocation targets
// ABOUTME: Demotes agents with stale session references; never rediscovers sessions

package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yashkhare0/talkto/internal/provider"
	"github.com/yashkhare0/talkto/internal/store"
)

// Target is a fully resolved invocation target: the agent row, its
// session reference, and the provider client that drives it.
type Target struct {
	Agent  *store.Agent
	Ref    provider.Ref
	Client provider.Client
}

// Resolver turns agent names into Targets. An agent resolves only when
// it has a session reference that its provider confirms alive. A stale
// reference is cleared on the spot (the agent becomes a ghost); it is
// never re-attached automatically — reconnecting is the agent's job.
type Resolver struct {
	store   store.Store
	clients provider.Set
	logger  *slog.Logger
}

// NewResolver creates a resolver. Pass nil logger for default.
func NewResolver(s store.Store, clients provider.Set, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:   s,
		clients: clients,
		logger:  logger.With("component", "resolver"),
	}
}

// Resolve returns the live target for an agent name, or nil when the
// agent cannot be invoked (missing, system, ghost, or stale). A nil
// Target with nil error is the normal "skip this one" outcome.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Target, error) {
	agent, err := r.store.GetAgentByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up agent %q: %w", name, err)
	}

	if agent.Kind == store.AgentKindSystem {
		return nil, nil
	}

	if !agent.HasSession() {
		return nil, nil
	}

	client, ok := r.clients.For(agent.Kind)
	if !ok {
		r.logger.Warn("no provider client for agent kind", "agent", name, "kind", agent.Kind)
		return nil, nil
	}

	ref := provider.Ref{SessionID: agent.SessionID, ServerURL: agent.ServerURL}
	if !client.IsAlive(ctx, ref) {
		r.demote(ctx, agent)
		return nil, nil
	}

	return &Target{Agent: agent, Ref: ref, Client: client}, nil
}

// IsGhost reports whether the named agent is a ghost: registered but
// without a live session. System agents and unknown names are never
// ghosts. A stale reference found here is demoted, same as Resolve.
func (r *Resolver) IsGhost(ctx context.Context, name string) bool {
	agent, err := r.store.GetAgentByName(ctx, name)
	if err != nil {
		return false
	}

	if agent.Kind == store.AgentKindSystem {
		return false
	}

	if !agent.HasSession() {
		return true
	}

	client, ok := r.clients.For(agent.Kind)
	if !ok {
		return true
	}

	ref := provider.Ref{SessionID: agent.SessionID, ServerURL: agent.ServerURL}
	if !client.IsAlive(ctx, ref) {
		r.demote(ctx, agent)
		return true
	}

	return false
}

// demote clears the agent's stale session credentials.
func (r *Resolver) demote(ctx context.Context, agent *store.Agent) {
	r.logger.Info("session reference stale, demoting agent to ghost",
		"agent", agent.Name,
		"session_id", agent.SessionID,
	)
	if err := r.store.ClearAgentSession(ctx, agent.Name); err != nil {
		r.logger.Warn("failed to clear stale session", "agent", agent.Name, "error", err)
	}
}
