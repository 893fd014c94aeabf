// ABOUTME: Tests for agent target resolution and ghost demotion
// ABOUTME: Covers system/missing/no-session skips and stale-reference clearing

package invoke

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashkhare0/talkto/internal/provider"
	"github.com/yashkhare0/talkto/internal/store"
)

func TestResolver_MissingAgent(t *testing.T) {
	s := newStore(t)
	r := NewResolver(s, provider.Set{}, nil)

	target, err := r.Resolve(t.Context(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, target)

	assert.False(t, r.IsGhost(t.Context(), "nobody"), "unknown names are not ghosts")
}

func TestResolver_SystemAgentNeverInvocable(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "talkto", store.AgentKindSystem, "")
	r := NewResolver(s, provider.Set{}, nil)

	target, err := r.Resolve(t.Context(), "talkto")
	require.NoError(t, err)
	assert.Nil(t, target)

	assert.False(t, r.IsGhost(t.Context(), "talkto"), "system agents are never ghosts")
}

func TestResolver_NoSessionIsGhost(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "")
	r := NewResolver(s, provider.Set{}, nil)

	target, err := r.Resolve(t.Context(), "crabby")
	require.NoError(t, err)
	assert.Nil(t, target)

	assert.True(t, r.IsGhost(t.Context(), "crabby"))
}

func TestResolver_LiveSessionResolves(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_live")
	client := &fakeClient{alive: true}
	r := NewResolver(s, provider.Set{provider.KindOpenCode: client}, nil)

	target, err := r.Resolve(t.Context(), "crabby")
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "crabby", target.Agent.Name)
	assert.Equal(t, "ses_live", target.Ref.SessionID)
	assert.Equal(t, "http://localhost:4096", target.Ref.ServerURL)

	assert.False(t, r.IsGhost(t.Context(), "crabby"))
}

func TestResolver_StaleSessionDemotes(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_stale")
	client := &fakeClient{alive: false}
	r := NewResolver(s, provider.Set{provider.KindOpenCode: client}, nil)

	ctx := t.Context()

	target, err := r.Resolve(ctx, "crabby")
	require.NoError(t, err)
	assert.Nil(t, target)

	// Credentials must be wiped
	agent, err := s.GetAgentByName(ctx, "crabby")
	require.NoError(t, err)
	assert.False(t, agent.HasSession())
	assert.Equal(t, store.AgentStatusOffline, agent.Status)

	// Second resolve short-circuits on the empty reference: the
	// provider is not probed again and the agent stays a ghost.
	target, err = r.Resolve(ctx, "crabby")
	require.NoError(t, err)
	assert.Nil(t, target)
	assert.Equal(t, 1, client.aliveCalls)
	assert.True(t, r.IsGhost(ctx, "crabby"))
}

func TestResolver_UnknownKindSkipped(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindCodex, "ses_x")

	// No codex client registered
	r := NewResolver(s, provider.Set{}, nil)

	target, err := r.Resolve(t.Context(), "crabby")
	require.NoError(t, err)
	assert.Nil(t, target)
	assert.True(t, r.IsGhost(t.Context(), "crabby"))
}
