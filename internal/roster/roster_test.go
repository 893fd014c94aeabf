// ABOUTME: Tests for roster file loading and idempotent seeding
// ABOUTME: Covers TOML parsing, validation, and duplicate handling

package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashkhare0/talkto/internal/store"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeRoster(t, `
[[agents]]
name = "crabby"
kind = "opencode"

[[agents]]
name = "scholar"
kind = "claude"
`)

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Name: "crabby", Kind: "opencode"}, entries[0])
	assert.Equal(t, Entry{Name: "scholar", Kind: "claude"}, entries[1])
}

func TestLoad_InvalidKind(t *testing.T) {
	path := writeRoster(t, `
[[agents]]
name = "bad"
kind = "gpt"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kind")
}

func TestLoad_MissingName(t *testing.T) {
	path := writeRoster(t, `
[[agents]]
kind = "codex"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestSeed_Idempotent(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	entries := []Entry{
		{Name: "crabby", Kind: store.AgentKindOpenCode},
		{Name: "scholar", Kind: store.AgentKindClaude},
	}

	require.NoError(t, Seed(t.Context(), s, entries, nil))
	// Seeding again must not fail on existing names
	require.NoError(t, Seed(t.Context(), s, entries, nil))

	agents, err := s.ListAgents(t.Context())
	require.NoError(t, err)
	assert.Len(t, agents, 2)

	crabby, err := s.GetAgentByName(t.Context(), "crabby")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusOffline, crabby.Status)
	assert.False(t, crabby.HasSession())
}
