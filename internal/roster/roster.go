// ABOUTME: TOML agent roster seed file loading and store seeding
// ABOUTME: Pre-registers agents at startup so they exist before first connect

package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/yashkhare0/talkto/internal/store"
)

// Entry is one pre-registered agent in the roster file.
type Entry struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

// File is the top-level shape of an agents.toml roster file:
//
//	[[agents]]
//	name = "crabby"
//	kind = "opencode"
type File struct {
	Agents []Entry `toml:"agents"`
}

// Load parses a roster file and validates its entries.
func Load(path string) ([]Entry, error) {
	var file File
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parsing roster file: %w", err)
	}

	for i, entry := range file.Agents {
		if entry.Name == "" {
			return nil, fmt.Errorf("roster entry %d: name is required", i)
		}
		switch entry.Kind {
		case store.AgentKindOpenCode, store.AgentKindClaude, store.AgentKindCodex, store.AgentKindSystem:
		default:
			return nil, fmt.Errorf("roster entry %q: invalid kind %q", entry.Name, entry.Kind)
		}
	}
	return file.Agents, nil
}

// Seed registers roster entries that don't exist yet. Already
// registered names are left untouched, so seeding is idempotent across
// restarts.
func Seed(ctx context.Context, s store.Store, entries []Entry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, entry := range entries {
		agent := &store.Agent{
			ID:     uuid.New().String(),
			Name:   entry.Name,
			Kind:   entry.Kind,
			Status: store.AgentStatusOffline,
		}
		err := s.CreateAgent(ctx, agent)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seeding agent %q: %w", entry.Name, err)
		}
		logger.Info("agent seeded from roster", "agent", entry.Name, "kind", entry.Kind)
	}
	return nil
}
