// ABOUTME: Store interface and data types for talkto-hub persistence
// ABOUTME: Defines Agent, Channel, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint would be violated
var ErrDuplicate = errors.New("already exists")

// Agent kinds. The kind determines which provider client drives the agent.
const (
	AgentKindOpenCode = "opencode"
	AgentKindClaude   = "claude"
	AgentKindCodex    = "codex"
	AgentKindSystem   = "system" // hub-internal, never invocable, never a ghost
)

// Agent statuses
const (
	AgentStatusOnline  = "online"
	AgentStatusOffline = "offline"
)

// Channel kinds
const (
	ChannelKindChannel = "channel"
	ChannelKindDM      = "dm"
)

// Agent represents a registered agent and its session credentials.
// SessionID and ServerURL are the live session reference; an agent
// without one is a ghost (unless its kind is system).
type Agent struct {
	ID        string
	Name      string
	Kind      string
	SessionID string
	ServerURL string
	Project   string
	Status    string
	LastSeen  *time.Time
	CreatedAt time.Time
}

// HasSession reports whether the agent carries a live session reference.
func (a *Agent) HasSession() bool {
	return a.SessionID != ""
}

// Channel represents a chat channel or a DM pair
type Channel struct {
	ID        string
	Name      string
	Kind      string
	CreatedAt time.Time
}

// Message represents a single message within a channel
type Message struct {
	ID        string
	ChannelID string
	Sender    string
	Content   string
	CreatedAt time.Time
}

// Store defines the interface for agent, channel, and message persistence
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgentSession(ctx context.Context, name, sessionID, serverURL, project string) error
	ClearAgentSession(ctx context.Context, name string) error
	SetAgentStatus(ctx context.Context, name, status string) error
	TouchAgent(ctx context.Context, name string) error

	// Channels
	CreateChannel(ctx context.Context, ch *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	GetChannelByName(ctx context.Context, name string) (*Channel, error)
	ListChannels(ctx context.Context) ([]*Channel, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	RecentMessages(ctx context.Context, channelID string, limit int) ([]*Message, error)
	ListMessages(ctx context.Context, channelID string, limit int) ([]*Message, error)

	Close() error
}
