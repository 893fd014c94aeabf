// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/channel/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			kind       TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			server_url TEXT NOT NULL DEFAULT '',
			project    TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'offline',
			last_seen  DATETIME,
			created_at DATETIME NOT NULL,

			CHECK (kind IN ('opencode', 'claude', 'codex', 'system')),
			CHECK (status IN ('online', 'offline'))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_kind ON agents(kind);

		CREATE TABLE IF NOT EXISTS channels (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			kind       TEXT NOT NULL DEFAULT 'channel',
			created_at DATETIME NOT NULL,

			CHECK (kind IN ('channel', 'dm'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			sender     TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (channel_id) REFERENCES channels(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel_created
			ON messages(channel_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateAgent inserts a new agent row.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.Status == "" {
		agent.Status = AgentStatusOffline
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, kind, session_id, server_url, project, status, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.Kind, agent.SessionID, agent.ServerURL,
		agent.Project, agent.Status, agent.LastSeen, agent.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// GetAgentByName returns the agent with the given name, or ErrNotFound.
func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, session_id, server_url, project, status, last_seen, created_at
		FROM agents WHERE name = ?`, name)
	return scanAgent(row)
}

// ListAgents returns all agents ordered by name.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, session_id, server_url, project, status, last_seen, created_at
		FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpdateAgentSession attaches a live session reference to an agent and
// marks it online. This is the connect path.
func (s *SQLiteStore) UpdateAgentSession(ctx context.Context, name, sessionID, serverURL, project string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET session_id = ?, server_url = ?, project = ?, status = ?, last_seen = ?
		WHERE name = ?`,
		sessionID, serverURL, project, AgentStatusOnline, now, name,
	)
	if err != nil {
		return fmt.Errorf("updating agent session: %w", err)
	}
	return requireRowAffected(res)
}

// ClearAgentSession wipes the agent's session credentials and marks it
// offline. This is the only demotion path; stale references are never
// re-resolved automatically.
func (s *SQLiteStore) ClearAgentSession(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET session_id = '', server_url = '', status = ?
		WHERE name = ?`,
		AgentStatusOffline, name,
	)
	if err != nil {
		return fmt.Errorf("clearing agent session: %w", err)
	}
	return requireRowAffected(res)
}

// SetAgentStatus updates the agent status.
func (s *SQLiteStore) SetAgentStatus(ctx context.Context, name, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = ? WHERE name = ?`, status, name)
	if err != nil {
		return fmt.Errorf("setting agent status: %w", err)
	}
	return requireRowAffected(res)
}

// TouchAgent records a heartbeat by updating last_seen.
func (s *SQLiteStore) TouchAgent(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE name = ?`, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("touching agent: %w", err)
	}
	return requireRowAffected(res)
}

// CreateChannel inserts a new channel row.
func (s *SQLiteStore) CreateChannel(ctx context.Context, ch *Channel) error {
	if ch.Kind == "" {
		ch.Kind = ChannelKindChannel
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, kind, created_at) VALUES (?, ?, ?, ?)`,
		ch.ID, ch.Name, ch.Kind, ch.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting channel: %w", err)
	}
	return nil
}

// GetChannel returns the channel with the given id, or ErrNotFound.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, created_at FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

// GetChannelByName returns the channel with the given name, or ErrNotFound.
func (s *SQLiteStore) GetChannelByName(ctx context.Context, name string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, created_at FROM channels WHERE name = ?`, name)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by name.
func (s *SQLiteStore) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, created_at FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// SaveMessage inserts a message row.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.Sender, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for a channel, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, sender, content, created_at
		FROM messages WHERE channel_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListMessages returns up to limit messages for a channel, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, sender, content, created_at
		FROM messages WHERE channel_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var lastSeen sql.NullTime
	err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.SessionID, &a.ServerURL,
		&a.Project, &a.Status, &lastSeen, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	if lastSeen.Valid {
		a.LastSeen = &lastSeen.Time
	}
	return &a, nil
}

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.Kind, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}
	return &ch, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
