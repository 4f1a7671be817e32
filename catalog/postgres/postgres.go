// Package postgres implements the agent and tool-permission catalog on
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hupe1980/agentrun/catalog"
	"github.com/hupe1980/agentrun/core"
)

// Schema creates the tables the store reads.
const Schema = `
CREATE TABLE IF NOT EXISTS agents (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	system_prompt_override TEXT,
	memory                 TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	agent_id        TEXT NOT NULL REFERENCES agents(id)
);

CREATE TABLE IF NOT EXISTS conversation_tools (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	tool_id         TEXT NOT NULL,
	PRIMARY KEY (conversation_id, tool_id)
);
`

const (
	queryAgent = `
SELECT a.name, a.system_prompt_override, a.memory
FROM conversations c
JOIN agents a ON a.id = c.agent_id
WHERE c.id = $1 AND c.organization_id = $2`

	queryTools = `
SELECT ct.tool_id
FROM conversation_tools ct
JOIN conversations c ON c.id = ct.conversation_id
WHERE ct.conversation_id = $1 AND c.organization_id = $2
ORDER BY ct.tool_id`

	execGrant = `
INSERT INTO conversation_tools (conversation_id, tool_id)
SELECT $1, unnest($2::text[])
ON CONFLICT DO NOTHING`

	execRevoke = `
DELETE FROM conversation_tools
WHERE conversation_id = $1 AND tool_id = ANY($2::text[])`
)

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns the default pool settings.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Store reads agents and tool permissions from PostgreSQL. Lookups are scoped
// to the caller's organization; a conversation owned by another organization
// is reported as not found.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// LoadAgent implements engine.AgentLoader.
func (s *Store) LoadAgent(ctx context.Context, conversationID string, creds core.Credentials) (*core.AgentIdentity, error) {
	var (
		agent    core.AgentIdentity
		override sql.NullString
	)
	err := s.db.QueryRowContext(ctx, queryAgent, conversationID, creds.ClientOrganizationID).
		Scan(&agent.Name, &override, &agent.Memory)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrConversationNotFound, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if override.Valid {
		agent.SystemPromptOverride = &override.String
	}
	return &agent, nil
}

// PermittedTools implements tool.Catalog.
func (s *Store) PermittedTools(ctx context.Context, creds core.Credentials, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryTools, conversationID, creds.ClientOrganizationID)
	if err != nil {
		return nil, fmt.Errorf("query tools: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tools: %w", err)
	}
	return ids, nil
}

// GrantTools permits toolIDs in a conversation. Existing grants are kept.
func (s *Store) GrantTools(ctx context.Context, conversationID string, toolIDs []string) error {
	if len(toolIDs) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, execGrant, conversationID, pq.Array(toolIDs)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("%w: %s", catalog.ErrConversationNotFound, conversationID)
		}
		return fmt.Errorf("grant tools: %w", err)
	}
	return nil
}

// RevokeTools removes toolIDs from a conversation.
func (s *Store) RevokeTools(ctx context.Context, conversationID string, toolIDs []string) error {
	if len(toolIDs) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, execRevoke, conversationID, pq.Array(toolIDs)); err != nil {
		return fmt.Errorf("revoke tools: %w", err)
	}
	return nil
}
