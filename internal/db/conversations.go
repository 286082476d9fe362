package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Conversation lifecycle states.
const (
	ConversationStatusActive  = "active"
	ConversationStatusClosed  = "closed"
	ConversationStatusExpired = "expired"
)

// Conversation priority levels.
const (
	ConversationPriorityLow    = "low"
	ConversationPriorityNormal = "normal"
	ConversationPriorityHigh   = "high"
)

// Conversation groups messages around a topic with an explicit
// participant set
type Conversation struct {
	ID                string                 `db:"id" json:"id"`
	Topic             string                 `db:"topic" json:"topic"`
	ParticipantAgents []string               `db:"participant_agents" json:"participant_agents"`
	Priority          string                 `db:"priority" json:"priority"`
	Metadata          map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	Status            string                 `db:"status" json:"status"`
	MessageCount      int                    `db:"message_count" json:"message_count"`
	LastActivity      time.Time              `db:"last_activity" json:"last_activity"`
	CreatedAt         time.Time              `db:"created_at" json:"created_at"`
	ExpiresAt         *time.Time             `db:"expires_at" json:"expires_at,omitempty"`
}

const conversationColumns = `id, topic, participant_agents, priority, metadata, status,
	       message_count, last_activity, created_at, expires_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	err := row.Scan(
		&conv.ID,
		&conv.Topic,
		&conv.ParticipantAgents,
		&conv.Priority,
		&conv.Metadata,
		&conv.Status,
		&conv.MessageCount,
		&conv.LastActivity,
		&conv.CreatedAt,
		&conv.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// InsertConversation persists a new conversation row
func (db *DB) InsertConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO agent_conversations (id, topic, participant_agents, priority, metadata,
		                                 status, message_count, last_activity, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
	`

	_, err := db.pool.Exec(ctx, query,
		conv.ID,
		conv.Topic,
		textArray(conv.ParticipantAgents),
		conv.Priority,
		conv.Metadata,
		conv.Status,
		conv.MessageCount,
		conv.CreatedAt,
		conv.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation %s: %w", conv.ID, err)
	}

	return nil
}

// GetConversation retrieves a conversation by id
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM agent_conversations WHERE id = $1`

	conv, err := scanConversation(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}

	return conv, nil
}

// AttachMessageToConversation links a message to a conversation and bumps
// the conversation's counters atomically. Both rows must exist and the
// conversation must still be active.
func (db *DB) AttachMessageToConversation(ctx context.Context, messageID, conversationID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Rollback if commit not called

	tag, err := tx.Exec(ctx,
		`UPDATE agent_messages SET conversation_id = $2 WHERE id = $1`,
		messageID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to link message %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE agent_conversations
		 SET message_count = message_count + 1, last_activity = NOW()
		 WHERE id = $1 AND status = 'active'`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to bump conversation %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM agent_conversations WHERE id = $1)`,
			conversationID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check conversation %s: %w", conversationID, err)
		}
		if !exists {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return fmt.Errorf("conversation %s is not active: %w", conversationID, ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit conversation update: %w", err)
	}

	return nil
}

// CloseConversation transitions an active conversation to closed
func (db *DB) CloseConversation(ctx context.Context, id string) error {
	query := `UPDATE agent_conversations SET status = 'closed' WHERE id = $1 AND status = 'active'`

	tag, err := db.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to close conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM agent_conversations WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check conversation %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("conversation %s is not active: %w", id, ErrConflict)
	}

	return nil
}

// ExpireConversations sweeps overdue active conversations into the
// expired state. Idempotent.
func (db *DB) ExpireConversations(ctx context.Context) (int64, error) {
	query := `
		UPDATE agent_conversations
		SET status = 'expired'
		WHERE expires_at IS NOT NULL AND expires_at <= NOW() AND status = 'active'
	`

	tag, err := db.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to expire conversations: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CountActiveConversations returns the number of active conversations
func (db *DB) CountActiveConversations(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_conversations WHERE status = 'active'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active conversations: %w", err)
	}
	return count, nil
}
