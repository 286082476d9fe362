package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// Message lifecycle states. Transitions are enforced by conditional
// updates so concurrent callers cannot regress a row.
const (
	MessageStatusPending      = "pending"
	MessageStatusDelivered    = "delivered"
	MessageStatusAcknowledged = "acknowledged"
	MessageStatusRead         = "read"
	MessageStatusFailed       = "failed"
	MessageStatusExpired      = "expired"
)

// Message is one durable unit of inter-agent communication. A nil
// ToAgent means broadcast; ExcludedAgents narrows broadcast visibility.
type Message struct {
	ID              string                 `db:"id" json:"id"`
	FromAgent       string                 `db:"from_agent" json:"from_agent"`
	ToAgent         *string                `db:"to_agent" json:"to_agent,omitempty"`
	MessageType     string                 `db:"message_type" json:"message_type"`
	Content         map[string]interface{} `db:"content" json:"content"`
	Priority        int                    `db:"priority" json:"priority"`
	Status          string                 `db:"status" json:"status"`
	RetryCount      int                    `db:"retry_count" json:"retry_count"`
	MaxRetries      int                    `db:"max_retries" json:"max_retries"`
	ExcludedAgents  []string               `db:"excluded_agents" json:"excluded_agents,omitempty"`
	CorrelationID   *string                `db:"correlation_id" json:"correlation_id,omitempty"`
	ParentMessageID *string                `db:"parent_message_id" json:"parent_message_id,omitempty"`
	ConversationID  *string                `db:"conversation_id" json:"conversation_id,omitempty"`
	ErrorMessage    *string                `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	DeliveredAt     *time.Time             `db:"delivered_at" json:"delivered_at,omitempty"`
	AcknowledgedAt  *time.Time             `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ReadAt          *time.Time             `db:"read_at" json:"read_at,omitempty"`
	ExpiresAt       *time.Time             `db:"expires_at" json:"expires_at,omitempty"`
}

const messageColumns = `id, from_agent, to_agent, message_type, content, priority, status,
	       retry_count, max_retries, excluded_agents, correlation_id, parent_message_id,
	       conversation_id, error_message, created_at, delivered_at, acknowledged_at,
	       read_at, expires_at`

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	err := row.Scan(
		&msg.ID,
		&msg.FromAgent,
		&msg.ToAgent,
		&msg.MessageType,
		&msg.Content,
		&msg.Priority,
		&msg.Status,
		&msg.RetryCount,
		&msg.MaxRetries,
		&msg.ExcludedAgents,
		&msg.CorrelationID,
		&msg.ParentMessageID,
		&msg.ConversationID,
		&msg.ErrorMessage,
		&msg.CreatedAt,
		&msg.DeliveredAt,
		&msg.AcknowledgedAt,
		&msg.ReadAt,
		&msg.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*Message, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// InsertMessage persists a new message row
func (db *DB) InsertMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO agent_messages (id, from_agent, to_agent, message_type, content,
		                            priority, status, retry_count, max_retries,
		                            excluded_agents, correlation_id, parent_message_id,
		                            conversation_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := db.pool.Exec(ctx, query,
		msg.ID,
		msg.FromAgent,
		msg.ToAgent,
		msg.MessageType,
		msg.Content,
		msg.Priority,
		msg.Status,
		msg.RetryCount,
		msg.MaxRetries,
		textArray(msg.ExcludedAgents),
		msg.CorrelationID,
		msg.ParentMessageID,
		msg.ConversationID,
		msg.CreatedAt,
		msg.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}

	return nil
}

// GetMessage retrieves a message by id
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM agent_messages WHERE id = $1`

	msg, err := scanMessage(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query message %s: %w", id, err)
	}

	return msg, nil
}

// eligibleFilter selects deliverable rows for an agent: addressed to it
// or broadcast without exclusion, still pending and not yet expired.
// $1 = agent id, $2 = type filter ('' matches all).
const eligibleFilter = `
		  (to_agent = $1 OR to_agent IS NULL)
		  AND status = 'pending'
		  AND (expires_at IS NULL OR expires_at > NOW())
		  AND NOT ($1 = ANY(excluded_agents))
		  AND ($2 = '' OR message_type = $2)`

// DeliverPendingMessages atomically selects up to limit eligible messages
// for the agent and marks them delivered. Ordering is priority first,
// then created_at within a priority class.
func (db *DB) DeliverPendingMessages(ctx context.Context, agentID string, limit int, typeFilter string) ([]*Message, error) {
	query := `
		WITH eligible AS (
			SELECT id FROM agent_messages
			WHERE` + eligibleFilter + `
			ORDER BY priority ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE agent_messages m
		SET status = 'delivered', delivered_at = NOW()
		FROM eligible e
		WHERE m.id = e.id
		RETURNING ` + qualifiedMessageColumns("m")

	messages, err := db.queryMessages(ctx, query, agentID, typeFilter, limit)
	if err != nil {
		return nil, err
	}

	// RETURNING does not preserve the CTE ordering.
	sortMessages(messages)

	return messages, nil
}

// PendingMessagesFor returns eligible messages without changing their status
func (db *DB) PendingMessagesFor(ctx context.Context, agentID string, limit int, typeFilter string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM agent_messages
		WHERE` + eligibleFilter + `
		ORDER BY priority ASC, created_at ASC
		LIMIT $3
	`

	return db.queryMessages(ctx, query, agentID, typeFilter, limit)
}

// AcknowledgeMessage transitions a delivered message to acknowledged.
// Only the addressee (or any agent, for broadcasts) may acknowledge.
func (db *DB) AcknowledgeMessage(ctx context.Context, id, agentID string) error {
	query := `
		UPDATE agent_messages
		SET status = 'acknowledged', acknowledged_at = NOW()
		WHERE id = $1 AND status = 'delivered' AND (to_agent = $2 OR to_agent IS NULL)
	`

	tag, err := db.pool.Exec(ctx, query, id, agentID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return db.classifyMessageRejection(ctx, id)
	}

	return nil
}

// MarkMessageRead stamps read_at for the addressee and promotes a
// delivered message to read. read_at is written exactly once.
func (db *DB) MarkMessageRead(ctx context.Context, id, agentID string) error {
	query := `
		UPDATE agent_messages
		SET read_at = NOW(),
		    status = CASE WHEN status = 'delivered' THEN 'read' ELSE status END
		WHERE id = $1 AND to_agent = $2 AND read_at IS NULL
	`

	tag, err := db.pool.Exec(ctx, query, id, agentID)
	if err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return db.classifyMessageRejection(ctx, id)
	}

	return nil
}

// classifyMessageRejection distinguishes a missing row from a row whose
// current state forbids the requested transition.
func (db *DB) classifyMessageRejection(ctx context.Context, id string) error {
	var exists bool
	err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agent_messages WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check message %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("message %s: %w", id, ErrConflict)
}

// PendingBacklog returns ids of deliverable pending messages in
// (priority, created_at) order, for the delivery worker's refresh poll.
func (db *DB) PendingBacklog(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id FROM agent_messages
		WHERE status = 'pending' AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY priority ASC, created_at ASC
		LIMIT $1
	`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending backlog: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan backlog id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate backlog: %w", err)
	}

	return ids, nil
}

// MarkMessageDelivered transitions a pending message to delivered on
// behalf of the delivery worker. Returns false when the message was no
// longer pending (already delivered, expired, or gone).
func (db *DB) MarkMessageDelivered(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE agent_messages
		SET status = 'delivered', delivered_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := db.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark message %s delivered: %w", id, err)
	}

	return tag.RowsAffected() > 0, nil
}

// RequeueMessage moves a message back to pending for another delivery
// attempt, incrementing retry_count. Returns false when the retry budget
// is exhausted; the caller should then fail the message instead.
func (db *DB) RequeueMessage(ctx context.Context, id, errorMessage string) (bool, error) {
	query := `
		UPDATE agent_messages
		SET retry_count = retry_count + 1, status = 'pending', error_message = $2
		WHERE id = $1 AND retry_count + 1 < max_retries
	`

	tag, err := db.pool.Exec(ctx, query, id, errorMessage)
	if err != nil {
		return false, fmt.Errorf("failed to requeue message %s: %w", id, err)
	}

	return tag.RowsAffected() > 0, nil
}

// FailMessage parks a message in the failed state with the last error
func (db *DB) FailMessage(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE agent_messages
		SET status = 'failed', error_message = $2
		WHERE id = $1
	`

	if _, err := db.pool.Exec(ctx, query, id, errorMessage); err != nil {
		return fmt.Errorf("failed to fail message %s: %w", id, err)
	}
	return nil
}

// ExpireMessages sweeps every overdue row into the expired state.
// Acknowledged and read rows are terminal and never expire. Idempotent.
func (db *DB) ExpireMessages(ctx context.Context) (int64, error) {
	query := `
		UPDATE agent_messages
		SET status = 'expired'
		WHERE expires_at IS NOT NULL AND expires_at <= NOW()
		  AND status NOT IN ('expired', 'acknowledged', 'read')
	`

	tag, err := db.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to expire messages: %w", err)
	}

	return tag.RowsAffected(), nil
}

// UpsertDeliveryLog records the delivery of a message to a specific agent
func (db *DB) UpsertDeliveryLog(ctx context.Context, messageID, agentID string) error {
	query := `
		INSERT INTO message_delivery_log (message_id, agent_id, delivered_at, status)
		VALUES ($1, $2, NOW(), 'delivered')
		ON CONFLICT (message_id, agent_id) DO UPDATE SET
			delivered_at = EXCLUDED.delivered_at,
			status = EXCLUDED.status
	`

	if _, err := db.pool.Exec(ctx, query, messageID, agentID); err != nil {
		return fmt.Errorf("failed to upsert delivery log for message %s: %w", messageID, err)
	}
	return nil
}

// InsertDeliveryAttempt records one failed delivery attempt
func (db *DB) InsertDeliveryAttempt(ctx context.Context, messageID string, attemptNumber int, errorCode, errorMessage string) error {
	query := `
		INSERT INTO message_delivery_attempts (message_id, attempt_number, error_code, error_message, attempted_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	if _, err := db.pool.Exec(ctx, query, messageID, attemptNumber, errorCode, errorMessage); err != nil {
		return fmt.Errorf("failed to insert delivery attempt for message %s: %w", messageID, err)
	}
	return nil
}

// MessageStatusCounts returns the number of messages per status
func (db *DB) MessageStatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := db.pool.Query(ctx, `SELECT status, COUNT(*) FROM agent_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	return counts, nil
}

// ConversationMessages returns a conversation's messages in the same
// (priority, created_at) order Receive uses.
func (db *DB) ConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM agent_messages
		WHERE conversation_id = $1
		ORDER BY priority ASC, created_at ASC
		LIMIT $2
	`

	return db.queryMessages(ctx, query, conversationID, limit)
}

func sortMessages(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Priority != messages[j].Priority {
			return messages[i].Priority < messages[j].Priority
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// qualifiedMessageColumns prefixes each message column with a table alias
// for use in UPDATE ... RETURNING clauses.
func qualifiedMessageColumns(alias string) string {
	return alias + `.id, ` + alias + `.from_agent, ` + alias + `.to_agent, ` +
		alias + `.message_type, ` + alias + `.content, ` + alias + `.priority, ` +
		alias + `.status, ` + alias + `.retry_count, ` + alias + `.max_retries, ` +
		alias + `.excluded_agents, ` + alias + `.correlation_id, ` + alias + `.parent_message_id, ` +
		alias + `.conversation_id, ` + alias + `.error_message, ` + alias + `.created_at, ` +
		alias + `.delivered_at, ` + alias + `.acknowledged_at, ` + alias + `.read_at, ` +
		alias + `.expires_at`
}
