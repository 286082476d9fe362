// Package messenger implements durable, prioritized, at-least-once
// message passing between agents. Delivery is a status transition in
// the store plus an optional delivery-log row; consumers pull with
// Receive, nothing is pushed over a socket.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaigenticai/Regulens-sub010/internal/alerts"
	"github.com/gaigenticai/Regulens-sub010/internal/config"
	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// ErrValidation marks a rejected input; no state was changed
var ErrValidation = errors.New("validation failed")

const (
	// PriorityUrgent..PriorityBulk bound the accepted priority range.
	// Lower sorts first.
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityNormal = 3
	PriorityLow    = 4
	PriorityBulk   = 5
)

// Draft is a message under construction. Build one with NewMessage or
// NewBroadcast, refine it with the WithX methods, then hand it to Send.
type Draft struct {
	msg db.Message
}

// NewMessage starts a unicast draft with default priority
func NewMessage(from, to, messageType string, content map[string]interface{}) *Draft {
	toAgent := to
	return &Draft{msg: db.Message{
		FromAgent:   from,
		ToAgent:     &toAgent,
		MessageType: messageType,
		Content:     content,
		Priority:    PriorityNormal,
	}}
}

// NewBroadcast starts a broadcast draft (to_agent NULL, every active
// agent minus exclusions receives it)
func NewBroadcast(from, messageType string, content map[string]interface{}) *Draft {
	return &Draft{msg: db.Message{
		FromAgent:   from,
		MessageType: messageType,
		Content:     content,
		Priority:    PriorityNormal,
	}}
}

// WithPriority sets the delivery priority (1 = urgent .. 5 = bulk)
func (d *Draft) WithPriority(p int) *Draft {
	d.msg.Priority = p
	return d
}

// WithCorrelationID tags the message with a caller correlation id
func (d *Draft) WithCorrelationID(id string) *Draft {
	d.msg.CorrelationID = &id
	return d
}

// WithConversation places the message in an existing conversation
func (d *Draft) WithConversation(id string) *Draft {
	d.msg.ConversationID = &id
	return d
}

// WithParent links the message to the one it replies to
func (d *Draft) WithParent(id string) *Draft {
	d.msg.ParentMessageID = &id
	return d
}

// WithExpiry sets the point after which the message must not be delivered
func (d *Draft) WithExpiry(t time.Time) *Draft {
	d.msg.ExpiresAt = &t
	return d
}

// WithExclusions keeps the named agents from receiving a broadcast
func (d *Draft) WithExclusions(agents ...string) *Draft {
	d.msg.ExcludedAgents = agents
	return d
}

// Stats is a point-in-time snapshot of messenger health
type Stats struct {
	ByStatus      map[string]int64 `json:"by_status"`
	QueueDepth    int              `json:"queue_depth"`
	WorkerRunning bool             `json:"worker_running"`
}

// Messenger is the durable inter-agent message bus
type Messenger struct {
	store  *db.DB
	types  *TypeRegistry
	alerts *alerts.Manager
	log    zerolog.Logger

	// settings guarded by mu; adjustable at runtime
	mu           sync.RWMutex
	maxRetries   int
	retryDelay   time.Duration
	batchSize    int
	queueRefresh time.Duration

	queue   chan string
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Messenger. alertMgr may be nil, in which case exhausted
// deliveries are only logged.
func New(store *db.DB, cfg config.MessengerConfig, alertMgr *alerts.Manager) *Messenger {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 256
	}

	m := &Messenger{
		store:        store,
		types:        NewTypeRegistry(),
		alerts:       alertMgr,
		log:          config.NewLogger("messenger"),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay(),
		batchSize:    cfg.BatchSize,
		queueRefresh: cfg.QueueRefresh(),
		queue:        make(chan string, capacity),
	}
	if m.maxRetries <= 0 {
		m.maxRetries = 3
	}
	if m.batchSize <= 0 {
		m.batchSize = 50
	}
	if m.queueRefresh <= 0 {
		m.queueRefresh = 5 * time.Second
	}
	return m
}

// Send validates and persists a unicast message, returning its id
func (m *Messenger) Send(ctx context.Context, draft *Draft) (string, error) {
	if draft.msg.ToAgent == nil || *draft.msg.ToAgent == "" {
		return "", fmt.Errorf("%w: to_agent is required, use Broadcast for fan-out", ErrValidation)
	}
	return m.persist(ctx, draft)
}

// SendAsync is Send plus an immediate hand-off to the delivery worker
func (m *Messenger) SendAsync(ctx context.Context, draft *Draft) (string, error) {
	id, err := m.Send(ctx, draft)
	if err != nil {
		return "", err
	}
	m.enqueue(id)
	return id, nil
}

// Broadcast validates and persists a broadcast message (to_agent NULL);
// recipients are all active agents minus the draft's exclusions
func (m *Messenger) Broadcast(ctx context.Context, draft *Draft) (string, error) {
	draft.msg.ToAgent = nil
	return m.persist(ctx, draft)
}

func (m *Messenger) persist(ctx context.Context, draft *Draft) (string, error) {
	msg := draft.msg

	if msg.FromAgent == "" {
		return "", fmt.Errorf("%w: from_agent is required", ErrValidation)
	}
	if msg.Priority < PriorityUrgent || msg.Priority > PriorityBulk {
		return "", fmt.Errorf("%w: priority must be between %d and %d, got %d",
			ErrValidation, PriorityUrgent, PriorityBulk, msg.Priority)
	}
	if err := m.types.Validate(msg.MessageType, msg.Content); err != nil {
		return "", err
	}

	msg.ID = uuid.NewString()
	msg.Status = db.MessageStatusPending
	msg.MaxRetries = m.MaxRetries()
	msg.CreatedAt = time.Now().UTC()

	if err := m.store.InsertMessage(ctx, &msg); err != nil {
		return "", fmt.Errorf("failed to persist message: %w", err)
	}

	metrics.MessagesSent.WithLabelValues(msg.MessageType).Inc()
	m.log.Debug().
		Str("message_id", msg.ID).
		Str("from", msg.FromAgent).
		Str("type", msg.MessageType).
		Int("priority", msg.Priority).
		Bool("broadcast", msg.ToAgent == nil).
		Msg("Message accepted")

	return msg.ID, nil
}

// Receive returns up to limit pending messages addressed to the agent
// (or broadcast and not excluding it), oldest and most urgent first.
// Each returned message transitions pending → delivered as part of the
// call. limit <= 0 returns empty without side effects.
func (m *Messenger) Receive(ctx context.Context, agentID string, limit int, typeFilter string) ([]*db.Message, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if limit <= 0 {
		return []*db.Message{}, nil
	}

	msgs, err := m.store.DeliverPendingMessages(ctx, agentID, limit, typeFilter)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		metrics.MessagesDelivered.Add(float64(len(msgs)))
	}
	return msgs, nil
}

// PendingFor previews the agent's pending messages without delivering them
func (m *Messenger) PendingFor(ctx context.Context, agentID string, limit int) ([]*db.Message, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if limit <= 0 {
		return []*db.Message{}, nil
	}
	return m.store.PendingMessagesFor(ctx, agentID, limit, "")
}

// Acknowledge marks a delivered message acknowledged by its recipient.
// Returns db.ErrConflict if the message is not currently delivered, or
// db.ErrNotFound if it does not exist.
func (m *Messenger) Acknowledge(ctx context.Context, messageID, agentID string) error {
	if err := m.store.AcknowledgeMessage(ctx, messageID, agentID); err != nil {
		return err
	}
	metrics.MessagesAcknowledged.Inc()
	return nil
}

// MarkRead stamps read_at once for the addressed agent. Status is
// promoted to read only from delivered; an acknowledged message keeps
// its status but still gets the read receipt.
func (m *Messenger) MarkRead(ctx context.Context, messageID, agentID string) error {
	return m.store.MarkMessageRead(ctx, messageID, agentID)
}

// ConversationOptions carry the optional attributes of a conversation
type ConversationOptions struct {
	Priority  string
	Metadata  map[string]interface{}
	ExpiresAt *time.Time
}

// StartConversation creates a durable grouping of messages around a
// topic. opts may be nil.
func (m *Messenger) StartConversation(ctx context.Context, topic string, participants []string, opts *ConversationOptions) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("%w: topic is required", ErrValidation)
	}
	if len(participants) == 0 {
		return "", fmt.Errorf("%w: at least one participant is required", ErrValidation)
	}

	now := time.Now().UTC()
	conv := db.Conversation{
		ID:                uuid.NewString(),
		Topic:             topic,
		ParticipantAgents: participants,
		Priority:          db.ConversationPriorityNormal,
		Status:            db.ConversationStatusActive,
		LastActivity:      now,
		CreatedAt:         now,
	}
	if opts != nil {
		if opts.Priority != "" {
			conv.Priority = opts.Priority
		}
		conv.Metadata = opts.Metadata
		conv.ExpiresAt = opts.ExpiresAt
	}

	if err := m.store.InsertConversation(ctx, &conv); err != nil {
		return "", fmt.Errorf("failed to start conversation: %w", err)
	}

	m.log.Debug().
		Str("conversation_id", conv.ID).
		Str("topic", topic).
		Int("participants", len(participants)).
		Msg("Conversation started")

	return conv.ID, nil
}

// AddToConversation links an existing message into a conversation,
// bumping message_count and last_activity. Fails with db.ErrConflict
// when the conversation is not active.
func (m *Messenger) AddToConversation(ctx context.Context, messageID, conversationID string) error {
	return m.store.AttachMessageToConversation(ctx, messageID, conversationID)
}

// GetConversationMessages returns a conversation's messages in Receive
// order. limit <= 0 defaults to the messenger batch size.
func (m *Messenger) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*db.Message, error) {
	if limit <= 0 {
		limit = m.BatchSize()
	}
	return m.store.ConversationMessages(ctx, conversationID, limit)
}

// CloseConversation marks an active conversation closed. Conversations
// are never deleted; closed is their terminal resting state.
func (m *Messenger) CloseConversation(ctx context.Context, conversationID string) error {
	return m.store.CloseConversation(ctx, conversationID)
}

// SaveTemplate upserts a reusable message template by name
func (m *Messenger) SaveTemplate(ctx context.Context, name, messageType string, content map[string]interface{}, description, createdBy string) error {
	if name == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if !m.types.Known(messageType) {
		return fmt.Errorf("%w: unknown message type %q", ErrValidation, messageType)
	}

	tpl := db.MessageTemplate{
		Name:            name,
		MessageType:     messageType,
		TemplateContent: content,
		Description:     description,
		IsActive:        true,
		CreatedBy:       createdBy,
	}
	return m.store.UpsertTemplate(ctx, &tpl)
}

// GetTemplate fetches a template by name
func (m *Messenger) GetTemplate(ctx context.Context, name string) (*db.MessageTemplate, error) {
	return m.store.GetTemplate(ctx, name)
}

// ListTemplates returns the active templates
func (m *Messenger) ListTemplates(ctx context.Context) ([]*db.MessageTemplate, error) {
	return m.store.ListTemplates(ctx)
}

// ValidateMessageType reports whether the type is registered
func (m *Messenger) ValidateMessageType(messageType string) bool {
	return m.types.Known(messageType)
}

// GetTypeSchema returns the registered schema for a message type
func (m *Messenger) GetTypeSchema(messageType string) (TypeSchema, error) {
	return m.types.Schema(messageType)
}

// ListSupportedTypes returns the registered type names, sorted
func (m *Messenger) ListSupportedTypes() []string {
	return m.types.Types()
}

// RegisterMessageType adds a custom message type to the registry
func (m *Messenger) RegisterMessageType(schema TypeSchema) error {
	return m.types.Register(schema)
}

// Stats returns message counters by status plus worker queue depth
func (m *Messenger) Stats(ctx context.Context) (*Stats, error) {
	counts, err := m.store.MessageStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		ByStatus:      counts,
		QueueDepth:    len(m.queue),
		WorkerRunning: m.running.Load(),
	}, nil
}

// CleanupExpired sweeps overdue messages into the expired state and
// expires overdue conversations. Idempotent; safe to run concurrently.
// Returns the number of messages expired.
func (m *Messenger) CleanupExpired(ctx context.Context) (int64, error) {
	expired, err := m.store.ExpireMessages(ctx)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		metrics.MessagesExpired.Add(float64(expired))
	}

	conversations, err := m.store.ExpireConversations(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to expire conversations")
	}

	if expired > 0 || conversations > 0 {
		m.log.Info().
			Int64("messages", expired).
			Int64("conversations", conversations).
			Msg("Expiry sweep completed")
	}
	return expired, nil
}

// SetMaxRetries adjusts the retry budget stamped on new messages
func (m *Messenger) SetMaxRetries(n int) {
	if n < 1 {
		return
	}
	m.mu.Lock()
	m.maxRetries = n
	m.mu.Unlock()
}

// MaxRetries returns the current retry budget
func (m *Messenger) MaxRetries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxRetries
}

// SetRetryDelay adjusts the delay before a failed delivery is retried
func (m *Messenger) SetRetryDelay(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.retryDelay = d
	m.mu.Unlock()
}

// RetryDelay returns the current retry delay
func (m *Messenger) RetryDelay() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryDelay
}

// SetBatchSize adjusts how many backlog ids one refresh pulls
func (m *Messenger) SetBatchSize(n int) {
	if n < 1 {
		return
	}
	m.mu.Lock()
	m.batchSize = n
	m.mu.Unlock()
}

// BatchSize returns the current backlog batch size
func (m *Messenger) BatchSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchSize
}
