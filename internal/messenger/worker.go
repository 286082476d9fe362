package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// StartWorker launches the background delivery loop. The worker drains
// an in-memory id queue fed by SendAsync and a periodic backlog poll,
// so messages persisted before a crash are still picked up.
func (m *Messenger) StartWorker(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("delivery worker already running")
	}

	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.deliveryLoop(ctx)

	m.log.Info().
		Dur("queue_refresh", m.queueRefresh).
		Int("batch_size", m.BatchSize()).
		Msg("Delivery worker started")
	return nil
}

// StopWorker signals the delivery loop to exit and waits for it
func (m *Messenger) StopWorker() error {
	if !m.running.CompareAndSwap(true, false) {
		return errors.New("delivery worker not running")
	}

	close(m.stopCh)
	m.wg.Wait()
	m.log.Info().Msg("Delivery worker stopped")
	return nil
}

// enqueue hands an id to the worker without blocking. A full queue is
// fine, the next backlog refresh picks the message up again.
func (m *Messenger) enqueue(id string) {
	select {
	case m.queue <- id:
	default:
	}
}

func (m *Messenger) deliveryLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.queueRefresh)
	defer ticker.Stop()

	m.refreshBacklog(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case id := <-m.queue:
			m.deliverOne(ctx, id)
		case <-ticker.C:
			m.refreshBacklog(ctx)
		}
	}
}

// refreshBacklog pulls deliverable pending ids from the store into the
// queue, most urgent first, stopping when the queue is full.
func (m *Messenger) refreshBacklog(ctx context.Context) {
	ids, err := m.store.PendingBacklog(ctx, m.BatchSize())
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to refresh delivery backlog")
		metrics.RecordError("backlog_refresh", "messenger")
		return
	}

	for _, id := range ids {
		select {
		case m.queue <- id:
		default:
			return
		}
	}
}

func (m *Messenger) deliverOne(ctx context.Context, id string) {
	start := time.Now()

	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return
		}
		m.log.Warn().Err(err).Str("message_id", id).Msg("Failed to load message for delivery")
		metrics.RecordError("message_load", "messenger")
		return
	}

	// Receive may have delivered it directly in the meantime.
	if msg.Status != db.MessageStatusPending {
		return
	}
	// Overdue rows belong to the expiry sweep, not the worker.
	if msg.ExpiresAt != nil && !msg.ExpiresAt.After(time.Now()) {
		return
	}

	delivered, err := m.store.MarkMessageDelivered(ctx, id)
	if err != nil {
		m.handleDeliveryFailure(ctx, msg, err)
		return
	}
	if !delivered {
		return
	}

	if msg.ToAgent != nil && *msg.ToAgent != "" {
		if err := m.store.UpsertDeliveryLog(ctx, id, *msg.ToAgent); err != nil {
			m.log.Warn().Err(err).Str("message_id", id).Msg("Failed to record delivery log")
		}
	}

	metrics.MessagesDelivered.Inc()
	metrics.DeliveryDuration.Observe(float64(time.Since(start).Milliseconds()))
	m.log.Debug().
		Str("message_id", id).
		Str("type", msg.MessageType).
		Msg("Message delivered")
}

// handleDeliveryFailure records the attempt, then either requeues the
// message for a delayed retry or parks it as failed once the retry
// budget is spent.
func (m *Messenger) handleDeliveryFailure(ctx context.Context, msg *db.Message, cause error) {
	attempt := msg.RetryCount + 1
	errorCode := metrics.NormalizeDeliveryFailure(cause.Error())
	if err := m.store.InsertDeliveryAttempt(ctx, msg.ID, attempt, errorCode, cause.Error()); err != nil {
		m.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to record delivery attempt")
	}

	requeued, err := m.store.RequeueMessage(ctx, msg.ID, cause.Error())
	if err != nil {
		m.log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to requeue message")
		metrics.RecordError("message_requeue", "messenger")
		return
	}

	if requeued {
		metrics.DeliveryRetries.Inc()
		m.log.Info().
			Str("message_id", msg.ID).
			Int("attempt", attempt).
			Int("max_retries", msg.MaxRetries).
			Msg("Delivery retry scheduled")

		delay := m.RetryDelay()
		if delay <= 0 {
			m.enqueue(msg.ID)
			return
		}
		time.AfterFunc(delay, func() {
			if m.running.Load() {
				m.enqueue(msg.ID)
			}
		})
		return
	}

	if err := m.store.FailMessage(ctx, msg.ID, cause.Error()); err != nil {
		m.log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to park message as failed")
		return
	}

	metrics.RecordMessageFailed("max retries exhausted")
	m.log.Error().
		Str("message_id", msg.ID).
		Str("type", msg.MessageType).
		Int("attempts", attempt).
		Msg("Delivery abandoned after exhausting retries")

	if m.alerts != nil {
		toAgent := "broadcast"
		if msg.ToAgent != nil {
			toAgent = *msg.ToAgent
		}
		m.alerts.SendWarning(ctx, "Message Delivery Exhausted", fmt.Sprintf(
			"Message %s (%s) to %s failed after %d attempts", msg.ID, msg.MessageType, toAgent, attempt,
		), map[string]interface{}{
			"message_id":   msg.ID,
			"message_type": msg.MessageType,
			"to_agent":     toAgent,
			"attempts":     attempt,
		})
	}
}
