// Package events publishes platform lifecycle events to NATS for
// external observers. Publishing is fire-and-forget: agent message
// delivery never rides on NATS, so a missing broker only silences the
// event stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// Subject prefix for all platform events
const subjectPrefix = "regulens."

// Event is the envelope every published event is wrapped in
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Publisher publishes platform events to NATS. A nil Publisher is a
// valid no-op, so the daemon can run without a broker.
type Publisher struct {
	nc *nats.Conn
}

// Connect establishes the NATS connection. An empty URL disables event
// publishing and returns a nil Publisher.
func Connect(url string) (*Publisher, error) {
	if url == "" {
		log.Info().Msg("NATS URL not configured, platform events disabled")
		return nil, nil
	}

	nc, err := nats.Connect(
		url,
		nats.Name("regulens-core"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("nats_url", url).Msg("Event publisher initialized")

	return &Publisher{nc: nc}, nil
}

// PublishItemDetected announces a newly ingested regulatory item
func (p *Publisher) PublishItemDetected(ctx context.Context, item *db.RegulatoryItem) error {
	return p.publish(ctx, "items.detected", "regulatory.item_detected", item)
}

// PublishConsensusCompleted announces a finished consensus process
func (p *Publisher) PublishConsensusCompleted(ctx context.Context, result *db.ConsensusResult) error {
	return p.publish(ctx, "consensus.completed", "consensus.completed", result)
}

// PublishSimulationEvent announces a simulation execution state change.
// The subject carries the execution status so observers can filter.
func (p *Publisher) PublishSimulationEvent(ctx context.Context, exec *db.Execution) error {
	status := strings.ToLower(exec.Status)
	return p.publish(ctx, "simulations."+status, "simulation."+status, exec)
}

// publish wraps the payload in an Event envelope and sends it
func (p *Publisher) publish(ctx context.Context, topic, eventType string, payload interface{}) error {
	if p == nil || p.nc == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !p.nc.IsConnected() {
		return fmt.Errorf("event publisher not connected")
	}

	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := subjectPrefix + topic
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.NATSMessagesPublished.Inc()

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("type", eventType).
		Str("subject", subject).
		Msg("Published event")

	return nil
}

// Stats returns connection statistics for diagnostics
func (p *Publisher) Stats() map[string]interface{} {
	stats := make(map[string]interface{})

	if p != nil && p.nc != nil {
		stats["connected"] = p.nc.IsConnected()
		stats["status"] = p.nc.Status().String()
		stats["out_msgs"] = p.nc.Stats().OutMsgs
		stats["reconnects"] = p.nc.Stats().Reconnects
	}

	return stats
}

// Close flushes and closes the NATS connection
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	if err := p.nc.Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to flush event publisher")
	}
	p.nc.Close()
	log.Info().Msg("Event publisher closed")
	return nil
}
