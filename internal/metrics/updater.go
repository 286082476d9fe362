package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

// Updater periodically refreshes gauge metrics from the database
type Updater struct {
	store          *db.DB
	interval       time.Duration
	failureCeiling int
	stopCh         chan struct{}
}

// NewUpdater creates a new metrics updater. failureCeiling is the
// consecutive-failure count at which a source stops being polled.
func NewUpdater(store *db.DB, interval time.Duration, failureCeiling int) *Updater {
	return &Updater{
		store:          store,
		interval:       interval,
		failureCeiling: failureCeiling,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	// Update immediately on start
	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

// update fetches and updates all gauge metrics
func (u *Updater) update(ctx context.Context) {
	log.Debug().Msg("Updating metrics from database")

	u.updateMessengerMetrics(ctx)
	u.updateMonitorMetrics(ctx)
	u.updateConsensusMetrics(ctx)
	u.updateSimulatorMetrics(ctx)
	u.updateDatabaseMetrics()
}

// updateMessengerMetrics refreshes message backlog and conversation gauges
func (u *Updater) updateMessengerMetrics(ctx context.Context) {
	counts, err := u.store.MessageStatusCounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch message status counts")
		return
	}
	PendingMessages.Set(float64(counts[db.MessageStatusPending]))

	conversations, err := u.store.CountActiveConversations(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count active conversations")
		return
	}
	ActiveConversations.Set(float64(conversations))
}

// updateMonitorMetrics refreshes source registry gauges
func (u *Updater) updateMonitorMetrics(ctx context.Context) {
	sources, err := u.store.ListSources(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list regulatory sources")
		return
	}

	var active, muted int
	for _, src := range sources {
		if !src.Active {
			continue
		}
		active++
		if src.ConsecutiveFailures >= u.failureCeiling {
			muted++
		}
	}
	ActiveSources.Set(float64(active))
	MutedSources.Set(float64(muted))
}

// updateConsensusMetrics refreshes agent registry gauges
func (u *Updater) updateConsensusMetrics(ctx context.Context) {
	agents, err := u.store.CountActiveAgents(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count active agents")
		return
	}
	ActiveAgents.Set(float64(agents))
}

// updateSimulatorMetrics refreshes execution gauges
func (u *Updater) updateSimulatorMetrics(ctx context.Context) {
	counts, err := u.store.ExecutionStatusCounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch execution status counts")
		return
	}
	RunningSimulations.Set(float64(counts[db.ExecutionStatusRunning]))
}

// updateDatabaseMetrics updates database connection pool metrics
func (u *Updater) updateDatabaseMetrics() {
	pool := u.store.Pool()
	if pool == nil {
		return
	}
	stat := pool.Stat()
	UpdateDatabaseConnections(stat.AcquiredConns(), stat.IdleConns())
}
