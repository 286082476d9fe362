// Package consensus orchestrates multi-round voting across registered
// agents. Each process collects one latest opinion per agent per round,
// applies a configurable decision rule, and persists an auditable
// result. In-flight processes live in memory and mirror into the store
// after every state change so a restart rebuilds them.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaigenticai/Regulens-sub010/internal/config"
	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/events"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// ErrValidation marks a rejected input; no state was changed
var ErrValidation = errors.New("validation failed")

// defaults fill zero-valued Config fields at Initiate time
type defaults struct {
	maxRounds       int
	timeoutPerRound time.Duration
	threshold       float64
	minParticipants int
}

// Engine runs consensus processes over the durable store
type Engine struct {
	store  *db.DB
	events *events.Publisher
	log    zerolog.Logger

	mu        sync.RWMutex
	processes map[string]*process
	fallback  defaults
}

// New creates a consensus engine. publisher may be nil, in which case
// completion events are not emitted.
func New(store *db.DB, cfg config.ConsensusConfig, publisher *events.Publisher) *Engine {
	e := &Engine{
		store:     store,
		events:    publisher,
		log:       config.NewLogger("consensus"),
		processes: make(map[string]*process),
		fallback: defaults{
			maxRounds:       cfg.DefaultMaxRounds,
			timeoutPerRound: cfg.RoundTimeout(),
			threshold:       cfg.DefaultThreshold,
			minParticipants: cfg.DefaultMinParticipants,
		},
	}
	if e.fallback.maxRounds <= 0 {
		e.fallback.maxRounds = 3
	}
	if e.fallback.timeoutPerRound <= 0 {
		e.fallback.timeoutPerRound = 5 * time.Minute
	}
	if e.fallback.threshold <= 0 {
		e.fallback.threshold = 0.5
	}
	if e.fallback.minParticipants <= 0 {
		e.fallback.minParticipants = 2
	}
	return e
}

// SetDefaults replaces the fallback values applied to zero-valued
// fields of incoming configs. Non-positive arguments keep the current
// value.
func (e *Engine) SetDefaults(maxRounds int, timeoutPerRound time.Duration, threshold float64, minParticipants int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if maxRounds > 0 {
		e.fallback.maxRounds = maxRounds
	}
	if timeoutPerRound > 0 {
		e.fallback.timeoutPerRound = timeoutPerRound
	}
	if threshold > 0 && threshold <= 1 {
		e.fallback.threshold = threshold
	}
	if minParticipants > 0 {
		e.fallback.minParticipants = minParticipants
	}
}

// Initiate validates the config, opens round 1 in COLLECTING_OPINIONS,
// and returns the new process id
func (e *Engine) Initiate(ctx context.Context, cfg Config) (string, error) {
	e.mu.RLock()
	fb := e.fallback
	e.mu.RUnlock()

	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmMajority
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = fb.maxRounds
	}
	if cfg.TimeoutPerRound == 0 {
		cfg.TimeoutPerRound = fb.timeoutPerRound
	}
	if cfg.ConsensusThreshold == 0 {
		cfg.ConsensusThreshold = fb.threshold
	}
	if cfg.MinParticipants == 0 {
		cfg.MinParticipants = fb.minParticipants
	}

	if err := e.validateConfig(&cfg); err != nil {
		return "", err
	}

	p := &process{
		id:     uuid.NewString(),
		config: cfg,
		rounds: []*Round{newRound(1, cfg.Topic)},
		state:  StateCollectingOpinions,
	}

	e.mu.Lock()
	e.processes[p.id] = p
	snap, err := e.snapshot(p)
	e.mu.Unlock()
	if err != nil {
		return "", err
	}
	if err := e.store.SaveConsensusSnapshot(ctx, snap); err != nil {
		return "", err
	}

	metrics.ConsensusInitiated.WithLabelValues(string(cfg.Algorithm)).Inc()
	metrics.ActiveConsensus.Inc()
	e.log.Info().
		Str("consensus_id", p.id).
		Str("topic", cfg.Topic).
		Str("algorithm", string(cfg.Algorithm)).
		Int("participants", len(cfg.Participants)).
		Int("max_rounds", cfg.MaxRounds).
		Msg("Consensus process initiated")

	return p.id, nil
}

// SubmitOpinion records (or replaces) an agent's opinion in the current
// round. When every participant has spoken and discussion is allowed,
// the process moves to DISCUSSING.
func (e *Engine) SubmitOpinion(ctx context.Context, id string, op *Opinion) error {
	e.mu.Lock()
	p, ok := e.processes[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("consensus %s: %w", id, db.ErrNotFound)
	}
	if err := e.guardMutable(p); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := validateOpinion(&p.config, op); err != nil {
		e.mu.Unlock()
		return err
	}

	round := p.currentRound()
	op.SubmittedAt = time.Now().UTC()
	op.RoundNumber = round.RoundNumber
	round.Opinions[op.AgentID] = op

	if p.config.AllowDiscussion && len(round.Opinions) == len(p.config.Participants) {
		round.State = StateDiscussing
		p.state = StateDiscussing
	}

	snap, err := e.snapshot(p)
	roundNumber := round.RoundNumber
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.store.SaveConsensusSnapshot(ctx, snap); err != nil {
		return err
	}

	if err := e.store.TouchAgent(ctx, op.AgentID); err != nil {
		e.log.Warn().Err(err).Str("agent_id", op.AgentID).Msg("Failed to bump agent activity")
	}

	e.log.Debug().
		Str("consensus_id", id).
		Str("agent_id", op.AgentID).
		Str("decision", op.Decision).
		Int("round", roundNumber).
		Msg("Opinion submitted")

	return nil
}

// UpdateOpinion revises an opinion the agent already holds in the
// current round. Fails with db.ErrNotFound when there is nothing to
// update.
func (e *Engine) UpdateOpinion(ctx context.Context, id, agentID string, op *Opinion) error {
	e.mu.Lock()
	p, ok := e.processes[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("consensus %s: %w", id, db.ErrNotFound)
	}
	if err := e.guardMutable(p); err != nil {
		e.mu.Unlock()
		return err
	}

	round := p.currentRound()
	existing, ok := round.Opinions[agentID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("agent %s has no opinion in round %d: %w", agentID, round.RoundNumber, db.ErrNotFound)
	}

	op.AgentID = agentID
	if err := validateOpinion(&p.config, op); err != nil {
		e.mu.Unlock()
		return err
	}

	existing.Decision = op.Decision
	existing.ConfidenceScore = op.ConfidenceScore
	existing.Reasoning = op.Reasoning
	existing.SupportingData = op.SupportingData
	existing.Concerns = op.Concerns
	existing.SubmittedAt = time.Now().UTC()

	snap, err := e.snapshot(p)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.store.SaveConsensusSnapshot(ctx, snap)
}

// StartVotingRound closes the current round as VOTING and opens the
// next one. Fails with db.ErrConflict once max_rounds is reached.
func (e *Engine) StartVotingRound(ctx context.Context, id string) (int, error) {
	e.mu.Lock()
	p, ok := e.processes[id]
	if !ok {
		e.mu.Unlock()
		return 0, fmt.Errorf("consensus %s: %w", id, db.ErrNotFound)
	}
	if err := e.guardMutable(p); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	if len(p.rounds) >= p.config.MaxRounds {
		e.mu.Unlock()
		return 0, fmt.Errorf("max rounds (%d) reached: %w", p.config.MaxRounds, db.ErrConflict)
	}

	round := p.currentRound()
	now := time.Now().UTC()
	round.State = StateVoting
	round.EndedAt = &now
	round.tallyVotes()

	next := newRound(round.RoundNumber+1, p.config.Topic)
	p.rounds = append(p.rounds, next)
	p.state = StateCollectingOpinions

	snap, err := e.snapshot(p)
	number := next.RoundNumber
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := e.store.SaveConsensusSnapshot(ctx, snap); err != nil {
		return 0, err
	}

	e.log.Info().Str("consensus_id", id).Int("round", number).Msg("Voting round started")
	return number, nil
}

// EndVotingRound closes the current round and tallies its votes without
// opening a new one
func (e *Engine) EndVotingRound(ctx context.Context, id string) error {
	e.mu.Lock()
	p, ok := e.processes[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("consensus %s: %w", id, db.ErrNotFound)
	}
	if err := e.guardMutable(p); err != nil {
		e.mu.Unlock()
		return err
	}

	round := p.currentRound()
	if round.EndedAt != nil {
		e.mu.Unlock()
		return fmt.Errorf("round %d already ended: %w", round.RoundNumber, db.ErrConflict)
	}

	now := time.Now().UTC()
	round.State = StateVoting
	round.EndedAt = &now
	round.tallyVotes()
	p.state = StateVoting

	snap, err := e.snapshot(p)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.store.SaveConsensusSnapshot(ctx, snap)
}

// CalculateConsensus applies the configured algorithm to the final
// round, persists the result, records participation, and retires the
// process from the active set
func (e *Engine) CalculateConsensus(ctx context.Context, id string) (*db.ConsensusResult, error) {
	e.mu.Lock()
	p, ok := e.processes[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("consensus %s: %w", id, db.ErrNotFound)
	}
	timedOut := e.expireRound(p)
	cfg := p.config
	roundsUsed := len(p.rounds)
	opinions := p.currentRound().latestOpinions()
	submitted := p.opinionCounts()
	startedAt := p.rounds[0].StartedAt
	e.mu.Unlock()

	var weights map[string]float64
	if cfg.Algorithm == AlgorithmWeightedMajority && !timedOut {
		weights = e.agentWeights(ctx, cfg.Participants)
	}

	var o outcome
	if timedOut {
		o = outcome{failureReason: failureRoundTimeout}
	} else {
		o = evaluate(cfg.Algorithm, opinions, weights, cfg.ConsensusThreshold, len(cfg.Participants))
	}

	completedAt := time.Now().UTC()
	result := &db.ConsensusResult{
		ConsensusID:         id,
		Topic:               cfg.Topic,
		ConfidenceLevel:     ConfidenceVeryLow,
		AlgorithmUsed:       string(cfg.Algorithm),
		Rounds:              roundsUsed,
		FinalState:          string(StateDeadlock),
		TotalDurationMS:     completedAt.Sub(startedAt).Milliseconds(),
		TotalParticipants:   len(cfg.Participants),
		AgreementPercentage: o.agreement,
		CompletedAt:         completedAt,
		Success:             o.success,
	}
	if timedOut {
		result.FinalState = string(StateTimeout)
	}
	if o.success {
		decision := o.decision
		result.FinalDecision = &decision
		result.ConfidenceLevel = confidenceFor(cfg.Algorithm, o.support, roundsUsed)
		result.FinalState = string(StateReachedConsensus)
		for _, op := range opinions {
			if op.Decision != o.decision {
				result.DissentingOpinions = append(result.DissentingOpinions,
					fmt.Sprintf("%s: %s", op.AgentID, op.Decision))
			}
		}
	} else {
		reason := o.failureReason
		result.ErrorMessage = &reason
	}

	if err := e.store.SaveConsensusResult(ctx, result); err != nil {
		return nil, err
	}

	e.recordParticipation(ctx, id, cfg.Participants, submitted, opinions, o)

	if err := e.events.PublishConsensusCompleted(ctx, result); err != nil {
		e.log.Warn().Err(err).Str("consensus_id", id).Msg("Failed to publish consensus event")
	}
	if err := e.store.DeleteConsensusSnapshot(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("consensus_id", id).Msg("Failed to delete consensus snapshot")
	}

	e.mu.Lock()
	if current, ok := e.processes[id]; ok {
		current.state = ConsensusState(result.FinalState)
		if round := current.currentRound(); round != nil && round.EndedAt == nil {
			round.EndedAt = &completedAt
			round.State = ConsensusState(result.FinalState)
		}
		delete(e.processes, id)
		metrics.ActiveConsensus.Dec()
	}
	e.mu.Unlock()

	metrics.RecordConsensusCompleted(string(cfg.Algorithm), result.Success, roundsUsed, float64(result.TotalDurationMS))
	e.log.Info().
		Str("consensus_id", id).
		Str("algorithm", string(cfg.Algorithm)).
		Bool("success", result.Success).
		Float64("agreement", result.AgreementPercentage).
		Str("confidence", result.ConfidenceLevel).
		Int("rounds", roundsUsed).
		Msg("Consensus calculated")

	return result, nil
}

// recordParticipation upserts each participant's involvement so
// AgentPerformance can aggregate it later. Best effort; failures are
// logged and do not void the result.
func (e *Engine) recordParticipation(ctx context.Context, id string, participants []string, submitted map[string]int, final []*Opinion, o outcome) {
	finalDecisions := make(map[string]string, len(final))
	for _, op := range final {
		finalDecisions[op.AgentID] = op.Decision
	}
	for _, agentID := range participants {
		winner := o.success && finalDecisions[agentID] == o.decision
		if err := e.store.UpsertParticipation(ctx, id, agentID, submitted[agentID], winner); err != nil {
			e.log.Warn().Err(err).
				Str("consensus_id", id).
				Str("agent_id", agentID).
				Msg("Failed to record participation")
		}
	}
}

// agentWeights loads voting weights for the participants; unknown
// agents fall back to weight 1
func (e *Engine) agentWeights(ctx context.Context, participants []string) map[string]float64 {
	weights := make(map[string]float64, len(participants))
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to load agent weights, defaulting to 1")
		return weights
	}
	for _, agent := range agents {
		weights[agent.ID] = agent.VotingWeight
	}
	return weights
}

// GetResult fetches the persisted outcome of a completed process
func (e *Engine) GetResult(ctx context.Context, id string) (*db.ConsensusResult, error) {
	return e.store.GetConsensusResult(ctx, id)
}

// GetState reports the process state, checking the active set first and
// falling back to the persisted result of a retired process
func (e *Engine) GetState(ctx context.Context, id string) (ConsensusState, error) {
	e.mu.Lock()
	if p, ok := e.processes[id]; ok {
		if e.expireRound(p) {
			snap, err := e.snapshot(p)
			e.mu.Unlock()
			if err == nil {
				if err := e.store.SaveConsensusSnapshot(ctx, snap); err != nil {
					e.log.Warn().Err(err).Str("consensus_id", id).Msg("Failed to persist timeout")
				}
			}
			return StateTimeout, nil
		}
		state := p.state
		e.mu.Unlock()
		return state, nil
	}
	e.mu.Unlock()

	result, err := e.store.GetConsensusResult(ctx, id)
	if err != nil {
		return "", err
	}
	return ConsensusState(result.FinalState), nil
}

// GetOpinions returns opinions from one round. round -1 selects the
// latest round, 0 flattens every round, any other value selects that
// round number.
func (e *Engine) GetOpinions(ctx context.Context, id string, round int) ([]*Opinion, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.processes[id]
	if !ok {
		return nil, fmt.Errorf("consensus %s: %w", id, db.ErrNotFound)
	}

	switch {
	case round == -1:
		return p.currentRound().latestOpinions(), nil
	case round == 0:
		var all []*Opinion
		for _, r := range p.rounds {
			all = append(all, r.latestOpinions()...)
		}
		return all, nil
	default:
		for _, r := range p.rounds {
			if r.RoundNumber == round {
				return r.latestOpinions(), nil
			}
		}
		return nil, fmt.Errorf("consensus %s round %d: %w", id, round, db.ErrNotFound)
	}
}

// Cancel discards an active process. The round is marked CANCELLED and
// the durable snapshot removed; no result row is written.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	p, ok := e.processes[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("consensus %s: %w", id, db.ErrNotFound)
	}
	now := time.Now().UTC()
	p.state = StateCancelled
	if round := p.currentRound(); round != nil && round.EndedAt == nil {
		round.State = StateCancelled
		round.EndedAt = &now
	}
	delete(e.processes, id)
	e.mu.Unlock()

	if err := e.store.DeleteConsensusSnapshot(ctx, id); err != nil {
		return err
	}

	metrics.ActiveConsensus.Dec()
	e.log.Info().Str("consensus_id", id).Msg("Consensus process cancelled")
	return nil
}

// RestoreActive rebuilds the in-memory process set from persisted
// snapshots. Call once at startup, before accepting operations.
func (e *Engine) RestoreActive(ctx context.Context) (int, error) {
	snaps, err := e.store.ListConsensusSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, snap := range snaps {
		if terminal(ConsensusState(snap.State)) {
			continue
		}

		var cfg Config
		if err := json.Unmarshal(snap.Config, &cfg); err != nil {
			e.log.Warn().Err(err).Str("consensus_id", snap.ID).Msg("Skipping snapshot with bad config")
			continue
		}
		var rounds []*Round
		if err := json.Unmarshal(snap.Rounds, &rounds); err != nil {
			e.log.Warn().Err(err).Str("consensus_id", snap.ID).Msg("Skipping snapshot with bad rounds")
			continue
		}
		if len(rounds) == 0 {
			continue
		}

		e.mu.Lock()
		e.processes[snap.ID] = &process{
			id:     snap.ID,
			config: cfg,
			rounds: rounds,
			state:  ConsensusState(snap.State),
		}
		e.mu.Unlock()
		restored++
	}

	e.mu.RLock()
	metrics.ActiveConsensus.Set(float64(len(e.processes)))
	e.mu.RUnlock()

	if restored > 0 {
		e.log.Info().Int("processes", restored).Msg("Restored active consensus processes")
	}
	return restored, nil
}

// Stats summarizes engine activity: the live process count plus
// persisted outcomes grouped by final state
type Stats struct {
	ActiveProcesses  int     `json:"active_processes"`
	CompletedTotal   int64   `json:"completed_total"`
	ReachedConsensus int64   `json:"reached_consensus"`
	Deadlocks        int64   `json:"deadlocks"`
	Timeouts         int64   `json:"timeouts"`
	AverageRounds    float64 `json:"average_rounds"`
}

// Stats aggregates persisted results with the live process count
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	counts, err := e.store.ConsensusStateCounts(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	stats := &Stats{ActiveProcesses: len(e.processes)}
	e.mu.RUnlock()

	var weightedRounds float64
	for _, c := range counts {
		stats.CompletedTotal += c.Count
		weightedRounds += c.AvgRounds * float64(c.Count)
		switch ConsensusState(c.FinalState) {
		case StateReachedConsensus:
			stats.ReachedConsensus = c.Count
		case StateDeadlock:
			stats.Deadlocks = c.Count
		case StateTimeout:
			stats.Timeouts = c.Count
		}
	}
	if stats.CompletedTotal > 0 {
		stats.AverageRounds = weightedRounds / float64(stats.CompletedTotal)
	}
	return stats, nil
}

// guardMutable rejects mutation of a process whose current round has
// timed out or whose state is terminal. Caller holds e.mu.
func (e *Engine) guardMutable(p *process) error {
	if e.expireRound(p) {
		return fmt.Errorf("consensus %s: %s: %w", p.id, failureRoundTimeout, db.ErrConflict)
	}
	if terminal(p.state) {
		return fmt.Errorf("consensus %s is %s: %w", p.id, p.state, db.ErrConflict)
	}
	return nil
}

// expireRound flips the process to TIMEOUT when its open round has
// outlived timeout_per_round. Caller holds e.mu. Returns whether the
// process is timed out.
func (e *Engine) expireRound(p *process) bool {
	if p.state == StateTimeout {
		return true
	}
	if terminal(p.state) {
		return false
	}
	round := p.currentRound()
	if round == nil || round.EndedAt != nil || p.config.TimeoutPerRound <= 0 {
		return false
	}
	if time.Since(round.StartedAt) > p.config.TimeoutPerRound {
		round.State = StateTimeout
		p.state = StateTimeout
		e.log.Warn().
			Str("consensus_id", p.id).
			Int("round", round.RoundNumber).
			Dur("timeout", p.config.TimeoutPerRound).
			Msg("Consensus round timed out")
		return true
	}
	return false
}

// snapshot builds the durable image of a process. Caller holds e.mu.
func (e *Engine) snapshot(p *process) (*db.ConsensusSnapshot, error) {
	cfgJSON, err := json.Marshal(p.config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode consensus config: %w", err)
	}
	roundsJSON, err := json.Marshal(p.rounds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode consensus rounds: %w", err)
	}
	return &db.ConsensusSnapshot{
		ID:     p.id,
		Topic:  p.config.Topic,
		State:  string(p.state),
		Config: cfgJSON,
		Rounds: roundsJSON,
	}, nil
}
