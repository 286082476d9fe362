package consensus

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ConsensusState tracks where a process or round is in its lifecycle
type ConsensusState string

const (
	StateInitializing       ConsensusState = "INITIALIZING"
	StateCollectingOpinions ConsensusState = "COLLECTING_OPINIONS"
	StateDiscussing         ConsensusState = "DISCUSSING"
	StateVoting             ConsensusState = "VOTING"
	StateResolvingConflicts ConsensusState = "RESOLVING_CONFLICTS"
	StateReachedConsensus   ConsensusState = "REACHED_CONSENSUS"
	StateDeadlock           ConsensusState = "DEADLOCK"
	StateTimeout            ConsensusState = "TIMEOUT"
	StateCancelled          ConsensusState = "CANCELLED"
)

// terminal reports whether a state can never transition again
func terminal(state ConsensusState) bool {
	switch state {
	case StateReachedConsensus, StateDeadlock, StateTimeout, StateCancelled:
		return true
	}
	return false
}

// Algorithm selects the decision rule applied to the final round
type Algorithm string

const (
	AlgorithmUnanimous        Algorithm = "UNANIMOUS"
	AlgorithmMajority         Algorithm = "MAJORITY"
	AlgorithmSuperMajority    Algorithm = "SUPER_MAJORITY"
	AlgorithmWeightedMajority Algorithm = "WEIGHTED_MAJORITY"
	AlgorithmRankedChoice     Algorithm = "RANKED_CHOICE"
	AlgorithmQuorum           Algorithm = "QUORUM"
	AlgorithmConsensus        Algorithm = "CONSENSUS"
	AlgorithmPlurality        Algorithm = "PLURALITY"
)

func validAlgorithm(a Algorithm) bool {
	switch a {
	case AlgorithmUnanimous, AlgorithmMajority, AlgorithmSuperMajority,
		AlgorithmWeightedMajority, AlgorithmRankedChoice, AlgorithmQuorum,
		AlgorithmConsensus, AlgorithmPlurality:
		return true
	}
	return false
}

// Confidence levels attached to a consensus result.
const (
	ConfidenceVeryLow  = "VERY_LOW"
	ConfidenceLow      = "LOW"
	ConfidenceMedium   = "MEDIUM"
	ConfidenceHigh     = "HIGH"
	ConfidenceVeryHigh = "VERY_HIGH"
)

// Config declares one consensus process: who votes, under which rule,
// and within which budgets
type Config struct {
	Topic                string                 `json:"topic"`
	Description          string                 `json:"description,omitempty"`
	Algorithm            Algorithm              `json:"algorithm"`
	Participants         []string               `json:"participants"`
	MaxRounds            int                    `json:"max_rounds"`
	TimeoutPerRound      time.Duration          `json:"timeout_per_round"`
	ConsensusThreshold   float64                `json:"consensus_threshold"`
	MinParticipants      int                    `json:"min_participants"`
	AllowDiscussion      bool                   `json:"allow_discussion"`
	RequireJustification bool                   `json:"require_justification"`
	CustomRules          map[string]interface{} `json:"custom_rules,omitempty"`
}

func (c *Config) hasParticipant(agentID string) bool {
	for _, p := range c.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// Opinion is one agent's position within a voting round
type Opinion struct {
	AgentID         string                 `json:"agent_id"`
	Decision        string                 `json:"decision"`
	ConfidenceScore float64                `json:"confidence_score"`
	Reasoning       string                 `json:"reasoning,omitempty"`
	SupportingData  map[string]interface{} `json:"supporting_data,omitempty"`
	Concerns        []string               `json:"concerns,omitempty"`
	SubmittedAt     time.Time              `json:"submitted_at"`
	RoundNumber     int                    `json:"round_number"`
}

// Round is one iteration of opinion collection. Opinions holds the
// latest opinion per agent; resubmission replaces.
type Round struct {
	RoundNumber int                 `json:"round_number"`
	Topic       string              `json:"topic"`
	Description string              `json:"description,omitempty"`
	Opinions    map[string]*Opinion `json:"opinions"`
	VoteCounts  map[string]int      `json:"vote_counts,omitempty"`
	State       ConsensusState      `json:"state"`
	StartedAt   time.Time           `json:"started_at"`
	EndedAt     *time.Time          `json:"ended_at,omitempty"`
}

func newRound(number int, topic string) *Round {
	return &Round{
		RoundNumber: number,
		Topic:       topic,
		Opinions:    make(map[string]*Opinion),
		State:       StateCollectingOpinions,
		StartedAt:   time.Now().UTC(),
	}
}

// latestOpinions returns the round's opinions ordered by agent id
func (r *Round) latestOpinions() []*Opinion {
	out := make([]*Opinion, 0, len(r.Opinions))
	for _, op := range r.Opinions {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// tallyVotes aggregates the round's decisions into VoteCounts
func (r *Round) tallyVotes() {
	counts := make(map[string]int, len(r.Opinions))
	for _, op := range r.Opinions {
		counts[op.Decision]++
	}
	r.VoteCounts = counts
}

// process is one in-flight consensus workflow. Guarded by the engine's
// mutex; the durable snapshot in consensus_processes mirrors it after
// every state change.
type process struct {
	id     string
	config Config
	rounds []*Round
	state  ConsensusState
}

func (p *process) currentRound() *Round {
	if len(p.rounds) == 0 {
		return nil
	}
	return p.rounds[len(p.rounds)-1]
}

func (p *process) opinionCounts() map[string]int {
	counts := make(map[string]int)
	for _, round := range p.rounds {
		for agentID := range round.Opinions {
			counts[agentID]++
		}
	}
	return counts
}

func (e *Engine) validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrValidation)
	}
	if len(cfg.Participants) == 0 {
		return fmt.Errorf("%w: participants are required", ErrValidation)
	}
	if len(cfg.Participants) < cfg.MinParticipants {
		return fmt.Errorf("%w: insufficient participants: got %d, need %d",
			ErrValidation, len(cfg.Participants), cfg.MinParticipants)
	}
	if !validAlgorithm(cfg.Algorithm) {
		return fmt.Errorf("%w: unknown algorithm %q", ErrValidation, cfg.Algorithm)
	}
	if cfg.ConsensusThreshold < 0 || cfg.ConsensusThreshold > 1 {
		return fmt.Errorf("%w: consensus_threshold must be within [0,1], got %v",
			ErrValidation, cfg.ConsensusThreshold)
	}
	if cfg.MaxRounds < 1 {
		return fmt.Errorf("%w: max_rounds must be at least 1, got %d",
			ErrValidation, cfg.MaxRounds)
	}
	return nil
}

func validateOpinion(cfg *Config, op *Opinion) error {
	if op.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if !cfg.hasParticipant(op.AgentID) {
		return fmt.Errorf("%w: agent %s is not a participant", ErrValidation, op.AgentID)
	}
	if strings.TrimSpace(op.Decision) == "" {
		return fmt.Errorf("%w: decision is required", ErrValidation)
	}
	if op.ConfidenceScore < 0 || op.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence_score must be within [0,1], got %v",
			ErrValidation, op.ConfidenceScore)
	}
	if cfg.RequireJustification && strings.TrimSpace(op.Reasoning) == "" {
		return fmt.Errorf("%w: reasoning is required for this process", ErrValidation)
	}
	return nil
}
