package consensus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// Resolution strategies suggested after a contested round.
const (
	StrategyAdditionalRound   = "additional_round"
	StrategyExpertArbitration = "expert_arbitration"
	StrategyNoAction          = "no_action_needed"
)

// A decision held by fewer than this share of voters counts as
// contested; a decision accumulating more than concernCeiling distinct
// concerns does too.
const (
	lowSupportShare = 0.30
	concernCeiling  = 2
)

// IdentifyConflicts inspects a set of opinions and describes, in plain
// text, the decisions that look contested: thin support or a pile of
// distinct concerns.
func IdentifyConflicts(opinions []*Opinion) []string {
	if len(opinions) == 0 {
		return nil
	}

	counts := countDecisions(opinions)
	concerns := make(map[string]map[string]struct{})
	for _, op := range opinions {
		set, ok := concerns[op.Decision]
		if !ok {
			set = make(map[string]struct{})
			concerns[op.Decision] = set
		}
		for _, c := range op.Concerns {
			set[c] = struct{}{}
		}
	}

	total := float64(len(opinions))
	var conflicts []string
	for _, decision := range sortedCountKeys(counts) {
		share := float64(counts[decision]) / total
		if share < lowSupportShare {
			conflicts = append(conflicts, fmt.Sprintf(
				"decision %q has low support: %.0f%% of opinions", decision, share*100))
		}
		if len(concerns[decision]) > concernCeiling {
			conflicts = append(conflicts, fmt.Sprintf(
				"decision %q carries %d distinct concerns", decision, len(concerns[decision])))
		}
	}
	return conflicts
}

// SuggestResolutionStrategies maps detected conflicts to the actions a
// facilitator can take: thin support calls for another round, concern
// pileups for expert arbitration, and a clean field for nothing at all.
func SuggestResolutionStrategies(opinions []*Opinion) []string {
	conflicts := IdentifyConflicts(opinions)
	if len(conflicts) == 0 {
		return []string{StrategyNoAction}
	}

	suggested := make(map[string]struct{})
	for _, c := range conflicts {
		if strategyForConflict(c) == StrategyExpertArbitration {
			suggested[StrategyExpertArbitration] = struct{}{}
		} else {
			suggested[StrategyAdditionalRound] = struct{}{}
		}
	}

	strategies := make([]string, 0, len(suggested))
	for s := range suggested {
		strategies = append(strategies, s)
	}
	sort.Strings(strategies)
	return strategies
}

func strategyForConflict(conflict string) string {
	// Concern pileups need a referee; everything else gets another round.
	if strings.Contains(conflict, "distinct concerns") {
		return StrategyExpertArbitration
	}
	return StrategyAdditionalRound
}

// ResolveConflict records the chosen strategy on the active process
// config under custom_rules["conflict_resolution"] and moves it to
// RESOLVING_CONFLICTS
func (e *Engine) ResolveConflict(ctx context.Context, id, strategy string) error {
	switch strategy {
	case StrategyAdditionalRound, StrategyExpertArbitration, StrategyNoAction:
	default:
		return fmt.Errorf("%w: unknown resolution strategy %q", ErrValidation, strategy)
	}

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

	if p.config.CustomRules == nil {
		p.config.CustomRules = make(map[string]interface{})
	}
	p.config.CustomRules["conflict_resolution"] = strategy
	if strategy != StrategyNoAction {
		p.state = StateResolvingConflicts
		if round := p.currentRound(); round != nil && round.EndedAt == nil {
			round.State = StateResolvingConflicts
		}
	}

	snap, err := e.snapshot(p)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.store.SaveConsensusSnapshot(ctx, snap); err != nil {
		return err
	}

	metrics.ConsensusConflicts.WithLabelValues(strategy).Inc()
	e.log.Info().
		Str("consensus_id", id).
		Str("strategy", strategy).
		Msg("Conflict resolution recorded")
	return nil
}
