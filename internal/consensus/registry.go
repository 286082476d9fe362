package consensus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

// Registry operations are plain upserts into the agents table. They
// never touch in-flight processes: a deactivated agent's already-cast
// opinions stay counted.

func validateAgent(agent *db.Agent) error {
	if strings.TrimSpace(agent.ID) == "" {
		return fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	if strings.TrimSpace(agent.Name) == "" {
		return fmt.Errorf("%w: agent name is required", ErrValidation)
	}
	switch agent.Role {
	case db.AgentRoleExpert, db.AgentRoleReviewer, db.AgentRoleDecisionMaker,
		db.AgentRoleFacilitator, db.AgentRoleObserver:
	case "":
		agent.Role = db.AgentRoleExpert
	default:
		return fmt.Errorf("%w: unknown agent role %q", ErrValidation, agent.Role)
	}
	if agent.VotingWeight < 0 {
		return fmt.Errorf("%w: voting_weight must not be negative, got %v",
			ErrValidation, agent.VotingWeight)
	}
	if agent.ConfidenceThreshold < 0 || agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold must be within [0,1], got %v",
			ErrValidation, agent.ConfidenceThreshold)
	}
	return nil
}

// RegisterAgent upserts an agent registration. A zero voting weight is
// promoted to 1 so a fresh registration can vote immediately.
func (e *Engine) RegisterAgent(ctx context.Context, agent *db.Agent) error {
	if err := validateAgent(agent); err != nil {
		return err
	}
	if agent.VotingWeight == 0 {
		agent.VotingWeight = 1
	}
	if agent.LastActive == nil {
		now := time.Now().UTC()
		agent.LastActive = &now
	}
	agent.IsActive = true

	if err := e.store.UpsertAgent(ctx, agent); err != nil {
		return err
	}
	e.log.Info().
		Str("agent_id", agent.ID).
		Str("role", agent.Role).
		Float64("weight", agent.VotingWeight).
		Msg("Agent registered")
	return nil
}

// UpdateAgent replaces an existing registration; unlike RegisterAgent
// it fails with db.ErrNotFound when the agent was never registered
func (e *Engine) UpdateAgent(ctx context.Context, agent *db.Agent) error {
	if err := validateAgent(agent); err != nil {
		return err
	}
	if _, err := e.store.GetAgent(ctx, agent.ID); err != nil {
		return err
	}
	return e.store.UpsertAgent(ctx, agent)
}

// GetAgent fetches one registration by id
func (e *Engine) GetAgent(ctx context.Context, id string) (*db.Agent, error) {
	return e.store.GetAgent(ctx, id)
}

// ListActiveAgents returns the agents currently eligible to participate
func (e *Engine) ListActiveAgents(ctx context.Context) ([]*db.Agent, error) {
	return e.store.ListActiveAgents(ctx)
}

// DeactivateAgent clears the agent's active flag. In-flight processes
// keep the agent's submitted opinions.
func (e *Engine) DeactivateAgent(ctx context.Context, id string) error {
	if err := e.store.DeactivateAgent(ctx, id); err != nil {
		return err
	}
	e.log.Info().Str("agent_id", id).Msg("Agent deactivated")
	return nil
}

// AgentPerformance aggregates an agent's consensus track record:
// processes joined, opinions submitted, and times on the winning side
func (e *Engine) AgentPerformance(ctx context.Context, agentID string) (*db.AgentParticipation, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	return e.store.GetAgentParticipation(ctx, agentID)
}
