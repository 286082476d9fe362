package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Agent roles recognized by the consensus engine.
const (
	AgentRoleExpert        = "EXPERT"
	AgentRoleReviewer      = "REVIEWER"
	AgentRoleDecisionMaker = "DECISION_MAKER"
	AgentRoleFacilitator   = "FACILITATOR"
	AgentRoleObserver      = "OBSERVER"
)

// Agent is a registered decision participant
type Agent struct {
	ID                  string     `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	Role                string     `db:"role" json:"role"`
	VotingWeight        float64    `db:"voting_weight" json:"voting_weight"`
	DomainExpertise     []string   `db:"domain_expertise" json:"domain_expertise,omitempty"`
	ConfidenceThreshold float64    `db:"confidence_threshold" json:"confidence_threshold"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	LastActive          *time.Time `db:"last_active" json:"last_active,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

const agentColumns = `id, name, role, voting_weight, domain_expertise,
	       confidence_threshold, is_active, last_active, created_at, updated_at`

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Role,
		&agent.VotingWeight,
		&agent.DomainExpertise,
		&agent.ConfidenceThreshold,
		&agent.IsActive,
		&agent.LastActive,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// UpsertAgent inserts or replaces an agent registration
func (db *DB) UpsertAgent(ctx context.Context, agent *Agent) error {
	query := `
		INSERT INTO agents (id, name, role, voting_weight, domain_expertise,
		                    confidence_threshold, is_active, last_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			voting_weight = EXCLUDED.voting_weight,
			domain_expertise = EXCLUDED.domain_expertise,
			confidence_threshold = EXCLUDED.confidence_threshold,
			is_active = EXCLUDED.is_active,
			last_active = EXCLUDED.last_active,
			updated_at = NOW()
	`

	_, err := db.pool.Exec(ctx, query,
		agent.ID,
		agent.Name,
		agent.Role,
		agent.VotingWeight,
		textArray(agent.DomainExpertise),
		agent.ConfidenceThreshold,
		agent.IsActive,
		agent.LastActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert agent %s: %w", agent.ID, err)
	}

	return nil
}

// GetAgent retrieves an agent by id
func (db *DB) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	agent, err := scanAgent(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query agent %s: %w", id, err)
	}

	return agent, nil
}

// ListAgents retrieves every registered agent ordered by name
func (db *DB) ListAgents(ctx context.Context) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY name ASC`
	return db.queryAgents(ctx, query)
}

// ListActiveAgents retrieves the agents whose is_active flag is set
func (db *DB) ListActiveAgents(ctx context.Context) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE is_active ORDER BY name ASC`
	return db.queryAgents(ctx, query)
}

func (db *DB) queryAgents(ctx context.Context, query string, args ...interface{}) ([]*Agent, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}

	return agents, nil
}

// DeactivateAgent clears the agent's is_active flag
func (db *DB) DeactivateAgent(ctx context.Context, id string) error {
	query := `UPDATE agents SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	tag, err := db.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}

	return nil
}

// TouchAgent bumps the agent's last_active timestamp
func (db *DB) TouchAgent(ctx context.Context, id string) error {
	query := `UPDATE agents SET last_active = NOW() WHERE id = $1`

	if _, err := db.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch agent %s: %w", id, err)
	}
	return nil
}

// CountActiveAgents returns the number of active agents
func (db *DB) CountActiveAgents(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE is_active`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active agents: %w", err)
	}
	return count, nil
}
