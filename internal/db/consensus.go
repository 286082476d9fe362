package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ConsensusResult is the persisted outcome of one consensus process
type ConsensusResult struct {
	ConsensusID         string     `db:"consensus_id" json:"consensus_id"`
	Topic               string     `db:"topic" json:"topic"`
	FinalDecision       *string    `db:"final_decision" json:"final_decision,omitempty"`
	ConfidenceLevel     string     `db:"confidence_level" json:"confidence_level"`
	AlgorithmUsed       string     `db:"algorithm_used" json:"algorithm_used"`
	Rounds              int        `db:"rounds" json:"rounds"`
	FinalState          string     `db:"final_state" json:"final_state"`
	TotalDurationMS     int64      `db:"total_duration_ms" json:"total_duration_ms"`
	TotalParticipants   int        `db:"total_participants" json:"total_participants"`
	AgreementPercentage float64    `db:"agreement_percentage" json:"agreement_percentage"`
	DissentingOpinions  []string   `db:"dissenting_opinions" json:"dissenting_opinions,omitempty"`
	CompletedAt         time.Time  `db:"completed_at" json:"completed_at"`
	Success             bool       `db:"success" json:"success"`
	ErrorMessage        *string    `db:"error_message" json:"error_message,omitempty"`
}

// ConsensusSnapshot is the durable image of an in-flight consensus
// process, used to rebuild the active set after a restart. Config and
// Rounds carry the engine's JSON encodings.
type ConsensusSnapshot struct {
	ID        string    `db:"id" json:"id"`
	Topic     string    `db:"topic" json:"topic"`
	State     string    `db:"state" json:"state"`
	Config    []byte    `db:"config" json:"config"`
	Rounds    []byte    `db:"rounds" json:"rounds"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AgentParticipation aggregates one agent's consensus track record
type AgentParticipation struct {
	AgentID           string `db:"agent_id" json:"agent_id"`
	TotalProcesses    int64  `db:"total_processes" json:"total_processes"`
	OpinionsSubmitted int64  `db:"opinions_submitted" json:"opinions_submitted"`
	Wins              int64  `db:"wins" json:"wins"`
}

// ConsensusStateCount summarizes completed processes per final state
type ConsensusStateCount struct {
	FinalState    string  `db:"final_state" json:"final_state"`
	Count         int64   `db:"count" json:"count"`
	AvgRounds     float64 `db:"avg_rounds" json:"avg_rounds"`
	AvgDurationMS float64 `db:"avg_duration_ms" json:"avg_duration_ms"`
}

// SaveConsensusResult inserts or replaces the outcome of a process
func (db *DB) SaveConsensusResult(ctx context.Context, result *ConsensusResult) error {
	query := `
		INSERT INTO consensus_results (consensus_id, topic, final_decision, confidence_level,
		                               algorithm_used, rounds, final_state, total_duration_ms,
		                               total_participants, agreement_percentage,
		                               dissenting_opinions, completed_at, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (consensus_id) DO UPDATE SET
			final_decision = EXCLUDED.final_decision,
			confidence_level = EXCLUDED.confidence_level,
			rounds = EXCLUDED.rounds,
			final_state = EXCLUDED.final_state,
			total_duration_ms = EXCLUDED.total_duration_ms,
			total_participants = EXCLUDED.total_participants,
			agreement_percentage = EXCLUDED.agreement_percentage,
			dissenting_opinions = EXCLUDED.dissenting_opinions,
			completed_at = EXCLUDED.completed_at,
			success = EXCLUDED.success,
			error_message = EXCLUDED.error_message
	`

	_, err := db.pool.Exec(ctx, query,
		result.ConsensusID,
		result.Topic,
		result.FinalDecision,
		result.ConfidenceLevel,
		result.AlgorithmUsed,
		result.Rounds,
		result.FinalState,
		result.TotalDurationMS,
		result.TotalParticipants,
		result.AgreementPercentage,
		textArray(result.DissentingOpinions),
		result.CompletedAt,
		result.Success,
		result.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save consensus result %s: %w", result.ConsensusID, err)
	}

	return nil
}

// GetConsensusResult retrieves a persisted outcome by consensus id
func (db *DB) GetConsensusResult(ctx context.Context, consensusID string) (*ConsensusResult, error) {
	query := `
		SELECT consensus_id, topic, final_decision, confidence_level, algorithm_used,
		       rounds, final_state, total_duration_ms, total_participants,
		       agreement_percentage, dissenting_opinions, completed_at, success, error_message
		FROM consensus_results
		WHERE consensus_id = $1
	`

	var result ConsensusResult
	err := db.pool.QueryRow(ctx, query, consensusID).Scan(
		&result.ConsensusID,
		&result.Topic,
		&result.FinalDecision,
		&result.ConfidenceLevel,
		&result.AlgorithmUsed,
		&result.Rounds,
		&result.FinalState,
		&result.TotalDurationMS,
		&result.TotalParticipants,
		&result.AgreementPercentage,
		&result.DissentingOpinions,
		&result.CompletedAt,
		&result.Success,
		&result.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("consensus result %s: %w", consensusID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query consensus result %s: %w", consensusID, err)
	}

	return &result, nil
}

// SaveConsensusSnapshot upserts the durable image of an in-flight process
func (db *DB) SaveConsensusSnapshot(ctx context.Context, snap *ConsensusSnapshot) error {
	query := `
		INSERT INTO consensus_processes (id, topic, state, config, rounds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			config = EXCLUDED.config,
			rounds = EXCLUDED.rounds,
			updated_at = NOW()
	`

	_, err := db.pool.Exec(ctx, query, snap.ID, snap.Topic, snap.State, snap.Config, snap.Rounds)
	if err != nil {
		return fmt.Errorf("failed to save consensus snapshot %s: %w", snap.ID, err)
	}

	return nil
}

// DeleteConsensusSnapshot removes a retired process image
func (db *DB) DeleteConsensusSnapshot(ctx context.Context, id string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM consensus_processes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete consensus snapshot %s: %w", id, err)
	}
	return nil
}

// ListConsensusSnapshots returns every stored in-flight process image
func (db *DB) ListConsensusSnapshots(ctx context.Context) ([]*ConsensusSnapshot, error) {
	query := `SELECT id, topic, state, config, rounds, updated_at FROM consensus_processes ORDER BY updated_at ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query consensus snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*ConsensusSnapshot
	for rows.Next() {
		var snap ConsensusSnapshot
		if err := rows.Scan(&snap.ID, &snap.Topic, &snap.State, &snap.Config, &snap.Rounds, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan consensus snapshot: %w", err)
		}
		snapshots = append(snapshots, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consensus snapshots: %w", err)
	}

	return snapshots, nil
}

// UpsertParticipation records an agent's involvement in a completed
// consensus process
func (db *DB) UpsertParticipation(ctx context.Context, consensusID, agentID string, opinionsSubmitted int, winner bool) error {
	query := `
		INSERT INTO consensus_participation (consensus_id, agent_id, opinions_submitted, on_winning_side, recorded_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (consensus_id, agent_id) DO UPDATE SET
			opinions_submitted = EXCLUDED.opinions_submitted,
			on_winning_side = EXCLUDED.on_winning_side,
			recorded_at = NOW()
	`

	if _, err := db.pool.Exec(ctx, query, consensusID, agentID, opinionsSubmitted, winner); err != nil {
		return fmt.Errorf("failed to upsert participation for agent %s: %w", agentID, err)
	}
	return nil
}

// GetAgentParticipation aggregates an agent's consensus history
func (db *DB) GetAgentParticipation(ctx context.Context, agentID string) (*AgentParticipation, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(opinions_submitted), 0),
		       COALESCE(SUM(CASE WHEN on_winning_side THEN 1 ELSE 0 END), 0)
		FROM consensus_participation
		WHERE agent_id = $1
	`

	participation := AgentParticipation{AgentID: agentID}
	err := db.pool.QueryRow(ctx, query, agentID).Scan(
		&participation.TotalProcesses,
		&participation.OpinionsSubmitted,
		&participation.Wins,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query participation for agent %s: %w", agentID, err)
	}

	return &participation, nil
}

// ConsensusStateCounts summarizes completed processes grouped by final state
func (db *DB) ConsensusStateCounts(ctx context.Context) ([]*ConsensusStateCount, error) {
	query := `
		SELECT final_state, COUNT(*), AVG(rounds), AVG(total_duration_ms)
		FROM consensus_results
		GROUP BY final_state
	`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query consensus state counts: %w", err)
	}
	defer rows.Close()

	var counts []*ConsensusStateCount
	for rows.Next() {
		var count ConsensusStateCount
		if err := rows.Scan(&count.FinalState, &count.Count, &count.AvgRounds, &count.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan consensus state count: %w", err)
		}
		counts = append(counts, &count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consensus state counts: %w", err)
	}

	return counts, nil
}
