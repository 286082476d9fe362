package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Simulation execution states. pending and running are the only
// non-terminal states.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// Scenario describes hypothetical regulatory changes plus baseline and
// test data for the simulator
type Scenario struct {
	ID                       string                 `db:"id" json:"id"`
	Name                     string                 `db:"name" json:"name"`
	Description              string                 `db:"description" json:"description"`
	ScenarioType             string                 `db:"scenario_type" json:"scenario_type"`
	SchemaVersion            string                 `db:"schema_version" json:"schema_version"`
	RegulatoryChanges        map[string]interface{} `db:"regulatory_changes" json:"regulatory_changes"`
	ImpactParameters         map[string]interface{} `db:"impact_parameters" json:"impact_parameters,omitempty"`
	BaselineData             map[string]interface{} `db:"baseline_data" json:"baseline_data,omitempty"`
	TestData                 map[string]interface{} `db:"test_data" json:"test_data,omitempty"`
	CreatedBy                string                 `db:"created_by" json:"created_by"`
	IsTemplate               bool                   `db:"is_template" json:"is_template"`
	IsActive                 bool                   `db:"is_active" json:"is_active"`
	Tags                     []string               `db:"tags" json:"tags,omitempty"`
	Metadata                 map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	EstimatedRuntimeSeconds  int                    `db:"estimated_runtime_seconds" json:"estimated_runtime_seconds"`
	MaxConcurrentSimulations int                    `db:"max_concurrent_simulations" json:"max_concurrent_simulations"`
	CreatedAt                time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time              `db:"updated_at" json:"updated_at"`
}

// Execution is one run of a scenario
type Execution struct {
	ID                  string                 `db:"id" json:"id"`
	ScenarioID          string                 `db:"scenario_id" json:"scenario_id"`
	UserID              string                 `db:"user_id" json:"user_id"`
	Status              string                 `db:"status" json:"status"`
	ExecutionParameters map[string]interface{} `db:"execution_parameters" json:"execution_parameters,omitempty"`
	StartedAt           *time.Time             `db:"started_at" json:"started_at,omitempty"`
	CompletedAt         *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt         *time.Time             `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ErrorMessage        *string                `db:"error_message" json:"error_message,omitempty"`
	ProgressPercentage  float64                `db:"progress_percentage" json:"progress_percentage"`
	CreatedAt           time.Time              `db:"created_at" json:"created_at"`
}

// SimulationResult is the persisted outcome of a completed execution
type SimulationResult struct {
	ID                string                   `db:"id" json:"id"`
	ExecutionID       string                   `db:"execution_id" json:"execution_id"`
	ScenarioID        string                   `db:"scenario_id" json:"scenario_id"`
	UserID            string                   `db:"user_id" json:"user_id"`
	ResultType        string                   `db:"result_type" json:"result_type"`
	ImpactSummary     map[string]interface{}   `db:"impact_summary" json:"impact_summary"`
	DetailedResults   map[string]interface{}   `db:"detailed_results" json:"detailed_results,omitempty"`
	AffectedEntities  []map[string]interface{} `db:"affected_entities" json:"affected_entities,omitempty"`
	Recommendations   []string                 `db:"recommendations" json:"recommendations,omitempty"`
	RiskAssessment    map[string]interface{}   `db:"risk_assessment" json:"risk_assessment,omitempty"`
	CostImpact        map[string]interface{}   `db:"cost_impact" json:"cost_impact,omitempty"`
	ComplianceImpact  map[string]interface{}   `db:"compliance_impact" json:"compliance_impact,omitempty"`
	OperationalImpact map[string]interface{}   `db:"operational_impact" json:"operational_impact,omitempty"`
	Metadata          map[string]interface{}   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time                `db:"created_at" json:"created_at"`
}

const scenarioColumns = `id, name, description, scenario_type, schema_version, regulatory_changes,
	       impact_parameters, baseline_data, test_data, created_by, is_template, is_active,
	       tags, metadata, estimated_runtime_seconds, max_concurrent_simulations,
	       created_at, updated_at`

func scanScenario(row rowScanner) (*Scenario, error) {
	var sc Scenario
	err := row.Scan(
		&sc.ID,
		&sc.Name,
		&sc.Description,
		&sc.ScenarioType,
		&sc.SchemaVersion,
		&sc.RegulatoryChanges,
		&sc.ImpactParameters,
		&sc.BaselineData,
		&sc.TestData,
		&sc.CreatedBy,
		&sc.IsTemplate,
		&sc.IsActive,
		&sc.Tags,
		&sc.Metadata,
		&sc.EstimatedRuntimeSeconds,
		&sc.MaxConcurrentSimulations,
		&sc.CreatedAt,
		&sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// InsertScenario persists a new scenario
func (db *DB) InsertScenario(ctx context.Context, sc *Scenario) error {
	query := `
		INSERT INTO simulation_scenarios (id, name, description, scenario_type, schema_version,
		                                  regulatory_changes, impact_parameters, baseline_data,
		                                  test_data, created_by, is_template, is_active, tags,
		                                  metadata, estimated_runtime_seconds,
		                                  max_concurrent_simulations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
	`

	_, err := db.pool.Exec(ctx, query,
		sc.ID,
		sc.Name,
		sc.Description,
		sc.ScenarioType,
		sc.SchemaVersion,
		sc.RegulatoryChanges,
		sc.ImpactParameters,
		sc.BaselineData,
		sc.TestData,
		sc.CreatedBy,
		sc.IsTemplate,
		sc.IsActive,
		textArray(sc.Tags),
		sc.Metadata,
		sc.EstimatedRuntimeSeconds,
		sc.MaxConcurrentSimulations,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scenario %s: %w", sc.ID, err)
	}

	return nil
}

// GetScenario retrieves an active scenario by id. Soft-deleted scenarios
// behave as missing.
func (db *DB) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM simulation_scenarios WHERE id = $1 AND is_active`

	sc, err := scanScenario(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query scenario %s: %w", id, err)
	}

	return sc, nil
}

// ListScenarios pages through the user's scenarios plus shared templates,
// newest first
func (db *DB) ListScenarios(ctx context.Context, userID string, limit, offset int) ([]*Scenario, error) {
	query := `
		SELECT ` + scenarioColumns + `
		FROM simulation_scenarios
		WHERE (created_by = $1 OR is_template) AND is_active
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var scenarios []*Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}
		scenarios = append(scenarios, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scenarios: %w", err)
	}

	return scenarios, nil
}

// UpdateScenario replaces the mutable fields of an active scenario
func (db *DB) UpdateScenario(ctx context.Context, sc *Scenario) error {
	query := `
		UPDATE simulation_scenarios
		SET name = $2, description = $3, scenario_type = $4, schema_version = $5,
		    regulatory_changes = $6, impact_parameters = $7, baseline_data = $8,
		    test_data = $9, is_template = $10, tags = $11, metadata = $12,
		    estimated_runtime_seconds = $13, max_concurrent_simulations = $14,
		    updated_at = NOW()
		WHERE id = $1 AND is_active
	`

	tag, err := db.pool.Exec(ctx, query,
		sc.ID,
		sc.Name,
		sc.Description,
		sc.ScenarioType,
		sc.SchemaVersion,
		sc.RegulatoryChanges,
		sc.ImpactParameters,
		sc.BaselineData,
		sc.TestData,
		sc.IsTemplate,
		textArray(sc.Tags),
		sc.Metadata,
		sc.EstimatedRuntimeSeconds,
		sc.MaxConcurrentSimulations,
	)
	if err != nil {
		return fmt.Errorf("failed to update scenario %s: %w", sc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scenario %s: %w", sc.ID, ErrNotFound)
	}

	return nil
}

// SoftDeleteScenario deactivates a scenario owned by the given user
func (db *DB) SoftDeleteScenario(ctx context.Context, id, userID string) error {
	query := `
		UPDATE simulation_scenarios
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND created_by = $2 AND is_active
	`

	tag, err := db.pool.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete scenario %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}

	return nil
}

// InsertExecution persists a new execution record
func (db *DB) InsertExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO simulation_executions (id, scenario_id, user_id, status, execution_parameters,
		                                   progress_percentage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`

	_, err := db.pool.Exec(ctx, query,
		exec.ID,
		exec.ScenarioID,
		exec.UserID,
		exec.Status,
		exec.ExecutionParameters,
		exec.ProgressPercentage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", exec.ID, err)
	}

	return nil
}

// GetExecution retrieves an execution by id
func (db *DB) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `
		SELECT id, scenario_id, user_id, status, execution_parameters, started_at,
		       completed_at, cancelled_at, error_message, progress_percentage, created_at
		FROM simulation_executions
		WHERE id = $1
	`

	var exec Execution
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&exec.ID,
		&exec.ScenarioID,
		&exec.UserID,
		&exec.Status,
		&exec.ExecutionParameters,
		&exec.StartedAt,
		&exec.CompletedAt,
		&exec.CancelledAt,
		&exec.ErrorMessage,
		&exec.ProgressPercentage,
		&exec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query execution %s: %w", id, err)
	}

	return &exec, nil
}

// StartExecution transitions pending to running. Returns false when the
// execution was cancelled (or otherwise moved on) before it started.
func (db *DB) StartExecution(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE simulation_executions
		SET status = 'running', started_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := db.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to start execution %s: %w", id, err)
	}

	return tag.RowsAffected() > 0, nil
}

// CompleteExecution transitions running to completed with full progress
func (db *DB) CompleteExecution(ctx context.Context, id string) error {
	query := `
		UPDATE simulation_executions
		SET status = 'completed', completed_at = NOW(), progress_percentage = 100
		WHERE id = $1 AND status = 'running'
	`

	tag, err := db.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrConflict)
	}

	return nil
}

// FailExecution parks a non-terminal execution in the failed state
func (db *DB) FailExecution(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE simulation_executions
		SET status = 'failed', completed_at = NOW(), error_message = $2
		WHERE id = $1 AND status IN ('pending', 'running')
	`

	if _, err := db.pool.Exec(ctx, query, id, errorMessage); err != nil {
		return fmt.Errorf("failed to fail execution %s: %w", id, err)
	}
	return nil
}

// CancelExecution transitions a user's non-terminal execution to
// cancelled
func (db *DB) CancelExecution(ctx context.Context, id, userID string) error {
	query := `
		UPDATE simulation_executions
		SET status = 'cancelled', cancelled_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status IN ('pending', 'running')
	`

	tag, err := db.pool.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to cancel execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM simulation_executions WHERE id = $1 AND user_id = $2)`,
			id, userID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check execution %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("execution %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("execution %s already terminal: %w", id, ErrConflict)
	}

	return nil
}

// UpdateExecutionProgress records progress for a running execution and
// reports the row's current status, letting the worker observe a
// cancellation at its next progress update.
func (db *DB) UpdateExecutionProgress(ctx context.Context, id string, progress float64) (string, error) {
	query := `
		UPDATE simulation_executions
		SET progress_percentage = $2
		WHERE id = $1 AND status = 'running'
		RETURNING status
	`

	var status string
	err := db.pool.QueryRow(ctx, query, id, progress).Scan(&status)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("failed to update progress for execution %s: %w", id, err)
	}

	// Not running anymore; report what it became.
	err = db.pool.QueryRow(ctx,
		`SELECT status FROM simulation_executions WHERE id = $1`, id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("execution %s: %w", id, ErrNotFound)
		}
		return "", fmt.Errorf("failed to query execution %s status: %w", id, err)
	}

	return status, nil
}

// ListUserExecutions pages through a user's executions, newest first
func (db *DB) ListUserExecutions(ctx context.Context, userID string, limit int) ([]*Execution, error) {
	query := `
		SELECT id, scenario_id, user_id, status, execution_parameters, started_at,
		       completed_at, cancelled_at, error_message, progress_percentage, created_at
		FROM simulation_executions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		var exec Execution
		err := rows.Scan(
			&exec.ID,
			&exec.ScenarioID,
			&exec.UserID,
			&exec.Status,
			&exec.ExecutionParameters,
			&exec.StartedAt,
			&exec.CompletedAt,
			&exec.CancelledAt,
			&exec.ErrorMessage,
			&exec.ProgressPercentage,
			&exec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

// InsertResult persists a simulation result
func (db *DB) InsertResult(ctx context.Context, result *SimulationResult) error {
	query := `
		INSERT INTO simulation_results (id, execution_id, scenario_id, user_id, result_type,
		                                impact_summary, detailed_results, affected_entities,
		                                recommendations, risk_assessment, cost_impact,
		                                compliance_impact, operational_impact, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
	`

	_, err := db.pool.Exec(ctx, query,
		result.ID,
		result.ExecutionID,
		result.ScenarioID,
		result.UserID,
		result.ResultType,
		result.ImpactSummary,
		result.DetailedResults,
		result.AffectedEntities,
		textArray(result.Recommendations),
		result.RiskAssessment,
		result.CostImpact,
		result.ComplianceImpact,
		result.OperationalImpact,
		result.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result for execution %s: %w", result.ExecutionID, err)
	}

	return nil
}

// GetResultByExecution retrieves the stored result for an execution
func (db *DB) GetResultByExecution(ctx context.Context, executionID string) (*SimulationResult, error) {
	query := `
		SELECT id, execution_id, scenario_id, user_id, result_type, impact_summary,
		       detailed_results, affected_entities, recommendations, risk_assessment,
		       cost_impact, compliance_impact, operational_impact, metadata, created_at
		FROM simulation_results
		WHERE execution_id = $1
	`

	var result SimulationResult
	err := db.pool.QueryRow(ctx, query, executionID).Scan(
		&result.ID,
		&result.ExecutionID,
		&result.ScenarioID,
		&result.UserID,
		&result.ResultType,
		&result.ImpactSummary,
		&result.DetailedResults,
		&result.AffectedEntities,
		&result.Recommendations,
		&result.RiskAssessment,
		&result.CostImpact,
		&result.ComplianceImpact,
		&result.OperationalImpact,
		&result.Metadata,
		&result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("result for execution %s: %w", executionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query result for execution %s: %w", executionID, err)
	}

	return &result, nil
}

// DeleteResultByExecution discards the stored result of an execution.
// Used when a cancellation lands between result persistence and
// completion; a cancelled execution must not keep a result.
func (db *DB) DeleteResultByExecution(ctx context.Context, executionID string) error {
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM simulation_results WHERE execution_id = $1`, executionID,
	); err != nil {
		return fmt.Errorf("failed to delete result for execution %s: %w", executionID, err)
	}
	return nil
}

// PurgeExpiredResults deletes results older than the retention window
func (db *DB) PurgeExpiredResults(ctx context.Context, retentionDays int) (int64, error) {
	query := `DELETE FROM simulation_results WHERE created_at < NOW() - make_interval(days => $1)`

	tag, err := db.pool.Exec(ctx, query, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired results: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ExecutionStatusCounts returns the number of executions per status
func (db *DB) ExecutionStatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := db.pool.Query(ctx, `SELECT status, COUNT(*) FROM simulation_executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution status counts: %w", err)
	}

	return counts, nil
}
