// Package simulator runs hypothetical regulatory changes against test
// datasets. A stored scenario plus a run request produce an execution
// whose worker computes impact metrics, assembles recommendations, and
// persists an auditable result. Async executions are bounded by a
// weighted semaphore and report progress through the store, which is
// also how a cancellation reaches the worker.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/gaigenticai/Regulens-sub010/internal/config"
	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/events"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// Progress checkpoints. The record is created at progressCreated; the
// analysis and recommendation phases advance it; CompleteExecution
// stamps 100. Each advance re-reads the execution status, so a
// cancellation is observed at the next checkpoint.
const (
	progressCreated         = 5
	progressAnalysis        = 25
	progressRecommendations = 75
)

const defaultListLimit = 50

// Simulator owns the scenario registry and the execution pipeline
type Simulator struct {
	store   *db.DB
	events  *events.Publisher
	limiter *RateLimiter
	log     zerolog.Logger

	timeout       time.Duration
	retentionDays int
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
}

// New creates a Simulator. limiter and publisher may be nil; a nil
// limiter admits every run.
func New(store *db.DB, cfg config.SimulatorConfig, limiter *RateLimiter, publisher *events.Publisher) *Simulator {
	maxConcurrent := cfg.MaxConcurrentSimulations
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	timeout := cfg.SimulationTimeout()
	if timeout <= 0 {
		timeout = time.Hour
	}
	retention := cfg.ResultRetentionDays
	if retention <= 0 {
		retention = 90
	}

	return &Simulator{
		store:         store,
		events:        publisher,
		limiter:       limiter,
		log:           config.NewLogger("simulator"),
		timeout:       timeout,
		retentionDays: retention,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Close waits for in-flight executions to finish. Pending cancellations
// are observed at the workers' next progress checkpoint, so this returns
// promptly.
func (s *Simulator) Close() {
	s.wg.Wait()
	s.log.Info().Msg("Simulator drained")
}

// CreateScenario validates and persists a new scenario owned by the user
func (s *Simulator) CreateScenario(ctx context.Context, sc *db.Scenario, userID string) (*db.Scenario, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if sc.SchemaVersion == "" {
		sc.SchemaVersion = SchemaVersion
	} else if err := CheckSchemaCompatibility(sc.SchemaVersion); err != nil {
		return nil, err
	}
	if sc.ScenarioType == "" {
		sc.ScenarioType = ScenarioRegulatoryChange
	}
	if err := validateScenario(sc); err != nil {
		return nil, err
	}

	sc.ID = uuid.NewString()
	sc.CreatedBy = userID
	sc.IsActive = true
	if sc.MaxConcurrentSimulations <= 0 {
		sc.MaxConcurrentSimulations = 5
	}

	if err := s.store.InsertScenario(ctx, sc); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("scenario_id", sc.ID).
		Str("name", sc.Name).
		Str("type", sc.ScenarioType).
		Str("created_by", userID).
		Msg("Scenario created")
	return sc, nil
}

// GetScenario loads a scenario, migrating older schema versions forward
func (s *Simulator) GetScenario(ctx context.Context, id string) (*db.Scenario, error) {
	sc, err := s.store.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := MigrateScenario(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// ListScenarios pages through the user's scenarios plus shared templates
func (s *Simulator) ListScenarios(ctx context.Context, userID string, limit, offset int) ([]*db.Scenario, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	scenarios, err := s.store.ListScenarios(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, sc := range scenarios {
		if err := MigrateScenario(sc); err != nil {
			s.log.Warn().Err(err).Str("scenario_id", sc.ID).Msg("Skipping schema migration on list")
		}
	}
	return scenarios, nil
}

// UpdateScenario revises a scenario the user owns
func (s *Simulator) UpdateScenario(ctx context.Context, sc *db.Scenario, userID string) error {
	existing, err := s.store.GetScenario(ctx, sc.ID)
	if err != nil {
		return err
	}
	if existing.CreatedBy != userID {
		return fmt.Errorf("scenario %s: %w", sc.ID, db.ErrNotFound)
	}

	if sc.SchemaVersion == "" {
		sc.SchemaVersion = SchemaVersion
	} else if err := CheckSchemaCompatibility(sc.SchemaVersion); err != nil {
		return err
	}
	if sc.ScenarioType == "" {
		sc.ScenarioType = existing.ScenarioType
	}
	if err := validateScenario(sc); err != nil {
		return err
	}

	if err := s.store.UpdateScenario(ctx, sc); err != nil {
		return err
	}
	s.log.Info().Str("scenario_id", sc.ID).Msg("Scenario updated")
	return nil
}

// DeleteScenario soft-deletes a scenario the user owns. Existing
// executions and results are untouched.
func (s *Simulator) DeleteScenario(ctx context.Context, id, userID string) error {
	if err := s.store.SoftDeleteScenario(ctx, id, userID); err != nil {
		return err
	}
	s.log.Info().Str("scenario_id", id).Msg("Scenario deleted")
	return nil
}

// RunSimulation admits one execution of a stored scenario. Async runs
// return immediately with the execution id and progress through the
// store; sync runs block until the result is persisted.
func (s *Simulator) RunSimulation(ctx context.Context, req *RunRequest) (string, error) {
	if req.Priority == 0 {
		req.Priority = 3
	}
	if err := validateRunRequest(req); err != nil {
		return "", err
	}

	allowed, err := s.limiter.Allow(ctx, req.UserID)
	if err != nil {
		// A broken limiter backend must not block compliance work.
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("Rate limiter unavailable, admitting run")
		metrics.RecordError("rate_limiter", "simulator")
	} else if !allowed {
		metrics.SimulationsRateLimited.Inc()
		return "", fmt.Errorf("user %s exceeded the simulation run budget: %w", req.UserID, ErrRateLimited)
	}

	sc, err := s.GetScenario(ctx, req.ScenarioID)
	if err != nil {
		return "", err
	}

	params := make(map[string]interface{}, len(req.CustomParameters)+2)
	for k, v := range req.CustomParameters {
		params[k] = v
	}
	params["priority"] = req.Priority
	params["async"] = req.AsyncExecution

	exec := &db.Execution{
		ID:                  uuid.NewString(),
		ScenarioID:          sc.ID,
		UserID:              req.UserID,
		Status:              db.ExecutionStatusPending,
		ExecutionParameters: params,
		ProgressPercentage:  progressCreated,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.store.InsertExecution(ctx, exec); err != nil {
		return "", err
	}
	metrics.SimulationsStarted.Inc()

	testData := sc.TestData
	if req.TestDataOverride != nil {
		testData = req.TestDataOverride
	}

	s.log.Info().
		Str("execution_id", exec.ID).
		Str("scenario_id", sc.ID).
		Str("user_id", req.UserID).
		Bool("async", req.AsyncExecution).
		Int("priority", req.Priority).
		Msg("Simulation admitted")

	if req.AsyncExecution {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// The run outlives the request; only the deadline bounds it.
			s.execute(context.Background(), exec, sc, testData)
		}()
		return exec.ID, nil
	}

	if err := s.execute(ctx, exec, sc, testData); err != nil {
		return exec.ID, err
	}
	return exec.ID, nil
}

// execute runs one admitted execution to a terminal state. It owns the
// pending → running → {completed, failed} transitions; cancellation is
// someone else's transition, observed at the progress checkpoints.
func (s *Simulator) execute(ctx context.Context, exec *db.Execution, sc *db.Scenario, testData map[string]interface{}) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.failExecution(exec, fmt.Sprintf("no execution slot: %v", err))
		return err
	}
	defer s.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	started, err := s.store.StartExecution(runCtx, exec.ID)
	if err != nil {
		s.failExecution(exec, err.Error())
		return err
	}
	if !started {
		// Cancelled (or raced to terminal) before a slot freed up.
		s.log.Info().Str("execution_id", exec.ID).Msg("Execution no longer pending, skipping run")
		return nil
	}

	metrics.RunningSimulations.Inc()
	defer metrics.RunningSimulations.Dec()
	s.publishStatus(exec, db.ExecutionStatusRunning)

	if !s.advanceProgress(runCtx, exec, progressAnalysis) {
		return nil
	}
	impact, affected := AnalyzeRegulatoryImpact(sc, testData)

	if !s.advanceProgress(runCtx, exec, progressRecommendations) {
		return nil
	}
	recommendations := buildRecommendations(impact, sc.ScenarioType)
	impact.RecommendedActions = recommendations

	if err := runCtx.Err(); err != nil {
		s.failExecution(exec, "simulation timeout")
		return fmt.Errorf("execution %s: simulation timeout: %w", exec.ID, err)
	}

	result := assembleResult(exec, sc, impact, affected, recommendations)
	if err := s.store.InsertResult(runCtx, result); err != nil {
		s.failExecution(exec, err.Error())
		return err
	}
	if err := s.store.CompleteExecution(runCtx, exec.ID); err != nil {
		// Cancelled between persisting the result and completing; a
		// cancelled execution must not keep a result.
		if errors.Is(err, db.ErrConflict) {
			if delErr := s.store.DeleteResultByExecution(context.Background(), exec.ID); delErr != nil {
				s.log.Error().Err(delErr).Str("execution_id", exec.ID).Msg("Failed to discard result of cancelled execution")
			}
			s.log.Info().Str("execution_id", exec.ID).Msg("Execution cancelled during result persistence")
			return nil
		}
		s.failExecution(exec, err.Error())
		return err
	}

	durationMS := float64(time.Since(start).Milliseconds())
	metrics.RecordSimulationFinished(db.ExecutionStatusCompleted, durationMS)
	s.publishStatus(exec, db.ExecutionStatusCompleted)

	s.log.Info().
		Str("execution_id", exec.ID).
		Str("scenario_id", sc.ID).
		Int("entities_affected", impact.TotalEntitiesAffected).
		Int("high_risk", impact.HighRiskEntities).
		Float64("compliance_change", impact.ComplianceScoreChange).
		Dur("took", time.Since(start)).
		Msg("Simulation completed")
	return nil
}

// advanceProgress records a checkpoint and reports whether the run still
// owns the execution. A non-running status means someone cancelled it;
// the worker aborts without persisting anything further.
func (s *Simulator) advanceProgress(ctx context.Context, exec *db.Execution, progress float64) bool {
	status, err := s.store.UpdateExecutionProgress(ctx, exec.ID, progress)
	if err != nil {
		// Transient store trouble must not kill the run; the next
		// checkpoint retries the cancellation check.
		s.log.Warn().Err(err).Str("execution_id", exec.ID).Msg("Failed to record progress")
		metrics.RecordError("progress_update", "simulator")
		return true
	}
	if status != db.ExecutionStatusRunning {
		s.log.Info().
			Str("execution_id", exec.ID).
			Str("status", status).
			Float64("at_progress", progress).
			Msg("Execution no longer running, aborting")
		return false
	}
	return true
}

// failExecution parks the execution as failed. Uses a fresh context so
// the terminal write still lands after a run timeout.
func (s *Simulator) failExecution(exec *db.Execution, errorMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.FailExecution(ctx, exec.ID, errorMessage); err != nil {
		s.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to park execution as failed")
		return
	}
	metrics.RecordSimulationFinished(db.ExecutionStatusFailed, float64(time.Since(exec.CreatedAt).Milliseconds()))
	s.publishStatus(exec, db.ExecutionStatusFailed)
	s.log.Error().
		Str("execution_id", exec.ID).
		Str("error", errorMessage).
		Msg("Simulation failed")
}

// publishStatus emits the execution lifecycle event with the given
// status without another store read
func (s *Simulator) publishStatus(exec *db.Execution, status string) {
	snapshot := *exec
	snapshot.Status = status

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.PublishSimulationEvent(ctx, &snapshot); err != nil {
		s.log.Warn().Err(err).Str("execution_id", exec.ID).Msg("Failed to publish simulation event")
	}
}

// GetExecutionStatus reports the execution row, including progress
func (s *Simulator) GetExecutionStatus(ctx context.Context, executionID string) (*db.Execution, error) {
	return s.store.GetExecution(ctx, executionID)
}

// GetSimulationResult fetches the persisted result of a completed
// execution
func (s *Simulator) GetSimulationResult(ctx context.Context, executionID string) (*db.SimulationResult, error) {
	return s.store.GetResultByExecution(ctx, executionID)
}

// CancelSimulation flips a non-terminal execution to cancelled. A
// running worker observes the flip at its next progress checkpoint and
// aborts without persisting a result.
func (s *Simulator) CancelSimulation(ctx context.Context, executionID, userID string) error {
	if err := s.store.CancelExecution(ctx, executionID, userID); err != nil {
		return err
	}

	metrics.SimulationsFinished.WithLabelValues(db.ExecutionStatusCancelled).Inc()
	if exec, err := s.store.GetExecution(ctx, executionID); err == nil {
		s.publishStatus(exec, db.ExecutionStatusCancelled)
	}

	s.log.Info().
		Str("execution_id", executionID).
		Str("user_id", userID).
		Msg("Simulation cancelled")
	return nil
}

// ListUserHistory pages through a user's executions, newest first
func (s *Simulator) ListUserHistory(ctx context.Context, userID string, limit int) ([]*db.Execution, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.ListUserExecutions(ctx, userID, limit)
}

// PurgeExpiredResults removes results older than the retention window
func (s *Simulator) PurgeExpiredResults(ctx context.Context) (int64, error) {
	purged, err := s.store.PurgeExpiredResults(ctx, s.retentionDays)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Info().
			Int64("purged", purged).
			Int("retention_days", s.retentionDays).
			Msg("Expired simulation results purged")
	}
	return purged, nil
}

// Stats summarizes executions by status
type Stats struct {
	ExecutionsByStatus map[string]int64 `json:"executions_by_status"`
	RetentionDays      int              `json:"retention_days"`
}

// Stats aggregates execution counts from the store
func (s *Simulator) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.ExecutionStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		ExecutionsByStatus: counts,
		RetentionDays:      s.retentionDays,
	}, nil
}
