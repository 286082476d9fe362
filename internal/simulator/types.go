package simulator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

// ErrValidation marks a rejected input; no state was changed
var ErrValidation = errors.New("validation failed")

// ErrRateLimited marks a run rejected by the per-user sliding window
var ErrRateLimited = errors.New("rate limited")

// Scenario types
const (
	ScenarioRegulatoryChange  = "regulatory_change"
	ScenarioMarketChange      = "market_change"
	ScenarioOperationalChange = "operational_change"
)

// Regulatory change descriptor types accepted inside a scenario's
// regulatory_changes.changes list
const (
	ChangeAddition     = "addition"
	ChangeModification = "modification"
	ChangeRepeal       = "repeal"
)

// Priority bounds for run requests. Lower is more urgent, matching the
// messenger's convention.
const (
	priorityMin = 1
	priorityMax = 5
)

// RunRequest asks for one execution of a stored scenario
type RunRequest struct {
	ScenarioID       string                 `json:"scenario_id"`
	UserID           string                 `json:"user_id"`
	CustomParameters map[string]interface{} `json:"custom_parameters,omitempty"`
	TestDataOverride map[string]interface{} `json:"test_data_override,omitempty"`
	AsyncExecution   bool                   `json:"async_execution"`
	Priority         int                    `json:"priority"`
}

// ImpactMetrics is the numeric summary the analysis computes from a
// scenario against test data
type ImpactMetrics struct {
	TotalEntitiesAffected           int      `json:"total_entities_affected"`
	HighRiskEntities                int      `json:"high_risk_entities"`
	MediumRiskEntities              int      `json:"medium_risk_entities"`
	LowRiskEntities                 int      `json:"low_risk_entities"`
	ComplianceScoreChange           float64  `json:"compliance_score_change"`
	RiskScoreChange                 float64  `json:"risk_score_change"`
	OperationalCostIncrease         float64  `json:"operational_cost_increase"`
	EstimatedImplementationTimeDays int      `json:"estimated_implementation_time_days"`
	CriticalViolations              []string `json:"critical_violations"`
	RecommendedActions              []string `json:"recommended_actions"`
}

// add folds another partial metrics value into the receiver
func (m *ImpactMetrics) add(other *ImpactMetrics) {
	m.TotalEntitiesAffected += other.TotalEntitiesAffected
	m.HighRiskEntities += other.HighRiskEntities
	m.MediumRiskEntities += other.MediumRiskEntities
	m.LowRiskEntities += other.LowRiskEntities
	m.ComplianceScoreChange += other.ComplianceScoreChange
	m.RiskScoreChange += other.RiskScoreChange
	m.OperationalCostIncrease += other.OperationalCostIncrease
	m.EstimatedImplementationTimeDays += other.EstimatedImplementationTimeDays
	m.CriticalViolations = append(m.CriticalViolations, other.CriticalViolations...)
	m.RecommendedActions = append(m.RecommendedActions, other.RecommendedActions...)
}

func validateRunRequest(req *RunRequest) error {
	if req.ScenarioID == "" {
		return fmt.Errorf("%w: scenario_id is required", ErrValidation)
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if req.Priority < priorityMin || req.Priority > priorityMax {
		return fmt.Errorf("%w: priority must be between %d and %d, got %d",
			ErrValidation, priorityMin, priorityMax, req.Priority)
	}
	return nil
}

// validateScenario enforces the scenario document rules: a name, a
// non-empty regulatory_changes document whose change descriptors are
// well formed, and impact parameters within range.
func validateScenario(sc *db.Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("%w: scenario name is required", ErrValidation)
	}
	switch sc.ScenarioType {
	case "", ScenarioRegulatoryChange, ScenarioMarketChange, ScenarioOperationalChange:
	default:
		return fmt.Errorf("%w: unknown scenario type %q", ErrValidation, sc.ScenarioType)
	}
	if len(sc.RegulatoryChanges) == 0 {
		return fmt.Errorf("%w: regulatory_changes must not be empty", ErrValidation)
	}
	if err := validateChangeDescriptors(sc.RegulatoryChanges); err != nil {
		return err
	}
	return validateImpactParameters(sc.ImpactParameters)
}

// validateChangeDescriptors checks the optional changes list inside the
// regulatory_changes document. The impact keys (transaction_limits,
// high_risk_countries, ...) are free-form; only explicit change
// descriptors carry required fields.
func validateChangeDescriptors(changes map[string]interface{}) error {
	list, ok := changes["changes"].([]interface{})
	if !ok {
		return nil
	}
	for i, entry := range list {
		change, ok := entry.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: regulatory change %d is not an object", ErrValidation, i)
		}
		changeType, _ := change["change_type"].(string)
		switch changeType {
		case ChangeAddition, ChangeModification, ChangeRepeal:
		default:
			return fmt.Errorf("%w: regulatory change %d has invalid change_type %q",
				ErrValidation, i, changeType)
		}
		if jurisdiction, _ := change["jurisdiction"].(string); jurisdiction == "" {
			return fmt.Errorf("%w: regulatory change %d is missing jurisdiction", ErrValidation, i)
		}
		if description, _ := change["description"].(string); description == "" {
			return fmt.Errorf("%w: regulatory change %d is missing description", ErrValidation, i)
		}
	}
	return nil
}

func validateImpactParameters(params map[string]interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if v, ok := asFloat(params["sensitivity"]); ok && (v < 0 || v > 1) {
		return fmt.Errorf("%w: impact_parameters.sensitivity must be within [0, 1], got %v", ErrValidation, v)
	}
	if v, ok := asFloat(params["impact_threshold"]); ok && v < 0 {
		return fmt.Errorf("%w: impact_parameters.impact_threshold must be >= 0, got %v", ErrValidation, v)
	}
	if v, ok := asFloat(params["max_iterations"]); ok && (v < 1 || v > 10000) {
		return fmt.Errorf("%w: impact_parameters.max_iterations must be within 1..10000, got %v", ErrValidation, v)
	}
	if v, ok := asFloat(params["confidence_threshold"]); ok && (v < 0 || v > 1) {
		return fmt.Errorf("%w: impact_parameters.confidence_threshold must be within [0, 1], got %v", ErrValidation, v)
	}
	return nil
}

// asFloat coerces the numeric shapes JSON decoding produces
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// asMaps coerces a JSON array of objects
func asMaps(v interface{}) []map[string]interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, entry := range list {
		if m, ok := entry.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// asStrings coerces a JSON array of strings
func asStrings(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, entry := range list {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
