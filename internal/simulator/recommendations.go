package simulator

import (
	"time"

	"github.com/google/uuid"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

// Trigger thresholds for the recommendation groups
const (
	recommendComplianceFloor = -0.1
	recommendCostCeiling     = 50000.0
	recommendTimelineCeiling = 90
	mediumRiskVolumeCeiling  = 50

	implementationCostFactor = 1.5
	annualCostMonths         = 12
)

// buildRecommendations maps the computed metrics and scenario type to a
// deterministic action list. Same inputs always produce the same list in
// the same order.
func buildRecommendations(m *ImpactMetrics, scenarioType string) []string {
	var recs []string

	if m.HighRiskEntities > 0 {
		recs = append(recs,
			"Implement enhanced monitoring for high-risk entities",
			"Review and update due diligence procedures for flagged transactions",
		)
	}
	if m.ComplianceScoreChange < recommendComplianceFloor {
		recs = append(recs,
			"Schedule compliance training for affected business units",
			"Update internal policies to reflect the proposed requirements",
		)
	}
	if m.OperationalCostIncrease > recommendCostCeiling {
		recs = append(recs,
			"Allocate budget for regulatory implementation costs",
			"Evaluate outsourcing options for compliance operations",
		)
	}
	if m.EstimatedImplementationTimeDays > recommendTimelineCeiling {
		recs = append(recs,
			"Develop a phased implementation plan with milestone reviews",
		)
	}
	if scenarioType == ScenarioRegulatoryChange {
		recs = append(recs,
			"Engage legal counsel to review the regulatory interpretation",
			"Establish a change management program for the transition",
		)
	}

	return recs
}

// riskLevel buckets the overall assessment by affected-entity volume
func riskLevel(m *ImpactMetrics) string {
	switch {
	case m.HighRiskEntities > highRiskVolumeCeiling:
		return "high"
	case m.MediumRiskEntities > mediumRiskVolumeCeiling:
		return "medium"
	default:
		return "low"
	}
}

// assembleResult shapes the computed metrics into the persisted
// simulation result document
func assembleResult(exec *db.Execution, sc *db.Scenario, m *ImpactMetrics, affected []map[string]interface{}, recommendations []string) *db.SimulationResult {
	return &db.SimulationResult{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		ScenarioID:  sc.ID,
		UserID:      exec.UserID,
		ResultType:  "impact_analysis",
		ImpactSummary: map[string]interface{}{
			"total_entities_affected": m.TotalEntitiesAffected,
			"high_risk_entities":      m.HighRiskEntities,
			"medium_risk_entities":    m.MediumRiskEntities,
			"low_risk_entities":       m.LowRiskEntities,
			"compliance_score_change": m.ComplianceScoreChange,
			"risk_score_change":       m.RiskScoreChange,
		},
		DetailedResults: map[string]interface{}{
			"scenario_name":    sc.Name,
			"scenario_type":    sc.ScenarioType,
			"schema_version":   sc.SchemaVersion,
			"metrics":          m,
			"analysis_time":    time.Now().UTC().Format(time.RFC3339),
			"entities_scanned": len(affected),
		},
		AffectedEntities: affected,
		Recommendations:  recommendations,
		RiskAssessment: map[string]interface{}{
			"overall_risk_level":  riskLevel(m),
			"risk_score_change":   m.RiskScoreChange,
			"critical_violations": m.CriticalViolations,
		},
		CostImpact: map[string]interface{}{
			"operational_cost_increase":     m.OperationalCostIncrease,
			"estimated_implementation_cost": m.OperationalCostIncrease * implementationCostFactor,
			"estimated_annual_cost":         m.OperationalCostIncrease * annualCostMonths,
		},
		ComplianceImpact: map[string]interface{}{
			"compliance_score_change": m.ComplianceScoreChange,
			"critical_violations":     m.CriticalViolations,
			"affected_entities":       m.TotalEntitiesAffected,
		},
		OperationalImpact: map[string]interface{}{
			"estimated_implementation_time_days": m.EstimatedImplementationTimeDays,
			"high_risk_entities":                 m.HighRiskEntities,
			"medium_risk_entities":               m.MediumRiskEntities,
		},
		Metadata: map[string]interface{}{
			"execution_id": exec.ID,
			"priority":     exec.ExecutionParameters["priority"],
		},
	}
}
