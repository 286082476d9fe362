package simulator

import (
	"fmt"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

// Risk and cost weights applied by the impact analysis. The entry risk
// scale runs 0..~1.4; entries at or above highRiskFloor count as high
// risk, affected entries below it as medium.
const (
	riskOverLimit       = 0.8
	riskHighRiskCountry = 0.6
	highRiskFloor       = 0.8

	// each affected entry drains compliance by its risk × this factor
	complianceDrainFactor = 0.1

	costPerNewRequirement = 5000.0
	daysPerNewRequirement = 5
	riskWeightingShift    = 0.15

	costPerAffectedEntity  = 100.0
	minImplementationDays  = 30
	daysPerTenEntities     = 10
	highRiskVolumeCeiling  = 10
	complianceDegradeFloor = -0.2
)

// AnalyzeRegulatoryImpact computes impact metrics for a scenario's
// regulatory changes over the supplied test data. The three sub-analyses
// (transactions, policies, risk weightings) each contribute partial
// metrics that are summed before normalization. The affected-entity list
// feeds the persisted result.
func AnalyzeRegulatoryImpact(sc *db.Scenario, testData map[string]interface{}) (*ImpactMetrics, []map[string]interface{}) {
	changes := sc.RegulatoryChanges
	total := &ImpactMetrics{}
	var affected []map[string]interface{}

	txMetrics, txAffected := analyzeTransactionImpact(changes, asMaps(testData["transactions"]))
	total.add(txMetrics)
	affected = append(affected, txAffected...)

	polMetrics, polAffected := analyzePolicyImpact(changes, asMaps(testData["policies"]))
	total.add(polMetrics)
	affected = append(affected, polAffected...)

	total.add(analyzeRiskWeightingImpact(changes))

	finalizeMetrics(total)
	return total, affected
}

// analyzeTransactionImpact scores each test transaction against the
// proposed transaction limits and high-risk country list. An entry over
// the amount limit is high risk; an entry touching a flagged country is
// medium risk unless it already scored high.
func analyzeTransactionImpact(changes map[string]interface{}, transactions []map[string]interface{}) (*ImpactMetrics, []map[string]interface{}) {
	m := &ImpactMetrics{}
	var affected []map[string]interface{}

	limits, _ := changes["transaction_limits"].(map[string]interface{})
	maxAmount, hasLimit := asFloat(limits["max_amount"])
	countries := asStrings(changes["high_risk_countries"])

	for i, tx := range transactions {
		entryRisk := 0.0
		var reasons []string

		amount, hasAmount := asFloat(tx["amount"])
		if hasLimit && hasAmount && amount > maxAmount {
			entryRisk += riskOverLimit
			m.HighRiskEntities++
			reasons = append(reasons, fmt.Sprintf("amount %.2f exceeds proposed limit %.2f", amount, maxAmount))
		}

		country, _ := tx["country"].(string)
		if country != "" && containsString(countries, country) {
			beforeCountry := entryRisk
			entryRisk += riskHighRiskCountry
			if beforeCountry < highRiskFloor {
				m.MediumRiskEntities++
			}
			reasons = append(reasons, fmt.Sprintf("country %s is on the proposed high-risk list", country))
		}

		if entryRisk == 0 {
			continue
		}

		m.TotalEntitiesAffected++
		m.ComplianceScoreChange -= entryRisk * complianceDrainFactor

		entry := map[string]interface{}{
			"entity_type": "transaction",
			"index":       i,
			"risk_score":  entryRisk,
			"reasons":     reasons,
		}
		if id, ok := tx["id"].(string); ok {
			entry["id"] = id
		}
		affected = append(affected, entry)
	}

	return m, affected
}

// analyzePolicyImpact counts every test policy against the proposed
// requirement changes. New requirements cost implementation budget and
// time per policy; deprecated requirements only mark the policy
// affected. Policy entities carry no transaction risk score and land in
// the low-risk bucket.
func analyzePolicyImpact(changes map[string]interface{}, policies []map[string]interface{}) (*ImpactMetrics, []map[string]interface{}) {
	m := &ImpactMetrics{}
	var affected []map[string]interface{}

	_, hasNew := changes["new_requirements"]
	_, hasDeprecated := changes["deprecated_requirements"]
	if !hasNew && !hasDeprecated {
		return m, nil
	}

	for i, policy := range policies {
		var reasons []string

		if hasNew {
			m.TotalEntitiesAffected++
			m.OperationalCostIncrease += costPerNewRequirement
			m.EstimatedImplementationTimeDays += daysPerNewRequirement
			reasons = append(reasons, "new requirements apply")
		}
		if hasDeprecated {
			m.TotalEntitiesAffected++
			reasons = append(reasons, "deprecated requirements removed")
		}

		m.LowRiskEntities++
		entry := map[string]interface{}{
			"entity_type": "policy",
			"index":       i,
			"reasons":     reasons,
		}
		if name, ok := policy["name"].(string); ok {
			entry["name"] = name
		}
		affected = append(affected, entry)
	}

	return m, affected
}

// analyzeRiskWeightingImpact shifts the aggregate risk score when the
// scenario reweights risk categories
func analyzeRiskWeightingImpact(changes map[string]interface{}) *ImpactMetrics {
	m := &ImpactMetrics{}
	if _, ok := changes["risk_weightings"]; ok {
		m.RiskScoreChange += riskWeightingShift
	}
	return m
}

// finalizeMetrics normalizes the summed partials and derives the
// aggregate estimates: per-entity compliance drain, critical violation
// flags, remediation cost, and the implementation timeline floor.
func finalizeMetrics(m *ImpactMetrics) {
	if m.TotalEntitiesAffected > 0 {
		m.ComplianceScoreChange /= float64(m.TotalEntitiesAffected)
	}

	if m.HighRiskEntities > highRiskVolumeCeiling {
		m.CriticalViolations = append(m.CriticalViolations,
			"High volume of high-risk entities affected")
	}
	if m.ComplianceScoreChange < complianceDegradeFloor {
		m.CriticalViolations = append(m.CriticalViolations,
			"Significant compliance score degradation")
	}

	m.OperationalCostIncrease += float64(m.TotalEntitiesAffected) * costPerAffectedEntity

	m.EstimatedImplementationTimeDays += m.TotalEntitiesAffected / daysPerTenEntities
	if m.EstimatedImplementationTimeDays < minImplementationDays {
		m.EstimatedImplementationTimeDays = minImplementationDays
	}
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
