package consensus

import "sort"

// Failure messages carried on unsuccessful results.
const (
	failureNoOpinions   = "no opinions submitted"
	failureQuorum       = "quorum not met"
	failureThreshold    = "consensus threshold not met"
	failureNotUnanimous = "unanimous agreement not reached"
	failureRoundTimeout = "round timeout"
)

// outcome is the raw verdict of a decision rule before it is dressed up
// as a persisted result. agreement backs the success check and the
// reported agreement_percentage; support is the unweighted share of
// voters behind the decision and feeds the confidence tiering.
type outcome struct {
	decision      string
	agreement     float64
	support       float64
	success       bool
	failureReason string
}

// evaluate applies the configured decision rule to the latest round's
// opinions. weights is only consulted by WEIGHTED_MAJORITY; absent
// agents default to weight 1.
func evaluate(algorithm Algorithm, opinions []*Opinion, weights map[string]float64, threshold float64, participantCount int) outcome {
	if len(opinions) == 0 {
		return outcome{failureReason: failureNoOpinions}
	}

	switch algorithm {
	case AlgorithmUnanimous:
		return evaluateUnanimous(opinions)
	case AlgorithmWeightedMajority:
		return evaluateWeighted(opinions, weights, threshold)
	case AlgorithmQuorum:
		// Integer half plus one, so 5 participants need 3 opinions.
		required := participantCount/2 + 1
		if len(opinions) < required {
			return outcome{failureReason: failureQuorum}
		}
		return evaluateMajority(opinions, threshold, false)
	case AlgorithmSuperMajority:
		return evaluateMajority(opinions, maxFloat(threshold, 2.0/3.0), false)
	case AlgorithmConsensus:
		return evaluateMajority(opinions, maxFloat(threshold, 0.9), false)
	case AlgorithmPlurality:
		return evaluateMajority(opinions, threshold, true)
	default:
		// MAJORITY, and RANKED_CHOICE which falls through to it until
		// opinions carry ranked lists.
		return evaluateMajority(opinions, threshold, false)
	}
}

func evaluateUnanimous(opinions []*Opinion) outcome {
	decision := opinions[0].Decision
	for _, op := range opinions[1:] {
		if op.Decision != decision {
			_, share := topDecision(countDecisions(opinions))
			return outcome{
				agreement:     share,
				support:       share,
				failureReason: failureNotUnanimous,
			}
		}
	}
	return outcome{decision: decision, agreement: 1, support: 1, success: true}
}

func evaluateMajority(opinions []*Opinion, threshold float64, alwaysSucceed bool) outcome {
	decision, share := topDecision(countDecisions(opinions))
	o := outcome{decision: decision, agreement: share, support: share}
	if alwaysSucceed || share > threshold {
		o.success = true
		return o
	}
	o.decision = ""
	o.failureReason = failureThreshold
	return o
}

func evaluateWeighted(opinions []*Opinion, weights map[string]float64, threshold float64) outcome {
	scores := make(map[string]float64, len(opinions))
	var totalScore float64
	for _, op := range opinions {
		weight, ok := weights[op.AgentID]
		if !ok {
			weight = 1
		}
		score := weight * op.ConfidenceScore
		scores[op.Decision] += score
		totalScore += score
	}
	if totalScore <= 0 {
		return outcome{failureReason: failureThreshold}
	}

	decision := ""
	best := -1.0
	for _, d := range sortedKeys(scores) {
		if scores[d] > best {
			decision = d
			best = scores[d]
		}
	}

	o := outcome{
		decision:  decision,
		agreement: best / totalScore,
		support:   float64(countDecisions(opinions)[decision]) / float64(len(opinions)),
	}
	if o.agreement > threshold {
		o.success = true
		return o
	}
	o.decision = ""
	o.failureReason = failureThreshold
	return o
}

func countDecisions(opinions []*Opinion) map[string]int {
	counts := make(map[string]int, len(opinions))
	for _, op := range opinions {
		counts[op.Decision]++
	}
	return counts
}

// topDecision returns the plurality decision and its share of the vote.
// Ties break toward the lexicographically smaller decision so results
// are reproducible.
func topDecision(counts map[string]int) (string, float64) {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return "", 0
	}

	decision := ""
	best := -1
	for _, d := range sortedCountKeys(counts) {
		if counts[d] > best {
			decision = d
			best = counts[d]
		}
	}
	return decision, float64(best) / float64(total)
}

func sortedCountKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// confidenceFor clamps support to [0,1], applies the algorithm's tier
// bands, then drops one tier when the process needed more than two
// rounds to settle.
func confidenceFor(algorithm Algorithm, support float64, roundsUsed int) string {
	if support < 0 {
		support = 0
	}
	if support > 1 {
		support = 1
	}

	bands := [3]float64{0.9, 0.7, 0.5}
	if algorithm == AlgorithmWeightedMajority {
		bands = [3]float64{0.8, 0.6, 0.4}
	}

	var level string
	switch {
	case support >= bands[0]:
		level = ConfidenceVeryHigh
	case support >= bands[1]:
		level = ConfidenceHigh
	case support >= bands[2]:
		level = ConfidenceMedium
	default:
		level = ConfidenceLow
	}

	if roundsUsed > 2 {
		level = downgradeTier(level)
	}
	return level
}

func downgradeTier(level string) string {
	switch level {
	case ConfidenceVeryHigh:
		return ConfidenceHigh
	case ConfidenceHigh:
		return ConfidenceMedium
	case ConfidenceMedium:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}
