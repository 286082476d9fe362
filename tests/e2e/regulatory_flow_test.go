package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub010/internal/config"
	"github.com/gaigenticai/Regulens-sub010/internal/consensus"
	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/events"
	"github.com/gaigenticai/Regulens-sub010/internal/messenger"
	"github.com/gaigenticai/Regulens-sub010/internal/monitor"
	"github.com/gaigenticai/Regulens-sub010/internal/simulator"
)

// decodePayload re-marshals an event payload into a concrete type
func decodePayload(t *testing.T, ev events.Event, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(ev.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

// TestE2E_RegulatoryChangeFlow drives one regulatory change through the
// whole platform: the monitor detects it from an RSS feed, the messenger
// routes an assessment task to an analyst, the agents vote on the
// response, and the simulator quantifies the impact. Every stage must
// also surface on the NATS event stream.
func TestE2E_RegulatoryChangeFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	store := setupStore(t)
	ctx := context.Background()
	runID := uuid.NewString()[:8]

	ns := startEmbeddedNATS(t)
	defer ns.Shutdown()

	pub, err := events.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	itemEvents := subscribeEvents(t, nc, "regulens.items.detected")
	consensusEvents := subscribeEvents(t, nc, "regulens.consensus.completed")
	simulationEvents := subscribeEvents(t, nc, "regulens.simulations.completed")

	// A feed with one regulatory action and one digest entry the title
	// filter must drop.
	feedXML := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>E2E Regulator Wire</title>
    <item>
      <title>Final Rule %s: Lower Transaction Reporting Thresholds</title>
      <link>https://regulator.example/rules/%s</link>
      <description>Cross-border transaction reports become mandatory above 10000 USD.</description>
      <pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Weekly market roundup</title>
      <link>https://regulator.example/roundup</link>
      <description>Non-regulatory digest.</description>
      <pubDate>Mon, 02 Jun 2025 09:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`, runID, runID)

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer feedSrv.Close()

	sourceID := "e2e-sec-" + runID
	coordinatorID := "e2e-coordinator-" + runID
	leadID := "e2e-compliance-lead-" + runID
	riskID := "e2e-risk-analyst-" + runID
	auditID := "e2e-audit-reviewer-" + runID
	officerID := "e2e-officer-" + runID

	var item db.RegulatoryItem

	t.Run("MonitorDetectsChange", func(t *testing.T) {
		mon := monitor.New(store, config.MonitorConfig{
			IntervalSeconds:        3600,
			MaxConsecutiveFailures: 3,
			FetchTimeoutSeconds:    5,
			RequestsPerMinute:      600,
		}, pub)

		err := mon.AddSource(ctx, &db.RegulatorySource{
			ID:                   sourceID,
			Name:                 "E2E Securities Regulator " + runID,
			BaseURL:              feedSrv.URL,
			SourceType:           db.SourceTypeRSS,
			CheckIntervalMinutes: 60,
			Active:               true,
		})
		require.NoError(t, err)

		require.NoError(t, mon.ForceCheck(ctx, sourceID))

		ev := waitForEvent(t, itemEvents, 5*time.Second)
		assert.Equal(t, "regulatory.item_detected", ev.Type)
		decodePayload(t, ev, &item)
		assert.Equal(t, sourceID, item.Source)
		assert.Contains(t, item.Title, "Final Rule "+runID)
		assert.Equal(t, db.SeverityHigh, item.Severity)
		assert.Equal(t, db.ChangeNew, item.ChangeType)

		// A second sweep of the same feed must dedup, not re-announce.
		require.NoError(t, mon.ForceCheck(ctx, sourceID))
		select {
		case dup := <-itemEvents:
			t.Fatalf("Duplicate item event published: %+v", dup)
		case <-time.After(750 * time.Millisecond):
		}

		count, err := store.CountItemsBySource(ctx, sourceID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("AlertReachesExpert", func(t *testing.T) {
		bus := messenger.New(store, config.MessengerConfig{
			MaxRetries:          3,
			RetryDelaySeconds:   1,
			BatchSize:           10,
			QueueRefreshSeconds: 1,
		}, nil)

		draft := messenger.NewMessage(coordinatorID, riskID, "TASK_ASSIGNMENT", map[string]interface{}{
			"task_description": "Assess impact of " + item.Title,
			"priority":         "high",
			"item_id":          item.ID,
		}).WithPriority(messenger.PriorityHigh)

		msgID, err := bus.Send(ctx, draft)
		require.NoError(t, err)

		received, err := bus.Receive(ctx, riskID, 10, "")
		require.NoError(t, err)

		var task *db.Message
		for _, msg := range received {
			if msg.ID == msgID {
				task = msg
			}
		}
		require.NotNil(t, task, "assessment task not delivered")
		assert.Equal(t, coordinatorID, task.FromAgent)
		assert.Equal(t, "TASK_ASSIGNMENT", task.MessageType)
		assert.Equal(t, messenger.PriorityHigh, task.Priority)
		assert.Equal(t, item.ID, task.Content["item_id"])

		require.NoError(t, bus.Acknowledge(ctx, msgID, riskID))
	})

	t.Run("ConsensusApprovesResponse", func(t *testing.T) {
		engine := consensus.New(store, config.ConsensusConfig{}, pub)

		for _, agent := range []*db.Agent{
			{ID: leadID, Name: "Compliance Lead", Role: db.AgentRoleDecisionMaker, VotingWeight: 2.0, DomainExpertise: []string{"securities"}},
			{ID: riskID, Name: "Risk Analyst", Role: db.AgentRoleExpert, VotingWeight: 1.0, DomainExpertise: []string{"transaction-monitoring"}},
			{ID: auditID, Name: "Audit Reviewer", Role: db.AgentRoleReviewer, VotingWeight: 1.0},
		} {
			require.NoError(t, engine.RegisterAgent(ctx, agent))
		}

		cid, err := engine.Initiate(ctx, consensus.Config{
			Topic:                "Response to " + item.Title,
			Description:          "Choose the control response to the detected rule change",
			Algorithm:            consensus.AlgorithmMajority,
			Participants:         []string{leadID, riskID, auditID},
			RequireJustification: true,
		})
		require.NoError(t, err)

		opinions := []*consensus.Opinion{
			{AgentID: leadID, Decision: "UPDATE_CONTROLS", ConfidenceScore: 0.9,
				Reasoning: "New threshold sits below our current monitoring floor"},
			{AgentID: auditID, Decision: "UPDATE_CONTROLS", ConfidenceScore: 0.8,
				Reasoning: "Existing evidence trail will not satisfy the new reporting duty"},
			{AgentID: riskID, Decision: "MONITOR_ONLY", ConfidenceScore: 0.6,
				Reasoning: "Volume under the new threshold is negligible for us"},
		}
		for _, op := range opinions {
			require.NoError(t, engine.SubmitOpinion(ctx, cid, op))
		}

		result, err := engine.CalculateConsensus(ctx, cid)
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.NotNil(t, result.FinalDecision)
		assert.Equal(t, "UPDATE_CONTROLS", *result.FinalDecision)
		assert.InDelta(t, 2.0/3.0, result.AgreementPercentage, 1e-9)
		assert.Equal(t, consensus.ConfidenceMedium, result.ConfidenceLevel)
		assert.Equal(t, []string{riskID + ": MONITOR_ONLY"}, result.DissentingOpinions)
		assert.Equal(t, string(consensus.StateReachedConsensus), result.FinalState)

		ev := waitForEvent(t, consensusEvents, 5*time.Second)
		assert.Equal(t, "consensus.completed", ev.Type)
		var published db.ConsensusResult
		decodePayload(t, ev, &published)
		assert.Equal(t, cid, published.ConsensusID)
		assert.True(t, published.Success)

		stored, err := engine.GetResult(ctx, cid)
		require.NoError(t, err)
		require.NotNil(t, stored.FinalDecision)
		assert.Equal(t, "UPDATE_CONTROLS", *stored.FinalDecision)
	})

	t.Run("SimulationQuantifiesImpact", func(t *testing.T) {
		sim := simulator.New(store, config.SimulatorConfig{
			MaxConcurrentSimulations: 2,
			SimulationTimeoutSeconds: 120,
			ResultRetentionDays:      7,
		}, nil, pub)
		defer sim.Close()

		sc, err := sim.CreateScenario(ctx, &db.Scenario{
			Name:         "Lower reporting threshold " + runID,
			Description:  "Quantify the impact of the detected threshold change",
			ScenarioType: simulator.ScenarioRegulatoryChange,
			RegulatoryChanges: map[string]interface{}{
				"transaction_limits": map[string]interface{}{"max_amount": 10000.0},
			},
			TestData: map[string]interface{}{
				"transactions": []interface{}{
					map[string]interface{}{"id": "tx-1", "amount": 25000.0, "country": "US"},
					map[string]interface{}{"id": "tx-2", "amount": 900.0, "country": "DE"},
				},
			},
			Tags: []string{"e2e"},
		}, officerID)
		require.NoError(t, err)

		execID, err := sim.RunSimulation(ctx, &simulator.RunRequest{
			ScenarioID: sc.ID,
			UserID:     officerID,
		})
		require.NoError(t, err)

		exec, err := sim.GetExecutionStatus(ctx, execID)
		require.NoError(t, err)
		assert.Equal(t, db.ExecutionStatusCompleted, exec.Status)
		assert.Equal(t, float64(100), exec.ProgressPercentage)
		assert.NotNil(t, exec.StartedAt)
		assert.NotNil(t, exec.CompletedAt)

		result, err := sim.GetSimulationResult(ctx, execID)
		require.NoError(t, err)
		assert.Equal(t, "impact_analysis", result.ResultType)
		assert.Equal(t, float64(1), result.ImpactSummary["total_entities_affected"])
		assert.Equal(t, float64(1), result.ImpactSummary["high_risk_entities"])
		assert.Contains(t, result.Recommendations, "Implement enhanced monitoring for high-risk entities")
		assert.Equal(t, "low", result.RiskAssessment["overall_risk_level"])

		ev := waitForEvent(t, simulationEvents, 5*time.Second)
		assert.Equal(t, "simulation.completed", ev.Type)
		var published db.Execution
		decodePayload(t, ev, &published)
		assert.Equal(t, execID, published.ID)
	})
}
