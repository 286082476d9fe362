package messenger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The delivery loop always polls the backlog once on startup, so every
// worker test expects at least one of these.
const backlogPattern = `SELECT id FROM agent_messages\s+WHERE status = 'pending'`

// waitForExpectations polls until the worker goroutine has consumed
// every ordered expectation, then returns so the caller can stop it.
func waitForExpectations(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond, "worker did not finish the expected store calls")
}

func TestMessenger_WorkerLifecycle(t *testing.T) {
	m, mock := newTestMessenger(t)

	mock.ExpectQuery(backlogPattern).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	require.NoError(t, m.StartWorker(context.Background()))

	err := m.StartWorker(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, m.StopWorker())

	err = m.StopWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	// StopWorker joins the loop, so the startup poll has completed.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessenger_WorkerDeliversBacklog(t *testing.T) {
	m, mock := newTestMessenger(t)
	now := time.Now().UTC()
	agent := "compliance-expert"

	mock.ExpectQuery(backlogPattern).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("m1"))
	mock.ExpectQuery(`FROM agent_messages WHERE id = \$1`).
		WithArgs("m1").
		WillReturnRows(messageRow("m1", "regulatory-monitor", &agent, "STATUS_UPDATE", 3, "pending", 0, 3, now, nil))
	mock.ExpectExec(`UPDATE agent_messages\s+SET status = 'delivered', delivered_at = NOW\(\)`).
		WithArgs("m1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO message_delivery_log`).
		WithArgs("m1", agent).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, m.StartWorker(context.Background()))
	waitForExpectations(t, mock)
	require.NoError(t, m.StopWorker())
}

// A message that keeps failing is requeued until retry_count + 1 reaches
// max_retries, then parked as failed with the last error recorded.
func TestMessenger_WorkerRetriesThenFails(t *testing.T) {
	m, mock := newTestMessenger(t)
	now := time.Now().UTC()
	agent := "auditor"
	cause := "failed to mark message m-down delivered: connection refused"

	mock.ExpectQuery(backlogPattern).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("m-down"))

	for attempt := 1; attempt <= 3; attempt++ {
		mock.ExpectQuery(`FROM agent_messages WHERE id = \$1`).
			WithArgs("m-down").
			WillReturnRows(messageRow("m-down", "regulatory-monitor", &agent, "STATUS_UPDATE", 3, "pending", attempt-1, 3, now, nil))
		mock.ExpectExec(`UPDATE agent_messages\s+SET status = 'delivered', delivered_at = NOW\(\)`).
			WithArgs("m-down").
			WillReturnError(errors.New("connection refused"))
		mock.ExpectExec(`INSERT INTO message_delivery_attempts`).
			WithArgs("m-down", attempt, "storage", cause).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		// The third attempt exhausts the budget: retry_count + 1 is no
		// longer below max_retries, so the requeue touches zero rows.
		requeued := int64(1)
		if attempt == 3 {
			requeued = 0
		}
		mock.ExpectExec(`UPDATE agent_messages\s+SET retry_count = retry_count \+ 1, status = 'pending'`).
			WithArgs("m-down", cause).
			WillReturnResult(pgxmock.NewResult("UPDATE", requeued))
	}

	mock.ExpectExec(`UPDATE agent_messages\s+SET status = 'failed'`).
		WithArgs("m-down", cause).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, m.StartWorker(context.Background()))
	waitForExpectations(t, mock)
	require.NoError(t, m.StopWorker())
}

// Rows that settled or expired between the backlog poll and delivery are
// dropped without touching the store again.
func TestMessenger_WorkerSkipsSettledAndOverdueRows(t *testing.T) {
	m, mock := newTestMessenger(t)
	now := time.Now().UTC()
	agent := "auditor"
	past := now.Add(-time.Minute)

	mock.ExpectQuery(backlogPattern).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("m-done").AddRow("m-late"))
	mock.ExpectQuery(`FROM agent_messages WHERE id = \$1`).
		WithArgs("m-done").
		WillReturnRows(messageRow("m-done", "regulatory-monitor", &agent, "STATUS_UPDATE", 3, "delivered", 0, 3, now, nil))
	mock.ExpectQuery(`FROM agent_messages WHERE id = \$1`).
		WithArgs("m-late").
		WillReturnRows(messageRow("m-late", "regulatory-monitor", &agent, "STATUS_UPDATE", 3, "pending", 0, 3, now, &past))

	require.NoError(t, m.StartWorker(context.Background()))
	waitForExpectations(t, mock)
	require.NoError(t, m.StopWorker())
}

func TestMessenger_SendAsyncQueuesForDelivery(t *testing.T) {
	m, mock := newTestMessenger(t)
	toAgent := "compliance-expert"
	content := map[string]interface{}{"status": "scanning"}

	mock.ExpectExec(`INSERT INTO agent_messages`).
		WithArgs(pgxmock.AnyArg(), "regulatory-monitor", &toAgent, "STATUS_UPDATE", content,
			3, "pending", 0, 3,
			[]string{}, (*string)(nil), (*string)(nil), (*string)(nil),
			pgxmock.AnyArg(), (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM agent_messages GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).AddRow("pending", int64(1)))

	id, err := m.SendAsync(context.Background(), NewMessage("regulatory-monitor", toAgent, "STATUS_UPDATE", content))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.QueueDepth, "SendAsync should stage the id for the worker")
	assert.False(t, stats.WorkerRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}
