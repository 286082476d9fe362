package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

func TestNewUpdater(t *testing.T) {
	// Create updater with nil store (just testing constructor)
	interval := 10 * time.Second
	updater := NewUpdater(nil, interval, 5)

	assert.NotNil(t, updater)
	assert.Equal(t, interval, updater.interval)
	assert.Equal(t, 5, updater.failureCeiling)
	assert.NotNil(t, updater.stopCh)
}

func TestUpdater_Stop(t *testing.T) {
	updater := NewUpdater(nil, time.Second, 5)

	// Stop should not panic
	assert.NotPanics(t, func() {
		updater.Stop()
	})

	// Channel should be closed
	_, ok := <-updater.stopCh
	assert.False(t, ok, "stopCh should be closed")
}

func TestNewUpdater_WithDifferentIntervals(t *testing.T) {
	intervals := []time.Duration{
		1 * time.Second,
		10 * time.Second,
		1 * time.Minute,
		5 * time.Minute,
	}

	for _, interval := range intervals {
		t.Run(interval.String(), func(t *testing.T) {
			updater := NewUpdater(nil, interval, 5)
			assert.Equal(t, interval, updater.interval)
		})
	}
}

func TestUpdater_Update_RefreshesGauges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	emptyConfig := map[string]interface{}{}

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM agent_messages GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(7)).
			AddRow("delivered", int64(3)))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM agent_conversations`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	mock.ExpectQuery(`SELECT (.+) FROM regulatory_sources`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "base_url", "source_type", "check_interval_minutes",
			"active", "scraping_config", "last_check", "consecutive_failures",
			"created_at", "updated_at",
		}).
			AddRow("sec_rss", "SEC Press Releases", "https://www.sec.gov/rss", "rss", 60,
				true, emptyConfig, &now, 0, now, now).
			AddRow("fca_html", "FCA News", "https://www.fca.org.uk/news", "html", 60,
				true, emptyConfig, &now, 6, now, now).
			AddRow("old_api", "Disabled API", "https://api.example.gov", "api", 60,
				false, emptyConfig, nil, 0, now, now))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM agents`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM simulation_executions GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("running", int64(2)).
			AddRow("completed", int64(9)))

	store := db.NewWithPool(mock)
	updater := NewUpdater(store, time.Minute, 5)

	assert.NotPanics(t, func() {
		updater.update(context.Background())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdater_Update_ToleratesQueryErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Every query fails; update must log and carry on rather than panic
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM agent_messages GROUP BY status`).
		WillReturnError(assert.AnError)
	mock.ExpectQuery(`SELECT (.+) FROM regulatory_sources`).
		WillReturnError(assert.AnError)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM agents`).
		WillReturnError(assert.AnError)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM simulation_executions GROUP BY status`).
		WillReturnError(assert.AnError)

	store := db.NewWithPool(mock)
	updater := NewUpdater(store, time.Minute, 5)

	assert.NotPanics(t, func() {
		updater.update(context.Background())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
