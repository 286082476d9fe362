package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub010/internal/alerts"
	"github.com/gaigenticai/Regulens-sub010/internal/config"
	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

var sourceTestColumns = []string{
	"id", "name", "base_url", "source_type", "check_interval_minutes", "active",
	"scraping_config", "last_check", "consecutive_failures", "created_at", "updated_at",
}

var itemTestColumns = []string{
	"id", "source", "title", "description", "content_url", "change_type", "severity",
	"metadata", "detected_at", "published_at",
}

func newTestMonitor(t *testing.T, cfg config.MonitorConfig) (*Monitor, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 60
	}
	if cfg.FetchTimeoutSeconds <= 0 {
		cfg.FetchTimeoutSeconds = 5
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 6000
	}
	return New(db.NewWithPool(mock), cfg, nil), mock
}

// captureAlerter records alerts delivered through the default manager
type captureAlerter struct {
	mu   sync.Mutex
	sent []alerts.Alert
}

func (c *captureAlerter) Send(_ context.Context, alert alerts.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, alert)
	return nil
}

func (c *captureAlerter) all() []alerts.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alerts.Alert(nil), c.sent...)
}

func swapAlertManager(t *testing.T) *captureAlerter {
	t.Helper()

	capture := &captureAlerter{}
	original := alerts.GetDefaultManager()
	alerts.SetDefaultManager(alerts.NewManager(capture))
	t.Cleanup(func() { alerts.SetDefaultManager(original) })
	return capture
}

func addTestSource(t *testing.T, m *Monitor, mock pgxmock.PgxPoolIface, src *db.RegulatorySource) {
	t.Helper()

	mock.ExpectExec(`INSERT INTO regulatory_sources`).
		WithArgs(src.ID, src.Name, src.BaseURL, src.SourceType, src.CheckIntervalMinutes,
			src.Active, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, m.AddSource(context.Background(), src))
}

func expectItemInsert(mock pgxmock.PgxPoolIface, id string, rowsAffected int64) {
	mock.ExpectExec(`INSERT INTO regulatory_items`).
		WithArgs(id, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", rowsAffected))
}

func TestMonitor_AddSource_Validation(t *testing.T) {
	m, mock := newTestMonitor(t, config.MonitorConfig{})
	ctx := context.Background()

	valid := func() *db.RegulatorySource {
		return &db.RegulatorySource{
			ID:                   "sec_rss",
			Name:                 "SEC Press Releases",
			BaseURL:              "https://www.sec.gov/news/pressreleases.rss",
			SourceType:           db.SourceTypeRSS,
			CheckIntervalMinutes: 30,
			Active:               true,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*db.RegulatorySource)
		wantErr string
	}{
		{
			name:    "missing id",
			mutate:  func(s *db.RegulatorySource) { s.ID = "" },
			wantErr: "source id is required",
		},
		{
			name:    "missing name",
			mutate:  func(s *db.RegulatorySource) { s.Name = "" },
			wantErr: "source name is required",
		},
		{
			name:    "scheme-less url",
			mutate:  func(s *db.RegulatorySource) { s.BaseURL = "www.sec.gov/feed" },
			wantErr: "missing scheme or host",
		},
		{
			name:    "unknown source type",
			mutate:  func(s *db.RegulatorySource) { s.SourceType = "gopher" },
			wantErr: `unknown source type "gopher"`,
		},
		{
			name:    "non-positive interval",
			mutate:  func(s *db.RegulatorySource) { s.CheckIntervalMinutes = 0 },
			wantErr: "check_interval_minutes must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := valid()
			tt.mutate(src)

			err := m.AddSource(ctx, src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, mock.ExpectationsWereMet(), "validation failures must not touch the store")
}

func TestMonitor_AddListRemove(t *testing.T) {
	m, mock := newTestMonitor(t, config.MonitorConfig{})
	ctx := context.Background()

	addTestSource(t, m, mock, &db.RegulatorySource{
		ID: "sec_rss", Name: "SEC Press Releases",
		BaseURL:    "https://www.sec.gov/news/pressreleases.rss",
		SourceType: db.SourceTypeRSS, CheckIntervalMinutes: 30, Active: true,
	})
	addTestSource(t, m, mock, &db.RegulatorySource{
		ID: "fca_news", Name: "FCA News",
		BaseURL:    "https://www.fca.org.uk/news",
		SourceType: db.SourceTypeHTML, CheckIntervalMinutes: 60, Active: true,
	})

	listed := m.ListSources()
	require.Len(t, listed, 2)
	assert.Equal(t, "fca_news", listed[0].ID, "sources are ordered by name")
	assert.Equal(t, "sec_rss", listed[1].ID)

	mock.ExpectExec(`DELETE FROM regulatory_sources`).
		WithArgs("fca_news").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, m.RemoveSource(ctx, "fca_news"))
	assert.Len(t, m.ListSources(), 1)

	mock.ExpectExec(`DELETE FROM regulatory_sources`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	err := m.RemoveSource(ctx, "ghost")
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_Initialize_SeedsFromCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogFixture), 0o600))

	m, mock := newTestMonitor(t, config.MonitorConfig{CatalogPath: path})

	mock.ExpectQuery(`SELECT (.+) FROM regulatory_sources ORDER BY name ASC`).
		WillReturnRows(pgxmock.NewRows(sourceTestColumns))
	mock.ExpectExec(`INSERT INTO regulatory_sources`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO regulatory_sources`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, m.Initialize(context.Background()))

	listed := m.ListSources()
	require.Len(t, listed, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_Initialize_LoadsExisting(t *testing.T) {
	m, mock := newTestMonitor(t, config.MonitorConfig{CatalogPath: "/nonexistent/sources.yaml"})

	last := time.Now().UTC().Add(-10 * time.Minute)
	now := time.Now().UTC()
	rows := pgxmock.NewRows(sourceTestColumns).
		AddRow("sec_rss", "SEC Press Releases", "https://www.sec.gov/news/pressreleases.rss",
			db.SourceTypeRSS, 30, true, nil, &last, 0, now, now)
	mock.ExpectQuery(`SELECT (.+) FROM regulatory_sources ORDER BY name ASC`).
		WillReturnRows(rows)

	require.NoError(t, m.Initialize(context.Background()),
		"a populated store must not trigger the catalog")

	listed := m.ListSources()
	require.Len(t, listed, 1)
	assert.Equal(t, "sec_rss", listed[0].ID)
	require.NotNil(t, listed[0].LastCheck)
	assert.NoError(t, mock.ExpectationsWereMet())
}

const sweepFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <item>
      <title>SEC Adopts Final Rule on Climate Disclosure</title>
      <link>https://www.sec.gov/news/press-release/2026-01</link>
      <description>Final requirements adopted.</description>
      <pubDate>Mon, 02 Feb 2026 15:04:05 -0700</pubDate>
    </item>
    <item>
      <title>Commission Statement on Digital Assets</title>
      <link>https://www.sec.gov/news/press-release/2026-02</link>
      <description>Statement issued.</description>
      <pubDate>Tue, 03 Feb 2026 09:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func TestMonitor_CheckDedupsAcrossSweeps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sweepFeed))
	}))
	defer srv.Close()

	m, mock := newTestMonitor(t, config.MonitorConfig{})
	ctx := context.Background()

	addTestSource(t, m, mock, &db.RegulatorySource{
		ID: "sec_rss", Name: "SEC Press Releases", BaseURL: srv.URL,
		SourceType: db.SourceTypeRSS, CheckIntervalMinutes: 30, Active: true,
	})

	id1 := itemID("sec_rss", "SEC Adopts Final Rule on Climate Disclosure",
		time.Date(2026, 2, 2, 22, 4, 5, 0, time.UTC))
	id2 := itemID("sec_rss", "Commission Statement on Digital Assets",
		time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC))

	// First pass: both items are new.
	expectItemInsert(mock, id1, 1)
	expectItemInsert(mock, id2, 1)
	mock.ExpectExec(`UPDATE regulatory_sources SET consecutive_failures = 0`).
		WithArgs("sec_rss").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	m.sweep(ctx)

	// Second pass over the identical feed: same deterministic ids, both
	// inserts conflict away.
	mock.ExpectExec(`UPDATE regulatory_sources SET last_check = NULL`).
		WithArgs("sec_rss").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectItemInsert(mock, id1, 0)
	expectItemInsert(mock, id2, 0)
	mock.ExpectExec(`UPDATE regulatory_sources SET consecutive_failures = 0`).
		WithArgs("sec_rss").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, m.ForceCheck(ctx, "sec_rss"))

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.TotalChecks)
	assert.Equal(t, int64(2), stats.SuccessfulChecks)
	assert.Equal(t, int64(0), stats.FailedChecks)
	assert.Equal(t, int64(2), stats.ItemsDetected)
	assert.Equal(t, int64(2), stats.DuplicatesAvoided)

	listed := m.ListSources()
	require.Len(t, listed, 1)
	assert.Equal(t, 0, listed[0].ConsecutiveFailures)
	assert.NotNil(t, listed[0].LastCheck)

	assert.NoError(t, mock.ExpectationsWereMet())
}

const muteFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <item>
      <title>Press Release on Recovery</title>
      <link>https://www.sec.gov/news/press-release/2026-09</link>
      <description>Back up.</description>
      <pubDate>Wed, 04 Feb 2026 12:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func TestMonitor_MutesSourceAtFailureCeiling(t *testing.T) {
	capture := swapAlertManager(t)

	var healthy atomic.Bool
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if healthy.Load() {
			_, _ = w.Write([]byte(muteFeed))
			return
		}
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	m, mock := newTestMonitor(t, config.MonitorConfig{MaxConsecutiveFailures: 1})
	ctx := context.Background()

	addTestSource(t, m, mock, &db.RegulatorySource{
		ID: "sec_rss", Name: "SEC Press Releases", BaseURL: srv.URL,
		SourceType: db.SourceTypeRSS, CheckIntervalMinutes: 30, Active: true,
	})

	// One failed check reaches the ceiling of 1 and mutes the source.
	mock.ExpectQuery(`UPDATE regulatory_sources SET consecutive_failures = consecutive_failures \+ 1`).
		WithArgs("sec_rss").
		WillReturnRows(pgxmock.NewRows([]string{"consecutive_failures"}).AddRow(1))

	m.sweep(ctx)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.TotalChecks)
	assert.Equal(t, int64(1), stats.FailedChecks)
	assert.Equal(t, 1, stats.MutedSources)

	sent := capture.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "Regulatory Source Muted", sent[0].Title)
	assert.Equal(t, alerts.SeverityWarning, sent[0].Severity)
	assert.Equal(t, "sec_rss", sent[0].Metadata["source_id"])

	// The next sweep must skip the muted source without touching it.
	m.sweep(ctx)
	assert.Equal(t, int64(1), m.Stats().TotalChecks)
	assert.Equal(t, int64(1), hits.Load())

	// ForceCheck re-arms the source; with the endpoint healthy again the
	// check succeeds and the mute lifts.
	healthy.Store(true)
	mock.ExpectExec(`UPDATE regulatory_sources SET last_check = NULL`).
		WithArgs("sec_rss").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectItemInsert(mock, itemID("sec_rss", "Press Release on Recovery",
		time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)), 1)
	mock.ExpectExec(`UPDATE regulatory_sources SET consecutive_failures = 0`).
		WithArgs("sec_rss").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, m.ForceCheck(ctx, "sec_rss"))

	stats = m.Stats()
	assert.Equal(t, 0, stats.MutedSources)
	assert.Equal(t, int64(2), stats.TotalChecks)
	assert.Equal(t, int64(1), stats.SuccessfulChecks)
	assert.Equal(t, int64(1), stats.ItemsDetected)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_ForceCheck_UnknownSource(t *testing.T) {
	m, _ := newTestMonitor(t, config.MonitorConfig{})

	err := m.ForceCheck(context.Background(), "ghost")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestMonitor_UpdateSource(t *testing.T) {
	m, mock := newTestMonitor(t, config.MonitorConfig{MaxConsecutiveFailures: 5})
	ctx := context.Background()

	err := m.UpdateSource(ctx, &db.RegulatorySource{ID: "ghost"})
	assert.ErrorIs(t, err, db.ErrNotFound)

	addTestSource(t, m, mock, &db.RegulatorySource{
		ID: "sec_rss", Name: "SEC Press Releases",
		BaseURL:    "https://www.sec.gov/news/pressreleases.rss",
		SourceType: db.SourceTypeRSS, CheckIntervalMinutes: 30, Active: true,
	})

	m.mu.Lock()
	m.sources["sec_rss"].ConsecutiveFailures = 5
	m.mu.Unlock()

	mock.ExpectExec(`INSERT INTO regulatory_sources`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, m.UpdateSource(ctx, &db.RegulatorySource{
		ID: "sec_rss", Name: "SEC Press Releases",
		BaseURL:    "https://www.sec.gov/news/pressreleases.rss",
		SourceType: db.SourceTypeRSS, CheckIntervalMinutes: 15, Active: true,
	}))

	listed := m.ListSources()
	require.Len(t, listed, 1)
	assert.Equal(t, 15, listed[0].CheckIntervalMinutes)
	assert.Equal(t, 0, listed[0].ConsecutiveFailures, "updating re-arms a muted source")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_StoreItem(t *testing.T) {
	m, mock := newTestMonitor(t, config.MonitorConfig{})
	ctx := context.Background()

	_, err := m.StoreItem(ctx, &db.RegulatoryItem{Title: "No source"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.StoreItem(ctx, &db.RegulatoryItem{Source: "manual_desk"})
	assert.ErrorIs(t, err, ErrValidation)

	item := &db.RegulatoryItem{
		Source: "manual_desk",
		Title:  "Consultation on Model Risk Management",
	}
	mock.ExpectExec(`INSERT INTO regulatory_items`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := m.StoreItem(ctx, item)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, strings.HasPrefix(item.ID, "manual_desk_"))
	assert.Equal(t, db.ChangeGuidance, item.ChangeType, "change type is classified from the title")
	assert.Equal(t, db.SeverityMedium, item.Severity)
	assert.False(t, item.PublishedAt.IsZero())
	assert.False(t, item.DetectedAt.IsZero())

	// Storing the same item again dedups on the deterministic id.
	mock.ExpectExec(`INSERT INTO regulatory_items`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err = m.StoreItem(ctx, item)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(1), m.Stats().DuplicatesAvoided)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_StoreItem_CriticalAlert(t *testing.T) {
	capture := swapAlertManager(t)
	m, mock := newTestMonitor(t, config.MonitorConfig{})

	mock.ExpectExec(`INSERT INTO regulatory_items`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err := m.StoreItem(context.Background(), &db.RegulatoryItem{
		Source:   "sec_rss",
		Title:    "Emergency Order Halting Trading",
		Severity: db.SeverityCritical,
	})
	require.NoError(t, err)

	sent := capture.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "Critical Regulatory Change Detected", sent[0].Title)
	assert.Equal(t, alerts.SeverityCritical, sent[0].Severity)
	assert.Equal(t, "sec_rss", sent[0].Metadata["source"])
}

func TestMonitor_StartStop(t *testing.T) {
	m, _ := newTestMonitor(t, config.MonitorConfig{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	err := m.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	assert.True(t, m.Stats().Running)

	require.NoError(t, m.Stop())
	err = m.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
	assert.False(t, m.Stats().Running)
}

func TestMonitor_ShouldCheck(t *testing.T) {
	m, _ := newTestMonitor(t, config.MonitorConfig{MaxConsecutiveFailures: 5})

	now := time.Now().UTC()
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-45 * time.Minute)

	tests := []struct {
		name string
		src  db.RegulatorySource
		want bool
	}{
		{
			name: "never checked",
			src:  db.RegulatorySource{Active: true, CheckIntervalMinutes: 30},
			want: true,
		},
		{
			name: "interval elapsed",
			src:  db.RegulatorySource{Active: true, CheckIntervalMinutes: 30, LastCheck: &stale},
			want: true,
		},
		{
			name: "interval not elapsed",
			src:  db.RegulatorySource{Active: true, CheckIntervalMinutes: 30, LastCheck: &recent},
			want: false,
		},
		{
			name: "inactive",
			src:  db.RegulatorySource{Active: false, CheckIntervalMinutes: 30},
			want: false,
		},
		{
			name: "at failure ceiling",
			src:  db.RegulatorySource{Active: true, CheckIntervalMinutes: 30, ConsecutiveFailures: 5},
			want: false,
		},
		{
			name: "failures below ceiling",
			src:  db.RegulatorySource{Active: true, CheckIntervalMinutes: 30, ConsecutiveFailures: 4},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src
			assert.Equal(t, tt.want, m.shouldCheck(&src, now))
		})
	}
}

func TestMonitor_SourceStats(t *testing.T) {
	m, mock := newTestMonitor(t, config.MonitorConfig{MaxConsecutiveFailures: 5})
	ctx := context.Background()

	_, err := m.SourceStats(ctx, "ghost")
	assert.ErrorIs(t, err, db.ErrNotFound)

	addTestSource(t, m, mock, &db.RegulatorySource{
		ID: "sec_rss", Name: "SEC Press Releases",
		BaseURL:    "https://www.sec.gov/news/pressreleases.rss",
		SourceType: db.SourceTypeRSS, CheckIntervalMinutes: 30, Active: true,
	})
	m.mu.Lock()
	m.sources["sec_rss"].ConsecutiveFailures = 5
	m.mu.Unlock()

	mock.ExpectQuery(`SELECT COUNT(.+) FROM regulatory_items`).
		WithArgs("sec_rss").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	stats, err := m.SourceStats(ctx, "sec_rss")
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.ItemCount)
	assert.True(t, stats.Muted)
	assert.Equal(t, "sec_rss", stats.Source.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_GetRecentItems(t *testing.T) {
	m, mock := newTestMonitor(t, config.MonitorConfig{})
	now := time.Now().UTC()

	rows := pgxmock.NewRows(itemTestColumns).
		AddRow("sec_rss_0a1b2c3d4e5f6071", "sec_rss", "SEC Adopts Final Rule", "",
			"https://www.sec.gov/news/press-release/2026-01",
			db.ChangeNew, db.SeverityHigh, nil, now, now)
	mock.ExpectQuery(`SELECT (.+) FROM regulatory_items ORDER BY detected_at DESC`).
		WithArgs(50).
		WillReturnRows(rows)

	items, err := m.GetRecentItems(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sec_rss_0a1b2c3d4e5f6071", items[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}
