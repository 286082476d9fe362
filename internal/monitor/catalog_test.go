package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

const catalogFixture = `sources:
  - id: sec_rss
    name: SEC Press Releases
    base_url: https://www.sec.gov/news/pressreleases.rss
    source_type: rss
    check_interval_minutes: 30
  - id: fca_news
    name: FCA News
    base_url: https://www.fca.org.uk/news
    source_type: html
    active: false
`

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogFixture), 0o600))

	sources, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	sec := sources[0]
	assert.Equal(t, "sec_rss", sec.ID)
	assert.Equal(t, db.SourceTypeRSS, sec.SourceType)
	assert.Equal(t, 30, sec.CheckIntervalMinutes)
	assert.True(t, sec.Active, "active defaults to true")

	fca := sources[1]
	assert.False(t, fca.Active)
	assert.Equal(t, 60, fca.CheckIntervalMinutes, "omitted interval defaults to hourly")
}

func TestLoadCatalog_InvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	bad := `sources:
  - id: bad
    name: Bad Source
    base_url: not-a-url
    source_type: rss
    check_interval_minutes: 10
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	_, err := LoadCatalog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog entry 0 (bad)")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read source catalog")
}

func TestLoadCatalog_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources: [unclosed"), 0o600))

	_, err := LoadCatalog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse source catalog")
}
