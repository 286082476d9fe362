package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Source types the monitor knows how to parse.
const (
	SourceTypeRSS  = "rss"
	SourceTypeHTML = "html"
	SourceTypeAPI  = "api"
)

// Regulatory item severities.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Regulatory change classifications.
const (
	ChangeNew       = "NEW"
	ChangeAmendment = "AMENDMENT"
	ChangeGuidance  = "GUIDANCE"
	ChangeRepeal    = "REPEAL"
)

// RegulatorySource is a configured external regulatory feed with polling
// metadata
type RegulatorySource struct {
	ID                   string                 `db:"id" json:"id"`
	Name                 string                 `db:"name" json:"name"`
	BaseURL              string                 `db:"base_url" json:"base_url"`
	SourceType           string                 `db:"source_type" json:"source_type"`
	CheckIntervalMinutes int                    `db:"check_interval_minutes" json:"check_interval_minutes"`
	Active               bool                   `db:"active" json:"active"`
	ScrapingConfig       map[string]interface{} `db:"scraping_config" json:"scraping_config,omitempty"`
	LastCheck            *time.Time             `db:"last_check" json:"last_check,omitempty"`
	ConsecutiveFailures  int                    `db:"consecutive_failures" json:"consecutive_failures"`
	CreatedAt            time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time              `db:"updated_at" json:"updated_at"`
}

// RegulatoryItem is one deduplicated event extracted from a source. Its
// id is deterministic, so re-inserting the same item is a no-op.
type RegulatoryItem struct {
	ID          string                 `db:"id" json:"id"`
	Source      string                 `db:"source" json:"source"`
	Title       string                 `db:"title" json:"title"`
	Description string                 `db:"description" json:"description"`
	ContentURL  string                 `db:"content_url" json:"content_url"`
	ChangeType  string                 `db:"change_type" json:"change_type"`
	Severity    string                 `db:"severity" json:"severity"`
	Metadata    map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	DetectedAt  time.Time              `db:"detected_at" json:"detected_at"`
	PublishedAt time.Time              `db:"published_at" json:"published_at"`
}

const sourceColumns = `id, name, base_url, source_type, check_interval_minutes, active,
	       scraping_config, last_check, consecutive_failures, created_at, updated_at`

func scanSource(row rowScanner) (*RegulatorySource, error) {
	var src RegulatorySource
	err := row.Scan(
		&src.ID,
		&src.Name,
		&src.BaseURL,
		&src.SourceType,
		&src.CheckIntervalMinutes,
		&src.Active,
		&src.ScrapingConfig,
		&src.LastCheck,
		&src.ConsecutiveFailures,
		&src.CreatedAt,
		&src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// UpsertSource inserts or replaces a source registration. Replacing a
// source resets its failure counter, re-arming a muted source.
func (db *DB) UpsertSource(ctx context.Context, src *RegulatorySource) error {
	query := `
		INSERT INTO regulatory_sources (id, name, base_url, source_type, check_interval_minutes,
		                                active, scraping_config, last_check, consecutive_failures,
		                                created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			base_url = EXCLUDED.base_url,
			source_type = EXCLUDED.source_type,
			check_interval_minutes = EXCLUDED.check_interval_minutes,
			active = EXCLUDED.active,
			scraping_config = EXCLUDED.scraping_config,
			consecutive_failures = 0,
			updated_at = NOW()
	`

	_, err := db.pool.Exec(ctx, query,
		src.ID,
		src.Name,
		src.BaseURL,
		src.SourceType,
		src.CheckIntervalMinutes,
		src.Active,
		src.ScrapingConfig,
		src.LastCheck,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", src.ID, err)
	}

	return nil
}

// GetSource retrieves a source by id
func (db *DB) GetSource(ctx context.Context, id string) (*RegulatorySource, error) {
	query := `SELECT ` + sourceColumns + ` FROM regulatory_sources WHERE id = $1`

	src, err := scanSource(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query source %s: %w", id, err)
	}

	return src, nil
}

// ListSources retrieves every configured source ordered by name
func (db *DB) ListSources(ctx context.Context) ([]*RegulatorySource, error) {
	query := `SELECT ` + sourceColumns + ` FROM regulatory_sources ORDER BY name ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []*RegulatorySource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}

	return sources, nil
}

// DeleteSource removes a source registration
func (db *DB) DeleteSource(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM regulatory_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}

	return nil
}

// RecordSourceSuccess resets the failure counter and stamps last_check
func (db *DB) RecordSourceSuccess(ctx context.Context, id string) error {
	query := `
		UPDATE regulatory_sources
		SET consecutive_failures = 0, last_check = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	if _, err := db.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to record success for source %s: %w", id, err)
	}
	return nil
}

// RecordSourceFailure increments the failure counter, leaving last_check
// untouched so the next sweep retries until the mute ceiling is reached.
// Returns the new failure count.
func (db *DB) RecordSourceFailure(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE regulatory_sources
		SET consecutive_failures = consecutive_failures + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING consecutive_failures
	`

	var failures int
	err := db.pool.QueryRow(ctx, query, id).Scan(&failures)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("source %s: %w", id, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to record failure for source %s: %w", id, err)
	}

	return failures, nil
}

// ResetSourceCheck clears last_check and the failure counter so the next
// sweep picks the source up again
func (db *DB) ResetSourceCheck(ctx context.Context, id string) error {
	query := `
		UPDATE regulatory_sources
		SET last_check = NULL, consecutive_failures = 0, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := db.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}

	return nil
}

// InsertItem persists a regulatory item. The deterministic id makes the
// insert idempotent; returns false when the item was already stored.
func (db *DB) InsertItem(ctx context.Context, item *RegulatoryItem) (bool, error) {
	query := `
		INSERT INTO regulatory_items (id, source, title, description, content_url,
		                              change_type, severity, metadata, detected_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := db.pool.Exec(ctx, query,
		item.ID,
		item.Source,
		item.Title,
		item.Description,
		item.ContentURL,
		item.ChangeType,
		item.Severity,
		item.Metadata,
		item.DetectedAt,
		item.PublishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert regulatory item %s: %w", item.ID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// RecentItems retrieves the newest items by detection time
func (db *DB) RecentItems(ctx context.Context, limit int) ([]*RegulatoryItem, error) {
	query := `
		SELECT id, source, title, description, content_url, change_type, severity,
		       metadata, detected_at, published_at
		FROM regulatory_items
		ORDER BY detected_at DESC
		LIMIT $1
	`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent items: %w", err)
	}
	defer rows.Close()

	var items []*RegulatoryItem
	for rows.Next() {
		var item RegulatoryItem
		err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.Title,
			&item.Description,
			&item.ContentURL,
			&item.ChangeType,
			&item.Severity,
			&item.Metadata,
			&item.DetectedAt,
			&item.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan regulatory item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate regulatory items: %w", err)
	}

	return items, nil
}

// CountItemsBySource returns how many items a source has produced
func (db *DB) CountItemsBySource(ctx context.Context, source string) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM regulatory_items WHERE source = $1`, source,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items for source %s: %w", source, err)
	}
	return count, nil
}
