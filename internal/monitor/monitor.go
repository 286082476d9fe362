// Package monitor polls registered regulatory sources on a fixed sweep
// cadence, extracts new items from their feeds, and persists them with
// deterministic ids so repeated sweeps of the same payload dedup to
// nothing. Sources that fail too many checks in a row are muted until
// an operator updates or force-checks them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaigenticai/Regulens-sub010/internal/alerts"
	"github.com/gaigenticai/Regulens-sub010/internal/config"
	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/events"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
)

// ErrValidation marks a rejected input; no state was changed
var ErrValidation = errors.New("validation failed")

// Stats is a point-in-time snapshot of monitor health
type Stats struct {
	Sources           int   `json:"sources"`
	ActiveSources     int   `json:"active_sources"`
	MutedSources      int   `json:"muted_sources"`
	TotalChecks       int64 `json:"total_checks"`
	SuccessfulChecks  int64 `json:"successful_checks"`
	FailedChecks      int64 `json:"failed_checks"`
	ItemsDetected     int64 `json:"items_detected"`
	DuplicatesAvoided int64 `json:"duplicates_avoided"`
	Running           bool  `json:"running"`
}

// SourceStats reports one source's registration alongside its ingestion
// tally
type SourceStats struct {
	Source    db.RegulatorySource `json:"source"`
	ItemCount int64               `json:"item_count"`
	Muted     bool                `json:"muted"`
}

// Monitor owns the source registry and the periodic sweep. The source
// cache mirrors the store; entries are mutated only under mu, and sweep
// workers operate on value copies.
type Monitor struct {
	store   *db.DB
	fetcher *Fetcher
	events  *events.Publisher
	log     zerolog.Logger

	interval       time.Duration
	failureCeiling int
	catalogPath    string

	mu                sync.RWMutex
	sources           map[string]*db.RegulatorySource
	totalChecks       int64
	successfulChecks  int64
	failedChecks      int64
	itemsDetected     int64
	duplicatesAvoided int64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Monitor. publisher may be nil, in which case detected
// items are persisted but not announced on the bus.
func New(store *db.DB, cfg config.MonitorConfig, publisher *events.Publisher) *Monitor {
	interval := cfg.Interval()
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ceiling := cfg.MaxConsecutiveFailures
	if ceiling <= 0 {
		ceiling = 5
	}

	return &Monitor{
		store:          store,
		fetcher:        NewFetcher(cfg),
		events:         publisher,
		log:            config.NewLogger("monitor"),
		interval:       interval,
		failureCeiling: ceiling,
		catalogPath:    cfg.CatalogPath,
		sources:        make(map[string]*db.RegulatorySource),
	}
}

// Initialize loads the registered sources into the cache, seeding the
// store from the YAML catalog when it is empty.
func (m *Monitor) Initialize(ctx context.Context) error {
	sources, err := m.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}

	if len(sources) == 0 && m.catalogPath != "" {
		seeded, err := LoadCatalog(m.catalogPath)
		if err != nil {
			return err
		}
		for _, src := range seeded {
			if err := m.store.UpsertSource(ctx, src); err != nil {
				return fmt.Errorf("failed to seed source %s: %w", src.ID, err)
			}
		}
		sources = seeded
		m.log.Info().
			Int("count", len(seeded)).
			Str("catalog", m.catalogPath).
			Msg("Seeded sources from catalog")
	}

	m.mu.Lock()
	m.sources = make(map[string]*db.RegulatorySource, len(sources))
	for _, src := range sources {
		m.sources[src.ID] = src
	}
	m.mu.Unlock()

	m.updateSourceGauges()
	m.log.Info().Int("sources", len(sources)).Msg("Regulatory monitor initialized")
	return nil
}

func validateSource(src *db.RegulatorySource) error {
	if src.ID == "" {
		return fmt.Errorf("%w: source id is required", ErrValidation)
	}
	if src.Name == "" {
		return fmt.Errorf("%w: source name is required", ErrValidation)
	}
	if _, err := hostOf(src.BaseURL); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	switch src.SourceType {
	case db.SourceTypeRSS, db.SourceTypeHTML, db.SourceTypeAPI:
	default:
		return fmt.Errorf("%w: unknown source type %q", ErrValidation, src.SourceType)
	}
	if src.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("%w: check_interval_minutes must be positive, got %d",
			ErrValidation, src.CheckIntervalMinutes)
	}
	return nil
}

// AddSource registers a source and includes it in the next sweep. An
// existing registration is overwritten with its failure counter reset.
func (m *Monitor) AddSource(ctx context.Context, src *db.RegulatorySource) error {
	if err := validateSource(src); err != nil {
		return err
	}
	if err := m.store.UpsertSource(ctx, src); err != nil {
		return err
	}

	m.mu.Lock()
	entry := *src
	entry.ConsecutiveFailures = 0
	if existing, ok := m.sources[entry.ID]; ok {
		// The upsert leaves last_check alone; keep the cache aligned.
		entry.LastCheck = existing.LastCheck
		entry.CreatedAt = existing.CreatedAt
	}
	m.sources[entry.ID] = &entry
	m.mu.Unlock()

	m.updateSourceGauges()
	m.log.Info().
		Str("source_id", src.ID).
		Str("type", src.SourceType).
		Int("interval_minutes", src.CheckIntervalMinutes).
		Msg("Source registered")
	return nil
}

// UpdateSource revises an existing registration. The failure counter is
// reset, so updating is also how an operator re-arms a muted source.
func (m *Monitor) UpdateSource(ctx context.Context, src *db.RegulatorySource) error {
	m.mu.RLock()
	_, known := m.sources[src.ID]
	m.mu.RUnlock()
	if !known {
		return fmt.Errorf("source %s: %w", src.ID, db.ErrNotFound)
	}
	return m.AddSource(ctx, src)
}

// RemoveSource deletes a registration; already-ingested items stay
func (m *Monitor) RemoveSource(ctx context.Context, id string) error {
	if err := m.store.DeleteSource(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sources, id)
	m.mu.Unlock()

	m.updateSourceGauges()
	m.log.Info().Str("source_id", id).Msg("Source removed")
	return nil
}

// ListSources returns value copies of every registration, ordered by name
func (m *Monitor) ListSources() []db.RegulatorySource {
	m.mu.RLock()
	out := make([]db.RegulatorySource, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, *src)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForceCheck clears a source's check state and runs the check
// immediately, outside the sweep schedule. This is the manual path for
// retrying a muted source.
func (m *Monitor) ForceCheck(ctx context.Context, id string) error {
	m.mu.RLock()
	src, ok := m.sources[id]
	var snapshot db.RegulatorySource
	if ok {
		snapshot = *src
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("source %s: %w", id, db.ErrNotFound)
	}

	if err := m.store.ResetSourceCheck(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	if cached, ok := m.sources[id]; ok {
		cached.ConsecutiveFailures = 0
		cached.LastCheck = nil
	}
	m.mu.Unlock()
	m.updateSourceGauges()

	snapshot.ConsecutiveFailures = 0
	snapshot.LastCheck = nil
	return m.checkSource(ctx, snapshot)
}

// StoreItem persists an externally supplied item, filling the defaults
// the sweep would, and reports whether it was newly stored.
func (m *Monitor) StoreItem(ctx context.Context, item *db.RegulatoryItem) (bool, error) {
	if item.Source == "" {
		return false, fmt.Errorf("%w: source is required", ErrValidation)
	}
	if item.Title == "" {
		return false, fmt.Errorf("%w: title is required", ErrValidation)
	}

	now := time.Now().UTC()
	if item.PublishedAt.IsZero() {
		item.PublishedAt = now
	}
	if item.DetectedAt.IsZero() {
		item.DetectedAt = now
	}
	if item.ChangeType == "" {
		item.ChangeType = classifyChange(item.Title)
	}
	item.Severity = normalizeSeverity(item.Severity)
	if item.ID == "" {
		item.ID = itemID(item.Source, item.Title, item.PublishedAt)
	}

	sourceType := "manual"
	m.mu.RLock()
	if src, ok := m.sources[item.Source]; ok {
		sourceType = src.SourceType
	}
	m.mu.RUnlock()

	return m.ingest(ctx, item, sourceType)
}

// GetRecentItems returns the newest detected items
func (m *Monitor) GetRecentItems(ctx context.Context, limit int) ([]*db.RegulatoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.RecentItems(ctx, limit)
}

// Start launches the periodic sweep loop
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("monitor already running")
	}

	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.sweepLoop(ctx)

	m.log.Info().
		Dur("interval", m.interval).
		Int("failure_ceiling", m.failureCeiling).
		Msg("Regulatory monitor started")
	return nil
}

// Stop signals the sweep loop to exit and waits for it
func (m *Monitor) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return errors.New("monitor not running")
	}

	close(m.stopCh)
	m.wg.Wait()
	m.log.Info().Msg("Regulatory monitor stopped")
	return nil
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep checks every source that is due. Due-but-muted sources are
// skipped yet still recorded, so they stay visible in the metrics.
func (m *Monitor) sweep(ctx context.Context) {
	now := time.Now().UTC()

	m.mu.RLock()
	due := make([]db.RegulatorySource, 0, len(m.sources))
	muted := 0
	for _, src := range m.sources {
		if !src.Active || !isDue(src, now) {
			continue
		}
		if src.ConsecutiveFailures >= m.failureCeiling {
			muted++
			metrics.RecordSourceCheck(src.SourceType, metrics.CheckOutcomeMuted, 0)
			continue
		}
		due = append(due, *src)
	}
	m.mu.RUnlock()

	if len(due) == 0 && muted == 0 {
		return
	}
	m.log.Debug().Int("due", len(due)).Int("muted", muted).Msg("Sweep started")

	for i := range due {
		select {
		case <-m.stopCh:
			return
		default:
		}
		m.checkSource(ctx, due[i]) //nolint:errcheck // failures are recorded per source
	}
}

// isDue reports whether the source's check interval has elapsed. A
// source never checked before is due immediately.
func isDue(src *db.RegulatorySource, now time.Time) bool {
	if src.LastCheck == nil {
		return true
	}
	return now.Sub(*src.LastCheck) >= time.Duration(src.CheckIntervalMinutes)*time.Minute
}

// shouldCheck is the full sweep predicate: active, below the failure
// ceiling, and due.
func (m *Monitor) shouldCheck(src *db.RegulatorySource, now time.Time) bool {
	return src.Active && src.ConsecutiveFailures < m.failureCeiling && isDue(src, now)
}

// checkSource fetches, parses, and ingests one source. src is a value
// copy; the shared cache entry is only touched under mu once the
// outcome is known.
func (m *Monitor) checkSource(ctx context.Context, src db.RegulatorySource) error {
	start := time.Now()
	slog := config.NewSourceLogger(src.ID, src.Name)

	m.mu.Lock()
	m.totalChecks++
	m.mu.Unlock()

	res, err := m.fetcher.Fetch(ctx, src.BaseURL)
	if err != nil {
		return m.recordFailure(ctx, src, slog, err, start)
	}

	candidates, err := Parse(src.SourceType, res.Body, src.BaseURL)
	if err != nil {
		return m.recordFailure(ctx, src, slog, err, start)
	}

	for _, cand := range candidates {
		if _, err := m.ingest(ctx, cand.Item(src.ID), src.SourceType); err != nil {
			slog.Error().
				Err(err).
				Str("title", cand.Title).
				Msg("Failed to store regulatory item")
			metrics.RecordError("item_insert", "monitor")
		}
	}

	if err := m.store.RecordSourceSuccess(ctx, src.ID); err != nil {
		slog.Error().Err(err).Msg("Failed to record source success")
		metrics.RecordError("source_update", "monitor")
	}

	now := time.Now().UTC()
	m.mu.Lock()
	m.successfulChecks++
	if cached, ok := m.sources[src.ID]; ok {
		cached.ConsecutiveFailures = 0
		cached.LastCheck = &now
	}
	m.mu.Unlock()

	metrics.RecordSourceCheck(src.SourceType, metrics.CheckOutcomeSuccess,
		float64(time.Since(start).Milliseconds()))
	slog.Debug().
		Int("candidates", len(candidates)).
		Dur("took", time.Since(start)).
		Msg("Source check completed")
	return nil
}

// recordFailure persists a failed check and mutes the source when the
// consecutive run reaches the ceiling. Returns the cause so ForceCheck
// can surface it.
func (m *Monitor) recordFailure(ctx context.Context, src db.RegulatorySource, slog zerolog.Logger, cause error, start time.Time) error {
	metrics.RecordSourceCheck(src.SourceType, metrics.CheckOutcomeFailure,
		float64(time.Since(start).Milliseconds()))
	metrics.RecordFetchError(src.SourceType, cause)

	failures, err := m.store.RecordSourceFailure(ctx, src.ID)
	if err != nil {
		slog.Error().Err(err).Msg("Failed to record source failure")
		metrics.RecordError("source_update", "monitor")
		failures = src.ConsecutiveFailures + 1
	}

	m.mu.Lock()
	m.failedChecks++
	if cached, ok := m.sources[src.ID]; ok {
		cached.ConsecutiveFailures = failures
	}
	m.mu.Unlock()

	slog.Warn().
		Err(cause).
		Int("consecutive_failures", failures).
		Msg("Source check failed")

	if failures == m.failureCeiling {
		alerts.AlertSourceMuted(ctx, src.ID, failures, cause)
		m.updateSourceGauges()
		slog.Error().
			Int("failures", failures).
			Msg("Source muted after consecutive check failures")
	}

	return cause
}

// ingest persists one item and fans out the side effects: counters, the
// critical alert, the bus event. Reports whether the item was new.
func (m *Monitor) ingest(ctx context.Context, item *db.RegulatoryItem, sourceType string) (bool, error) {
	inserted, err := m.store.InsertItem(ctx, item)
	if err != nil {
		return false, err
	}
	if !inserted {
		m.mu.Lock()
		m.duplicatesAvoided++
		m.mu.Unlock()
		metrics.DuplicateItems.Inc()
		return false, nil
	}

	m.mu.Lock()
	m.itemsDetected++
	m.mu.Unlock()
	metrics.RecordItemDetected(sourceType, item.Severity)

	m.log.Info().
		Str("item_id", item.ID).
		Str("source", item.Source).
		Str("severity", item.Severity).
		Str("change_type", item.ChangeType).
		Msg("Regulatory item detected")

	if item.Severity == db.SeverityCritical {
		alerts.AlertCriticalItem(ctx, item.Source, item.Title, item.ContentURL)
	}
	if err := m.events.PublishItemDetected(ctx, item); err != nil {
		m.log.Warn().Err(err).Str("item_id", item.ID).Msg("Failed to publish item event")
	}
	return true, nil
}

// Stats returns a point-in-time snapshot of monitor health
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Sources:           len(m.sources),
		TotalChecks:       m.totalChecks,
		SuccessfulChecks:  m.successfulChecks,
		FailedChecks:      m.failedChecks,
		ItemsDetected:     m.itemsDetected,
		DuplicatesAvoided: m.duplicatesAvoided,
		Running:           m.running.Load(),
	}
	for _, src := range m.sources {
		if !src.Active {
			continue
		}
		s.ActiveSources++
		if src.ConsecutiveFailures >= m.failureCeiling {
			s.MutedSources++
		}
	}
	return s
}

// SourceStats reports one source's registration plus its item tally
func (m *Monitor) SourceStats(ctx context.Context, id string) (*SourceStats, error) {
	m.mu.RLock()
	src, ok := m.sources[id]
	var snapshot db.RegulatorySource
	if ok {
		snapshot = *src
	}
	ceiling := m.failureCeiling
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, db.ErrNotFound)
	}

	count, err := m.store.CountItemsBySource(ctx, id)
	if err != nil {
		return nil, err
	}

	return &SourceStats{
		Source:    snapshot,
		ItemCount: count,
		Muted:     snapshot.Active && snapshot.ConsecutiveFailures >= ceiling,
	}, nil
}

// updateSourceGauges refreshes the registered/muted gauges from the cache
func (m *Monitor) updateSourceGauges() {
	m.mu.RLock()
	active, muted := 0, 0
	for _, src := range m.sources {
		if !src.Active {
			continue
		}
		active++
		if src.ConsecutiveFailures >= m.failureCeiling {
			muted++
		}
	}
	m.mu.RUnlock()

	metrics.ActiveSources.Set(float64(active))
	metrics.MutedSources.Set(float64(muted))
}
