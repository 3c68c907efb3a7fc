package catalog

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tclemons/salestaxd/internal/devcache"
	"github.com/tclemons/salestaxd/internal/model"
	"github.com/tclemons/salestaxd/internal/sheet"
)

// preferredPopular lists the devices shown first on the homepage strip,
// in display order, with shortened display names.
var preferredPopular = []struct {
	name    string
	display string
}{
	{"Apple iPhone 17 - Lavender 256GB", "iPhone 17"},
	{"Samsung Galaxy S25 Silver Shadow 128GB", "Galaxy S25"},
	{"moto g play - 2024", "moto g play"},
	{"Samsung Galaxy A16 5G", "Galaxy A16 5G"},
}

// Manager owns the device catalog lifecycle: loading it from disk,
// deciding when the remote sheet is stale, refreshing from it, and
// folding uploaded sheets in. All catalog mutation funnels through
// mergeAndPersist so disk and memory never diverge.
type Manager struct {
	store        *Store
	fetcher      Fetcher
	cache        *devcache.Cache
	logger       *zap.Logger
	refreshAfter time.Duration

	mu      sync.Mutex // guards catalog
	catalog model.Catalog

	loaded  atomic.Bool
	loading atomic.Bool
}

// NewManager wires a Manager over its store, fetcher, and device cache.
// A zero refreshAfter falls back to the default staleness window.
func NewManager(store *Store, fetcher Fetcher, cache *devcache.Cache, logger *zap.Logger, refreshAfter time.Duration) *Manager {
	if refreshAfter <= 0 {
		refreshAfter = model.DefaultRefreshAfter
	}
	return &Manager{
		store:        store,
		fetcher:      fetcher,
		cache:        cache,
		logger:       logger,
		refreshAfter: refreshAfter,
		catalog:      model.Catalog{},
	}
}

// LoadFromDisk restores the persisted catalog into memory. A corrupt
// catalog file is logged and treated as empty so the service can still
// start and refresh its way back to health.
func (m *Manager) LoadFromDisk() error {
	catalog, err := m.store.LoadCatalog()
	if err != nil {
		m.logger.Warn("catalog file unreadable, starting empty", zap.Error(err))
		catalog = model.Catalog{}
	}

	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()

	m.cache.Load(catalog)
	if len(catalog) > 0 {
		m.loaded.Store(true)
	}
	m.logger.Info("catalog loaded from disk", zap.Int("devices", len(catalog)))
	return nil
}

// ShouldRefresh reports whether the cached sheet is stale and why. The
// checks run cheapest first; the remote probe only happens once a local
// sync record exists to compare against. A failed probe is never a
// reason to refresh on its own.
func (m *Manager) ShouldRefresh(ctx context.Context) (bool, string) {
	if !m.store.SheetCacheExists() {
		return true, "no cached sheet"
	}

	lu, err := m.store.LoadLastUpdate()
	if err != nil {
		m.logger.Warn("sync record unreadable", zap.Error(err))
		return true, "sync record unreadable"
	}
	if lu == nil {
		return true, "no previous sync record"
	}

	if info, err := m.fetcher.Probe(ctx); err != nil {
		m.logger.Warn("sheet probe failed, falling back to age check", zap.Error(err))
	} else if info.Size != "" && lu.Size != "" && info.Size != lu.Size {
		return true, fmt.Sprintf("remote size changed (%s -> %s)", lu.Size, info.Size)
	}

	if time.Since(lu.LastCheck) > m.refreshAfter {
		return true, fmt.Sprintf("last check older than %s", m.refreshAfter)
	}
	return false, "cache is fresh"
}

// Refresh downloads the remote sheet, ingests it, and persists the raw
// copy, merged catalog, and sync record in that order. Ingestion runs
// on the in-memory download first, so a sheet that fails to parse
// leaves every file on disk untouched. Only one refresh runs at a time;
// a second caller gets ErrRefreshInFlight immediately.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.loading.CompareAndSwap(false, true) {
		return model.ErrRefreshInFlight
	}
	defer m.loading.Store(false)

	start := time.Now()
	data, err := m.fetcher.Download(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch sheet: %w", err)
	}
	m.logger.Info("sheet downloaded",
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)))

	result, err := sheet.IngestCSV(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to ingest sheet: %w", err)
	}
	if len(result.Devices) == 0 {
		return fmt.Errorf("sheet ingestion: %w", model.ErrNoValidDevices)
	}

	if err := m.store.SaveSheetCache(data); err != nil {
		return fmt.Errorf("failed to persist sheet copy: %w", err)
	}

	total, err := m.mergeAndPersist(result.Devices)
	if err != nil {
		return err
	}

	now := time.Now()
	lu := &model.LastUpdate{
		LastCheck:        now,
		LastUpdate:       now,
		Size:             strconv.Itoa(len(data)),
		DevicesCount:     total,
		DevicesProcessed: result.Processed,
		DevicesSkipped:   result.Skipped,
	}
	if err := m.store.SaveLastUpdate(lu); err != nil {
		return fmt.Errorf("failed to persist sync record: %w", err)
	}

	m.logger.Info("catalog refreshed",
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("devices", total),
		zap.String("deviceColumn", result.Columns.DeviceName),
		zap.String("priceColumn", result.Columns.PriceName))
	return nil
}

// StartupSync brings the catalog up to date at boot. It refreshes when
// the cached sheet is stale, and on any failure falls back to
// re-ingesting the cached sheet so a network outage never leaves the
// service empty. Errors are logged, never fatal.
func (m *Manager) StartupSync(ctx context.Context) {
	should, reason := m.ShouldRefresh(ctx)
	if should {
		m.logger.Info("refreshing sheet", zap.String("reason", reason))
		if err := m.Refresh(ctx); err != nil {
			m.logger.Warn("sheet refresh failed, using cached sheet", zap.Error(err))
			m.reloadFromSheetCache()
		}
		return
	}

	m.logger.Info("using cached sheet", zap.String("reason", reason))
	if m.cache.Len() == 0 {
		m.reloadFromSheetCache()
	}
}

// reloadFromSheetCache rebuilds the in-memory catalog from the raw
// sheet copy on disk without touching the persisted files.
func (m *Manager) reloadFromSheetCache() {
	if !m.store.SheetCacheExists() {
		return
	}
	result, err := sheet.IngestCSVFile(m.store.SheetCachePath())
	if err != nil {
		m.logger.Warn("cached sheet unreadable", zap.Error(err))
		return
	}
	if len(result.Devices) == 0 {
		return
	}
	if _, err := m.mergeAndPersist(result.Devices); err != nil {
		m.logger.Warn("failed to persist catalog from cached sheet", zap.Error(err))
	}
}

// IngestUpload folds an uploaded sheet file into the catalog through
// the same merge path as a remote refresh, independent of staleness.
func (m *Manager) IngestUpload(path string) (*model.IngestResult, error) {
	result, err := sheet.IngestFile(path)
	if err != nil {
		return nil, err
	}
	if len(result.Devices) == 0 {
		return nil, fmt.Errorf("uploaded sheet: %w", model.ErrNoValidDevices)
	}

	total, err := m.mergeAndPersist(result.Devices)
	if err != nil {
		return nil, err
	}

	lu, err := m.store.LoadLastUpdate()
	if err != nil || lu == nil {
		lu = &model.LastUpdate{}
	}
	lu.LastUpdate = time.Now()
	lu.DevicesCount = total
	lu.DevicesProcessed = result.Processed
	lu.DevicesSkipped = result.Skipped
	if err := m.store.SaveLastUpdate(lu); err != nil {
		m.logger.Warn("failed to persist sync record", zap.Error(err))
	}

	m.logger.Info("uploaded sheet ingested",
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("devices", total))
	return result, nil
}

// mergeAndPersist merges new records into the catalog, writes the
// result to disk, and only then swaps memory. Returns the new device
// total. Incoming records replace existing ones wholesale, so a device
// whose newer row lacks a prepaid price loses it.
func (m *Manager) mergeAndPersist(devices model.Catalog) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := m.catalog.Clone()
	merged.Merge(devices)

	if err := m.store.SaveCatalog(merged); err != nil {
		return 0, fmt.Errorf("failed to persist catalog: %w", err)
	}

	m.catalog = merged
	m.cache.Load(merged)
	m.loaded.Store(true)
	return len(merged), nil
}

// Status reports the manager's sync state for the status endpoints.
func (m *Manager) Status() model.SyncStatus {
	status := model.SyncStatus{
		SheetLoaded:  m.loaded.Load(),
		SheetLoading: m.loading.Load(),
		DevicesCount: m.cache.Len(),
		CacheExists:  m.store.SheetCacheExists(),
	}
	if lu, err := m.store.LoadLastUpdate(); err == nil && lu != nil {
		status.LastCheck = lu.LastCheck
		status.LastUpdate = lu.LastUpdate
		status.SheetSize = lu.Size
	}
	return status
}

// ValidateCounts cross-checks device counts between memory, the
// persisted catalog, the sync record, and the raw sheet copy.
func (m *Manager) ValidateCounts() model.CountValidation {
	v := model.CountValidation{
		MemoryCount: m.cache.Len(),
		FileCount:   m.store.CountCatalogDevices(),
		RawRowCount: m.store.CountSheetRows(),
		Timestamp:   time.Now(),
	}
	if lu, err := m.store.LoadLastUpdate(); err == nil && lu != nil {
		v.ReportedCount = lu.DevicesCount
	}
	v.Consistent = v.MemoryCount == v.FileCount &&
		(v.ReportedCount == 0 || v.MemoryCount == v.ReportedCount)
	return v
}

// Popular returns up to limit devices for the homepage strip, preferred
// entries first, padded with whatever the catalog has.
func (m *Manager) Popular(limit int) []model.PopularDevice {
	if limit <= 0 {
		limit = len(preferredPopular)
	}

	out := make([]model.PopularDevice, 0, limit)
	seen := make(map[string]bool, limit)
	for _, p := range preferredPopular {
		if len(out) >= limit {
			break
		}
		if rec, ok := m.cache.Get(p.name); ok {
			out = append(out, model.PopularDevice{
				Name:        p.name,
				Price:       rec.MSRP,
				DisplayName: p.display,
			})
			seen[p.name] = true
		}
	}

	for _, name := range m.cache.Names() {
		if len(out) >= limit {
			break
		}
		if seen[name] {
			continue
		}
		if rec, ok := m.cache.Get(name); ok {
			out = append(out, model.PopularDevice{
				Name:        name,
				Price:       rec.MSRP,
				DisplayName: name,
			})
		}
	}
	return out
}
