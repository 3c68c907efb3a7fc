package catalog

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tclemons/salestaxd/internal/devcache"
	"github.com/tclemons/salestaxd/internal/model"
)

const sampleSheet = "SAP,Phone,Color,Storage,RIC Purchase Payment\n" +
	"1001,Galaxy S25,Black,128GB,$799.99\n" +
	"1002,iPhone 17,Lavender,256GB,$1099.00\n"

type fakeFetcher struct {
	probeInfo   *RemoteInfo
	probeErr    error
	data        []byte
	downloadErr error
	block       chan struct{}

	probes    atomic.Int32
	downloads atomic.Int32
}

func (f *fakeFetcher) Probe(_ context.Context) (*RemoteInfo, error) {
	f.probes.Add(1)
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probeInfo, nil
}

func (f *fakeFetcher) Download(_ context.Context) ([]byte, error) {
	f.downloads.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.data, nil
}

func newManager(t *testing.T, fetcher Fetcher) (*Manager, *Store, *devcache.Cache) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	cache, err := devcache.New(16)
	if err != nil {
		t.Fatalf("devcache.New() error = %v", err)
	}
	return NewManager(store, fetcher, cache, zap.NewNop(), time.Hour), store, cache
}

// TestShouldRefresh_NoCachedSheet verifies a missing sheet copy forces a
// refresh without probing.
func TestShouldRefresh_NoCachedSheet(t *testing.T) {
	fetcher := &fakeFetcher{}
	m, _, _ := newManager(t, fetcher)

	should, reason := m.ShouldRefresh(context.Background())
	if !should {
		t.Errorf("ShouldRefresh() = false, want true (%s)", reason)
	}
	if got := fetcher.probes.Load(); got != 0 {
		t.Errorf("probes = %d, want 0 before any sync record exists", got)
	}
}

// TestShouldRefresh_NoSyncRecord verifies a sheet copy without a sync
// record still forces a refresh.
func TestShouldRefresh_NoSyncRecord(t *testing.T) {
	m, store, _ := newManager(t, &fakeFetcher{})
	if err := store.SaveSheetCache([]byte(sampleSheet)); err != nil {
		t.Fatalf("SaveSheetCache() error = %v", err)
	}

	should, _ := m.ShouldRefresh(context.Background())
	if !should {
		t.Error("ShouldRefresh() = false, want true with no sync record")
	}
}

// TestShouldRefresh_FreshMatchingSize verifies a recent check with a
// matching remote size uses the cache.
func TestShouldRefresh_FreshMatchingSize(t *testing.T) {
	fetcher := &fakeFetcher{probeInfo: &RemoteInfo{Size: "500"}}
	m, store, _ := newManager(t, fetcher)

	if err := store.SaveSheetCache([]byte(sampleSheet)); err != nil {
		t.Fatalf("SaveSheetCache() error = %v", err)
	}
	if err := store.SaveLastUpdate(&model.LastUpdate{
		LastCheck: time.Now().Add(-30 * time.Minute),
		Size:      "500",
	}); err != nil {
		t.Fatalf("SaveLastUpdate() error = %v", err)
	}

	should, reason := m.ShouldRefresh(context.Background())
	if should {
		t.Errorf("ShouldRefresh() = true (%s), want false", reason)
	}
}

// TestShouldRefresh_SizeMismatch verifies a remote size change forces a
// refresh even inside the staleness window.
func TestShouldRefresh_SizeMismatch(t *testing.T) {
	fetcher := &fakeFetcher{probeInfo: &RemoteInfo{Size: "900"}}
	m, store, _ := newManager(t, fetcher)

	if err := store.SaveSheetCache([]byte(sampleSheet)); err != nil {
		t.Fatalf("SaveSheetCache() error = %v", err)
	}
	if err := store.SaveLastUpdate(&model.LastUpdate{
		LastCheck: time.Now().Add(-5 * time.Minute),
		Size:      "500",
	}); err != nil {
		t.Fatalf("SaveLastUpdate() error = %v", err)
	}

	should, _ := m.ShouldRefresh(context.Background())
	if !should {
		t.Error("ShouldRefresh() = false, want true on size mismatch")
	}
}

// TestShouldRefresh_StaleCheck verifies an old check forces a refresh
// even when the probe fails.
func TestShouldRefresh_StaleCheck(t *testing.T) {
	fetcher := &fakeFetcher{probeErr: errors.New("network down")}
	m, store, _ := newManager(t, fetcher)

	if err := store.SaveSheetCache([]byte(sampleSheet)); err != nil {
		t.Fatalf("SaveSheetCache() error = %v", err)
	}
	if err := store.SaveLastUpdate(&model.LastUpdate{
		LastCheck: time.Now().Add(-90 * time.Minute),
		Size:      "500",
	}); err != nil {
		t.Fatalf("SaveLastUpdate() error = %v", err)
	}

	should, _ := m.ShouldRefresh(context.Background())
	if !should {
		t.Error("ShouldRefresh() = false, want true for 90 minute old check")
	}
}

// TestRefresh_PersistsEverything verifies a successful refresh writes
// the sheet copy, the merged catalog, and the sync record, and loads the
// device cache.
func TestRefresh_PersistsEverything(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(sampleSheet)}
	m, store, cache := newManager(t, fetcher)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if !store.SheetCacheExists() {
		t.Error("sheet copy not persisted")
	}
	catalog, err := store.LoadCatalog()
	if err != nil || len(catalog) != 2 {
		t.Errorf("persisted catalog = (%v, %v), want 2 devices", catalog, err)
	}
	lu, err := store.LoadLastUpdate()
	if err != nil || lu == nil {
		t.Fatalf("LoadLastUpdate() = (%v, %v), want record", lu, err)
	}
	if lu.Size != strconv.Itoa(len(sampleSheet)) {
		t.Errorf("recorded size = %s, want %d", lu.Size, len(sampleSheet))
	}
	if lu.DevicesProcessed != 2 || lu.DevicesCount != 2 {
		t.Errorf("recorded counts = %+v, want processed=2 count=2", lu)
	}

	if cache.Len() != 2 {
		t.Errorf("device cache holds %d devices, want 2", cache.Len())
	}
	if rec, ok := cache.Get("Galaxy S25"); !ok || rec.MSRP != 799.99 {
		t.Errorf("cache Galaxy S25 = (%+v, %v), want ingested record", rec, ok)
	}
}

// TestRefresh_DownloadFailurePreservesState verifies a failed download
// leaves prior persisted state untouched.
func TestRefresh_DownloadFailurePreservesState(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(sampleSheet)}
	m, store, _ := newManager(t, fetcher)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	before, _ := store.LoadLastUpdate()

	fetcher.downloadErr = errors.New("503 from upstream")
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() error = nil, want download failure")
	}

	after, _ := store.LoadLastUpdate()
	if !after.LastUpdate.Equal(before.LastUpdate) {
		t.Errorf("sync record changed by failed refresh: %+v vs %+v", after, before)
	}
	catalog, _ := store.LoadCatalog()
	if len(catalog) != 2 {
		t.Errorf("catalog = %d devices after failed refresh, want 2", len(catalog))
	}
}

// TestRefresh_BadSheetPreservesState verifies a sheet that fails
// ingestion never replaces the persisted copy.
func TestRefresh_BadSheetPreservesState(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(sampleSheet)}
	m, store, _ := newManager(t, fetcher)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}

	fetcher.data = []byte("SAP Code,Unnamed: 1\n1001,77\n")
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() error = nil, want detection failure")
	}

	raw, err := os.ReadFile(store.SheetCachePath())
	if err != nil {
		t.Fatalf("failed to read sheet copy: %v", err)
	}
	if string(raw) != sampleSheet {
		t.Error("failed refresh overwrote the persisted sheet copy")
	}
}

// TestRefresh_MergeReplacesWholesale verifies a newer record replaces
// the old one entirely, dropping a prepaid price the new sheet lacks.
func TestRefresh_MergeReplacesWholesale(t *testing.T) {
	first := "Device Name,Retail Price,Suggested Prepaid\n" +
		"Galaxy S25,$799.99,$649.99\n"
	second := "Device Name,Retail Price\n" +
		"Galaxy S25,$749.99\n"

	fetcher := &fakeFetcher{data: []byte(first)}
	m, _, cache := newManager(t, fetcher)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	if rec, _ := cache.Get("Galaxy S25"); !rec.HasPrepaid() {
		t.Fatalf("expected prepaid after first refresh, got %+v", rec)
	}

	fetcher.data = []byte(second)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}

	rec, ok := cache.Get("Galaxy S25")
	if !ok {
		t.Fatal("Galaxy S25 missing after second refresh")
	}
	if rec.MSRP != 749.99 {
		t.Errorf("MSRP = %v, want 749.99", rec.MSRP)
	}
	if rec.HasPrepaid() {
		t.Errorf("prepaid = %v, want dropped by wholesale replace", rec.Prepaid)
	}
}

// TestRefresh_SecondCallerRejected verifies only one refresh runs at a
// time.
func TestRefresh_SecondCallerRejected(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(sampleSheet), block: make(chan struct{})}
	m, _, _ := newManager(t, fetcher)

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background()) }()

	// Wait for the first refresh to enter the download.
	deadline := time.After(time.Second)
	for fetcher.downloads.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first refresh never started downloading")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := m.Refresh(context.Background()); !errors.Is(err, model.ErrRefreshInFlight) {
		t.Errorf("concurrent Refresh() error = %v, want ErrRefreshInFlight", err)
	}

	close(fetcher.block)
	if err := <-done; err != nil {
		t.Errorf("blocked Refresh() error = %v", err)
	}
}

// TestStartupSync_FallsBackToCachedSheet verifies a refresh failure at
// boot re-ingests the cached sheet so the service still has devices.
func TestStartupSync_FallsBackToCachedSheet(t *testing.T) {
	fetcher := &fakeFetcher{
		probeErr:    errors.New("network down"),
		downloadErr: errors.New("network down"),
	}
	m, store, cache := newManager(t, fetcher)

	if err := store.SaveSheetCache([]byte(sampleSheet)); err != nil {
		t.Fatalf("SaveSheetCache() error = %v", err)
	}

	m.StartupSync(context.Background())

	if cache.Len() != 2 {
		t.Errorf("device cache holds %d devices after fallback, want 2", cache.Len())
	}
}

// TestIngestUpload_MergesIntoCatalog verifies an uploaded sheet flows
// through the same merge path as a refresh.
func TestIngestUpload_MergesIntoCatalog(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(sampleSheet)}
	m, store, cache := newManager(t, fetcher)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	dir := t.TempDir()
	upload := dir + "/upload.csv"
	content := "Device Name,Retail Price\nmoto g play,$149.99\n"
	if err := os.WriteFile(upload, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write upload: %v", err)
	}

	result, err := m.IngestUpload(upload)
	if err != nil {
		t.Fatalf("IngestUpload() error = %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("Processed = %d, want 1", result.Processed)
	}

	if cache.Len() != 3 {
		t.Errorf("device cache holds %d devices, want 3 after merge", cache.Len())
	}
	catalog, _ := store.LoadCatalog()
	if _, ok := catalog["moto g play"]; !ok {
		t.Error("uploaded device not persisted")
	}
}

// TestValidateCounts_ConsistentAfterRefresh verifies every count source
// agrees after a clean refresh.
func TestValidateCounts_ConsistentAfterRefresh(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(sampleSheet)}
	m, _, _ := newManager(t, fetcher)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	v := m.ValidateCounts()
	if !v.Consistent {
		t.Errorf("ValidateCounts() = %+v, want consistent", v)
	}
	if v.MemoryCount != 2 || v.FileCount != 2 || v.ReportedCount != 2 || v.RawRowCount != 2 {
		t.Errorf("counts = %+v, want all 2", v)
	}
}

// TestPopular_PreferredFirst verifies preferred devices lead and the
// rest of the catalog pads the list.
func TestPopular_PreferredFirst(t *testing.T) {
	m, _, cache := newManager(t, &fakeFetcher{})
	cache.Load(model.Catalog{
		"Samsung Galaxy A16 5G": {MSRP: 199.99},
		"Galaxy Z Fold 7":       {MSRP: 1899.99},
		"moto g play - 2024":    {MSRP: 149.99},
	})

	got := m.Popular(3)
	if len(got) != 3 {
		t.Fatalf("Popular(3) returned %d devices, want 3", len(got))
	}
	if got[0].Name != "moto g play - 2024" || got[0].DisplayName != "moto g play" {
		t.Errorf("first popular = %+v, want preferred moto g play", got[0])
	}
	if got[1].Name != "Samsung Galaxy A16 5G" {
		t.Errorf("second popular = %+v, want preferred Galaxy A16 5G", got[1])
	}
	if got[2].Name != "Galaxy Z Fold 7" {
		t.Errorf("third popular = %+v, want catalog padding", got[2])
	}
}

// TestStatus_ReflectsSyncRecord verifies the status view folds in the
// persisted sync record.
func TestStatus_ReflectsSyncRecord(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(sampleSheet)}
	m, _, _ := newManager(t, fetcher)

	status := m.Status()
	if status.SheetLoaded || status.CacheExists || status.DevicesCount != 0 {
		t.Errorf("initial status = %+v, want empty", status)
	}

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	status = m.Status()
	if !status.SheetLoaded || !status.CacheExists || status.DevicesCount != 2 {
		t.Errorf("status after refresh = %+v, want loaded with 2 devices", status)
	}
	if status.LastUpdate.IsZero() || status.SheetSize == "" {
		t.Errorf("status sync fields empty: %+v", status)
	}
}
