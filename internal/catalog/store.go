package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tclemons/salestaxd/internal/model"
)

const lockRetries = 10

// Store persists the device catalog, the raw sheet copy, and the sync
// record under a single data directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory path.
func (s *Store) Dir() string {
	return s.dir
}

// CatalogPath returns the path of the persisted device catalog.
func (s *Store) CatalogPath() string {
	return filepath.Join(s.dir, model.CatalogFile)
}

// SheetCachePath returns the path of the raw sheet copy.
func (s *Store) SheetCachePath() string {
	return filepath.Join(s.dir, model.SheetCacheFile)
}

// LastUpdatePath returns the path of the sync record.
func (s *Store) LastUpdatePath() string {
	return filepath.Join(s.dir, model.LastUpdateFile)
}

func (s *Store) lockPath() string {
	return filepath.Join(s.dir, model.CatalogFile+".lock")
}

// LoadCatalog reads the persisted catalog. A missing file yields an
// empty catalog with no error; a corrupt file yields an empty catalog
// and the parse error so the caller can log it.
func (s *Store) LoadCatalog() (model.Catalog, error) {
	data, err := os.ReadFile(s.CatalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return model.Catalog{}, nil
		}
		return model.Catalog{}, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog model.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return model.Catalog{}, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if catalog == nil {
		catalog = model.Catalog{}
	}
	return catalog, nil
}

// SaveCatalog writes the catalog atomically under a file lock.
func (s *Store) SaveCatalog(catalog model.Catalog) error {
	lock, err := AcquireLock(s.lockPath(), lockRetries)
	if err != nil {
		return fmt.Errorf("failed to lock catalog: %w", err)
	}
	defer lock.Release()

	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	return s.writeAtomic(s.CatalogPath(), data)
}

// LoadLastUpdate reads the sync record. A missing file yields nil with
// no error.
func (s *Store) LoadLastUpdate() (*model.LastUpdate, error) {
	data, err := os.ReadFile(s.LastUpdatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read last update file: %w", err)
	}

	var lu model.LastUpdate
	if err := json.Unmarshal(data, &lu); err != nil {
		return nil, fmt.Errorf("failed to parse last update file: %w", err)
	}
	return &lu, nil
}

// SaveLastUpdate writes the sync record atomically.
func (s *Store) SaveLastUpdate(lu *model.LastUpdate) error {
	data, err := json.MarshalIndent(lu, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal last update: %w", err)
	}
	return s.writeAtomic(s.LastUpdatePath(), data)
}

// SaveSheetCache writes the raw sheet bytes verbatim.
func (s *Store) SaveSheetCache(data []byte) error {
	return s.writeAtomic(s.SheetCachePath(), data)
}

// SheetCacheExists reports whether a raw sheet copy is on disk.
func (s *Store) SheetCacheExists() bool {
	info, err := os.Stat(s.SheetCachePath())
	return err == nil && !info.IsDir()
}

// CountCatalogDevices returns the number of devices in the persisted
// catalog file, or 0 if it is absent or unreadable.
func (s *Store) CountCatalogDevices() int {
	catalog, err := s.LoadCatalog()
	if err != nil {
		return 0
	}
	return len(catalog)
}

// CountSheetRows returns the number of non-header lines in the raw
// sheet copy, or 0 if it is absent.
func (s *Store) CountSheetRows() int {
	f, err := os.Open(s.SheetCachePath())
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		count++
	}
	if count > 0 {
		count-- // header line
	}
	return count
}

// writeAtomic writes data to a temp file in the same directory and
// renames it over the target.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
