package model

import "time"

// Defaults shared between the config loader and the service components.
const (
	// DefaultSearchLimit caps device search results when the caller does
	// not supply a limit.
	DefaultSearchLimit = 50

	// DefaultSearchCacheSize bounds the LRU of cached search results.
	DefaultSearchCacheSize = 2000

	// DefaultRefreshAfter is how old a staleness check may be before the
	// remote sheet is probed again.
	DefaultRefreshAfter = time.Hour

	// DefaultProbeTimeout bounds the header-only staleness probe.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultDownloadTimeout bounds the full sheet download.
	DefaultDownloadTimeout = 30 * time.Second

	// DefaultMaxUploadBytes caps uploaded sheet size (16 MiB).
	DefaultMaxUploadBytes = 16 << 20
)

// Persisted file names under the data directory.
const (
	CatalogFile    = "devices.json"
	SheetCacheFile = "latest_prices_cache.csv"
	LastUpdateFile = "last_update.json"
)
