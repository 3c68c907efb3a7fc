// Package devcache holds the in-memory indexed view of the device
// catalog. It owns derived, rebuildable state only; the catalog manager
// owns the persisted catalog and hands snapshots in via Load.
package devcache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tclemons/salestaxd/internal/model"
)

// bucketSize is the width of one price-index bucket in dollars.
const bucketSize = 100

type searchKey struct {
	gen   uint64
	query string
	limit int
}

// Cache is a thread-safe snapshot of the catalog with brand and
// price-bucket indexes plus an LRU of recent search results. Load swaps
// the snapshot wholesale; readers grab references under a short lock and
// iterate lock-free since published snapshots are never mutated.
type Cache struct {
	mu         sync.RWMutex
	devices    model.Catalog
	names      []string // sorted; fixes iteration order across calls
	brandIndex map[string][]string
	priceIndex map[int][]string
	reloadedAt time.Time
	gen        uint64 // bumped on every Load; keys the search cache

	searchCache *lru.Cache[searchKey, []string]

	// searchComputes counts searches that missed the result cache, used
	// by tests to observe LRU hits.
	searchComputes atomic.Int64
}

// New creates an empty cache whose search-result LRU holds up to
// cacheSize entries.
func New(cacheSize int) (*Cache, error) {
	if cacheSize <= 0 {
		cacheSize = model.DefaultSearchCacheSize
	}
	sc, err := lru.New[searchKey, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		devices:     make(model.Catalog),
		brandIndex:  make(map[string][]string),
		priceIndex:  make(map[int][]string),
		searchCache: sc,
	}, nil
}

// Load atomically replaces the held snapshot, rebuilds both indexes from
// scratch and clears the search-result cache. O(n log n) in catalog size
// from the name sort.
func (c *Cache) Load(catalog model.Catalog) {
	devices := catalog.Clone()

	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)

	brandIndex := make(map[string][]string)
	priceIndex := make(map[int][]string)
	for _, name := range names {
		if brand := brandOf(name); brand != "" {
			brandIndex[brand] = append(brandIndex[brand], name)
		}
		if msrp := devices[name].MSRP; msrp > 0 {
			bucket := int(msrp/bucketSize) * bucketSize
			priceIndex[bucket] = append(priceIndex[bucket], name)
		}
	}

	c.mu.Lock()
	c.devices = devices
	c.names = names
	c.brandIndex = brandIndex
	c.priceIndex = priceIndex
	c.reloadedAt = time.Now()
	c.gen++
	c.searchCache.Purge()
	c.mu.Unlock()
}

// Get returns the record for an exact device name.
func (c *Cache) Get(name string) (model.PriceRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.devices[name]
	return rec, ok
}

// Len returns the number of devices in the snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}

// Names returns all device names in stable sorted order.
func (c *Cache) Names() []string {
	c.mu.RLock()
	names := c.names
	c.mu.RUnlock()

	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Search returns up to limit device names whose name contains query,
// case-insensitively, in catalog iteration order. An empty query returns
// the first limit entries. Results are cached per (query, limit) pair;
// hits refresh recency and return the previously computed list. Cached
// entries are keyed by snapshot generation, so a result computed against
// a pre-reload snapshot is unreachable after Load even if its Add races
// the purge.
func (c *Cache) Search(query string, limit int) []string {
	if limit <= 0 {
		limit = model.DefaultSearchLimit
	}

	c.mu.RLock()
	names := c.names
	gen := c.gen
	c.mu.RUnlock()

	key := searchKey{gen: gen, query: strings.ToLower(query), limit: limit}
	if cached, ok := c.searchCache.Get(key); ok {
		return cached
	}

	c.searchComputes.Add(1)

	var results []string
	if key.query == "" {
		n := min(limit, len(names))
		results = make([]string, n)
		copy(results, names[:n])
	} else {
		for _, name := range names {
			if strings.Contains(strings.ToLower(name), key.query) {
				results = append(results, name)
				if len(results) >= limit {
					break
				}
			}
		}
	}

	c.searchCache.Add(key, results)
	return results
}

// ByBrand returns the device names whose first name token matches brand.
func (c *Cache) ByBrand(brand string) []string {
	c.mu.RLock()
	names := c.brandIndex[strings.ToLower(brand)]
	c.mu.RUnlock()

	out := make([]string, len(names))
	copy(out, names)
	return out
}

// ByPriceRange returns device names with minPrice <= msrp <= maxPrice.
// Linear scan; the price index buckets are too coarse for exact bounds.
func (c *Cache) ByPriceRange(minPrice, maxPrice float64) []string {
	c.mu.RLock()
	devices, names := c.devices, c.names
	c.mu.RUnlock()

	var out []string
	for _, name := range names {
		if msrp := devices[name].MSRP; msrp >= minPrice && msrp <= maxPrice {
			out = append(out, name)
		}
	}
	return out
}

// PriceBuckets returns the device count per $100 price bucket, keyed by
// the bucket's lower bound.
func (c *Cache) PriceBuckets() map[int]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int]int, len(c.priceIndex))
	for bucket, names := range c.priceIndex {
		out[bucket] = len(names)
	}
	return out
}

// ReloadedAt returns when the snapshot was last replaced.
func (c *Cache) ReloadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reloadedAt
}

// SearchComputes returns how many searches were computed rather than
// served from the result cache.
func (c *Cache) SearchComputes() int64 {
	return c.searchComputes.Load()
}

// brandOf extracts the brand token from a device name.
func brandOf(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
