package devcache

import (
	"reflect"
	"testing"

	"github.com/tclemons/salestaxd/internal/model"
)

func testCatalog() model.Catalog {
	return model.Catalog{
		"Apple iPhone 17 - Lavender 256GB":       {MSRP: 1099.00},
		"Apple iPhone 17 Pro 512GB":              {MSRP: 1399.00},
		"Samsung Galaxy S25 Silver Shadow 128GB": {MSRP: 799.99, Prepaid: 649.99},
		"Samsung Galaxy A16 5G":                  {MSRP: 199.99},
		"moto g play - 2024":                     {MSRP: 149.99},
	}
}

func newLoaded(t *testing.T) *Cache {
	t.Helper()
	c, err := New(16)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.Load(testCatalog())
	return c
}

// TestLoad_SnapshotIsolation verifies the cache clones the catalog on
// load so later caller mutations never leak in.
func TestLoad_SnapshotIsolation(t *testing.T) {
	catalog := testCatalog()
	c, err := New(16)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.Load(catalog)

	catalog["moto g play - 2024"] = model.PriceRecord{MSRP: 1.00}

	rec, ok := c.Get("moto g play - 2024")
	if !ok || rec.MSRP != 149.99 {
		t.Errorf("Get() after external mutation = (%+v, %v), want original record", rec, ok)
	}
}

// TestNames_SortedAndStable verifies iteration order is deterministic.
func TestNames_SortedAndStable(t *testing.T) {
	c := newLoaded(t)

	first := c.Names()
	second := c.Names()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Names() not stable across calls: %v vs %v", first, second)
	}
	for i := 1; i < len(first); i++ {
		if first[i-1] >= first[i] {
			t.Errorf("Names() not sorted at %d: %q >= %q", i, first[i-1], first[i])
		}
	}
}

// TestSearch_CaseInsensitive verifies substring matching ignores case.
func TestSearch_CaseInsensitive(t *testing.T) {
	c := newLoaded(t)

	got := c.Search("GALAXY", 10)
	want := []string{"Samsung Galaxy A16 5G", "Samsung Galaxy S25 Silver Shadow 128GB"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Search(GALAXY) = %v, want %v", got, want)
	}
}

// TestSearch_EmptyQuery verifies an empty query returns the first limit
// names in order.
func TestSearch_EmptyQuery(t *testing.T) {
	c := newLoaded(t)

	got := c.Search("", 2)
	names := c.Names()
	if !reflect.DeepEqual(got, names[:2]) {
		t.Errorf("Search(\"\", 2) = %v, want %v", got, names[:2])
	}
}

// TestSearch_ResultCache verifies a repeated search returns the same
// results without recomputing, and that Load purges the cache.
func TestSearch_ResultCache(t *testing.T) {
	c := newLoaded(t)

	first := c.Search("galaxy", 10)
	if got := c.SearchComputes(); got != 1 {
		t.Fatalf("SearchComputes after first search = %d, want 1", got)
	}

	second := c.Search("galaxy", 10)
	if got := c.SearchComputes(); got != 1 {
		t.Errorf("SearchComputes after repeat = %d, want 1 (cache hit)", got)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result differs: %v vs %v", first, second)
	}

	// Different limit is a different cache entry.
	c.Search("galaxy", 1)
	if got := c.SearchComputes(); got != 2 {
		t.Errorf("SearchComputes after new limit = %d, want 2", got)
	}

	// Reloading drops cached results.
	c.Load(testCatalog())
	c.Search("galaxy", 10)
	if got := c.SearchComputes(); got != 3 {
		t.Errorf("SearchComputes after reload = %d, want 3 (purged)", got)
	}
}

// TestSearch_LimitTruncates verifies the limit caps result length.
func TestSearch_LimitTruncates(t *testing.T) {
	c := newLoaded(t)

	got := c.Search("a", 2)
	if len(got) != 2 {
		t.Errorf("Search(a, 2) returned %d results, want 2", len(got))
	}
}

// TestByBrand verifies the brand index keys on the first name token.
func TestByBrand(t *testing.T) {
	c := newLoaded(t)

	got := c.ByBrand("Samsung")
	want := []string{"Samsung Galaxy A16 5G", "Samsung Galaxy S25 Silver Shadow 128GB"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ByBrand(Samsung) = %v, want %v", got, want)
	}
	if got := c.ByBrand("nokia"); len(got) != 0 {
		t.Errorf("ByBrand(nokia) = %v, want empty", got)
	}
}

// TestByPriceRange verifies inclusive price bounds.
func TestByPriceRange(t *testing.T) {
	c := newLoaded(t)

	got := c.ByPriceRange(149.99, 799.99)
	want := []string{"Samsung Galaxy A16 5G", "Samsung Galaxy S25 Silver Shadow 128GB", "moto g play - 2024"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ByPriceRange(149.99, 799.99) = %v, want %v", got, want)
	}
}

// TestPriceBuckets verifies the $100 bucket counts.
func TestPriceBuckets(t *testing.T) {
	c := newLoaded(t)

	buckets := c.PriceBuckets()
	if buckets[100] != 2 {
		t.Errorf("bucket 100 = %d, want 2 (A16 and moto g)", buckets[100])
	}
	if buckets[700] != 1 {
		t.Errorf("bucket 700 = %d, want 1", buckets[700])
	}
	if buckets[1000] != 1 || buckets[1300] != 1 {
		t.Errorf("high buckets = %v, want one device each at 1000 and 1300", buckets)
	}
}

// TestSearch_StaleEntryUnreachableAfterReload verifies a result computed
// against a pre-reload snapshot cannot be served once Load has swapped
// the snapshot, even if its insertion lands after the purge.
func TestSearch_StaleEntryUnreachableAfterReload(t *testing.T) {
	c := newLoaded(t)

	c.mu.RLock()
	oldGen := c.gen
	c.mu.RUnlock()

	c.Load(model.Catalog{"Pixel 9 Pro": {MSRP: 999.00}})

	// A search that snapshotted the old names could add its result after
	// the purge. It carries the old generation, so lookups miss it.
	c.searchCache.Add(
		searchKey{gen: oldGen, query: "pixel", limit: 10},
		[]string{"Samsung Galaxy S25 Silver Shadow 128GB"},
	)

	got := c.Search("pixel", 10)
	if !reflect.DeepEqual(got, []string{"Pixel 9 Pro"}) {
		t.Errorf("Search(pixel) = %v, want the post-reload snapshot only", got)
	}
}

// TestLoad_BumpsGenerationUnderLock verifies each reload advances the
// cache generation so entries from different snapshots never collide.
func TestLoad_BumpsGenerationUnderLock(t *testing.T) {
	c := newLoaded(t)

	c.mu.RLock()
	first := c.gen
	c.mu.RUnlock()

	c.Load(testCatalog())

	c.mu.RLock()
	second := c.gen
	c.mu.RUnlock()

	if second != first+1 {
		t.Errorf("generation after reload = %d, want %d", second, first+1)
	}
}
