package model

import "time"

// PriceRecord holds the pricing for a single device. MSRP is always
// positive for stored records; Prepaid is zero when the source sheet had
// no usable prepaid price.
type PriceRecord struct {
	MSRP    float64 `json:"msrp"`
	Prepaid float64 `json:"prepaid,omitempty"`
}

// HasPrepaid reports whether the record carries a prepaid price.
func (r PriceRecord) HasPrepaid() bool {
	return r.Prepaid > 0
}

// Catalog maps device names to their price records. Names are
// case-sensitive and act as the primary key.
type Catalog map[string]PriceRecord

// Clone returns an independent copy of the catalog.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for name, rec := range c {
		out[name] = rec
	}
	return out
}

// Merge applies every record from other on top of c. Collisions replace
// the existing record wholesale; fields absent in the newer record are
// dropped, matching the source sheet's row-is-truth update semantics.
func (c Catalog) Merge(other Catalog) {
	for name, rec := range other {
		c[name] = rec
	}
}

// ColumnRoles identifies which sheet columns were resolved to which
// logical roles. Prepaid is -1 when no prepaid column was found.
type ColumnRoles struct {
	Device  int `json:"device"`
	Price   int `json:"price"`
	Prepaid int `json:"prepaid"`

	DeviceName  string `json:"deviceName"`
	PriceName   string `json:"priceName"`
	PrepaidName string `json:"prepaidName,omitempty"`
}

// IngestResult is the output of a single sheet ingestion.
type IngestResult struct {
	Devices   Catalog
	Processed int
	Skipped   int
	Columns   ColumnRoles
}

// LastUpdate records the outcome of the most recent remote sheet fetch.
// Size is the string-encoded byte length of the downloaded payload, kept
// as a string to match the persisted format of earlier versions.
type LastUpdate struct {
	LastCheck        time.Time `json:"last_check"`
	LastUpdate       time.Time `json:"last_update"`
	Size             string    `json:"size"`
	DevicesCount     int       `json:"devices_count"`
	DevicesProcessed int       `json:"devices_processed"`
	DevicesSkipped   int       `json:"devices_skipped"`
}

// SyncStatus describes the catalog manager's view of the remote sheet.
type SyncStatus struct {
	SheetLoaded  bool      `json:"sheetLoaded"`
	SheetLoading bool      `json:"sheetLoading"`
	DevicesCount int       `json:"devicesCount"`
	CacheExists  bool      `json:"cacheExists"`
	LastCheck    time.Time `json:"lastCheck,omitzero"`
	LastUpdate   time.Time `json:"lastUpdate,omitzero"`
	SheetSize    string    `json:"sheetSize,omitempty"`
}

// CountValidation reports device counts across every data source, used
// by the diagnostics endpoint to spot drift between memory and disk.
type CountValidation struct {
	MemoryCount   int       `json:"memoryCount"`
	FileCount     int       `json:"fileCount"`
	ReportedCount int       `json:"reportedCount"`
	RawRowCount   int       `json:"rawRowCount"`
	Consistent    bool      `json:"consistent"`
	Timestamp     time.Time `json:"timestamp"`
}

// PopularDevice is one entry in the homepage popular-device strip.
type PopularDevice struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	DisplayName string  `json:"displayName"`
}
