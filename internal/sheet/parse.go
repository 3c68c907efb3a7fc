// Package sheet ingests loosely structured device price sheets (CSV or
// Excel) into a normalized device catalog. Input layouts vary, so column
// roles are resolved by a cascade of heuristics rather than a fixed
// schema.
package sheet

import (
	"strconv"
	"strings"
)

// placeholders are cell values that spreadsheet exports emit for missing
// data and must be treated as empty.
var placeholders = map[string]struct{}{
	"nan":  {},
	"null": {},
	"none": {},
	"n/a":  {},
	"na":   {},
}

// ParsePrice extracts a numeric price from a free-form string, tolerating
// currency symbols and thousands separators. It returns 0 for anything it
// cannot parse; callers treat non-positive results as "no valid price".
func ParsePrice(s string) float64 {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

// CleanCell trims a cell value and collapses export placeholders like
// "nan" or "null" to the empty string.
func CleanCell(s string) string {
	trimmed := strings.TrimSpace(s)
	if _, ok := placeholders[strings.ToLower(trimmed)]; ok {
		return ""
	}
	return trimmed
}
