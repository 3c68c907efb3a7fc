package sheet

import (
	"strings"
	"unicode"

	"github.com/tclemons/salestaxd/internal/model"
)

// Canonical column names from the upstream price sheet. Exact matches on
// these beat every keyword heuristic.
const (
	canonicalDeviceColumn  = "phone"
	canonicalPriceColumn   = "ric purchase payment"
	canonicalPrepaidColumn = "suggested prepaid"
)

// Fixed layout of the upstream sheet: device names in column B, primary
// price in column E, suggested prepaid in column I.
const (
	positionalDeviceIdx  = 1
	positionalPriceIdx   = 4
	positionalPrepaidIdx = 8
)

var (
	deviceKeywords  = []string{"phone", "device", "model", "name", "product"}
	priceKeywords   = []string{"msrp", "price", "cost", "amount", "value", "payment", "retail"}
	prepaidKeywords = []string{"prepaid", "prepay", "suggested"}
	codeKeywords    = []string{"sap", "code", "id", "number", "sku", "#"}
)

// sniffSampleSize caps how many non-empty values per column the content
// sniffer inspects.
const sniffSampleSize = 10

// sniffThreshold is the fraction of samples that must look like the
// candidate type for a column to be assigned by content sniffing.
const sniffThreshold = 0.7

// detectStrategy attempts to resolve the two required roles (device name
// and primary price) in one go. It reports ok only when both are
// assigned; partial resolutions are discarded so every tier stays
// independently testable. Strategies run in fixed priority order and the
// first success wins.
type detectStrategy func(headers []string, rows [][]string) (roles model.ColumnRoles, ok bool)

var detectStrategies = []detectStrategy{
	detectPositional,
	detectByName,
	detectByContent,
	detectLastResort,
}

// DetectColumns resolves the device-name, primary-price and optional
// prepaid-price columns for a table. It returns a DetectionError carrying
// the headers and sample values when no tier produces a confident
// mapping.
func DetectColumns(headers []string, rows [][]string) (model.ColumnRoles, error) {
	for _, strat := range detectStrategies {
		roles, ok := strat(headers, rows)
		if !ok {
			continue
		}
		if roles.Prepaid < 0 {
			roles.Prepaid = findPrepaidByName(headers, roles)
		}
		roles.DeviceName = headers[roles.Device]
		roles.PriceName = headers[roles.Price]
		if roles.Prepaid >= 0 {
			roles.PrepaidName = headers[roles.Prepaid]
		}
		return roles, nil
	}

	return model.ColumnRoles{}, &model.DetectionError{
		Columns: headers,
		Samples: sampleByColumn(headers, rows, 3),
	}
}

// detectPositional applies the upstream sheet's known fixed layout. It
// succeeds only when the table is wide enough for both required columns.
func detectPositional(headers []string, _ [][]string) (model.ColumnRoles, bool) {
	roles := model.ColumnRoles{Device: -1, Price: -1, Prepaid: -1}
	if len(headers) <= positionalPriceIdx {
		return roles, false
	}
	roles.Device = positionalDeviceIdx
	roles.Price = positionalPriceIdx
	if len(headers) > positionalPrepaidIdx {
		roles.Prepaid = positionalPrepaidIdx
	}
	return roles, true
}

// detectByName matches canonical column names exactly, then falls back to
// keyword substring sets. Name-ish keywords are suppressed for columns
// that look like SAP/SKU code columns.
func detectByName(headers []string, _ [][]string) (model.ColumnRoles, bool) {
	roles := model.ColumnRoles{Device: -1, Price: -1, Prepaid: -1}

	// Exact canonical names first.
	for i, h := range headers {
		lower := strings.ToLower(strings.TrimSpace(h))
		switch {
		case roles.Device < 0 && lower == canonicalDeviceColumn:
			roles.Device = i
		case roles.Price < 0 && strings.Contains(lower, canonicalPriceColumn):
			roles.Price = i
		case roles.Prepaid < 0 && strings.Contains(lower, "prepaid"):
			roles.Prepaid = i
		}
	}

	if roles.Device < 0 {
		for i, h := range headers {
			lower := strings.ToLower(strings.TrimSpace(h))
			if containsAny(lower, deviceKeywords) && !containsAny(lower, codeKeywords) {
				roles.Device = i
				break
			}
		}
	}
	if roles.Price < 0 {
		for i, h := range headers {
			lower := strings.ToLower(strings.TrimSpace(h))
			if i != roles.Device && containsAny(lower, priceKeywords) {
				roles.Price = i
				break
			}
		}
	}

	return roles, roles.Device >= 0 && roles.Price >= 0
}

// detectByContent assigns roles by sampling cell values: a column whose
// samples are mostly alphabetic strings longer than 3 chars is a name
// candidate, one whose samples mostly parse to positive prices is a price
// candidate.
func detectByContent(headers []string, rows [][]string) (model.ColumnRoles, bool) {
	roles := model.ColumnRoles{Device: -1, Price: -1, Prepaid: -1}

	for i := range headers {
		samples := columnSamples(rows, i, sniffSampleSize)
		if len(samples) == 0 {
			continue
		}

		if roles.Device < 0 {
			textCount := 0
			for _, v := range samples {
				if looksLikeDeviceName(v) {
					textCount++
				}
			}
			if float64(textCount) >= float64(len(samples))*sniffThreshold {
				roles.Device = i
				continue
			}
		}

		if roles.Price < 0 {
			numCount := 0
			for _, v := range samples {
				if ParsePrice(v) > 0 {
					numCount++
				}
			}
			if float64(numCount) >= float64(len(samples))*sniffThreshold {
				roles.Price = i
			}
		}
	}

	return roles, roles.Device >= 0 && roles.Price >= 0
}

// detectLastResort picks the first and second non-unnamed, non-code
// columns for device and price when everything else failed.
func detectLastResort(headers []string, _ [][]string) (model.ColumnRoles, bool) {
	roles := model.ColumnRoles{Device: -1, Price: -1, Prepaid: -1}

	var usable []int
	for i, h := range headers {
		lower := strings.ToLower(strings.TrimSpace(h))
		if lower == "" || strings.HasPrefix(lower, "unnamed") || containsAny(lower, codeKeywords) {
			continue
		}
		usable = append(usable, i)
	}
	if len(usable) < 2 {
		return roles, false
	}
	roles.Device = usable[0]
	roles.Price = usable[1]
	return roles, true
}

// findPrepaidByName locates a prepaid column by keyword when the winning
// strategy did not assign one.
func findPrepaidByName(headers []string, roles model.ColumnRoles) int {
	for i, h := range headers {
		if i == roles.Device || i == roles.Price {
			continue
		}
		lower := strings.ToLower(strings.TrimSpace(h))
		if containsAny(lower, prepaidKeywords) {
			return i
		}
	}
	return -1
}

// looksLikeDeviceName reports whether a cell value reads as a product
// name rather than a code or a number.
func looksLikeDeviceName(s string) bool {
	v := strings.TrimSpace(s)
	if len(v) <= 3 {
		return false
	}
	hasAlpha := false
	for _, r := range v {
		if unicode.IsLetter(r) {
			hasAlpha = true
			break
		}
	}
	if !hasAlpha {
		return false
	}
	// Numeric strings with separators are prices or codes, not names.
	stripped := strings.NewReplacer(".", "", "-", "", " ", "").Replace(v)
	for _, r := range stripped {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// columnSamples collects up to limit non-empty values from one column.
func columnSamples(rows [][]string, col, limit int) []string {
	var out []string
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		v := CleanCell(row[col])
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// sampleByColumn gathers diagnostic samples for detection errors.
func sampleByColumn(headers []string, rows [][]string, limit int) map[string][]string {
	samples := make(map[string][]string, len(headers))
	for i, h := range headers {
		samples[h] = columnSamples(rows, i, limit)
	}
	return samples
}
