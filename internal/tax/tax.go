// Package tax holds the static US state sales-tax table and the tax
// calculation itself.
package tax

import (
	"sort"

	"github.com/shopspring/decimal"
)

// StateRates maps state names to state-level sales tax percentages
// (2024 rates, excluding local taxes).
var StateRates = map[string]float64{
	"Alabama":        4.00,
	"Alaska":         0.00,
	"Arizona":        5.60,
	"Arkansas":       6.50,
	"California":     7.25,
	"Colorado":       2.90,
	"Connecticut":    6.35,
	"Delaware":       0.00,
	"Florida":        6.00,
	"Georgia":        4.00,
	"Hawaii":         4.17,
	"Idaho":          6.00,
	"Illinois":       6.25,
	"Indiana":        7.00,
	"Iowa":           6.00,
	"Kansas":         6.50,
	"Kentucky":       6.00,
	"Louisiana":      4.45,
	"Maine":          5.50,
	"Maryland":       6.00,
	"Massachusetts":  6.25,
	"Michigan":       6.00,
	"Minnesota":      6.88,
	"Mississippi":    7.00,
	"Missouri":       4.23,
	"Montana":        0.00,
	"Nebraska":       5.50,
	"Nevada":         6.85,
	"New Hampshire":  0.00,
	"New Jersey":     6.63,
	"New Mexico":     5.13,
	"New York":       4.00,
	"North Carolina": 4.75,
	"North Dakota":   5.00,
	"Ohio":           5.75,
	"Oklahoma":       4.50,
	"Oregon":         0.00,
	"Pennsylvania":   6.00,
	"Rhode Island":   7.00,
	"South Carolina": 6.00,
	"South Dakota":   4.20,
	"Tennessee":      7.00,
	"Texas":          6.25,
	"Utah":           6.10,
	"Vermont":        6.00,
	"Virginia":       5.30,
	"Washington":     6.50,
	"West Virginia":  6.00,
	"Wisconsin":      5.00,
	"Wyoming":        4.00,
}

// Rate returns the sales tax percentage for a state, 0 for unknown names.
func Rate(state string) float64 {
	return StateRates[state]
}

// States returns all state names sorted alphabetically.
func States() []string {
	names := make([]string, 0, len(StateRates))
	for name := range StateRates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calculate returns the sales tax and total for a purchase amount at the
// given percentage rate, both rounded to cents. Negative amounts yield
// (0, 0). Decimal arithmetic avoids float drift at the rounding boundary.
func Calculate(amount, rate float64) (taxAmount, total float64) {
	if amount < 0 {
		return 0, 0
	}

	amt := decimal.NewFromFloat(amount)
	pct := decimal.NewFromFloat(rate).Div(decimal.NewFromInt(100))

	taxDec := amt.Mul(pct).Round(2)
	totalDec := amt.Add(taxDec).Round(2)

	taxAmount, _ = taxDec.Float64()
	total, _ = totalDec.Float64()
	return taxAmount, total
}
