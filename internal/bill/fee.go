package bill

import (
	"math"
	"strconv"
	"strings"
)

// FeeMode is how the user typed the service fee
type FeeMode string

const (
	FeeModePercent FeeMode = "percent"
	FeeModeFixed   FeeMode = "fixed"
)

// ParseFeeMode maps form input to a FeeMode, defaulting to percent
func ParseFeeMode(s string) FeeMode {
	if FeeMode(strings.ToLower(strings.TrimSpace(s))) == FeeModeFixed {
		return FeeModeFixed
	}
	return FeeModePercent
}

// FeeQuote previews a fee entry before it is confirmed
type FeeQuote struct {
	Mode       FeeMode `json:"mode"`
	Percent    float64 `json:"percent"`     // Canonical percentage the entry resolves to
	Amount     float64 `json:"amount"`      // Fee in currency over ItemsTotal
	ItemsTotal float64 `json:"items_total"`
	GrandTotal float64 `json:"grand_total"` // ItemsTotal plus Amount
}

// ParseAmount reads a number typed into a form field. Anything that does not
// parse comes back as zero.
func ParseAmount(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	// Brazilian keyboards type "12,5"
	if !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return clampAmount(v)
}

// MaxAmount bounds any single amount or percentage the model accepts. Sums of
// bounded values stay finite.
const MaxAmount = 1e12

// clampAmount zeroes values that are not finite or exceed MaxAmount
func clampAmount(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > MaxAmount {
		return 0
	}
	return v
}

// finite maps NaN and infinities to zero
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ResolveServicePercent converts a fee entry into the canonical percentage.
// Percent entries pass through unclamped. Fixed amounts are expressed as a
// share of itemsTotal, and a non-positive total resolves to zero.
func ResolveServicePercent(mode FeeMode, raw string, itemsTotal float64) float64 {
	value := ParseAmount(raw)
	if mode != FeeModeFixed {
		return value
	}
	if itemsTotal <= 0 {
		return 0
	}
	// A tiny total can still push the ratio past the float range
	return clampAmount(value / itemsTotal * 100)
}

// QuoteFee computes what a fee entry would amount to over itemsTotal
func QuoteFee(mode FeeMode, raw string, itemsTotal float64) FeeQuote {
	if mode != FeeModeFixed {
		mode = FeeModePercent
	}

	var amount float64
	if mode == FeeModeFixed {
		amount = ParseAmount(raw)
	} else {
		amount = finite(itemsTotal * (ParseAmount(raw) / 100))
	}

	return FeeQuote{
		Mode:       mode,
		Percent:    ResolveServicePercent(mode, raw, itemsTotal),
		Amount:     amount,
		ItemsTotal: itemsTotal,
		GrandTotal: itemsTotal + amount,
	}
}
