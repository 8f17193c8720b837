// Package symbol classifies bare A-share instrument codes into their venue
// and produces venue-qualified identifiers. Classification is a pure function
// of the numeric code prefix; any suffix already attached is stripped and
// recomputed, which makes normalization idempotent by construction.
package symbol

import (
	"math"
	"strings"
)

// Venue identifies the exchange an instrument trades on.
type Venue string

const (
	VenueShanghai Venue = "sh"
	VenueShenzhen Venue = "sz"
	VenueBeijing  Venue = "bj"
)

var (
	shanghaiPrefixes = []string{"50", "51", "60", "73", "90", "110", "113", "132", "204", "78"}
	shenzhenPrefixes = []string{"00", "12", "13", "18", "15", "16", "20", "30", "39", "115", "1318"}
)

// Classify returns the venue for a bare or suffixed instrument code.
// Codes already carrying a two-letter venue tag ("sh"/"sz") keep it.
// Prefix lists are checked before the broader first-character rules, and
// anything unmatched defaults to Shenzhen.
func Classify(code string) Venue {
	lower := strings.ToLower(code)
	if strings.HasPrefix(lower, "sh") {
		return VenueShanghai
	}
	if strings.HasPrefix(lower, "sz") {
		return VenueShenzhen
	}

	for _, p := range shanghaiPrefixes {
		if strings.HasPrefix(code, p) {
			return VenueShanghai
		}
	}

	for _, p := range shenzhenPrefixes {
		if strings.HasPrefix(code, p) {
			return VenueShenzhen
		}
	}

	if strings.HasPrefix(code, "5") || strings.HasPrefix(code, "6") {
		return VenueShanghai
	}

	if strings.HasPrefix(code, "8") || strings.HasPrefix(code, "4") || strings.HasPrefix(code, "9") {
		return VenueBeijing
	}

	return VenueShenzhen
}

// bare strips everything from the first '.' onward.
func bare(code string) string {
	if idx := strings.IndexByte(code, '.'); idx > 0 {
		return code[:idx]
	}

	return code
}

// ForOrder normalizes a code into the order-submission form used by the
// execution engine: <code>.SH, <code>.SZ or <code>.BJ.
func ForOrder(code string) string {
	c := bare(code)

	switch Classify(code) {
	case VenueBeijing:
		return c + ".BJ"
	case VenueShanghai:
		return c + ".SH"
	default:
		return c + ".SZ"
	}
}

// ForQuote normalizes a code into the instrument-detail lookup form used by
// data-query helpers. It differs from ForOrder only in the Shanghai token:
// <code>.SS instead of <code>.SH.
func ForQuote(code string) string {
	c := bare(code)

	switch Classify(code) {
	case VenueBeijing:
		return c + ".BJ"
	case VenueShanghai:
		return c + ".SS"
	default:
		return c + ".SZ"
	}
}

// PriceLimits returns the daily (upper, lower) price band given the previous
// close. ChiNext (300) and STAR (688) boards move within 20%, everything else
// within 10%. Values are rounded to 2 decimals, matching venue tick rules.
func PriceLimits(code string, prevClose float64) (float64, float64) {
	c := bare(code)

	band := 0.1
	if strings.HasPrefix(c, "300") || strings.HasPrefix(c, "688") {
		band = 0.2
	}

	round2 := func(v float64) float64 { return math.Round(v*100) / 100 }

	return round2(prevClose * (1 + band)), round2(prevClose * (1 - band))
}
