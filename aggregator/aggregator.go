// Package aggregator filters a TE listings payload down to the eligible
// set and computes the min/avg/max/count aggregate the poller writes per
// event per hour. It operates purely on normalized teapi.Listing values —
// it never sees raw JSON.
package aggregator

import (
	"math"
	"strings"

	"github.com/olticketwidget/price-ingest/teapi"
)

// nonBuyablePhrases are substrings that, if present (case-insensitive) in
// a listing's notes, mark it as not actually purchasable despite being
// listed.
var nonBuyablePhrases = []string{
	"will be rejected",
	"accepted but not fulfilled",
	"will be accepted but not fulfilled",
	"will remain pending",
	"not fulfilled",
}

// Result is the computed aggregate for a batch of listings. A nil Result
// from Aggregate means zero listings were eligible.
type Result struct {
	Min          float64
	Avg          float64
	Max          float64
	ListingCount int
}

// Eligible reports whether a single listing counts toward the aggregate.
func Eligible(l teapi.Listing) bool {
	if l.Type != "event" {
		return false
	}
	if containsNonBuyablePhrase(l.PublicNotes) || containsNonBuyablePhrase(l.Notes) {
		return false
	}
	if !l.HasRetailPrice || l.RetailPrice <= 0 || l.RetailPrice >= 100000 {
		return false
	}
	if !l.HasAvailableQty || l.AvailableQuantity < 2 || l.AvailableQuantity >= 10000 {
		return false
	}
	if !containsSplitOfTwo(l.Splits) {
		return false
	}
	return true
}

func containsNonBuyablePhrase(notes string) bool {
	lower := strings.ToLower(notes)
	for _, phrase := range nonBuyablePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func containsSplitOfTwo(splits []int) bool {
	for _, s := range splits {
		if s == 2 {
			return true
		}
	}
	return false
}

// Aggregate computes min/avg/max/count over the eligible subset of
// listings. Returns nil if no listing is eligible.
func Aggregate(listings []teapi.Listing) *Result {
	var prices []float64
	for _, l := range listings {
		if Eligible(l) {
			prices = append(prices, l.RetailPrice)
		}
	}
	if len(prices) == 0 {
		return nil
	}

	min, max, sum := prices[0], prices[0], 0.0
	for _, p := range prices {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
		sum += p
	}
	avg := sum / float64(len(prices))

	return &Result{
		Min:          round2(min),
		Avg:          round2(avg),
		Max:          round2(max),
		ListingCount: len(prices),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
