// Package pricing implements the two share-pricing models of the market.
//
// The tiered pool price drives buy/sell/short/cover inside a group: a
// discrete price in {1..5} keyed to how full the group's pool is for a
// survivor. The continuous market price drives cross-group valuation and
// historical charting: a demand-relative price anchored on the season median.
//
// Both functions are pure — callers supply fresh counts; nothing is cached.
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"github.com/shopspring/decimal"
)

// SharesPerMember is the per-survivor pool capacity contributed by each
// accepted group member. Applies independently to shares and shorts.
const SharesPerMember int64 = 50

// MinMarketPrice is the floor of the continuous price (and the price of a
// survivor nobody holds).
var MinMarketPrice = decimal.NewFromFloat(0.01)

// Capacity returns a group's per-survivor pool capacity.
func Capacity(acceptedMembers int) int64 {
	if acceptedMembers < 0 {
		return 0
	}
	return SharesPerMember * int64(acceptedMembers)
}

// TierPrice returns the discrete pool price for a survivor within a group.
// Utilization u = used/capacity maps to bands:
//
//	u < 0.2 → 1,  u < 0.4 → 2,  u < 0.6 → 3,  u < 0.8 → 4,  else → 5
//
// The comparisons use integer cross-multiplication so band edges are exact
// (used=20, capacity=100 is exactly u=0.2 and prices at 2, not 1).
// A zero capacity is degenerate and falls back to 1.
func TierPrice(used, capacity int64) decimal.Decimal {
	if capacity <= 0 {
		return decimal.NewFromInt(1)
	}
	if used < 0 {
		used = 0
	}
	switch {
	case 5*used < capacity: // u < 0.2
		return decimal.NewFromInt(1)
	case 5*used < 2*capacity: // u < 0.4
		return decimal.NewFromInt(2)
	case 5*used < 3*capacity: // u < 0.6
		return decimal.NewFromInt(3)
	case 5*used < 4*capacity: // u < 0.8
		return decimal.NewFromInt(4)
	default:
		return decimal.NewFromInt(5)
	}
}

// MarketPrice returns the continuous demand-relative price of a survivor:
//
//	price = clamp(m + ((k·(n/T) − 1)·m), 0.01, 2m)
//
// where n is the survivor's globally issued shares, T the total issued across
// all available survivors, k the count of available survivors, and m the
// season median price.
//
// A survivor nobody holds (n=0) prices at the floor 0.01. Degenerate inputs
// (T≤0, k≤0, m≤0) fall back to 1. Eliminated survivors are never passed here;
// their price is frozen on the survivor record at delist time.
func MarketPrice(issued, totalIssued int64, available int, median decimal.Decimal) decimal.Decimal {
	if issued <= 0 {
		return MinMarketPrice
	}
	if totalIssued <= 0 || available <= 0 || !median.IsPositive() {
		return decimal.NewFromInt(1)
	}

	demand := decimal.NewFromInt(issued).Div(decimal.NewFromInt(totalIssued)) // n/T
	k := decimal.NewFromInt(int64(available))
	price := median.Add(k.Mul(demand).Sub(decimal.NewFromInt(1)).Mul(median))

	ceiling := median.Mul(decimal.NewFromInt(2))
	if price.LessThan(MinMarketPrice) {
		return MinMarketPrice
	}
	if price.GreaterThan(ceiling) {
		return ceiling
	}
	return price
}
