// Package pool enforces the group share-pool capacity invariant.
//
// Every group exposes 50 shares and 50 shorts of each survivor per accepted
// member. A buy or short that would push the group's used count past capacity
// is rejected before any mutation; the returned error names how many units
// remain so the message can be surfaced to the player verbatim.
package pool

import (
	"errors"
	"fmt"

	"github.com/castmarket/settlement-engine/internal/model"
	"github.com/castmarket/settlement-engine/internal/pricing"
)

// ErrCapacityExceeded is returned when a buy/short would exceed the group's
// per-survivor pool capacity.
var ErrCapacityExceeded = errors.New("pool: group capacity exceeded")

// Capacity returns the group's per-survivor pool capacity for both shares
// and shorts.
func Capacity(g *model.Group) int64 {
	return pricing.Capacity(g.AcceptedMembers())
}

// AvailableShares returns how many more shares of a survivor the group can
// absorb. Never negative.
func AvailableShares(g *model.Group, survivor string) int64 {
	return remaining(Capacity(g), g.SharesUsed[survivor])
}

// AvailableShorts returns how many more shorts of a survivor the group can
// absorb.
func AvailableShorts(g *model.Group, survivor string) int64 {
	return remaining(Capacity(g), g.ShortsUsed[survivor])
}

func remaining(capacity, used int64) int64 {
	if used >= capacity {
		return 0
	}
	return capacity - used
}

// CheckShares validates that qty more shares of a survivor fit in the group
// pool.
func CheckShares(g *model.Group, survivor string, qty int64) error {
	if avail := AvailableShares(g, survivor); qty > avail {
		return fmt.Errorf("%w: only %d shares of %s available in this group",
			ErrCapacityExceeded, avail, survivor)
	}
	return nil
}

// CheckShorts validates that qty more shorts of a survivor fit in the group
// pool.
func CheckShorts(g *model.Group, survivor string, qty int64) error {
	if avail := AvailableShorts(g, survivor); qty > avail {
		return fmt.Errorf("%w: only %d shorts of %s available in this group",
			ErrCapacityExceeded, avail, survivor)
	}
	return nil
}
