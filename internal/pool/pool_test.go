package pool

import (
	"errors"
	"strings"
	"testing"

	"github.com/castmarket/settlement-engine/internal/model"
)

func group(accepted int) *model.Group {
	g := &model.Group{
		ID:         "g1",
		SharesUsed: map[string]int64{},
		ShortsUsed: map[string]int64{},
	}
	for i := 0; i < accepted; i++ {
		g.Members = append(g.Members, model.GroupMember{UserID: "u", Accepted: true})
	}
	return g
}

func TestCapacity_CountsAcceptedOnly(t *testing.T) {
	g := group(2)
	g.Members = append(g.Members, model.GroupMember{UserID: "pending", Accepted: false})
	if got := Capacity(g); got != 100 {
		t.Errorf("Capacity = %d, want 100 (pending invites must not count)", got)
	}
}

func TestAvailableShares_FullPoolWhenUnused(t *testing.T) {
	g := group(2)
	if got := AvailableShares(g, "kara"); got != 100 {
		t.Errorf("AvailableShares = %d, want 100", got)
	}
}

func TestAvailableShares_NeverNegative(t *testing.T) {
	g := group(1)
	g.SharesUsed["kara"] = 75 // over capacity after a member left
	if got := AvailableShares(g, "kara"); got != 0 {
		t.Errorf("AvailableShares = %d, want 0", got)
	}
}

func TestCheckShares_RejectsOverCapacity(t *testing.T) {
	g := group(2) // capacity 100
	g.SharesUsed["kara"] = 10

	err := CheckShares(g, "kara", 95)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "only 90 shares of kara") {
		t.Errorf("error should name remaining units, got %q", err)
	}
}

func TestCheckShares_AcceptsExactFill(t *testing.T) {
	g := group(2)
	g.SharesUsed["kara"] = 10
	if err := CheckShares(g, "kara", 90); err != nil {
		t.Errorf("filling pool exactly should pass, got %v", err)
	}
}

func TestCheckShorts_IndependentOfShares(t *testing.T) {
	g := group(1) // capacity 50 each side
	g.SharesUsed["marco"] = 50

	// Share pool exhausted; short pool untouched.
	if err := CheckShorts(g, "marco", 50); err != nil {
		t.Errorf("short pool should be independent of share pool, got %v", err)
	}
	g.ShortsUsed["marco"] = 50
	if err := CheckShorts(g, "marco", 1); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded on full short pool, got %v", err)
	}
}

func TestCheckShares_DistinctSurvivorsDistinctPools(t *testing.T) {
	g := group(1)
	g.SharesUsed["kara"] = 50
	if err := CheckShares(g, "marco", 50); err != nil {
		t.Errorf("each survivor has its own pool, got %v", err)
	}
}
