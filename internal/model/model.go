// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal — never float64 for money.
// Share and short quantities are whole units and use int64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Survivor is a tradable market instrument: one contestant in the season.
// Delisting (elimination) flips Available to false and freezes the price.
type Survivor struct {
	Name         string          `json:"name" db:"name"` // unique key
	Available    bool            `json:"available" db:"available"`
	IssuedShares int64           `json:"issued_shares" db:"issued_shares"` // cumulative across all groups
	FrozenPrice  decimal.Decimal `json:"frozen_price" db:"frozen_price"`   // last market price at delist
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// GroupMember is one membership row. Capacity and trading rights only count
// members who have accepted the invite.
type GroupMember struct {
	UserID   string `json:"user_id"`
	Accepted bool   `json:"accepted"`
}

// Group is a shared play context. SharesUsed/ShortsUsed track the pooled
// demand per survivor; MaxBudget is the per-episode watermark history of the
// best achievable budget, with MaxBudgetLog explaining each derivation.
type Group struct {
	ID           string                  `json:"id"`
	OwnerID      string                  `json:"owner_id"`
	Name         string                  `json:"name"`
	Members      []GroupMember           `json:"members"`
	SharesUsed   map[string]int64        `json:"shares_used"` // survivor → shares issued in this group
	ShortsUsed   map[string]int64        `json:"shorts_used"`
	MaxBudget    map[int]decimal.Decimal `json:"max_budget"` // episode week → watermark
	MaxBudgetLog map[int]string          `json:"max_budget_log"`
	CreatedAt    time.Time               `json:"created_at"`
}

// AcceptedMembers returns the count of members who accepted their invite.
func (g *Group) AcceptedMembers() int {
	n := 0
	for _, m := range g.Members {
		if m.Accepted {
			n++
		}
	}
	return n
}

// IsAcceptedMember reports whether userID is an accepted member.
func (g *Group) IsAcceptedMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID && m.Accepted {
			return true
		}
	}
	return false
}

// Solo reports whether the group has at most one accepted member (the
// auto-created default play context). Solo groups cannot trade peer-to-peer.
func (g *Group) Solo() bool {
	return g.AcceptedMembers() <= 1
}

// BonusEntry is one append-only settlement log record on a ledger.
type BonusEntry struct {
	Kind      string          `json:"kind"` // event kind, "bootOrder" or "shortPayout"
	Survivor  string          `json:"survivor,omitempty"`
	Shares    int64           `json:"shares"` // holding size at time of award
	Amount    decimal.Decimal `json:"amount"` // signed: penalties are negative
	Timestamp time.Time       `json:"timestamp"`
}

// Ledger is the per (user, group) portfolio: the unit of mutation for
// buy/sell/short/cover and the target of settlement credits.
type Ledger struct {
	UserID       string           `json:"user_id"`
	GroupID      string           `json:"group_id"`
	Budget       decimal.Decimal  `json:"budget"`
	Portfolio    map[string]int64 `json:"portfolio"` // survivor → shares owned; absent key = 0
	Shorts       map[string]int64 `json:"shorts"`
	LockedBudget decimal.Decimal  `json:"locked_budget"` // snapshot taken at episode go-live
	BudgetLocked bool             `json:"budget_locked"`
	BootOrders   map[int][]string `json:"boot_orders"` // episode week → predicted boot order
	FinaleOrders map[int][]string `json:"finale_orders"`
	Bonuses      []BonusEntry     `json:"bonuses"`
}

// Holding returns the owned share count for a survivor; absent key means 0.
func (l *Ledger) Holding(survivor string) int64 {
	return l.Portfolio[survivor]
}

// ShortHolding returns the owned short count for a survivor.
func (l *Ledger) ShortHolding(survivor string) int64 {
	return l.Shorts[survivor]
}

// BonusBalance is the surplus above the locked snapshot — the portion of the
// budget a player may spend while an episode is live. Never negative.
func (l *Ledger) BonusBalance() decimal.Decimal {
	if !l.BudgetLocked {
		return l.Budget
	}
	surplus := l.Budget.Sub(l.LockedBudget)
	if surplus.IsNegative() {
		return decimal.Zero
	}
	return surplus
}

// Trade statuses. A trade leaves pending exactly once and is never mutated
// after reaching a terminal state.
const (
	TradePending   = "pending"
	TradeAccepted  = "accepted"
	TradeDeclined  = "declined"
	TradeCancelled = "cancelled"
)

// StockLine is one survivor/quantity pair on a trade offer or request.
type StockLine struct {
	Survivor string `json:"survivor"`
	Quantity int64  `json:"quantity"`
}

// Trade is a peer-to-peer offer between two accepted members of one group.
// Assets are not escrowed at send time; acceptance re-validates both sides.
type Trade struct {
	ID            string          `json:"id"`
	SenderID      string          `json:"sender_id"`
	RecipientID   string          `json:"recipient_id"`
	GroupID       string          `json:"group_id"`
	OfferMoney    decimal.Decimal `json:"offer_money"`
	OfferStocks   []StockLine     `json:"offer_stocks"`
	RequestMoney  decimal.Decimal `json:"request_money"`
	RequestStocks []StockLine     `json:"request_stocks"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// Empty reports whether both sides of the trade carry no value.
func (t *Trade) Empty() bool {
	if t.OfferMoney.IsPositive() || t.RequestMoney.IsPositive() {
		return false
	}
	for _, s := range t.OfferStocks {
		if s.Quantity > 0 {
			return false
		}
	}
	for _, s := range t.RequestStocks {
		if s.Quantity > 0 {
			return false
		}
	}
	return true
}

// Episode is one week's event log plus the live-broadcast flags. The
// ShareSnapshot of final per-survivor totals is taken at week close and feeds
// historical price reconstruction.
type Episode struct {
	ID              string           `json:"id"`
	Week            int              `json:"week"`
	Current         bool             `json:"current"`
	OnAir           bool             `json:"on_air"`
	TribalCouncil   bool             `json:"tribal_council"`
	AirEnds         time.Time        `json:"air_ends"`
	ChallengeWins   []string         `json:"challenge_wins"`
	ChallengeLosses []string         `json:"challenge_losses"`
	VotedRight      []string         `json:"voted_right"`
	VotedWrong      []string         `json:"voted_wrong"`
	IdolsFound      []string         `json:"idols_found"`
	IdolsPlayed     []string         `json:"idols_played"`
	VotedOut        []string         `json:"voted_out"`
	ShareSnapshot   map[string]int64 `json:"share_snapshot"`
}

// Season holds the monotonic week counter and the season-wide median price
// used by the continuous pricing model.
type Season struct {
	ID          string          `json:"id"`
	CurrentWeek int             `json:"current_week"`
	MedianPrice decimal.Decimal `json:"median_price"`
}
