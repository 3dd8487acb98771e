// Package settle implements end-of-episode settlement: converting the
// episode's event log into ledger credits and debits, and simulating the
// best achievable budget per group — the benchmark players are scored
// against.
//
// Settlement is an offline batch, not a user-facing request: a failure on
// one group or ledger is logged and skipped, never aborting the rest.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/event"
	"github.com/castmarket/settlement-engine/internal/metrics"
	"github.com/castmarket/settlement-engine/internal/model"
	"github.com/castmarket/settlement-engine/internal/pool"
	"github.com/castmarket/settlement-engine/internal/store"
)

// BootBonusBase is the payout for predicting an elimination exactly first.
// Each rank of error decays the payout by BootBonusDecay, floored at 0.
var (
	BootBonusBase  = decimal.NewFromInt(100)
	BootBonusDecay = decimal.NewFromInt(20)
)

// Settler runs episode settlement over every group and ledger.
type Settler struct {
	store          store.Store
	startingBudget decimal.Decimal // seeds the watermark before the first episode
	mu             *sync.Mutex
}

// NewSettler creates a settler. mu must be the ledger service's
// serialization mutex so settlement never races live order execution.
func NewSettler(st store.Store, startingBudget decimal.Decimal, mu *sync.Mutex) *Settler {
	return &Settler{store: st, startingBudget: startingBudget, mu: mu}
}

// Report summarizes one settlement run.
type Report struct {
	Week            int `json:"week"`
	GroupsSettled   int `json:"groups_settled"`
	GroupsFailed    int `json:"groups_failed"`
	LedgersCredited int `json:"ledgers_credited"`
}

// SettleEpisode converts the episode's event log into ledger credits for
// every user×group ledger and writes each group's new max-possible-budget
// watermark.
func (s *Settler) SettleEpisode(ctx context.Context, ep *model.Episode) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settleLocked(ctx, ep)
}

// SettleEpisodeLocked is SettleEpisode for callers already holding the
// serialization mutex (the week-advance transition).
func (s *Settler) SettleEpisodeLocked(ctx context.Context, ep *model.Episode) (*Report, error) {
	return s.settleLocked(ctx, ep)
}

func (s *Settler) settleLocked(ctx context.Context, ep *model.Episode) (*Report, error) {
	start := time.Now()
	defer func() {
		metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	}()

	season, err := s.store.GetSeason(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Week: ep.Week}
	for i := range groups {
		g := &groups[i]
		credited, err := s.settleGroup(ctx, g, ep, season)
		if err != nil {
			// Offline batch: log for operator follow-up and keep going.
			report.GroupsFailed++
			metrics.SettlementErrors.Inc()
			slog.Error("group settlement failed", "group", g.ID, "week", ep.Week, "err", err)
			continue
		}
		report.GroupsSettled++
		report.LedgersCredited += credited
	}

	slog.Info("episode settled",
		"week", ep.Week,
		"groups", report.GroupsSettled,
		"failed", report.GroupsFailed,
		"ledgers_credited", report.LedgersCredited,
	)
	return report, nil
}

func (s *Settler) settleGroup(ctx context.Context, g *model.Group, ep *model.Episode, season *model.Season) (int, error) {
	ledgers, err := s.store.ListGroupLedgers(ctx, g.ID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var changed []*model.Ledger
	for i := range ledgers {
		l := &ledgers[i]
		total, entries := scoreLedger(l, ep, now)
		// Only a net-positive total is persisted, as one bulk increment.
		// A wash or net-negative week leaves the ledger untouched.
		if !total.IsPositive() {
			continue
		}
		l.Budget = l.Budget.Add(total)
		l.Bonuses = append(l.Bonuses, entries...)
		changed = append(changed, l)
	}

	s.writeWatermark(g, ep, season)

	if err := s.store.ApplySettlement(ctx, g, changed); err != nil {
		return 0, err
	}
	return len(changed), nil
}

// scoreLedger computes one ledger's settlement for the episode: the signed
// total and the log entries explaining it.
func scoreLedger(l *model.Ledger, ep *model.Episode, now time.Time) (decimal.Decimal, []model.BonusEntry) {
	total := decimal.Zero
	var entries []model.BonusEntry

	// 1. Boot-order bonus: each correctly listed elimination pays by how
	// close its predicted rank was.
	order := l.BootOrders[ep.Week]
	for _, out := range ep.VotedOut {
		idx := indexOf(order, out)
		if idx < 0 {
			continue // unpredicted survivor pays 0
		}
		amount := BootBonusBase.Sub(BootBonusDecay.Mul(decimal.NewFromInt(int64(idx))))
		if !amount.IsPositive() {
			continue
		}
		total = total.Add(amount)
		entries = append(entries, model.BonusEntry{
			Kind:      "bootOrder",
			Survivor:  out,
			Amount:    amount,
			Timestamp: now,
		})
	}

	// 2. Stock event bonuses, multiplied by shares currently held. The same
	// events debit short holders at equal magnitude.
	for _, sc := range event.Scored(ep) {
		rate := sc.Kind.Rate()
		for _, name := range sc.Names {
			if shares := l.Holding(name); shares > 0 {
				amount := rate.Mul(decimal.NewFromInt(shares))
				total = total.Add(amount)
				entries = append(entries, model.BonusEntry{
					Kind:      string(sc.Kind),
					Survivor:  name,
					Shares:    shares,
					Amount:    amount,
					Timestamp: now,
				})
			}
			if shorts := l.ShortHolding(name); shorts > 0 {
				amount := rate.Mul(decimal.NewFromInt(shorts)).Neg()
				total = total.Add(amount)
				entries = append(entries, model.BonusEntry{
					Kind:      string(sc.Kind),
					Survivor:  name,
					Shares:    shorts,
					Amount:    amount,
					Timestamp: now,
				})
			}
		}
	}

	// 3. Short payout on elimination.
	for _, out := range ep.VotedOut {
		shorts := l.ShortHolding(out)
		if shorts <= 0 {
			continue
		}
		amount := event.ShortPayoutRate.Mul(decimal.NewFromInt(shorts))
		total = total.Add(amount)
		entries = append(entries, model.BonusEntry{
			Kind:      "shortPayout",
			Survivor:  out,
			Shares:    shorts,
			Amount:    amount,
			Timestamp: now,
		})
	}

	return total, entries
}

// writeWatermark runs the perfect-player simulation and records the group's
// new max-possible-budget plus the log explaining its derivation.
func (s *Settler) writeWatermark(g *model.Group, ep *model.Episode, season *model.Season) {
	prevMax := s.startingBudget
	if v, ok := g.MaxBudget[ep.Week-1]; ok {
		prevMax = v
	}

	bestSurvivor, bestRate := bestBonusRate(ep)
	bootBonus := BootBonusBase.Mul(decimal.NewFromInt(int64(len(ep.VotedOut))))

	price := season.MedianPrice
	if !price.IsPositive() {
		price = decimal.NewFromInt(1)
	}
	capacity := pool.Capacity(g)
	maxShares := prevMax.Div(price).Floor().IntPart()
	if maxShares > capacity {
		maxShares = capacity
	}

	spent := price.Mul(decimal.NewFromInt(maxShares))
	earned := bestRate.Mul(decimal.NewFromInt(maxShares))
	newMax := prevMax.Sub(spent).Add(bootBonus).Add(earned)
	if newMax.IsNegative() {
		newMax = decimal.Zero
	}

	if g.MaxBudget == nil {
		g.MaxBudget = make(map[int]decimal.Decimal)
	}
	if g.MaxBudgetLog == nil {
		g.MaxBudgetLog = make(map[int]string)
	}
	g.MaxBudget[ep.Week] = newMax
	g.MaxBudgetLog[ep.Week] = fmt.Sprintf(
		"week %d: start %s, bought %d shares at %s (best survivor %s, rate %s/share), perfect boot bonus %s, end %s",
		ep.Week, prevMax, maxShares, price, bestSurvivor, bestRate, bootBonus, newMax,
	)
}

// bestBonusRate aggregates each survivor's per-share event rates for the
// episode (stacking when several events hit the same survivor) and returns
// the best one.
func bestBonusRate(ep *model.Episode) (string, decimal.Decimal) {
	rates := make(map[string]decimal.Decimal)
	for _, sc := range event.Scored(ep) {
		rate := sc.Kind.Rate()
		for _, name := range sc.Names {
			rates[name] = rates[name].Add(rate)
		}
	}

	best := ""
	bestRate := decimal.Zero
	for name, rate := range rates {
		if rate.GreaterThan(bestRate) || (rate.Equal(bestRate) && (best == "" || name < best)) {
			best = name
			bestRate = rate
		}
	}
	if best == "" {
		best = "none"
	}
	return best, bestRate
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
