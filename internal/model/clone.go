package model

import "github.com/shopspring/decimal"

// Deep-copy helpers. Stores hand out copies so callers can mutate freely and
// persist through an explicit write; these keep the map and slice fields from
// aliasing store-internal state.

func cloneInt64Map(m map[string]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	out := *g
	out.Members = make([]GroupMember, len(g.Members))
	copy(out.Members, g.Members)
	out.SharesUsed = cloneInt64Map(g.SharesUsed)
	out.ShortsUsed = cloneInt64Map(g.ShortsUsed)
	if g.MaxBudget != nil {
		out.MaxBudget = make(map[int]decimal.Decimal, len(g.MaxBudget))
		for k, v := range g.MaxBudget {
			out.MaxBudget[k] = v
		}
	}
	if g.MaxBudgetLog != nil {
		out.MaxBudgetLog = make(map[int]string, len(g.MaxBudgetLog))
		for k, v := range g.MaxBudgetLog {
			out.MaxBudgetLog[k] = v
		}
	}
	return &out
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	out := *l
	out.Portfolio = cloneInt64Map(l.Portfolio)
	out.Shorts = cloneInt64Map(l.Shorts)
	if l.BootOrders != nil {
		out.BootOrders = make(map[int][]string, len(l.BootOrders))
		for k, v := range l.BootOrders {
			out.BootOrders[k] = cloneStrings(v)
		}
	}
	if l.FinaleOrders != nil {
		out.FinaleOrders = make(map[int][]string, len(l.FinaleOrders))
		for k, v := range l.FinaleOrders {
			out.FinaleOrders[k] = cloneStrings(v)
		}
	}
	out.Bonuses = make([]BonusEntry, len(l.Bonuses))
	copy(out.Bonuses, l.Bonuses)
	return &out
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	out := *t
	out.OfferStocks = make([]StockLine, len(t.OfferStocks))
	copy(out.OfferStocks, t.OfferStocks)
	out.RequestStocks = make([]StockLine, len(t.RequestStocks))
	copy(out.RequestStocks, t.RequestStocks)
	if t.ResolvedAt != nil {
		ts := *t.ResolvedAt
		out.ResolvedAt = &ts
	}
	return &out
}

// Clone returns a deep copy of the episode.
func (e *Episode) Clone() *Episode {
	out := *e
	out.ChallengeWins = cloneStrings(e.ChallengeWins)
	out.ChallengeLosses = cloneStrings(e.ChallengeLosses)
	out.VotedRight = cloneStrings(e.VotedRight)
	out.VotedWrong = cloneStrings(e.VotedWrong)
	out.IdolsFound = cloneStrings(e.IdolsFound)
	out.IdolsPlayed = cloneStrings(e.IdolsPlayed)
	out.VotedOut = cloneStrings(e.VotedOut)
	out.ShareSnapshot = cloneInt64Map(e.ShareSnapshot)
	return &out
}
