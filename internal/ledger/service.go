// Package ledger implements the portfolio ledger: the buy/sell/short/cover
// operations that move budget and shares between a player and the group pool,
// and the derived portfolio snapshot served to the UI.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/model"
	"github.com/castmarket/settlement-engine/internal/pool"
	"github.com/castmarket/settlement-engine/internal/pricing"
	"github.com/castmarket/settlement-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when the spendable budget cannot
	// cover the order cost.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientHoldings is returned when a sell/cover exceeds the
	// owned quantity.
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")

	// ErrSurvivorUnavailable is returned when buying or shorting an
	// eliminated survivor.
	ErrSurvivorUnavailable = errors.New("ledger: survivor is no longer tradable")

	// ErrTradingFrozen is returned while the live-broadcast rules suppress
	// the requested operation (buy/short during tribal council, sell/cover
	// while the episode is on-air).
	ErrTradingFrozen = errors.New("ledger: trading is frozen")

	// ErrInvalidOrder is returned for malformed order input.
	ErrInvalidOrder = errors.New("ledger: invalid order")
)

// Order actions.
const (
	ActionBuy   = "buy"
	ActionSell  = "sell"
	ActionShort = "short"
	ActionCover = "cover"
)

// Service executes portfolio mutations. A mutex serializes order execution
// (single-instance); the store applies each order's documents atomically.
// For horizontal scaling, replace with distributed locking or database-level
// optimistic concurrency.
type Service struct {
	store          store.Store
	startingBudget decimal.Decimal
	mu             sync.Mutex
	hub            *Hub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new ledger service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, startingBudget decimal.Decimal, hub *Hub) *Service {
	return &Service{
		store:          st,
		startingBudget: startingBudget,
		hub:            hub,
	}
}

// Mu exposes the serialization mutex so that trade acceptance and episode
// settlement can run under the same critical section as order execution.
func (s *Service) Mu() *sync.Mutex {
	return &s.mu
}

// Store returns the backing store.
func (s *Service) Store() store.Store {
	return s.store
}

// Execute runs one buy/sell/short/cover against a (user, group) ledger.
// Validation happens before any mutation; the ledger, the survivor's global
// issued counter, and the group's pool counters are then persisted as one
// atomic unit.
func (s *Service) Execute(ctx context.Context, userID, groupID, survivor string, qty int64, action string) (*model.Ledger, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ep, err := s.store.GetCurrentEpisode(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := checkFreeze(ep, action); err != nil {
		return nil, err
	}

	sv, err := s.store.GetSurvivor(ctx, survivor)
	if err != nil {
		return nil, err
	}
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	l, err := s.store.GetLedger(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}

	capacity := pool.Capacity(g)

	switch action {
	case ActionBuy:
		if !sv.Available {
			return nil, fmt.Errorf("%w: %s", ErrSurvivorUnavailable, survivor)
		}
		if err := pool.CheckShares(g, survivor, qty); err != nil {
			return nil, err
		}
		price := pricing.TierPrice(g.SharesUsed[survivor], capacity)
		cost := price.Mul(decimal.NewFromInt(qty))
		if cost.GreaterThan(Spendable(l, ep)) {
			return nil, fmt.Errorf("%w: need %s, have %s spendable",
				ErrInsufficientFunds, cost, Spendable(l, ep))
		}
		l.Budget = l.Budget.Sub(cost)
		addTo(&l.Portfolio, survivor, qty)
		sv.IssuedShares += qty
		addTo(&g.SharesUsed, survivor, qty)

	case ActionSell:
		if held := l.Holding(survivor); held < qty {
			return nil, fmt.Errorf("%w: own %d shares of %s, tried to sell %d",
				ErrInsufficientHoldings, held, survivor, qty)
		}
		price := pricing.TierPrice(g.SharesUsed[survivor], capacity)
		l.Budget = l.Budget.Add(price.Mul(decimal.NewFromInt(qty)))
		addTo(&l.Portfolio, survivor, -qty)
		sv.IssuedShares -= qty
		addTo(&g.SharesUsed, survivor, -qty)

	case ActionShort:
		if !sv.Available {
			return nil, fmt.Errorf("%w: %s", ErrSurvivorUnavailable, survivor)
		}
		if err := pool.CheckShorts(g, survivor, qty); err != nil {
			return nil, err
		}
		price := pricing.TierPrice(g.ShortsUsed[survivor], capacity)
		cost := price.Mul(decimal.NewFromInt(qty))
		if cost.GreaterThan(Spendable(l, ep)) {
			return nil, fmt.Errorf("%w: need %s, have %s spendable",
				ErrInsufficientFunds, cost, Spendable(l, ep))
		}
		l.Budget = l.Budget.Sub(cost)
		addTo(&l.Shorts, survivor, qty)
		addTo(&g.ShortsUsed, survivor, qty)

	case ActionCover:
		if held := l.ShortHolding(survivor); held < qty {
			return nil, fmt.Errorf("%w: own %d shorts of %s, tried to cover %d",
				ErrInsufficientHoldings, held, survivor, qty)
		}
		price := pricing.TierPrice(g.ShortsUsed[survivor], capacity)
		l.Budget = l.Budget.Add(price.Mul(decimal.NewFromInt(qty)))
		addTo(&l.Shorts, survivor, -qty)
		addTo(&g.ShortsUsed, survivor, -qty)

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidOrder, action)
	}

	if err := s.store.ApplyOrder(ctx, l, sv, g); err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.Broadcast(Message{
			Type:     "order_executed",
			Survivor: survivor,
			GroupID:  groupID,
			Action:   action,
			Quantity: qty,
			Price:    pricing.TierPrice(g.SharesUsed[survivor], capacity).String(),
		})
	}

	return l, nil
}

func newID() string { return uuid.New().String() }

// checkFreeze applies the live-broadcast trading rules: buy/short are
// rejected during tribal council; sell/cover are rejected only while the
// episode is on-air, so positions lock during the broadcast but can be
// exited once it ends and before the next tribal council.
func checkFreeze(ep *model.Episode, action string) error {
	if ep == nil {
		return nil
	}
	switch action {
	case ActionBuy, ActionShort:
		if ep.TribalCouncil {
			return fmt.Errorf("%w: tribal council is in progress", ErrTradingFrozen)
		}
	case ActionSell, ActionCover:
		if ep.OnAir {
			return fmt.Errorf("%w: episode is on air", ErrTradingFrozen)
		}
	}
	return nil
}

// Spendable returns how much budget a spend may consume right now. While an
// episode is live and the ledger carries a locked snapshot, only the surplus
// above the snapshot — the bonus balance — is spendable. The same rule
// applies to orders and to the money side of trades.
func Spendable(l *model.Ledger, ep *model.Episode) decimal.Decimal {
	if ep != nil && ep.OnAir && l.BudgetLocked {
		return l.BonusBalance()
	}
	return l.Budget
}

// addTo adjusts a count map entry, allocating the map on first write and
// deleting zeroed keys so absence always means zero.
func addTo(m *map[string]int64, key string, delta int64) {
	if *m == nil {
		*m = make(map[string]int64)
	}
	next := (*m)[key] + delta
	if next == 0 {
		delete(*m, key)
		return
	}
	(*m)[key] = next
}

// NetWorth values a ledger as budget plus long holdings at the group's
// current tiered prices. Shorts are excluded — they settle only at
// elimination or episode end.
func NetWorth(l *model.Ledger, g *model.Group) decimal.Decimal {
	capacity := pool.Capacity(g)
	total := l.Budget
	for survivor, qty := range l.Portfolio {
		price := pricing.TierPrice(g.SharesUsed[survivor], capacity)
		total = total.Add(price.Mul(decimal.NewFromInt(qty)))
	}
	return total
}

// EnsurePlayer provisions a user's default play context: a solo group owned
// by the user plus its ledger, credited with the starting budget. Idempotent
// per user.
func (s *Service) EnsurePlayer(ctx context.Context, userID string) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		g := &groups[i]
		if g.OwnerID == userID && g.Solo() {
			return g, nil
		}
	}
	g := &model.Group{
		ID:        newID(),
		OwnerID:   userID,
		Name:      userID,
		Members:   []model.GroupMember{{UserID: userID, Accepted: true}},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	if err := s.createLedger(ctx, userID, g.ID); err != nil {
		return nil, err
	}
	return g, nil
}

// CreateGroup creates a shared group. The owner joins accepted; invited
// members join pending and get a ledger when they accept.
func (s *Service) CreateGroup(ctx context.Context, ownerID, name string, memberIDs []string) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := []model.GroupMember{{UserID: ownerID, Accepted: true}}
	for _, id := range memberIDs {
		if id == ownerID {
			continue
		}
		members = append(members, model.GroupMember{UserID: id})
	}
	g := &model.Group{
		ID:        newID(),
		OwnerID:   ownerID,
		Name:      name,
		Members:   members,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	if err := s.createLedger(ctx, ownerID, g.ID); err != nil {
		return nil, err
	}
	return g, nil
}

// AcceptInvite marks a pending membership accepted and provisions the
// member's ledger. Accepting grows the group's pool capacity.
func (s *Service) AcceptInvite(ctx context.Context, groupID, userID string) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	found := false
	for i := range g.Members {
		if g.Members[i].UserID == userID {
			if g.Members[i].Accepted {
				return g, nil // already in
			}
			g.Members[i].Accepted = true
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("user %s not invited to group %s: %w", userID, groupID, store.ErrNotFound)
	}
	if err := s.store.UpdateGroup(ctx, g); err != nil {
		return nil, err
	}
	if err := s.createLedger(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) createLedger(ctx context.Context, userID, groupID string) error {
	l := &model.Ledger{
		UserID:  userID,
		GroupID: groupID,
		Budget:  s.startingBudget,
	}
	return s.store.CreateLedger(ctx, l)
}

// RecordPrediction stores a boot-order (or finale-order) prediction for the
// current week. Replaces any earlier prediction for the same week.
func (s *Service) RecordPrediction(ctx context.Context, userID, groupID string, order []string, finale bool) (*model.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	season, err := s.store.GetSeason(ctx)
	if err != nil {
		return nil, err
	}
	l, err := s.store.GetLedger(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if finale {
		if l.FinaleOrders == nil {
			l.FinaleOrders = make(map[int][]string)
		}
		l.FinaleOrders[season.CurrentWeek] = order
	} else {
		if l.BootOrders == nil {
			l.BootOrders = make(map[int][]string)
		}
		l.BootOrders[season.CurrentWeek] = order
	}
	if err := s.store.UpdateLedger(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}
