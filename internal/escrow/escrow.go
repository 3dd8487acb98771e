// Package escrow implements the peer-to-peer trade protocol: a sender offers
// money and/or stocks to another accepted member of the same group, and the
// recipient accepts, declines, or the sender cancels.
//
// Assets are NOT escrowed out of the sender's ledger at send time — a player
// may keep multiple offers outstanding without locking up assets. The cost is
// that late acceptance can fail: accept re-validates both sides and applies
// the four-way transfer atomically, or leaves the trade pending with a
// specific error.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/ledger"
	"github.com/castmarket/settlement-engine/internal/model"
	"github.com/castmarket/settlement-engine/internal/store"
)

var (
	// ErrEmptyTrade is returned when both the offer and the request carry
	// no value.
	ErrEmptyTrade = errors.New("escrow: offer and request are both empty")

	// ErrInvalidTradeState is returned for a transition by the wrong actor
	// or on a trade that already left pending.
	ErrInvalidTradeState = errors.New("escrow: invalid trade transition")

	// ErrInvalidTrade is returned for malformed trade input (solo group,
	// self-trade, non-member, negative amounts).
	ErrInvalidTrade = errors.New("escrow: invalid trade")
)

// Respond actions.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
	ActionCancel  = "cancel"
)

// Service runs the trade protocol. It shares the ledger service's mutex so
// acceptance serializes against concurrent order execution — a buy landing
// between send and accept is re-validated under the same critical section
// that applies the transfer.
type Service struct {
	store store.Store
	mu    *sync.Mutex
}

// NewService creates a trade escrow service. mu must be the ledger service's
// serialization mutex.
func NewService(st store.Store, mu *sync.Mutex) *Service {
	return &Service{store: st, mu: mu}
}

// Send validates and persists a new pending trade.
func (s *Service) Send(ctx context.Context, t *model.Trade) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.SenderID == t.RecipientID {
		return nil, fmt.Errorf("%w: cannot trade with yourself", ErrInvalidTrade)
	}
	if t.OfferMoney.IsNegative() || t.RequestMoney.IsNegative() {
		return nil, fmt.Errorf("%w: money amounts cannot be negative", ErrInvalidTrade)
	}
	for _, line := range append(append([]model.StockLine{}, t.OfferStocks...), t.RequestStocks...) {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: stock quantities must be positive", ErrInvalidTrade)
		}
	}
	if t.Empty() {
		return nil, ErrEmptyTrade
	}

	g, err := s.store.GetGroup(ctx, t.GroupID)
	if err != nil {
		return nil, err
	}
	if g.Solo() {
		return nil, fmt.Errorf("%w: cannot trade in a solo group", ErrInvalidTrade)
	}
	if !g.IsAcceptedMember(t.SenderID) || !g.IsAcceptedMember(t.RecipientID) {
		return nil, fmt.Errorf("%w: both parties must be accepted group members", ErrInvalidTrade)
	}

	ep, err := s.currentEpisode(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := s.store.GetLedger(ctx, t.SenderID, t.GroupID)
	if err != nil {
		return nil, err
	}
	if err := checkSide(sender, ep, t.OfferMoney, t.OfferStocks); err != nil {
		return nil, err
	}

	t.ID = uuid.New().String()
	t.Status = model.TradePending
	t.CreatedAt = time.Now().UTC()
	t.ResolvedAt = nil
	if err := s.store.CreateTrade(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Respond applies accept/decline/cancel to a pending trade. Only the
// recipient may accept or decline; only the sender may cancel. Terminal
// trades reject every transition and cause no ledger mutation.
func (s *Service) Respond(ctx context.Context, tradeID, userID, action string) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TradePending {
		return nil, fmt.Errorf("%w: trade is already %s", ErrInvalidTradeState, t.Status)
	}

	switch action {
	case ActionAccept:
		if userID != t.RecipientID {
			return nil, fmt.Errorf("%w: only the recipient may accept", ErrInvalidTradeState)
		}
		if err := s.accept(ctx, t); err != nil {
			return nil, err
		}
	case ActionDecline:
		if userID != t.RecipientID {
			return nil, fmt.Errorf("%w: only the recipient may decline", ErrInvalidTradeState)
		}
		if err := s.finish(ctx, t, model.TradeDeclined); err != nil {
			return nil, err
		}
	case ActionCancel:
		if userID != t.SenderID {
			return nil, fmt.Errorf("%w: only the sender may cancel", ErrInvalidTradeState)
		}
		if err := s.finish(ctx, t, model.TradeCancelled); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTradeState, action)
	}

	return t, nil
}

// accept re-validates both sides against their live ledgers — the sender may
// have traded the offered assets away since sending — then applies the
// four-way transfer as one atomic unit. On a validation failure the trade
// stays pending; the recipient may retry later or the sender may cancel.
func (s *Service) accept(ctx context.Context, t *model.Trade) error {
	ep, err := s.currentEpisode(ctx)
	if err != nil {
		return err
	}
	sender, err := s.store.GetLedger(ctx, t.SenderID, t.GroupID)
	if err != nil {
		return err
	}
	recipient, err := s.store.GetLedger(ctx, t.RecipientID, t.GroupID)
	if err != nil {
		return err
	}

	if err := checkSide(sender, ep, t.OfferMoney, t.OfferStocks); err != nil {
		return fmt.Errorf("sender side: %w", err)
	}
	if err := checkSide(recipient, ep, t.RequestMoney, t.RequestStocks); err != nil {
		return fmt.Errorf("recipient side: %w", err)
	}

	// Sender loses the offer and gains the request; the recipient is the
	// mirror image.
	moveMoney(sender, recipient, t.OfferMoney)
	moveMoney(recipient, sender, t.RequestMoney)
	moveStocks(sender, recipient, t.OfferStocks)
	moveStocks(recipient, sender, t.RequestStocks)

	now := time.Now().UTC()
	t.Status = model.TradeAccepted
	t.ResolvedAt = &now
	return s.store.ApplyTransfer(ctx, t, sender, recipient)
}

func (s *Service) finish(ctx context.Context, t *model.Trade, status string) error {
	now := time.Now().UTC()
	t.Status = status
	t.ResolvedAt = &now
	return s.store.UpdateTrade(ctx, t)
}

// currentEpisode loads the live episode for the locked-budget spend rule.
// No current episode means no freeze in effect.
func (s *Service) currentEpisode(ctx context.Context) (*model.Episode, error) {
	ep, err := s.store.GetCurrentEpisode(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return ep, nil
}

// checkSide validates that a ledger currently holds the money and stocks a
// trade side commits it to. The money side is capped at the spendable
// balance, so a locked base budget cannot leave via a trade while an
// episode is on air.
func checkSide(l *model.Ledger, ep *model.Episode, money decimal.Decimal, stocks []model.StockLine) error {
	if avail := ledger.Spendable(l, ep); avail.LessThan(money) {
		return fmt.Errorf("%w: need %s, have %s spendable", ledger.ErrInsufficientFunds, money, avail)
	}
	for _, line := range stocks {
		if held := l.Holding(line.Survivor); held < line.Quantity {
			return fmt.Errorf("%w: own %d shares of %s, trade needs %d",
				ledger.ErrInsufficientHoldings, held, line.Survivor, line.Quantity)
		}
	}
	return nil
}

func moveMoney(from, to *model.Ledger, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	from.Budget = from.Budget.Sub(amount)
	to.Budget = to.Budget.Add(amount)
}

func moveStocks(from, to *model.Ledger, stocks []model.StockLine) {
	for _, line := range stocks {
		subFrom(&from.Portfolio, line.Survivor, line.Quantity)
		addToMap(&to.Portfolio, line.Survivor, line.Quantity)
	}
}

func subFrom(m *map[string]int64, key string, qty int64) {
	addToMap(m, key, -qty)
}

func addToMap(m *map[string]int64, key string, delta int64) {
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
