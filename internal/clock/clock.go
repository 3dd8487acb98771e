// Package clock owns the season state machine: the monotonic week counter,
// the single current episode, the on-air window with its hard wall-clock
// timeout, and the week-advance transition that drives settlement.
//
// The "current episode" is an explicit service here rather than a flag
// scanned across a collection: the store guarantees at most one current
// episode, and all transitions funnel through AdvanceWeek.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/event"
	"github.com/castmarket/settlement-engine/internal/ledger"
	"github.com/castmarket/settlement-engine/internal/metrics"
	"github.com/castmarket/settlement-engine/internal/model"
	"github.com/castmarket/settlement-engine/internal/pricing"
	"github.com/castmarket/settlement-engine/internal/settle"
	"github.com/castmarket/settlement-engine/internal/store"
)

// Clock drives the season. All transitions run under the ledger service's
// serialization mutex so week advance and on-air flips never race live
// trading.
type Clock struct {
	store     store.Store
	settler   *settle.Settler
	hub       *ledger.Hub
	mu        *sync.Mutex
	airWindow time.Duration
	median    decimal.Decimal

	airTimer *time.Timer
	cron     *cron.Cron
}

// New creates a clock. mu must be the ledger service's serialization mutex;
// hub may be nil.
func New(st store.Store, settler *settle.Settler, mu *sync.Mutex, hub *ledger.Hub, airWindow time.Duration, median decimal.Decimal) *Clock {
	return &Clock{
		store:     st,
		settler:   settler,
		hub:       hub,
		mu:        mu,
		airWindow: airWindow,
		median:    median,
	}
}

// Init bootstraps the season on first start: week 1 and its current episode.
// A second call is a no-op.
func (c *Clock) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.store.GetSeason(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	season := &model.Season{
		ID:          uuid.New().String(),
		CurrentWeek: 1,
		MedianPrice: c.median,
	}
	if err := c.store.SaveSeason(ctx, season); err != nil {
		return err
	}
	if err := c.store.CreateEpisode(ctx, c.newEpisode(1)); err != nil {
		return err
	}
	slog.Info("season initialized", "week", 1)
	return nil
}

func (c *Clock) newEpisode(week int) *model.Episode {
	return &model.Episode{
		ID:      uuid.New().String(),
		Week:    week,
		Current: true,
	}
}

// Schedule installs the automatic weekly advance from a cron expression.
// Returns the started scheduler; Stop it on shutdown.
func (c *Clock) Schedule(spec string) (*cron.Cron, error) {
	cr := cron.New()
	_, err := cr.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := c.AdvanceWeek(ctx); err != nil {
			slog.Error("scheduled week advance failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("clock: bad advance cron %q: %w", spec, err)
	}
	cr.Start()
	c.cron = cr
	return cr, nil
}

// AdvanceWeek runs the week transition: snapshot final share totals, delist
// the eliminated, settle the just-ended episode, write the new watermark,
// increment the week, open the next episode, and restart the on-air window.
func (c *Clock) AdvanceWeek(ctx context.Context) (*settle.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	season, err := c.store.GetSeason(ctx)
	if err != nil {
		return nil, err
	}
	ep, err := c.store.GetCurrentEpisode(ctx)
	if err != nil {
		return nil, err
	}

	// Snapshot final per-survivor share totals for historical pricing.
	survivors, err := c.store.ListSurvivors(ctx)
	if err != nil {
		return nil, err
	}
	ep.ShareSnapshot = make(map[string]int64, len(survivors))
	for _, sv := range survivors {
		ep.ShareSnapshot[sv.Name] = sv.IssuedShares
	}
	ep.OnAir = false
	ep.TribalCouncil = false
	if err := c.store.UpdateEpisode(ctx, ep); err != nil {
		return nil, err
	}

	if err := c.delistVotedOut(ctx, ep, survivors, season); err != nil {
		return nil, err
	}

	report, err := c.settler.SettleEpisodeLocked(ctx, ep)
	if err != nil {
		return nil, err
	}

	season.CurrentWeek++
	if err := c.store.SaveSeason(ctx, season); err != nil {
		return nil, err
	}
	next := c.newEpisode(season.CurrentWeek)
	if err := c.store.CreateEpisode(ctx, next); err != nil {
		return nil, err
	}
	if err := c.startAirLocked(ctx, next); err != nil {
		return nil, err
	}

	if c.hub != nil {
		c.hub.Broadcast(ledger.Message{Type: "week_advanced", Week: season.CurrentWeek})
	}
	slog.Info("week advanced", "week", season.CurrentWeek)
	return report, nil
}

// delistVotedOut freezes each eliminated survivor at its last computed
// market price and removes it from trading. An already-delisted survivor's
// price never changes again.
func (c *Clock) delistVotedOut(ctx context.Context, ep *model.Episode, survivors []model.Survivor, season *model.Season) error {
	if len(ep.VotedOut) == 0 {
		return nil
	}

	var totalIssued int64
	available := 0
	for _, sv := range survivors {
		if sv.Available {
			totalIssued += sv.IssuedShares
			available++
		}
	}

	out := make(map[string]bool, len(ep.VotedOut))
	for _, name := range ep.VotedOut {
		out[name] = true
	}

	for i := range survivors {
		sv := &survivors[i]
		if !out[sv.Name] || !sv.Available {
			continue
		}
		sv.FrozenPrice = pricing.MarketPrice(sv.IssuedShares, totalIssued, available, season.MedianPrice)
		sv.Available = false
		if err := c.store.UpdateSurvivor(ctx, sv); err != nil {
			return err
		}
		metrics.ActiveSurvivors.Dec()
		if c.hub != nil {
			c.hub.Broadcast(ledger.Message{
				Type:     "survivor_delisted",
				Survivor: sv.Name,
				Price:    sv.FrozenPrice.String(),
			})
		}
		slog.Info("survivor delisted", "name", sv.Name, "frozen_price", sv.FrozenPrice.String())
	}
	return nil
}

// StartAir opens the live-broadcast window: flags the current episode
// on-air, snapshots every ledger's budget (the locked base players cannot
// spend until the window closes), and arms the hard wall-clock timeout.
func (c *Clock) StartAir(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ep, err := c.store.GetCurrentEpisode(ctx)
	if err != nil {
		return err
	}
	return c.startAirLocked(ctx, ep)
}

func (c *Clock) startAirLocked(ctx context.Context, ep *model.Episode) error {
	ep.OnAir = true
	ep.AirEnds = time.Now().UTC().Add(c.airWindow)
	if err := c.store.UpdateEpisode(ctx, ep); err != nil {
		return err
	}
	if err := c.forEachLedger(ctx, func(l *model.Ledger) {
		l.LockedBudget = l.Budget
		l.BudgetLocked = true
	}); err != nil {
		return err
	}

	if c.airTimer != nil {
		c.airTimer.Stop()
	}
	c.airTimer = time.AfterFunc(c.airWindow, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.EndAir(ctx); err != nil {
			slog.Error("air window force-close failed", "err", err)
		}
	})

	slog.Info("episode on air", "week", ep.Week, "air_ends", ep.AirEnds)
	return nil
}

// EndAir closes the live-broadcast window and releases the locked budgets.
// Idempotent: closing an already-closed window is a no-op.
func (c *Clock) EndAir(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ep, err := c.store.GetCurrentEpisode(ctx)
	if err != nil {
		return err
	}
	if !ep.OnAir {
		return nil
	}
	ep.OnAir = false
	if err := c.store.UpdateEpisode(ctx, ep); err != nil {
		return err
	}
	if err := c.forEachLedger(ctx, func(l *model.Ledger) {
		l.BudgetLocked = false
		l.LockedBudget = decimal.Zero
	}); err != nil {
		return err
	}
	slog.Info("episode off air", "week", ep.Week)
	return nil
}

// SetTribalCouncil flips the tribal-council flag on the current episode.
// While set, buys and shorts are rejected (settlement runs in this window).
func (c *Clock) SetTribalCouncil(ctx context.Context, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ep, err := c.store.GetCurrentEpisode(ctx)
	if err != nil {
		return err
	}
	ep.TribalCouncil = active
	return c.store.UpdateEpisode(ctx, ep)
}

// RecordEvent appends a validated event to the current episode's log.
func (c *Clock) RecordEvent(ctx context.Context, kind, survivor string) (*model.Episode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k, err := event.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.GetSurvivor(ctx, survivor); err != nil {
		return nil, err
	}
	ep, err := c.store.GetCurrentEpisode(ctx)
	if err != nil {
		return nil, err
	}
	if err := event.Apply(ep, k, survivor); err != nil {
		return nil, err
	}
	if err := c.store.UpdateEpisode(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (c *Clock) forEachLedger(ctx context.Context, fn func(*model.Ledger)) error {
	groups, err := c.store.ListGroups(ctx)
	if err != nil {
		return err
	}
	for i := range groups {
		ledgers, err := c.store.ListGroupLedgers(ctx, groups[i].ID)
		if err != nil {
			return err
		}
		for j := range ledgers {
			l := &ledgers[j]
			fn(l)
			if err := c.store.UpdateLedger(ctx, l); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop halts the cron scheduler and the air timer.
func (c *Clock) Stop() {
	if c.cron != nil {
		c.cron.Stop()
	}
	if c.airTimer != nil {
		c.airTimer.Stop()
	}
}
