package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castmarket/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: survivors, groups, and ledgers. Writes go to
// the primary store and invalidate the cache; reads check Redis first then
// fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func survivorKey(name string) string { return fmt.Sprintf("survivor:%s", name) }
func groupKey(id string) string      { return fmt.Sprintf("group:%s", id) }

func cachedLedgerKey(userID, gid string) string {
	return fmt.Sprintf("ledger:%s:%s", userID, gid)
}

// --- Read-through ---

func (s *CachedStore) GetSurvivor(ctx context.Context, name string) (*model.Survivor, error) {
	data, err := s.rdb.Get(ctx, survivorKey(name)).Bytes()
	if err == nil {
		var sv model.Survivor
		if json.Unmarshal(data, &sv) == nil {
			return &sv, nil
		}
	}

	sv, err := s.primary.GetSurvivor(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, survivorKey(name), sv)
	return sv, nil
}

func (s *CachedStore) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	data, err := s.rdb.Get(ctx, groupKey(id)).Bytes()
	if err == nil {
		var g model.Group
		if json.Unmarshal(data, &g) == nil {
			return &g, nil
		}
	}

	g, err := s.primary.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, groupKey(id), g)
	return g, nil
}

func (s *CachedStore) GetLedger(ctx context.Context, userID, groupID string) (*model.Ledger, error) {
	key := cachedLedgerKey(userID, groupID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var l model.Ledger
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.primary.GetLedger(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, l)
	return l, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpdateSurvivor(ctx context.Context, sv *model.Survivor) error {
	if err := s.primary.UpdateSurvivor(ctx, sv); err != nil {
		return err
	}
	s.rdb.Del(ctx, survivorKey(sv.Name))
	return nil
}

func (s *CachedStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	if err := s.primary.UpdateGroup(ctx, g); err != nil {
		return err
	}
	s.rdb.Del(ctx, groupKey(g.ID))
	return nil
}

func (s *CachedStore) UpdateLedger(ctx context.Context, l *model.Ledger) error {
	if err := s.primary.UpdateLedger(ctx, l); err != nil {
		return err
	}
	s.rdb.Del(ctx, cachedLedgerKey(l.UserID, l.GroupID))
	return nil
}

func (s *CachedStore) ApplyOrder(ctx context.Context, l *model.Ledger, sv *model.Survivor, g *model.Group) error {
	if err := s.primary.ApplyOrder(ctx, l, sv, g); err != nil {
		return err
	}
	s.rdb.Del(ctx, cachedLedgerKey(l.UserID, l.GroupID), survivorKey(sv.Name), groupKey(g.ID))
	return nil
}

func (s *CachedStore) ApplyTransfer(ctx context.Context, t *model.Trade, sender, recipient *model.Ledger) error {
	if err := s.primary.ApplyTransfer(ctx, t, sender, recipient); err != nil {
		return err
	}
	s.rdb.Del(ctx,
		cachedLedgerKey(sender.UserID, sender.GroupID),
		cachedLedgerKey(recipient.UserID, recipient.GroupID),
	)
	return nil
}

func (s *CachedStore) ApplySettlement(ctx context.Context, g *model.Group, ledgers []*model.Ledger) error {
	if err := s.primary.ApplySettlement(ctx, g, ledgers); err != nil {
		return err
	}
	keys := []string{groupKey(g.ID)}
	for _, l := range ledgers {
		keys = append(keys, cachedLedgerKey(l.UserID, l.GroupID))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateSurvivor(ctx context.Context, sv *model.Survivor) error {
	return s.primary.CreateSurvivor(ctx, sv)
}

func (s *CachedStore) ListSurvivors(ctx context.Context) ([]model.Survivor, error) {
	return s.primary.ListSurvivors(ctx)
}

func (s *CachedStore) CreateGroup(ctx context.Context, g *model.Group) error {
	return s.primary.CreateGroup(ctx, g)
}

func (s *CachedStore) ListGroups(ctx context.Context) ([]model.Group, error) {
	return s.primary.ListGroups(ctx)
}

func (s *CachedStore) CreateLedger(ctx context.Context, l *model.Ledger) error {
	return s.primary.CreateLedger(ctx, l)
}

func (s *CachedStore) ListGroupLedgers(ctx context.Context, groupID string) ([]model.Ledger, error) {
	return s.primary.ListGroupLedgers(ctx, groupID)
}

func (s *CachedStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.CreateTrade(ctx, t)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) ListUserTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListUserTrades(ctx, userID)
}

func (s *CachedStore) UpdateTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.UpdateTrade(ctx, t)
}

func (s *CachedStore) GetSeason(ctx context.Context) (*model.Season, error) {
	return s.primary.GetSeason(ctx)
}

func (s *CachedStore) SaveSeason(ctx context.Context, season *model.Season) error {
	return s.primary.SaveSeason(ctx, season)
}

func (s *CachedStore) CreateEpisode(ctx context.Context, e *model.Episode) error {
	return s.primary.CreateEpisode(ctx, e)
}

func (s *CachedStore) GetCurrentEpisode(ctx context.Context) (*model.Episode, error) {
	return s.primary.GetCurrentEpisode(ctx)
}

func (s *CachedStore) GetEpisodeByWeek(ctx context.Context, week int) (*model.Episode, error) {
	return s.primary.GetEpisodeByWeek(ctx, week)
}

func (s *CachedStore) UpdateEpisode(ctx context.Context, e *model.Episode) error {
	return s.primary.UpdateEpisode(ctx, e)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}
