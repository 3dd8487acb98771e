package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/castmarket/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	survivors map[string]*model.Survivor
	groups    map[string]*model.Group
	ledgers   map[string]*model.Ledger // userID + "/" + groupID
	trades    map[string]*model.Trade
	episodes  map[string]*model.Episode
	season    *model.Season
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		survivors: make(map[string]*model.Survivor),
		groups:    make(map[string]*model.Group),
		ledgers:   make(map[string]*model.Ledger),
		trades:    make(map[string]*model.Trade),
		episodes:  make(map[string]*model.Episode),
	}
}

func ledgerKey(userID, groupID string) string { return userID + "/" + groupID }

// --- Survivors ---

func (s *MemoryStore) CreateSurvivor(_ context.Context, sv *model.Survivor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.survivors[sv.Name]; ok {
		return fmt.Errorf("survivor %s already exists", sv.Name)
	}
	cp := *sv
	s.survivors[sv.Name] = &cp
	return nil
}

func (s *MemoryStore) GetSurvivor(_ context.Context, name string) (*model.Survivor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sv, ok := s.survivors[name]
	if !ok {
		return nil, fmt.Errorf("survivor %s: %w", name, ErrNotFound)
	}
	cp := *sv
	return &cp, nil
}

func (s *MemoryStore) ListSurvivors(_ context.Context) ([]model.Survivor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Survivor, 0, len(s.survivors))
	for _, sv := range s.survivors {
		out = append(out, *sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateSurvivor(_ context.Context, sv *model.Survivor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putSurvivor(sv)
}

func (s *MemoryStore) putSurvivor(sv *model.Survivor) error {
	if _, ok := s.survivors[sv.Name]; !ok {
		return fmt.Errorf("survivor %s: %w", sv.Name, ErrNotFound)
	}
	cp := *sv
	s.survivors[sv.Name] = &cp
	return nil
}

// --- Groups ---

func (s *MemoryStore) CreateGroup(_ context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("group %s already exists", g.ID)
	}
	s.groups[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) GetGroup(_ context.Context, id string) (*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return g.Clone(), nil
}

func (s *MemoryStore) ListGroups(_ context.Context) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateGroup(_ context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putGroup(g)
}

func (s *MemoryStore) putGroup(g *model.Group) error {
	if _, ok := s.groups[g.ID]; !ok {
		return fmt.Errorf("group %s: %w", g.ID, ErrNotFound)
	}
	s.groups[g.ID] = g.Clone()
	return nil
}

// --- Ledgers ---

func (s *MemoryStore) CreateLedger(_ context.Context, l *model.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey(l.UserID, l.GroupID)
	if _, ok := s.ledgers[key]; ok {
		return fmt.Errorf("ledger %s already exists", key)
	}
	s.ledgers[key] = l.Clone()
	return nil
}

func (s *MemoryStore) GetLedger(_ context.Context, userID, groupID string) (*model.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[ledgerKey(userID, groupID)]
	if !ok {
		return nil, fmt.Errorf("ledger %s/%s: %w", userID, groupID, ErrNotFound)
	}
	return l.Clone(), nil
}

func (s *MemoryStore) ListGroupLedgers(_ context.Context, groupID string) ([]model.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Ledger
	for _, l := range s.ledgers {
		if l.GroupID == groupID {
			out = append(out, *l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) UpdateLedger(_ context.Context, l *model.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLedger(l)
}

func (s *MemoryStore) putLedger(l *model.Ledger) error {
	key := ledgerKey(l.UserID, l.GroupID)
	if _, ok := s.ledgers[key]; !ok {
		return fmt.Errorf("ledger %s: %w", key, ErrNotFound)
	}
	s.ledgers[key] = l.Clone()
	return nil
}

// --- Trades ---

func (s *MemoryStore) CreateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; ok {
		return fmt.Errorf("trade %s already exists", t.ID)
	}
	s.trades[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListUserTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.SenderID == userID || t.RecipientID == userID {
			out = append(out, *t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; !ok {
		return fmt.Errorf("trade %s: %w", t.ID, ErrNotFound)
	}
	s.trades[t.ID] = t.Clone()
	return nil
}

// --- Season / episodes ---

func (s *MemoryStore) GetSeason(_ context.Context) (*model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.season == nil {
		return nil, fmt.Errorf("season: %w", ErrNotFound)
	}
	cp := *s.season
	return &cp, nil
}

func (s *MemoryStore) SaveSeason(_ context.Context, season *model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *season
	s.season = &cp
	return nil
}

func (s *MemoryStore) CreateEpisode(_ context.Context, e *model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.episodes[e.ID]; ok {
		return fmt.Errorf("episode %s already exists", e.ID)
	}
	// At most one current episode at a time.
	if e.Current {
		for _, other := range s.episodes {
			other.Current = false
		}
	}
	s.episodes[e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) GetCurrentEpisode(_ context.Context) (*model.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.episodes {
		if e.Current {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("current episode: %w", ErrNotFound)
}

func (s *MemoryStore) GetEpisodeByWeek(_ context.Context, week int) (*model.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.episodes {
		if e.Week == week {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("episode week %d: %w", week, ErrNotFound)
}

func (s *MemoryStore) UpdateEpisode(_ context.Context, e *model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.episodes[e.ID]; !ok {
		return fmt.Errorf("episode %s: %w", e.ID, ErrNotFound)
	}
	if e.Current {
		for id, other := range s.episodes {
			if id != e.ID {
				other.Current = false
			}
		}
	}
	s.episodes[e.ID] = e.Clone()
	return nil
}

// --- Atomic composite units ---
// One lock covers all documents, so each unit is trivially atomic here.

func (s *MemoryStore) ApplyOrder(_ context.Context, l *model.Ledger, sv *model.Survivor, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.putLedger(l); err != nil {
		return err
	}
	if err := s.putSurvivor(sv); err != nil {
		return err
	}
	return s.putGroup(g)
}

func (s *MemoryStore) ApplyTransfer(_ context.Context, t *model.Trade, sender, recipient *model.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; !ok {
		return fmt.Errorf("trade %s: %w", t.ID, ErrNotFound)
	}
	if err := s.putLedger(sender); err != nil {
		return err
	}
	if err := s.putLedger(recipient); err != nil {
		return err
	}
	s.trades[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, g *model.Group, ledgers []*model.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.putGroup(g); err != nil {
		return err
	}
	for _, l := range ledgers {
		if err := s.putLedger(l); err != nil {
			return err
		}
	}
	return nil
}
