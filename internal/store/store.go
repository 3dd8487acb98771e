// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Reads return deep copies; callers mutate freely and persist through an
// explicit write. The Apply* methods are the engine's atomic units: every
// document they carry is written together or not at all (a transaction in
// the Postgres store, a single critical section in the memory store).
package store

import (
	"context"
	"errors"

	"github.com/castmarket/settlement-engine/internal/model"
)

// ErrNotFound is returned when the requested document does not exist.
// Implementations wrap it with the entity kind and key.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Survivors (market instruments) ---

	CreateSurvivor(ctx context.Context, s *model.Survivor) error
	GetSurvivor(ctx context.Context, name string) (*model.Survivor, error)
	ListSurvivors(ctx context.Context) ([]model.Survivor, error)
	UpdateSurvivor(ctx context.Context, s *model.Survivor) error

	// --- Groups ---

	CreateGroup(ctx context.Context, g *model.Group) error
	GetGroup(ctx context.Context, id string) (*model.Group, error)
	ListGroups(ctx context.Context) ([]model.Group, error)
	UpdateGroup(ctx context.Context, g *model.Group) error

	// --- Ledgers (one per user×group) ---

	CreateLedger(ctx context.Context, l *model.Ledger) error
	GetLedger(ctx context.Context, userID, groupID string) (*model.Ledger, error)
	ListGroupLedgers(ctx context.Context, groupID string) ([]model.Ledger, error)
	UpdateLedger(ctx context.Context, l *model.Ledger) error

	// --- Trades ---

	CreateTrade(ctx context.Context, t *model.Trade) error
	GetTrade(ctx context.Context, id string) (*model.Trade, error)
	ListUserTrades(ctx context.Context, userID string) ([]model.Trade, error)
	UpdateTrade(ctx context.Context, t *model.Trade) error

	// --- Season / episodes ---

	GetSeason(ctx context.Context) (*model.Season, error)
	SaveSeason(ctx context.Context, s *model.Season) error
	CreateEpisode(ctx context.Context, e *model.Episode) error
	GetCurrentEpisode(ctx context.Context) (*model.Episode, error)
	GetEpisodeByWeek(ctx context.Context, week int) (*model.Episode, error)
	UpdateEpisode(ctx context.Context, e *model.Episode) error

	// --- Atomic composite units ---

	// ApplyOrder persists the result of one buy/sell/short/cover: the
	// mutated ledger, the survivor's global issued counter, and the group's
	// pool counters change together or not at all.
	ApplyOrder(ctx context.Context, l *model.Ledger, s *model.Survivor, g *model.Group) error

	// ApplyTransfer persists an accepted trade: both mutated ledgers and the
	// trade's terminal status in one unit.
	ApplyTransfer(ctx context.Context, t *model.Trade, sender, recipient *model.Ledger) error

	// ApplySettlement persists one group's episode settlement: the group's
	// new watermark and every credited ledger in one unit.
	ApplySettlement(ctx context.Context, g *model.Group, ledgers []*model.Ledger) error
}
