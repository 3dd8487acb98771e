package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision; the
// document-map fields (portfolio, shares_used, bonus log, event lists) are
// stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// executor is satisfied by both *pgxpool.Pool and pgx.Tx so the row helpers
// can run inside or outside a transaction.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Domain types only contain JSON-safe fields.
		panic(fmt.Sprintf("store: marshal %T: %v", v, err))
	}
	return b
}

// --- Survivors ---

func (s *PostgresStore) CreateSurvivor(ctx context.Context, sv *model.Survivor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO survivors (name, available, issued_shares, frozen_price, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		sv.Name, sv.Available, sv.IssuedShares, sv.FrozenPrice.String(), sv.CreatedAt,
	)
	return err
}

func scanSurvivor(row pgx.Row) (*model.Survivor, error) {
	var sv model.Survivor
	var frozen string
	if err := row.Scan(&sv.Name, &sv.Available, &sv.IssuedShares, &frozen, &sv.CreatedAt); err != nil {
		return nil, err
	}
	sv.FrozenPrice, _ = decimal.NewFromString(frozen)
	return &sv, nil
}

const survivorCols = `name, available, issued_shares, frozen_price::TEXT, created_at`

func (s *PostgresStore) GetSurvivor(ctx context.Context, name string) (*model.Survivor, error) {
	sv, err := scanSurvivor(s.pool.QueryRow(ctx,
		`SELECT `+survivorCols+` FROM survivors WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, "survivor "+name)
	}
	return sv, nil
}

func (s *PostgresStore) ListSurvivors(ctx context.Context) ([]model.Survivor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+survivorCols+` FROM survivors ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Survivor
	for rows.Next() {
		sv, err := scanSurvivor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateSurvivor(ctx context.Context, sv *model.Survivor) error {
	return updateSurvivor(ctx, s.pool, sv)
}

func updateSurvivor(ctx context.Context, ex executor, sv *model.Survivor) error {
	tag, err := ex.Exec(ctx,
		`UPDATE survivors
		 SET available = $2, issued_shares = $3, frozen_price = $4::NUMERIC
		 WHERE name = $1`,
		sv.Name, sv.Available, sv.IssuedShares, sv.FrozenPrice.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("survivor %s: %w", sv.Name, ErrNotFound)
	}
	return nil
}

// --- Groups ---

func (s *PostgresStore) CreateGroup(ctx context.Context, g *model.Group) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO groups (id, owner_id, name, members, shares_used, shorts_used, max_budget, max_budget_log, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.ID, g.OwnerID, g.Name,
		mustJSON(g.Members), mustJSON(g.SharesUsed), mustJSON(g.ShortsUsed),
		mustJSON(g.MaxBudget), mustJSON(g.MaxBudgetLog), g.CreatedAt,
	)
	return err
}

const groupCols = `id, owner_id, name, members, shares_used, shorts_used, max_budget, max_budget_log, created_at`

func scanGroup(row pgx.Row) (*model.Group, error) {
	var g model.Group
	var members, sharesUsed, shortsUsed, maxBudget, maxLog []byte
	if err := row.Scan(&g.ID, &g.OwnerID, &g.Name,
		&members, &sharesUsed, &shortsUsed, &maxBudget, &maxLog, &g.CreatedAt); err != nil {
		return nil, err
	}
	json.Unmarshal(members, &g.Members)
	json.Unmarshal(sharesUsed, &g.SharesUsed)
	json.Unmarshal(shortsUsed, &g.ShortsUsed)
	json.Unmarshal(maxBudget, &g.MaxBudget)
	json.Unmarshal(maxLog, &g.MaxBudgetLog)
	return &g, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx,
		`SELECT `+groupCols+` FROM groups WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "group "+id)
	}
	return g, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]model.Group, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupCols+` FROM groups ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	return updateGroup(ctx, s.pool, g)
}

func updateGroup(ctx context.Context, ex executor, g *model.Group) error {
	tag, err := ex.Exec(ctx,
		`UPDATE groups
		 SET members = $2, shares_used = $3, shorts_used = $4, max_budget = $5, max_budget_log = $6
		 WHERE id = $1`,
		g.ID, mustJSON(g.Members), mustJSON(g.SharesUsed), mustJSON(g.ShortsUsed),
		mustJSON(g.MaxBudget), mustJSON(g.MaxBudgetLog),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s: %w", g.ID, ErrNotFound)
	}
	return nil
}

// --- Ledgers ---

func (s *PostgresStore) CreateLedger(ctx context.Context, l *model.Ledger) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledgers (user_id, group_id, budget, portfolio, shorts, locked_budget, budget_locked, boot_orders, finale_orders, bonuses)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6::NUMERIC, $7, $8, $9, $10)`,
		l.UserID, l.GroupID, l.Budget.String(),
		mustJSON(l.Portfolio), mustJSON(l.Shorts),
		l.LockedBudget.String(), l.BudgetLocked,
		mustJSON(l.BootOrders), mustJSON(l.FinaleOrders), mustJSON(l.Bonuses),
	)
	return err
}

const ledgerCols = `user_id, group_id, budget::TEXT, portfolio, shorts, locked_budget::TEXT, budget_locked, boot_orders, finale_orders, bonuses`

func scanLedger(row pgx.Row) (*model.Ledger, error) {
	var l model.Ledger
	var budget, locked string
	var portfolio, shorts, bootOrders, finaleOrders, bonuses []byte
	if err := row.Scan(&l.UserID, &l.GroupID, &budget, &portfolio, &shorts,
		&locked, &l.BudgetLocked, &bootOrders, &finaleOrders, &bonuses); err != nil {
		return nil, err
	}
	l.Budget, _ = decimal.NewFromString(budget)
	l.LockedBudget, _ = decimal.NewFromString(locked)
	json.Unmarshal(portfolio, &l.Portfolio)
	json.Unmarshal(shorts, &l.Shorts)
	json.Unmarshal(bootOrders, &l.BootOrders)
	json.Unmarshal(finaleOrders, &l.FinaleOrders)
	json.Unmarshal(bonuses, &l.Bonuses)
	return &l, nil
}

func (s *PostgresStore) GetLedger(ctx context.Context, userID, groupID string) (*model.Ledger, error) {
	l, err := scanLedger(s.pool.QueryRow(ctx,
		`SELECT `+ledgerCols+` FROM ledgers WHERE user_id = $1 AND group_id = $2`,
		userID, groupID))
	if err != nil {
		return nil, notFound(err, "ledger "+userID+"/"+groupID)
	}
	return l, nil
}

func (s *PostgresStore) ListGroupLedgers(ctx context.Context, groupID string) ([]model.Ledger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerCols+` FROM ledgers WHERE group_id = $1 ORDER BY user_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateLedger(ctx context.Context, l *model.Ledger) error {
	return updateLedger(ctx, s.pool, l)
}

func updateLedger(ctx context.Context, ex executor, l *model.Ledger) error {
	tag, err := ex.Exec(ctx,
		`UPDATE ledgers
		 SET budget = $3::NUMERIC, portfolio = $4, shorts = $5,
		     locked_budget = $6::NUMERIC, budget_locked = $7,
		     boot_orders = $8, finale_orders = $9, bonuses = $10
		 WHERE user_id = $1 AND group_id = $2`,
		l.UserID, l.GroupID, l.Budget.String(),
		mustJSON(l.Portfolio), mustJSON(l.Shorts),
		l.LockedBudget.String(), l.BudgetLocked,
		mustJSON(l.BootOrders), mustJSON(l.FinaleOrders), mustJSON(l.Bonuses),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger %s/%s: %w", l.UserID, l.GroupID, ErrNotFound)
	}
	return nil
}

// --- Trades ---

func (s *PostgresStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, sender_id, recipient_id, group_id, offer_money, offer_stocks, request_money, request_stocks, status, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8, $9, $10, $11)`,
		t.ID, t.SenderID, t.RecipientID, t.GroupID,
		t.OfferMoney.String(), mustJSON(t.OfferStocks),
		t.RequestMoney.String(), mustJSON(t.RequestStocks),
		t.Status, t.CreatedAt, t.ResolvedAt,
	)
	return err
}

const tradeCols = `id, sender_id, recipient_id, group_id, offer_money::TEXT, offer_stocks, request_money::TEXT, request_stocks, status, created_at, resolved_at`

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var offerMoney, requestMoney string
	var offerStocks, requestStocks []byte
	if err := row.Scan(&t.ID, &t.SenderID, &t.RecipientID, &t.GroupID,
		&offerMoney, &offerStocks, &requestMoney, &requestStocks,
		&t.Status, &t.CreatedAt, &t.ResolvedAt); err != nil {
		return nil, err
	}
	t.OfferMoney, _ = decimal.NewFromString(offerMoney)
	t.RequestMoney, _ = decimal.NewFromString(requestMoney)
	json.Unmarshal(offerStocks, &t.OfferStocks)
	json.Unmarshal(requestStocks, &t.RequestStocks)
	return &t, nil
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "trade "+id)
	}
	return t, nil
}

func (s *PostgresStore) ListUserTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trades
		 WHERE sender_id = $1 OR recipient_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTrade(ctx context.Context, t *model.Trade) error {
	return updateTrade(ctx, s.pool, t)
}

func updateTrade(ctx context.Context, ex executor, t *model.Trade) error {
	tag, err := ex.Exec(ctx,
		`UPDATE trades SET status = $2, resolved_at = $3 WHERE id = $1`,
		t.ID, t.Status, t.ResolvedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// --- Season / episodes ---

func (s *PostgresStore) GetSeason(ctx context.Context) (*model.Season, error) {
	var season model.Season
	var median string
	err := s.pool.QueryRow(ctx,
		`SELECT id, current_week, median_price::TEXT FROM seasons LIMIT 1`).
		Scan(&season.ID, &season.CurrentWeek, &median)
	if err != nil {
		return nil, notFound(err, "season")
	}
	season.MedianPrice, _ = decimal.NewFromString(median)
	return &season, nil
}

func (s *PostgresStore) SaveSeason(ctx context.Context, season *model.Season) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seasons (id, current_week, median_price)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET current_week = $2, median_price = $3::NUMERIC`,
		season.ID, season.CurrentWeek, season.MedianPrice.String(),
	)
	return err
}

// episodeEvents groups the event lists into one JSONB document.
type episodeEvents struct {
	ChallengeWins   []string `json:"challenge_wins"`
	ChallengeLosses []string `json:"challenge_losses"`
	VotedRight      []string `json:"voted_right"`
	VotedWrong      []string `json:"voted_wrong"`
	IdolsFound      []string `json:"idols_found"`
	IdolsPlayed     []string `json:"idols_played"`
	VotedOut        []string `json:"voted_out"`
}

func eventsOf(e *model.Episode) episodeEvents {
	return episodeEvents{
		ChallengeWins:   e.ChallengeWins,
		ChallengeLosses: e.ChallengeLosses,
		VotedRight:      e.VotedRight,
		VotedWrong:      e.VotedWrong,
		IdolsFound:      e.IdolsFound,
		IdolsPlayed:     e.IdolsPlayed,
		VotedOut:        e.VotedOut,
	}
}

func (ev episodeEvents) fill(e *model.Episode) {
	e.ChallengeWins = ev.ChallengeWins
	e.ChallengeLosses = ev.ChallengeLosses
	e.VotedRight = ev.VotedRight
	e.VotedWrong = ev.VotedWrong
	e.IdolsFound = ev.IdolsFound
	e.IdolsPlayed = ev.IdolsPlayed
	e.VotedOut = ev.VotedOut
}

func (s *PostgresStore) CreateEpisode(ctx context.Context, e *model.Episode) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if e.Current {
		if _, err := tx.Exec(ctx, `UPDATE episodes SET current = FALSE WHERE current`); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO episodes (id, week, current, on_air, tribal_council, air_ends, events, share_snapshot)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Week, e.Current, e.OnAir, e.TribalCouncil, e.AirEnds,
		mustJSON(eventsOf(e)), mustJSON(e.ShareSnapshot),
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const episodeCols = `id, week, current, on_air, tribal_council, air_ends, events, share_snapshot`

func scanEpisode(row pgx.Row) (*model.Episode, error) {
	var e model.Episode
	var events, snapshot []byte
	if err := row.Scan(&e.ID, &e.Week, &e.Current, &e.OnAir, &e.TribalCouncil,
		&e.AirEnds, &events, &snapshot); err != nil {
		return nil, err
	}
	var ev episodeEvents
	json.Unmarshal(events, &ev)
	ev.fill(&e)
	json.Unmarshal(snapshot, &e.ShareSnapshot)
	return &e, nil
}

func (s *PostgresStore) GetCurrentEpisode(ctx context.Context) (*model.Episode, error) {
	e, err := scanEpisode(s.pool.QueryRow(ctx,
		`SELECT `+episodeCols+` FROM episodes WHERE current LIMIT 1`))
	if err != nil {
		return nil, notFound(err, "current episode")
	}
	return e, nil
}

func (s *PostgresStore) GetEpisodeByWeek(ctx context.Context, week int) (*model.Episode, error) {
	e, err := scanEpisode(s.pool.QueryRow(ctx,
		`SELECT `+episodeCols+` FROM episodes WHERE week = $1`, week))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("episode week %d", week))
	}
	return e, nil
}

func (s *PostgresStore) UpdateEpisode(ctx context.Context, e *model.Episode) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if e.Current {
		if _, err := tx.Exec(ctx, `UPDATE episodes SET current = FALSE WHERE current AND id <> $1`, e.ID); err != nil {
			return err
		}
	}
	tag, err := tx.Exec(ctx,
		`UPDATE episodes
		 SET current = $2, on_air = $3, tribal_council = $4, air_ends = $5, events = $6, share_snapshot = $7
		 WHERE id = $1`,
		e.ID, e.Current, e.OnAir, e.TribalCouncil, e.AirEnds,
		mustJSON(eventsOf(e)), mustJSON(e.ShareSnapshot),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %s: %w", e.ID, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// --- Atomic composite units ---
// Each unit is one transaction: every document changes together or the whole
// unit rolls back.

func (s *PostgresStore) ApplyOrder(ctx context.Context, l *model.Ledger, sv *model.Survivor, g *model.Group) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateLedger(ctx, tx, l); err != nil {
		return err
	}
	if err := updateSurvivor(ctx, tx, sv); err != nil {
		return err
	}
	if err := updateGroup(ctx, tx, g); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplyTransfer(ctx context.Context, t *model.Trade, sender, recipient *model.Ledger) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateLedger(ctx, tx, sender); err != nil {
		return err
	}
	if err := updateLedger(ctx, tx, recipient); err != nil {
		return err
	}
	if err := updateTrade(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, g *model.Group, ledgers []*model.Ledger) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateGroup(ctx, tx, g); err != nil {
		return err
	}
	for _, l := range ledgers {
		if err := updateLedger(ctx, tx, l); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
