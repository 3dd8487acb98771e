package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/metrics"
	"github.com/castmarket/settlement-engine/internal/model"
	"github.com/castmarket/settlement-engine/internal/pool"
	"github.com/castmarket/settlement-engine/internal/pricing"
	"github.com/castmarket/settlement-engine/internal/store"
)

// OrderRequest is the JSON body for POST /api/v1/orders and /api/v1/shorts.
type OrderRequest struct {
	UserID   string `json:"user_id"`
	GroupID  string `json:"group_id"`
	Survivor string `json:"survivor"`
	Amount   int64  `json:"amount"`
	Action   string `json:"action"` // buy|sell or short|cover
}

// OrderResponse is returned from a successful order.
type OrderResponse struct {
	Ledger   *model.Ledger   `json:"ledger"`
	NetWorth decimal.Decimal `json:"net_worth"`
}

// SurvivorQuote is the per-survivor block of a portfolio snapshot.
type SurvivorQuote struct {
	Survivor        string          `json:"survivor"`
	Held            int64           `json:"held"`
	Shorted         int64           `json:"shorted"`
	SharePrice      decimal.Decimal `json:"share_price"`
	ShortPrice      decimal.Decimal `json:"short_price"`
	AvailableShares int64           `json:"available_shares"`
	AvailableShorts int64           `json:"available_shorts"`
}

// PortfolioResponse is the ledger snapshot plus derived fields.
type PortfolioResponse struct {
	Ledger       *model.Ledger           `json:"ledger"`
	NetWorth     decimal.Decimal         `json:"net_worth"`
	BonusBalance decimal.Decimal         `json:"bonus_balance"`
	Quotes       []SurvivorQuote         `json:"quotes"`
	MaxBudget    map[int]decimal.Decimal `json:"max_budget"`
	MaxBudgetLog map[int]string          `json:"max_budget_log"`
}

// HandleOrder handles POST /api/v1/orders (actions buy/sell).
func (s *Service) HandleOrder(w http.ResponseWriter, r *http.Request) {
	s.handleExecute(w, r, ActionBuy, ActionSell)
}

// HandleShort handles POST /api/v1/shorts (actions short/cover).
func (s *Service) HandleShort(w http.ResponseWriter, r *http.Request) {
	s.handleExecute(w, r, ActionShort, ActionCover)
}

func (s *Service) handleExecute(w http.ResponseWriter, r *http.Request, allowed ...string) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.GroupID == "" || req.Survivor == "" {
		writeError(w, "user_id, group_id and survivor are required", http.StatusBadRequest)
		return
	}
	ok := false
	for _, a := range allowed {
		if req.Action == a {
			ok = true
			break
		}
	}
	if !ok {
		writeError(w, "unsupported action: "+req.Action, http.StatusBadRequest)
		return
	}

	start := time.Now()
	l, err := s.Execute(r.Context(), req.UserID, req.GroupID, req.Survivor, req.Amount, req.Action)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(req.Action, "rejected").Inc()
		writeDomainError(w, err)
		return
	}
	metrics.OrdersTotal.WithLabelValues(req.Action, "ok").Inc()
	metrics.OrderLatency.WithLabelValues(req.Action).Observe(time.Since(start).Seconds())

	g, err := s.store.GetGroup(r.Context(), req.GroupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("order executed",
		"user", req.UserID,
		"group", req.GroupID,
		"survivor", req.Survivor,
		"action", req.Action,
		"amount", req.Amount,
		"budget", l.Budget.String(),
	)

	writeJSON(w, http.StatusOK, OrderResponse{Ledger: l, NetWorth: NetWorth(l, g)})
}

// HandlePortfolio handles GET /api/v1/portfolio/{userID}/{groupID}.
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	groupID := chi.URLParam(r, "groupID")
	ctx := r.Context()

	l, err := s.store.GetLedger(ctx, userID, groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	survivors, err := s.store.ListSurvivors(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	capacity := pool.Capacity(g)
	quotes := make([]SurvivorQuote, 0, len(survivors))
	for _, sv := range survivors {
		quotes = append(quotes, SurvivorQuote{
			Survivor:        sv.Name,
			Held:            l.Holding(sv.Name),
			Shorted:         l.ShortHolding(sv.Name),
			SharePrice:      pricing.TierPrice(g.SharesUsed[sv.Name], capacity),
			ShortPrice:      pricing.TierPrice(g.ShortsUsed[sv.Name], capacity),
			AvailableShares: pool.AvailableShares(g, sv.Name),
			AvailableShorts: pool.AvailableShorts(g, sv.Name),
		})
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{
		Ledger:       l,
		NetWorth:     NetWorth(l, g),
		BonusBalance: l.BonusBalance(),
		Quotes:       quotes,
		MaxBudget:    g.MaxBudget,
		MaxBudgetLog: g.MaxBudgetLog,
	})
}

// CreateSurvivorRequest is the JSON body for POST /api/v1/admin/survivors.
type CreateSurvivorRequest struct {
	Name string `json:"name"`
}

// HandleCreateSurvivor handles POST /api/v1/admin/survivors (season setup).
func (s *Service) HandleCreateSurvivor(w http.ResponseWriter, r *http.Request) {
	var req CreateSurvivorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	sv := &model.Survivor{
		Name:      req.Name,
		Available: true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSurvivor(r.Context(), sv); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	metrics.ActiveSurvivors.Inc()
	slog.Info("survivor listed", "name", sv.Name)
	writeJSON(w, http.StatusCreated, sv)
}

// SurvivorListing is one row of GET /api/v1/survivors: the instrument plus
// its current continuous market price (frozen price once eliminated).
type SurvivorListing struct {
	model.Survivor
	MarketPrice decimal.Decimal `json:"market_price"`
}

// HandleListSurvivors handles GET /api/v1/survivors.
func (s *Service) HandleListSurvivors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	survivors, err := s.store.ListSurvivors(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	season, err := s.store.GetSeason(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeDomainError(w, err)
		return
	}
	median := decimal.NewFromInt(1)
	if season != nil {
		median = season.MedianPrice
	}

	var totalIssued int64
	available := 0
	for _, sv := range survivors {
		if sv.Available {
			totalIssued += sv.IssuedShares
			available++
		}
	}

	out := make([]SurvivorListing, 0, len(survivors))
	for _, sv := range survivors {
		price := sv.FrozenPrice
		if sv.Available {
			price = pricing.MarketPrice(sv.IssuedShares, totalIssued, available, median)
		}
		out = append(out, SurvivorListing{Survivor: sv, MarketPrice: price})
	}
	writeJSON(w, http.StatusOK, out)
}

// RegisterPlayerRequest is the JSON body for POST /api/v1/players.
type RegisterPlayerRequest struct {
	UserID string `json:"user_id"`
}

// HandleRegisterPlayer provisions a player's solo group and ledger.
func (s *Service) HandleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req RegisterPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	g, err := s.EnsurePlayer(r.Context(), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// CreateGroupRequest is the JSON body for POST /api/v1/groups.
type CreateGroupRequest struct {
	OwnerID   string   `json:"owner_id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// HandleCreateGroup handles POST /api/v1/groups.
func (s *Service) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	g, err := s.CreateGroup(r.Context(), req.OwnerID, req.Name, req.MemberIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	slog.Info("group created", "id", g.ID, "owner", g.OwnerID, "members", len(g.Members))
	writeJSON(w, http.StatusCreated, g)
}

// AcceptInviteRequest is the JSON body for POST /api/v1/groups/{groupID}/accept.
type AcceptInviteRequest struct {
	UserID string `json:"user_id"`
}

// HandleAcceptInvite handles POST /api/v1/groups/{groupID}/accept.
func (s *Service) HandleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	var req AcceptInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	g, err := s.AcceptInvite(r.Context(), groupID, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// PredictionRequest is the JSON body for POST /api/v1/predictions.
type PredictionRequest struct {
	UserID  string   `json:"user_id"`
	GroupID string   `json:"group_id"`
	Order   []string `json:"order"`
	Finale  bool     `json:"finale"`
}

// HandlePrediction handles POST /api/v1/predictions.
func (s *Service) HandlePrediction(w http.ResponseWriter, r *http.Request) {
	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.GroupID == "" || len(req.Order) == 0 {
		writeError(w, "user_id, group_id and order are required", http.StatusBadRequest)
		return
	}
	l, err := s.RecordPrediction(r.Context(), req.UserID, req.GroupID, req.Order, req.Finale)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps engine errors to HTTP statuses: missing documents to
// 404, rule violations to 409, malformed input to 400.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidOrder):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientHoldings),
		errors.Is(err, ErrSurvivorUnavailable),
		errors.Is(err, ErrTradingFrozen),
		errors.Is(err, pool.ErrCapacityExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
