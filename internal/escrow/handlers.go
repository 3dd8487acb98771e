package escrow

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/ledger"
	"github.com/castmarket/settlement-engine/internal/metrics"
	"github.com/castmarket/settlement-engine/internal/model"
	"github.com/castmarket/settlement-engine/internal/store"
)

// SendRequest is the JSON body for POST /api/v1/trades.
type SendRequest struct {
	SenderID      string            `json:"sender_id"`
	RecipientID   string            `json:"recipient_id"`
	GroupID       string            `json:"group_id"`
	OfferMoney    decimal.Decimal   `json:"offer_money"`
	OfferStocks   []model.StockLine `json:"offer_stocks"`
	RequestMoney  decimal.Decimal   `json:"request_money"`
	RequestStocks []model.StockLine `json:"request_stocks"`
}

// HandleSend handles POST /api/v1/trades.
func (s *Service) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SenderID == "" || req.RecipientID == "" || req.GroupID == "" {
		writeError(w, "sender_id, recipient_id and group_id are required", http.StatusBadRequest)
		return
	}

	t, err := s.Send(r.Context(), &model.Trade{
		SenderID:      req.SenderID,
		RecipientID:   req.RecipientID,
		GroupID:       req.GroupID,
		OfferMoney:    req.OfferMoney,
		OfferStocks:   req.OfferStocks,
		RequestMoney:  req.RequestMoney,
		RequestStocks: req.RequestStocks,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues("send").Inc()
	slog.Info("trade sent",
		"trade_id", t.ID,
		"sender", t.SenderID,
		"recipient", t.RecipientID,
		"group", t.GroupID,
	)
	writeJSON(w, http.StatusCreated, t)
}

// RespondRequest is the JSON body for POST /api/v1/trades/{tradeID}/respond.
type RespondRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action"` // accept|decline|cancel
}

// HandleRespond handles POST /api/v1/trades/{tradeID}/respond.
func (s *Service) HandleRespond(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")
	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	t, err := s.Respond(r.Context(), tradeID, req.UserID, req.Action)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(req.Action).Inc()
	slog.Info("trade resolved",
		"trade_id", t.ID,
		"action", req.Action,
		"status", t.Status,
	)
	writeJSON(w, http.StatusOK, t)
}

// HandleList handles GET /api/v1/trades?user={userID}: the user's trade
// inbox and outbox.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, "user query parameter is required", http.StatusBadRequest)
		return
	}
	trades, err := s.store.ListUserTrades(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
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

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrEmptyTrade), errors.Is(err, ErrInvalidTrade):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrInvalidTradeState),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
