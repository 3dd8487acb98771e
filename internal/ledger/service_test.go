package ledger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/ledger"
	"github.com/castmarket/settlement-engine/internal/model"
	"github.com/castmarket/settlement-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*ledger.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := ledger.NewService(ms, d(100), nil)

	r := chi.NewRouter()
	r.Post("/api/v1/orders", svc.HandleOrder)
	r.Post("/api/v1/shorts", svc.HandleShort)
	r.Get("/api/v1/portfolio/{userID}/{groupID}", svc.HandlePortfolio)
	r.Get("/api/v1/survivors", svc.HandleListSurvivors)
	r.Post("/api/v1/admin/survivors", svc.HandleCreateSurvivor)
	r.Post("/api/v1/groups", svc.HandleCreateGroup)
	r.Post("/api/v1/groups/{groupID}/accept", svc.HandleAcceptInvite)

	return svc, ms, r
}

func seedSurvivor(t *testing.T, ms *store.MemoryStore, name string) {
	t.Helper()
	sv := &model.Survivor{Name: name, Available: true, CreatedAt: time.Now().UTC()}
	if err := ms.CreateSurvivor(context.Background(), sv); err != nil {
		t.Fatalf("failed to seed survivor: %v", err)
	}
}

// seedGroup creates a group with the given accepted members, each with a
// ledger holding the 100 starting budget.
func seedGroup(t *testing.T, ms *store.MemoryStore, id string, userIDs ...string) {
	t.Helper()
	g := &model.Group{ID: id, OwnerID: userIDs[0], Name: id, CreatedAt: time.Now().UTC()}
	for _, uid := range userIDs {
		g.Members = append(g.Members, model.GroupMember{UserID: uid, Accepted: true})
	}
	if err := ms.CreateGroup(context.Background(), g); err != nil {
		t.Fatalf("failed to seed group: %v", err)
	}
	for _, uid := range userIDs {
		l := &model.Ledger{UserID: uid, GroupID: id, Budget: d(100)}
		if err := ms.CreateLedger(context.Background(), l); err != nil {
			t.Fatalf("failed to seed ledger: %v", err)
		}
	}
}

func doOrder(t *testing.T, router chi.Router, path string, req ledger.OrderRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", path, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func getLedger(t *testing.T, ms *store.MemoryStore, userID, groupID string) *model.Ledger {
	t.Helper()
	l, err := ms.GetLedger(context.Background(), userID, groupID)
	if err != nil {
		t.Fatalf("failed to get ledger: %v", err)
	}
	return l
}

// --- Buy/sell tests ---

func TestOrder_BuyAtTierOne(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice", "bob") // capacity 100

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 10, Action: "buy",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ledger.OrderResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// 10 shares at tier price 1 (pool was empty).
	if !resp.Ledger.Budget.Equal(d(90)) {
		t.Errorf("expected budget 90, got %s", resp.Ledger.Budget)
	}
	if resp.Ledger.Holding("kara") != 10 {
		t.Errorf("expected 10 shares held, got %d", resp.Ledger.Holding("kara"))
	}
	// Budget 90 + 10 shares now priced at tier 1 (10/100 < 0.2).
	if !resp.NetWorth.Equal(d(100)) {
		t.Errorf("expected net worth 100, got %s", resp.NetWorth)
	}
}

func TestOrder_BuyCrossingTierBoundary(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice", "bob") // capacity 100

	// Fill to 20 used: price read before mutation, so this whole order fills
	// at tier 1.
	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 20, Action: "buy",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if l := getLedger(t, ms, "alice", "g1"); !l.Budget.Equal(d(80)) {
		t.Errorf("expected budget 80 after 20 shares at 1, got %s", l.Budget)
	}

	// Pool now at 20/100 = 0.2 utilization: next buy prices at tier 2.
	w = doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "bob", GroupID: "g1", Survivor: "kara", Amount: 10, Action: "buy",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if l := getLedger(t, ms, "bob", "g1"); !l.Budget.Equal(d(80)) {
		t.Errorf("expected budget 80 after 10 shares at 2, got %s", l.Budget)
	}
}

func TestOrder_SellRefundsAtCurrentTier(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice", "bob")

	doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 25, Action: "buy",
	})
	// Pool at 25/100: sells price at tier 2.
	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 25, Action: "sell",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Bought 25 at 1 (75 left), sold 25 at 2 (back to 125): the tier model
	// rewards selling into demand.
	l := getLedger(t, ms, "alice", "g1")
	if !l.Budget.Equal(d(125)) {
		t.Errorf("expected budget 125, got %s", l.Budget)
	}
	if l.Holding("kara") != 0 {
		t.Errorf("expected no shares left, got %d", l.Holding("kara"))
	}

	// Pool counter and global issuance returned to zero.
	g, _ := ms.GetGroup(context.Background(), "g1")
	if g.SharesUsed["kara"] != 0 {
		t.Errorf("expected pool cleared, got %d", g.SharesUsed["kara"])
	}
	sv, _ := ms.GetSurvivor(context.Background(), "kara")
	if sv.IssuedShares != 0 {
		t.Errorf("expected issued shares 0, got %d", sv.IssuedShares)
	}
}

func TestOrder_InsufficientFunds(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice", "bob", "carol") // capacity 150

	// 120 shares: 120 over budget 100 even at tier 1.
	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 120, Action: "buy",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	// Nothing mutated.
	if l := getLedger(t, ms, "alice", "g1"); !l.Budget.Equal(d(100)) {
		t.Errorf("rejected order must not touch budget, got %s", l.Budget)
	}
}

func TestOrder_SellMoreThanHeld(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice")

	doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 5, Action: "buy",
	})
	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 6, Action: "sell",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for overselling, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOrder_CapacityExceeded(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice", "bob") // capacity 100

	doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 10, Action: "buy",
	})
	// 95 more would need 105 pool units.
	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "bob", GroupID: "g1", Survivor: "kara", Amount: 95, Action: "buy",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for capacity, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOrder_ZeroAmount(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice")

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 0, Action: "buy",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero amount, got %d", w.Code)
	}
}

func TestOrder_UnknownAction(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice")

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 5, Action: "short",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for short on /orders, got %d", w.Code)
	}
}

func TestOrder_SurvivorNotFound(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedGroup(t, ms, "g1", "alice")

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "nobody", Amount: 5, Action: "buy",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOrder_EliminatedSurvivorNotBuyable(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedGroup(t, ms, "g1", "alice")
	sv := &model.Survivor{Name: "kara", Available: false, FrozenPrice: d(1.5)}
	ms.CreateSurvivor(context.Background(), sv)

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 5, Action: "buy",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for eliminated survivor, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Short/cover tests ---

func TestShort_OpenAndCover(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "marco")
	seedGroup(t, ms, "g1", "alice", "bob")

	w := doOrder(t, router, "/api/v1/shorts", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "marco", Amount: 10, Action: "short",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	l := getLedger(t, ms, "alice", "g1")
	if !l.Budget.Equal(d(90)) {
		t.Errorf("expected budget 90 after shorting 10 at 1, got %s", l.Budget)
	}
	if l.ShortHolding("marco") != 10 {
		t.Errorf("expected 10 shorts, got %d", l.ShortHolding("marco"))
	}
	// Shorts never touch global issuance.
	sv, _ := ms.GetSurvivor(context.Background(), "marco")
	if sv.IssuedShares != 0 {
		t.Errorf("shorting must not change issued shares, got %d", sv.IssuedShares)
	}

	w = doOrder(t, router, "/api/v1/shorts", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "marco", Amount: 10, Action: "cover",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	l = getLedger(t, ms, "alice", "g1")
	if !l.Budget.Equal(d(100)) {
		t.Errorf("expected budget restored to 100, got %s", l.Budget)
	}
	if l.ShortHolding("marco") != 0 {
		t.Errorf("expected shorts cleared, got %d", l.ShortHolding("marco"))
	}
}

func TestShort_PoolIndependentOfShares(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "marco")
	seedGroup(t, ms, "g1", "alice") // capacity 50 per side

	// Fill the share pool completely.
	doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "marco", Amount: 20, Action: "buy",
	})
	// Shorts come from their own pool at their own tier (empty → 1).
	w := doOrder(t, router, "/api/v1/shorts", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "marco", Amount: 5, Action: "short",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("short pool should be independent, got %d: %s", w.Code, w.Body.String())
	}
}

func TestShort_CoverMoreThanHeld(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "marco")
	seedGroup(t, ms, "g1", "alice")

	w := doOrder(t, router, "/api/v1/shorts", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "marco", Amount: 1, Action: "cover",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 covering unheld short, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Broadcast freeze tests ---

func seedEpisode(t *testing.T, ms *store.MemoryStore, onAir, tribal bool) {
	t.Helper()
	ep := &model.Episode{ID: "ep1", Week: 1, Current: true, OnAir: onAir, TribalCouncil: tribal}
	if err := ms.CreateEpisode(context.Background(), ep); err != nil {
		t.Fatalf("failed to seed episode: %v", err)
	}
}

func TestFreeze_BuyRejectedDuringTribalCouncil(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice")
	seedEpisode(t, ms, true, true)

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 5, Action: "buy",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 during tribal council, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFreeze_BuyAllowedOnAirBeforeTribal(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice")
	seedEpisode(t, ms, true, false)

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 5, Action: "buy",
	})
	if w.Code != http.StatusOK {
		t.Errorf("buys should be allowed on-air before tribal, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFreeze_SellRejectedOnAir(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice")

	doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 5, Action: "buy",
	})
	seedEpisode(t, ms, true, false)

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 5, Action: "sell",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 selling on-air, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFreeze_LockedBudgetLimitsSpend(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedGroup(t, ms, "g1", "alice")
	seedEpisode(t, ms, true, false)

	// Snapshot taken at go-live: budget 100, locked 100, plus a 15 bonus
	// credited mid-episode. Only the surplus is spendable.
	l := getLedger(t, ms, "alice", "g1")
	l.Budget = d(115)
	l.LockedBudget = d(100)
	l.BudgetLocked = true
	if err := ms.UpdateLedger(context.Background(), l); err != nil {
		t.Fatalf("failed to update ledger: %v", err)
	}

	w := doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 16, Action: "buy",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 spending past bonus balance, got %d: %s", w.Code, w.Body.String())
	}

	w = doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 15, Action: "buy",
	})
	if w.Code != http.StatusOK {
		t.Errorf("spending exactly the bonus balance should pass, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Portfolio endpoint tests ---

func TestPortfolio_QuotesAndNetWorth(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedSurvivor(t, ms, "kara")
	seedSurvivor(t, ms, "marco")
	seedGroup(t, ms, "g1", "alice", "bob")

	doOrder(t, router, "/api/v1/orders", ledger.OrderRequest{
		UserID: "alice", GroupID: "g1", Survivor: "kara", Amount: 30, Action: "buy",
	})

	req := httptest.NewRequest("GET", "/api/v1/portfolio/alice/g1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ledger.PortfolioResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// The whole 30-share order fills at the price read before mutation
	// (tier 1), so budget is 70. The held shares now quote at tier 2 (30/100).
	if !resp.Ledger.Budget.Equal(d(70)) {
		t.Errorf("expected budget 70, got %s", resp.Ledger.Budget)
	}
	if !resp.NetWorth.Equal(d(130)) {
		t.Errorf("expected net worth 70 + 30x2 = 130, got %s", resp.NetWorth)
	}
	if len(resp.Quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(resp.Quotes))
	}
	for _, q := range resp.Quotes {
		switch q.Survivor {
		case "kara":
			if q.Held != 30 || !q.SharePrice.Equal(d(2)) || q.AvailableShares != 70 {
				t.Errorf("unexpected kara quote: %+v", q)
			}
		case "marco":
			if q.Held != 0 || !q.SharePrice.Equal(d(1)) || q.AvailableShares != 100 {
				t.Errorf("unexpected marco quote: %+v", q)
			}
		}
	}
}

func TestPortfolio_UnknownLedger(t *testing.T) {
	_, _, router := newTestEnv(t)
	req := httptest.NewRequest("GET", "/api/v1/portfolio/nobody/g1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Survivor listing tests ---

func TestListSurvivors_MarketAndFrozenPrices(t *testing.T) {
	_, ms, router := newTestEnv(t)
	ctx := context.Background()
	ms.SaveSeason(ctx, &model.Season{ID: "s1", CurrentWeek: 3, MedianPrice: d(1)})

	ms.CreateSurvivor(ctx, &model.Survivor{Name: "kara", Available: true, IssuedShares: 100})
	ms.CreateSurvivor(ctx, &model.Survivor{Name: "marco", Available: true, IssuedShares: 100})
	ms.CreateSurvivor(ctx, &model.Survivor{Name: "out", Available: false, FrozenPrice: d(1.4)})

	req := httptest.NewRequest("GET", "/api/v1/survivors", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var out []ledger.SurvivorListing
	json.Unmarshal(w.Body.Bytes(), &out)
	if len(out) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(out))
	}
	for _, sv := range out {
		switch sv.Name {
		case "kara", "marco":
			// Two available survivors holding equal shares: k·(n/T) = 1,
			// price = median.
			if !sv.MarketPrice.Equal(d(1)) {
				t.Errorf("%s: expected market price 1, got %s", sv.Name, sv.MarketPrice)
			}
		case "out":
			if !sv.MarketPrice.Equal(d(1.4)) {
				t.Errorf("eliminated survivor should quote frozen price, got %s", sv.MarketPrice)
			}
		}
	}
}

// --- Group lifecycle tests ---

func TestCreateGroup_OwnerAcceptedInviteesPending(t *testing.T) {
	_, ms, router := newTestEnv(t)

	body, _ := json.Marshal(ledger.CreateGroupRequest{
		OwnerID: "alice", Name: "castaways", MemberIDs: []string{"bob", "alice"},
	})
	req := httptest.NewRequest("POST", "/api/v1/groups", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var g model.Group
	json.Unmarshal(w.Body.Bytes(), &g)
	if len(g.Members) != 2 {
		t.Fatalf("owner duplicated in member_ids should collapse, got %d members", len(g.Members))
	}
	if g.AcceptedMembers() != 1 {
		t.Errorf("only the owner should start accepted, got %d", g.AcceptedMembers())
	}

	// Owner has a ledger; the pending invitee does not yet.
	if _, err := ms.GetLedger(context.Background(), "alice", g.ID); err != nil {
		t.Errorf("owner ledger missing: %v", err)
	}
	if _, err := ms.GetLedger(context.Background(), "bob", g.ID); err == nil {
		t.Error("pending member should not have a ledger yet")
	}

	// Accept grows capacity and provisions the ledger.
	body, _ = json.Marshal(ledger.AcceptInviteRequest{UserID: "bob"})
	req = httptest.NewRequest("POST", "/api/v1/groups/"+g.ID+"/accept", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var after model.Group
	json.Unmarshal(w.Body.Bytes(), &after)
	if after.AcceptedMembers() != 2 {
		t.Errorf("expected 2 accepted members, got %d", after.AcceptedMembers())
	}
	if l, err := ms.GetLedger(context.Background(), "bob", g.ID); err != nil || !l.Budget.Equal(d(100)) {
		t.Errorf("accepted member should get a 100-budget ledger: %v", err)
	}
}

func TestAcceptInvite_NotInvited(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedGroup(t, ms, "g1", "alice")

	body, _ := json.Marshal(ledger.AcceptInviteRequest{UserID: "mallory"})
	req := httptest.NewRequest("POST", "/api/v1/groups/g1/accept", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for uninvited user, got %d: %s", w.Code, w.Body.String())
	}
}

func TestEnsurePlayer_Idempotent(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()

	g1, err := svc.EnsurePlayer(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsurePlayer failed: %v", err)
	}
	g2, err := svc.EnsurePlayer(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsurePlayer failed: %v", err)
	}
	if g1.ID != g2.ID {
		t.Errorf("EnsurePlayer should reuse the solo group: %s vs %s", g1.ID, g2.ID)
	}
	if l, err := ms.GetLedger(ctx, "alice", g1.ID); err != nil || !l.Budget.Equal(d(100)) {
		t.Errorf("solo ledger should hold starting budget: %v", err)
	}
}
