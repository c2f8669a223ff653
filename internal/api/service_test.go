package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/api"
	"github.com/moonpad/farm-engine/internal/audit"
	"github.com/moonpad/farm-engine/internal/farm"
	"github.com/moonpad/farm-engine/internal/ledger"
	"github.com/moonpad/farm-engine/internal/model"
	"github.com/moonpad/farm-engine/internal/store"
	"github.com/moonpad/farm-engine/internal/wallet"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(dur time.Duration) { c.now = c.now.Add(dur) }

// newTestEnv wires the full service over the in-memory store. "owner" holds
// the MOON token with a funded STAR balance; "alice" holds MOON to stake.
func newTestEnv(t *testing.T) (chi.Router, *wallet.Wallet, *fakeClock) {
	t.Helper()
	ms := store.NewMemoryStore()
	w := wallet.New()
	clk := &fakeClock{now: t0}

	w.SetTokenOwner("MOON", "owner")
	if err := w.Credit("owner", "STAR", d(100000)); err != nil {
		t.Fatalf("failed to fund owner: %v", err)
	}
	if err := w.Credit("alice", "MOON", d(100000)); err != nil {
		t.Fatalf("failed to fund alice: %v", err)
	}

	manager := farm.NewManager(ms, w, w, clk.Now)
	lg := ledger.NewLedger(ms, w, clk.Now)
	trail := audit.NewTrail(ms)
	svc := api.NewService(manager, lg, trail, w, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Register)
	return r, w, clk
}

func doJSON(t *testing.T, router chi.Router, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	} else {
		body.WriteString("{}")
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type farmJSON struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	APY       decimal.Decimal  `json:"apy"`
	ExpiresAt *time.Time       `json:"expires_at"`
	Pool      model.RewardPool `json:"pool"`
	Stats     model.FarmStats  `json:"stats"`
}

func createFarmReq() map[string]any {
	return map[string]any{
		"owner":         "owner",
		"staking_token": "MOON",
		"reward_token":  "STAR",
		"reward_rate":   "0.0001",
		"duration":      7 * 86400,
		"lock_period":   0,
		"min_stake":     "10",
		"max_stake":     "10000",
		"deposit":       "5000",
	}
}

func createFarm(t *testing.T, router chi.Router) farmJSON {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/farms", createFarmReq())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var f farmJSON
	if err := json.Unmarshal(w.Body.Bytes(), &f); err != nil {
		t.Fatalf("failed to decode farm: %v", err)
	}
	return f
}

// --- Farm lifecycle ---

func TestCreateFarm(t *testing.T) {
	router, _, _ := newTestEnv(t)
	f := createFarm(t, router)

	if f.ID == "" {
		t.Error("expected farm id")
	}
	if f.Status != "active" {
		t.Errorf("expected active, got %s", f.Status)
	}
	// 0.0001/s annualizes well past the ceiling, so the nominal APY clamps.
	if !f.APY.Equal(d(50000)) {
		t.Errorf("expected clamped APY 50000, got %s", f.APY)
	}
	if f.ExpiresAt == nil {
		t.Error("finite duration should expose expires_at")
	}
	if !f.Pool.Available.Equal(d(5000)) {
		t.Errorf("expected pool 5000, got %s", f.Pool.Available)
	}
}

func TestCreateFarm_Rejections(t *testing.T) {
	router, _, _ := newTestEnv(t)

	missing := createFarmReq()
	delete(missing, "owner")
	if w := doJSON(t, router, "POST", "/api/v1/farms", missing); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing owner, got %d", w.Code)
	}

	badRate := createFarmReq()
	badRate["reward_rate"] = "0.002"
	if w := doJSON(t, router, "POST", "/api/v1/farms", badRate); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for excessive rate, got %d", w.Code)
	}

	notOwner := createFarmReq()
	notOwner["owner"] = "mallory"
	if w := doJSON(t, router, "POST", "/api/v1/farms", notOwner); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner, got %d", w.Code)
	}

	// Second farm on the same staking token conflicts.
	createFarm(t, router)
	if w := doJSON(t, router, "POST", "/api/v1/farms", createFarmReq()); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate staking token, got %d", w.Code)
	}
}

func TestPauseResumeClose(t *testing.T) {
	router, _, _ := newTestEnv(t)
	f := createFarm(t, router)
	owner := map[string]string{"principal": "owner"}

	if w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/pause", map[string]string{"principal": "mallory"}); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner pause, got %d", w.Code)
	}

	w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/pause", owner)
	if w.Code != http.StatusOK {
		t.Fatalf("pause failed: %d %s", w.Code, w.Body.String())
	}
	var paused farmJSON
	json.Unmarshal(w.Body.Bytes(), &paused)
	if paused.Status != "paused" {
		t.Errorf("expected paused, got %s", paused.Status)
	}

	// Stakes bounce off a paused farm with a state conflict.
	stake := map[string]string{"address": "alice", "amount": "100"}
	if w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/stake", stake); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on paused farm, got %d", w.Code)
	}

	if w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/resume", owner); w.Code != http.StatusOK {
		t.Fatalf("resume failed: %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/close", owner)
	if w.Code != http.StatusOK {
		t.Fatalf("close failed: %d %s", w.Code, w.Body.String())
	}
	var closed struct {
		Refund decimal.Decimal `json:"refund"`
	}
	json.Unmarshal(w.Body.Bytes(), &closed)
	if !closed.Refund.Equal(d(5000)) {
		t.Errorf("expected refund 5000, got %s", closed.Refund)
	}
}

// --- Staking flow ---

func TestStakeHarvestUnstakeFlow(t *testing.T) {
	router, _, clk := newTestEnv(t)
	f := createFarm(t, router)

	w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/stake", map[string]string{
		"address": "alice", "amount": "100",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("stake failed: %d %s", w.Code, w.Body.String())
	}

	clk.advance(100 * time.Second) // accrues 1.0

	// Position view reports the live pending amount.
	w = doJSON(t, router, "GET", "/api/v1/farms/"+f.ID+"/positions/alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("position query failed: %d", w.Code)
	}
	var view struct {
		Pending decimal.Decimal `json:"pending"`
	}
	json.Unmarshal(w.Body.Bytes(), &view)
	if !view.Pending.Equal(d(1.0)) {
		t.Errorf("expected pending 1.0, got %s", view.Pending)
	}

	w = doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/harvest", map[string]string{"address": "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("harvest failed: %d %s", w.Code, w.Body.String())
	}
	var harvested struct {
		Rewards decimal.Decimal `json:"rewards"`
	}
	json.Unmarshal(w.Body.Bytes(), &harvested)
	if !harvested.Rewards.Equal(d(1.0)) {
		t.Errorf("expected rewards 1.0, got %s", harvested.Rewards)
	}

	clk.advance(50 * time.Second) // accrues another 0.5

	w = doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/unstake", map[string]string{
		"address": "alice", "amount": "100",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unstake failed: %d %s", w.Code, w.Body.String())
	}
	var exited struct {
		Rewards  decimal.Decimal `json:"rewards"`
		Position *model.Position `json:"position"`
	}
	json.Unmarshal(w.Body.Bytes(), &exited)
	if exited.Position != nil {
		t.Error("full exit should drop the position")
	}
	if !exited.Rewards.Equal(d(0.5)) {
		t.Errorf("expected exit payout 0.5, got %s", exited.Rewards)
	}

	if w := doJSON(t, router, "GET", "/api/v1/farms/"+f.ID+"/positions/alice", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after full exit, got %d", w.Code)
	}

	// Audit trail recorded the whole flow, newest first.
	w = doJSON(t, router, "GET", "/api/v1/farms/"+f.ID+"/audit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit query failed: %d", w.Code)
	}
	var entries []model.AuditEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 4 { // create, stake, harvest, unstake
		t.Fatalf("expected 4 audit entries, got %d", len(entries))
	}
	if entries[0].Action != model.AuditUnstake || entries[3].Action != model.AuditCreate {
		t.Errorf("unexpected audit order: %s..%s", entries[0].Action, entries[3].Action)
	}
}

func TestStake_ErrorStatuses(t *testing.T) {
	router, _, _ := newTestEnv(t)
	f := createFarm(t, router)

	if w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/stake", map[string]string{
		"address": "alice", "amount": "5",
	}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 below minimum, got %d", w.Code)
	}

	if w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/stake", map[string]string{
		"address": "carol", "amount": "100",
	}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unfunded staker, got %d", w.Code)
	}

	if w := doJSON(t, router, "POST", "/api/v1/farms/missing/stake", map[string]string{
		"address": "alice", "amount": "100",
	}); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown farm, got %d", w.Code)
	}

	if w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/stake", map[string]string{
		"amount": "100",
	}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing address, got %d", w.Code)
	}
}

func TestUserPortfolio(t *testing.T) {
	router, _, clk := newTestEnv(t)
	f := createFarm(t, router)

	if w := doJSON(t, router, "POST", "/api/v1/farms/"+f.ID+"/stake", map[string]string{
		"address": "alice", "amount": "100",
	}); w.Code != http.StatusOK {
		t.Fatalf("stake failed: %d", w.Code)
	}
	clk.advance(10 * time.Second)

	w := doJSON(t, router, "GET", "/api/v1/users/alice/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portfolio failed: %d", w.Code)
	}
	var portfolio struct {
		Address      string          `json:"address"`
		TotalStaked  decimal.Decimal `json:"total_staked"`
		TotalPending decimal.Decimal `json:"total_pending"`
	}
	json.Unmarshal(w.Body.Bytes(), &portfolio)
	if portfolio.Address != "alice" {
		t.Errorf("expected alice, got %s", portfolio.Address)
	}
	if !portfolio.TotalStaked.Equal(d(100)) {
		t.Errorf("expected staked 100, got %s", portfolio.TotalStaked)
	}
	if !portfolio.TotalPending.Equal(d(0.1)) {
		t.Errorf("expected pending 0.1, got %s", portfolio.TotalPending)
	}
}

// --- Wallet endpoints ---

func TestWalletEndpoints(t *testing.T) {
	router, _, _ := newTestEnv(t)

	if w := doJSON(t, router, "POST", "/api/v1/wallet/tokens", map[string]string{
		"token": "DOGE", "owner": "bob",
	}); w.Code != http.StatusNoContent {
		t.Fatalf("token registration failed: %d", w.Code)
	}

	if w := doJSON(t, router, "POST", "/api/v1/wallet/credit", map[string]string{
		"address": "bob", "token": "DOGE", "amount": "250",
	}); w.Code != http.StatusOK {
		t.Fatalf("credit failed: %d", w.Code)
	}

	if w := doJSON(t, router, "POST", "/api/v1/wallet/credit", map[string]string{
		"address": "bob", "token": "DOGE", "amount": "-1",
	}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative credit, got %d", w.Code)
	}

	w := doJSON(t, router, "GET", "/api/v1/wallet/bob/balances", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balances failed: %d", w.Code)
	}
	var balances map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &balances)
	if !balances["DOGE"].Equal(d(250)) {
		t.Errorf("expected 250 DOGE, got %s", balances["DOGE"])
	}
}
