// Package api exposes the farm engine over HTTP: farm lifecycle management,
// stake/unstake/harvest, position and audit queries, and the local wallet
// administration endpoints. The engine itself is a plain library; everything
// wire-shaped lives here.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/accrual"
	"github.com/moonpad/farm-engine/internal/audit"
	"github.com/moonpad/farm-engine/internal/farm"
	"github.com/moonpad/farm-engine/internal/ledger"
	"github.com/moonpad/farm-engine/internal/metrics"
	"github.com/moonpad/farm-engine/internal/model"
	"github.com/moonpad/farm-engine/internal/wallet"
)

// Service handles the HTTP surface of the farm engine. A mutex serializes
// mutating calls (single-instance); the engine requires the host to provide
// that serialization per farm, and one process-wide lock satisfies it here.
type Service struct {
	manager *farm.Manager
	ledger  *ledger.Ledger
	trail   *audit.Trail
	wallet  *wallet.Wallet
	wsHub   *WSHub
	mu      sync.Mutex
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(manager *farm.Manager, lg *ledger.Ledger, trail *audit.Trail, w *wallet.Wallet, hub *WSHub) *Service {
	return &Service{
		manager: manager,
		ledger:  lg,
		trail:   trail,
		wallet:  w,
		wsHub:   hub,
	}
}

// Register mounts all engine routes on the router.
func (s *Service) Register(r chi.Router) {
	r.Get("/farms", s.ListFarms)
	r.Post("/farms", s.CreateFarm)
	r.Get("/farms/{farmID}", s.GetFarm)
	r.Post("/farms/{farmID}/deposit", s.DepositRewards)
	r.Patch("/farms/{farmID}/config", s.UpdateConfig)
	r.Post("/farms/{farmID}/pause", s.PauseFarm)
	r.Post("/farms/{farmID}/resume", s.ResumeFarm)
	r.Post("/farms/{farmID}/close", s.CloseFarm)
	r.Get("/farms/{farmID}/audit", s.GetAuditTrail)

	r.Post("/farms/{farmID}/stake", s.Stake)
	r.Post("/farms/{farmID}/unstake", s.Unstake)
	r.Post("/farms/{farmID}/harvest", s.Harvest)
	r.Get("/farms/{farmID}/positions/{address}", s.GetPosition)
	r.Get("/users/{address}/positions", s.GetUserPositions)

	r.Post("/wallet/credit", s.CreditWallet)
	r.Post("/wallet/tokens", s.RegisterToken)
	r.Get("/wallet/{address}/balances", s.GetBalances)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Response types ---

// farmResponse is a farm with its derived display figures attached.
type farmResponse struct {
	model.Farm
	// APY is the nominal rate-implied annual yield in percent.
	APY       decimal.Decimal `json:"apy"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

func newFarmResponse(f *model.Farm) farmResponse {
	resp := farmResponse{Farm: *f, APY: accrual.APY(f.Config.RewardRate)}
	if exp := f.ExpiresAt(); !exp.IsZero() {
		resp.ExpiresAt = &exp
	}
	return resp
}

// stakeResponse is returned from stake and partial-unstake calls.
type stakeResponse struct {
	Position *model.Position `json:"position"`
}

// harvestResponse reports a completed payout.
type harvestResponse struct {
	Rewards decimal.Decimal `json:"rewards"`
}

// closeResponse reports the refunded remainder for external settlement.
type closeResponse struct {
	Refund decimal.Decimal `json:"refund"`
}

// portfolioResponse aggregates a user's positions across farms.
type portfolioResponse struct {
	Address      string                `json:"address"`
	Positions    []ledger.PositionView `json:"positions"`
	TotalStaked  decimal.Decimal       `json:"total_staked"`
	TotalPending decimal.Decimal       `json:"total_pending"`
}

// --- Farm lifecycle handlers ---

// CreateFarm handles POST /api/v1/farms
func (s *Service) CreateFarm(w http.ResponseWriter, r *http.Request) {
	var req farm.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" || req.StakingToken == "" || req.RewardToken == "" {
		writeError(w, "owner, staking_token and reward_token are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.manager.Create(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.ActiveFarms.Inc()
	s.broadcast(WSMessage{Type: "farm_created", FarmID: created.ID, Status: string(created.Status)})
	writeJSON(w, http.StatusCreated, newFarmResponse(created))
}

// GetFarm handles GET /api/v1/farms/{farmID}
func (s *Service) GetFarm(w http.ResponseWriter, r *http.Request) {
	f, err := s.manager.Farm(r.Context(), chi.URLParam(r, "farmID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFarmResponse(f))
}

// ListFarms handles GET /api/v1/farms
func (s *Service) ListFarms(w http.ResponseWriter, r *http.Request) {
	farms, err := s.manager.Farms(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := make([]farmResponse, 0, len(farms))
	for i := range farms {
		resp = append(resp, newFarmResponse(&farms[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DepositRewards handles POST /api/v1/farms/{farmID}/deposit
func (s *Service) DepositRewards(w http.ResponseWriter, r *http.Request) {
	var req farm.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.FarmID = chi.URLParam(r, "farmID")

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.manager.DepositRewards(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFarmResponse(f))
}

// UpdateConfig handles PATCH /api/v1/farms/{farmID}/config
func (s *Service) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req farm.UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.FarmID = chi.URLParam(r, "farmID")

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.manager.UpdateConfig(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFarmResponse(f))
}

// principalRequest is the body for pause/resume/close.
type principalRequest struct {
	Principal string `json:"principal"`
}

// PauseFarm handles POST /api/v1/farms/{farmID}/pause
func (s *Service) PauseFarm(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

// ResumeFarm handles POST /api/v1/farms/{farmID}/resume
func (s *Service) ResumeFarm(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Service) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var req principalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	farmID := chi.URLParam(r, "farmID")

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		f   *model.Farm
		err error
	)
	event := "farm_resumed"
	if paused {
		event = "farm_paused"
		f, err = s.manager.Pause(r.Context(), farmID, req.Principal)
	} else {
		f, err = s.manager.Resume(r.Context(), farmID, req.Principal)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcast(WSMessage{Type: event, FarmID: f.ID, Status: string(f.Status)})
	writeJSON(w, http.StatusOK, newFarmResponse(f))
}

// CloseFarm handles POST /api/v1/farms/{farmID}/close
func (s *Service) CloseFarm(w http.ResponseWriter, r *http.Request) {
	var req principalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	farmID := chi.URLParam(r, "farmID")

	s.mu.Lock()
	defer s.mu.Unlock()

	refund, err := s.manager.Close(r.Context(), farmID, req.Principal)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.ActiveFarms.Dec()
	s.broadcast(WSMessage{Type: "farm_closed", FarmID: farmID, Status: string(model.FarmClosed)})
	writeJSON(w, http.StatusOK, closeResponse{Refund: refund})
}

// GetAuditTrail handles GET /api/v1/farms/{farmID}/audit?limit=N
func (s *Service) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.trail.Query(r.Context(), chi.URLParam(r, "farmID"), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Ledger handlers ---

// Stake handles POST /api/v1/farms/{farmID}/stake
func (s *Service) Stake(w http.ResponseWriter, r *http.Request) {
	var req ledger.StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.FarmID = chi.URLParam(r, "farmID")
	if req.Address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.ledger.Stake(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.StakesTotal.WithLabelValues("stake").Inc()
	staked, _ := req.Amount.Float64()
	metrics.TotalValueStaked.Add(staked)
	s.broadcast(WSMessage{
		Type:    "staked",
		FarmID:  req.FarmID,
		Address: req.Address,
		Amount:  req.Amount.String(),
	})
	writeJSON(w, http.StatusOK, stakeResponse{Position: pos})
}

// Unstake handles POST /api/v1/farms/{farmID}/unstake
func (s *Service) Unstake(w http.ResponseWriter, r *http.Request) {
	var req ledger.UnstakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.FarmID = chi.URLParam(r, "farmID")
	if req.Address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.ledger.Unstake(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.StakesTotal.WithLabelValues("unstake").Inc()
	unstaked, _ := req.Amount.Float64()
	metrics.TotalValueStaked.Sub(unstaked)
	if result.Position == nil {
		// Full exit paid out rewards.
		paid, _ := result.Rewards.Float64()
		metrics.RewardsDistributed.Add(paid)
	}
	s.broadcast(WSMessage{
		Type:    "unstaked",
		FarmID:  req.FarmID,
		Address: req.Address,
		Amount:  req.Amount.String(),
		Rewards: result.Rewards.String(),
	})
	writeJSON(w, http.StatusOK, result)
}

// Harvest handles POST /api/v1/farms/{farmID}/harvest
func (s *Service) Harvest(w http.ResponseWriter, r *http.Request) {
	var req ledger.HarvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.FarmID = chi.URLParam(r, "farmID")
	if req.Address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	paid, err := s.ledger.Harvest(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.StakesTotal.WithLabelValues("harvest").Inc()
	pf, _ := paid.Float64()
	metrics.RewardsDistributed.Add(pf)
	s.broadcast(WSMessage{
		Type:    "harvested",
		FarmID:  req.FarmID,
		Address: req.Address,
		Rewards: paid.String(),
	})
	writeJSON(w, http.StatusOK, harvestResponse{Rewards: paid})
}

// GetPosition handles GET /api/v1/farms/{farmID}/positions/{address}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.Position(r.Context(), chi.URLParam(r, "farmID"), chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetUserPositions handles GET /api/v1/users/{address}/positions
func (s *Service) GetUserPositions(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	views, err := s.ledger.UserPositions(r.Context(), address)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	totalStaked := decimal.Zero
	totalPending := decimal.Zero
	for _, v := range views {
		totalStaked = totalStaked.Add(v.Position.StakedAmount)
		totalPending = totalPending.Add(v.Pending)
	}
	if views == nil {
		views = []ledger.PositionView{}
	}

	writeJSON(w, http.StatusOK, portfolioResponse{
		Address:      address,
		Positions:    views,
		TotalStaked:  totalStaked,
		TotalPending: totalPending,
	})
}

// --- Wallet handlers ---

// creditRequest is the body for POST /api/v1/wallet/credit.
type creditRequest struct {
	Address string          `json:"address"`
	Token   string          `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreditWallet handles POST /api/v1/wallet/credit
func (s *Service) CreditWallet(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" || req.Token == "" {
		writeError(w, "address and token are required", http.StatusBadRequest)
		return
	}
	if err := s.wallet.Credit(req.Address, req.Token, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{req.Token: s.wallet.Balances(req.Address)[req.Token]})
}

// tokenRequest is the body for POST /api/v1/wallet/tokens.
type tokenRequest struct {
	Token string `json:"token"`
	Owner string `json:"owner"`
}

// RegisterToken handles POST /api/v1/wallet/tokens
func (s *Service) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.Owner == "" {
		writeError(w, "token and owner are required", http.StatusBadRequest)
		return
	}
	s.wallet.SetTokenOwner(req.Token, req.Owner)
	w.WriteHeader(http.StatusNoContent)
}

// GetBalances handles GET /api/v1/wallet/{address}/balances
func (s *Service) GetBalances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.wallet.Balances(chi.URLParam(r, "address")))
}

// broadcast sends a WebSocket message when a hub is attached.
func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}
