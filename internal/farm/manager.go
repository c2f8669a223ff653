// Package farm owns the farm aggregate and applies the lifecycle mutations:
// create, deposit, config update, pause, resume, and close. Ownership and
// configuration are validated before any state write; every applied mutation
// lands in the audit trail atomically with the farm update.
package farm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/audit"
	"github.com/moonpad/farm-engine/internal/model"
	"github.com/moonpad/farm-engine/internal/policy"
	"github.com/moonpad/farm-engine/internal/store"
)

var (
	// ErrActiveStakersExist is returned by Close while positions remain.
	ErrActiveStakersExist = errors.New("farm: cannot close while stakers remain")

	// ErrInvalidDeposit is returned for non-positive reward deposits.
	ErrInvalidDeposit = errors.New("farm: deposit amount must be positive")
)

// OwnershipResolver reports whether a principal owns a token's underlying
// asset. Injected rather than read from ambient state so ownership is
// testable in isolation.
type OwnershipResolver interface {
	OwnsToken(ctx context.Context, principal, token string) (bool, error)
}

// Manager applies lifecycle mutations to farms.
type Manager struct {
	store    store.Store
	balances policy.BalanceProvider
	owners   OwnershipResolver
	now      func() time.Time
}

// NewManager creates a farm lifecycle manager. A nil clock uses UTC wall
// time.
func NewManager(st store.Store, balances policy.BalanceProvider, owners OwnershipResolver, clock func() time.Time) *Manager {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{store: st, balances: balances, owners: owners, now: clock}
}

// --- Request types ---

// CreateRequest carries everything needed to open a farm.
type CreateRequest struct {
	Owner        string          `json:"owner"`
	StakingToken string          `json:"staking_token"`
	RewardToken  string          `json:"reward_token"`
	RewardRate   decimal.Decimal `json:"reward_rate"`
	Duration     int64           `json:"duration"`
	LockPeriod   int64           `json:"lock_period"`
	MinStake     decimal.Decimal `json:"min_stake"`
	MaxStake     decimal.Decimal `json:"max_stake"`
	// Deposit seeds the reward pool at creation. May be zero; the owner
	// can top up later with DepositRewards.
	Deposit decimal.Decimal `json:"deposit"`
}

// DepositRequest adds reward units to a farm's pool.
type DepositRequest struct {
	FarmID    string          `json:"farm_id"`
	Principal string          `json:"principal"`
	Amount    decimal.Decimal `json:"amount"`
}

// UpdateConfigRequest is a partial config change; nil fields keep their
// current value. The merged configuration is re-validated in full before it
// replaces the old one.
type UpdateConfigRequest struct {
	FarmID     string           `json:"farm_id"`
	Principal  string           `json:"principal"`
	RewardRate *decimal.Decimal `json:"reward_rate,omitempty"`
	Duration   *int64           `json:"duration,omitempty"`
	LockPeriod *int64           `json:"lock_period,omitempty"`
	MinStake   *decimal.Decimal `json:"min_stake,omitempty"`
	MaxStake   *decimal.Decimal `json:"max_stake,omitempty"`
}

// --- Lifecycle mutations ---

// Create validates and opens a new farm, seeding its reward pool with the
// requested deposit. The principal must own the staking token's underlying
// asset.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Farm, error) {
	now := m.now()

	owns, err := m.owners.OwnsToken(ctx, req.Owner, req.StakingToken)
	if err != nil {
		return nil, fmt.Errorf("ownership lookup: %w", err)
	}
	if !owns {
		return nil, fmt.Errorf("%w: %s does not own token %s", policy.ErrNotOwner, req.Owner, req.StakingToken)
	}

	cfg := model.FarmConfig{
		RewardRate: req.RewardRate,
		Duration:   req.Duration,
		LockPeriod: req.LockPeriod,
		MinStake:   req.MinStake,
		MaxStake:   req.MaxStake,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := policy.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if req.Deposit.IsNegative() {
		return nil, ErrInvalidDeposit
	}
	if err := policy.ValidateBalance(ctx, m.balances, req.Owner, req.RewardToken, req.Deposit); err != nil {
		return nil, err
	}

	farm := &model.Farm{
		ID:           uuid.New().String(),
		Owner:        req.Owner,
		StakingToken: req.StakingToken,
		RewardToken:  req.RewardToken,
		Config:       cfg,
		Pool: model.RewardPool{
			TotalDeposited:   req.Deposit,
			Available:        req.Deposit,
			Distributed:      decimal.Zero,
			LastCalculatedAt: now,
		},
		Stats: model.FarmStats{
			TotalStaked:        decimal.Zero,
			CurrentAPY:         decimal.Zero,
			RewardsDistributed: decimal.Zero,
			LastUpdated:        now,
		},
		Status:    model.FarmActive,
		CreatedAt: now,
	}

	entry := audit.NewEntry(farm.ID, model.AuditCreate, req.Owner, map[string]string{
		"staking_token": req.StakingToken,
		"reward_token":  req.RewardToken,
		"reward_rate":   req.RewardRate.String(),
		"deposit":       req.Deposit.String(),
	}, now)

	if err := m.store.CreateFarm(ctx, farm, entry); err != nil {
		return nil, fmt.Errorf("persist farm: %w", err)
	}

	slog.Info("farm created",
		"id", farm.ID,
		"owner", req.Owner,
		"staking_token", req.StakingToken,
		"reward_token", req.RewardToken,
		"reward_rate", req.RewardRate.String(),
		"deposit", req.Deposit.String(),
	)
	return farm, nil
}

// DepositRewards tops up the farm's reward pool.
func (m *Manager) DepositRewards(ctx context.Context, req DepositRequest) (*model.Farm, error) {
	now := m.now()

	farm, err := m.loadFarm(ctx, req.FarmID, now)
	if err != nil {
		return nil, err
	}
	if err := policy.ValidateOpen(farm); err != nil {
		return nil, err
	}
	if err := policy.ValidateOwnership(req.Principal, farm); err != nil {
		return nil, err
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidDeposit
	}
	if err := policy.ValidateBalance(ctx, m.balances, req.Principal, farm.RewardToken, req.Amount); err != nil {
		return nil, err
	}

	farm.Pool.TotalDeposited = farm.Pool.TotalDeposited.Add(req.Amount)
	farm.Pool.Available = farm.Pool.TotalDeposited.Sub(farm.Pool.Distributed)
	farm.Pool.LastCalculatedAt = now

	entry := audit.NewEntry(farm.ID, model.AuditDeposit, req.Principal, map[string]string{
		"amount":    req.Amount.String(),
		"available": farm.Pool.Available.String(),
	}, now)
	if err := m.store.UpdateFarm(ctx, farm, entry); err != nil {
		return nil, fmt.Errorf("persist deposit: %w", err)
	}

	slog.Info("rewards deposited",
		"farm", farm.ID,
		"amount", req.Amount.String(),
		"available", farm.Pool.Available.String(),
	)
	return farm, nil
}

// UpdateConfig merges the partial change into the farm's configuration and
// re-validates the result before persisting it.
func (m *Manager) UpdateConfig(ctx context.Context, req UpdateConfigRequest) (*model.Farm, error) {
	now := m.now()

	farm, err := m.loadFarm(ctx, req.FarmID, now)
	if err != nil {
		return nil, err
	}
	if err := policy.ValidateOpen(farm); err != nil {
		return nil, err
	}
	if err := policy.ValidateOwnership(req.Principal, farm); err != nil {
		return nil, err
	}

	merged := farm.Config
	changed := map[string]string{}
	if req.RewardRate != nil {
		merged.RewardRate = *req.RewardRate
		changed["reward_rate"] = req.RewardRate.String()
	}
	if req.Duration != nil {
		merged.Duration = *req.Duration
		changed["duration"] = fmt.Sprintf("%d", *req.Duration)
	}
	if req.LockPeriod != nil {
		merged.LockPeriod = *req.LockPeriod
		changed["lock_period"] = fmt.Sprintf("%d", *req.LockPeriod)
	}
	if req.MinStake != nil {
		merged.MinStake = *req.MinStake
		changed["min_stake"] = req.MinStake.String()
	}
	if req.MaxStake != nil {
		merged.MaxStake = *req.MaxStake
		changed["max_stake"] = req.MaxStake.String()
	}
	if err := policy.ValidateConfig(merged); err != nil {
		return nil, err
	}
	merged.UpdatedAt = now
	farm.Config = merged

	entry := audit.NewEntry(farm.ID, model.AuditUpdateConfig, req.Principal, changed, now)
	if err := m.store.UpdateFarm(ctx, farm, entry); err != nil {
		return nil, fmt.Errorf("persist config update: %w", err)
	}

	slog.Info("farm config updated", "farm", farm.ID, "fields", len(changed))
	return farm, nil
}

// Pause stops new stakes without touching positions or the pool.
func (m *Manager) Pause(ctx context.Context, farmID, principal string) (*model.Farm, error) {
	return m.setPaused(ctx, farmID, principal, true)
}

// Resume lifts a pause.
func (m *Manager) Resume(ctx context.Context, farmID, principal string) (*model.Farm, error) {
	return m.setPaused(ctx, farmID, principal, false)
}

func (m *Manager) setPaused(ctx context.Context, farmID, principal string, paused bool) (*model.Farm, error) {
	now := m.now()

	farm, err := m.loadFarm(ctx, farmID, now)
	if err != nil {
		return nil, err
	}
	if err := policy.ValidateOpen(farm); err != nil {
		return nil, err
	}
	if err := policy.ValidateOwnership(principal, farm); err != nil {
		return nil, err
	}

	farm.Config.Paused = paused
	farm.Config.UpdatedAt = now
	action := model.AuditResume
	if paused {
		action = model.AuditPause
		if farm.Status == model.FarmActive {
			farm.Status = model.FarmPaused
		}
	} else if farm.Status == model.FarmPaused {
		farm.Status = model.FarmActive
	}

	entry := audit.NewEntry(farm.ID, action, principal, nil, now)
	if err := m.store.UpdateFarm(ctx, farm, entry); err != nil {
		return nil, fmt.Errorf("persist %s: %w", action, err)
	}

	slog.Info("farm pause state changed", "farm", farm.ID, "paused", paused)
	return farm, nil
}

// Close terminates the farm and returns the undistributed remainder of the
// reward pool for external settlement. Close itself moves no external
// balances. Fails while any staked amount remains; a closed farm accepts no
// further mutating calls.
func (m *Manager) Close(ctx context.Context, farmID, principal string) (decimal.Decimal, error) {
	now := m.now()

	farm, err := m.loadFarm(ctx, farmID, now)
	if err != nil {
		return decimal.Zero, err
	}
	if err := policy.ValidateOpen(farm); err != nil {
		return decimal.Zero, err
	}
	if err := policy.ValidateOwnership(principal, farm); err != nil {
		return decimal.Zero, err
	}
	if farm.Stats.TotalStaked.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s staked in farm %s",
			ErrActiveStakersExist, farm.Stats.TotalStaked, farm.ID)
	}

	refund := farm.Pool.Available
	// Refund accounting: the remainder leaves the pool, so deposits shrink
	// by the same amount and conservation holds.
	farm.Pool.TotalDeposited = farm.Pool.TotalDeposited.Sub(refund)
	farm.Pool.Available = decimal.Zero
	farm.Pool.LastCalculatedAt = now
	farm.Status = model.FarmClosed

	entry := audit.NewEntry(farm.ID, model.AuditClose, principal, map[string]string{
		"refund": refund.String(),
	}, now)
	if err := m.store.UpdateFarm(ctx, farm, entry); err != nil {
		return decimal.Zero, fmt.Errorf("persist close: %w", err)
	}

	slog.Info("farm closed", "farm", farm.ID, "refund", refund.String())
	return refund, nil
}

// --- Queries ---

// Farm returns one farm, with the expired status applied in memory when the
// duration has lapsed. Reads do not persist the flip; the next mutating
// call does.
func (m *Manager) Farm(ctx context.Context, id string) (*model.Farm, error) {
	farm, err := m.store.GetFarm(ctx, id)
	if err != nil {
		return nil, err
	}
	farm.RefreshStatus(m.now())
	return farm, nil
}

// Farms returns all farms, newest first.
func (m *Manager) Farms(ctx context.Context) ([]model.Farm, error) {
	farms, err := m.store.ListFarms(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	for i := range farms {
		farms[i].RefreshStatus(now)
	}
	return farms, nil
}

// loadFarm fetches the farm and persists the lazy expired transition on
// first observation by a mutating call.
func (m *Manager) loadFarm(ctx context.Context, farmID string, now time.Time) (*model.Farm, error) {
	farm, err := m.store.GetFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	if farm.RefreshStatus(now) {
		if err := m.store.UpdateFarm(ctx, farm, nil); err != nil {
			return nil, fmt.Errorf("persist expiry: %w", err)
		}
	}
	return farm, nil
}
