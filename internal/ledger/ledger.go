// Package ledger owns the set of staking positions per farm and applies the
// stake, unstake, and harvest mutations. Every mutation validates first,
// settles pending rewards, updates the farm's stats and pool, and persists
// the new state together with its audit entry in one atomic store call —
// a request either fully applies or fails before any state write.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/accrual"
	"github.com/moonpad/farm-engine/internal/audit"
	"github.com/moonpad/farm-engine/internal/model"
	"github.com/moonpad/farm-engine/internal/policy"
	"github.com/moonpad/farm-engine/internal/store"
)

var (
	// ErrNoRewards is returned by Harvest when nothing has accrued.
	ErrNoRewards = errors.New("ledger: no rewards to harvest")

	// ErrPoolExhausted is returned by Harvest when the accrued amount
	// exceeds the pool's available rewards.
	ErrPoolExhausted = errors.New("ledger: reward pool has insufficient available rewards")
)

// Ledger applies position mutations against a farm. Operations are
// synchronous and single-flight per farm; callers in a multi-threaded host
// must serialize calls touching the same farm id.
type Ledger struct {
	store    store.Store
	balances policy.BalanceProvider
	now      func() time.Time
}

// NewLedger creates a position ledger. A nil clock uses UTC wall time.
func NewLedger(st store.Store, balances policy.BalanceProvider, clock func() time.Time) *Ledger {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{store: st, balances: balances, now: clock}
}

// --- Request/result types ---

// StakeRequest asks to add Amount of the farm's staking token to the
// principal's position.
type StakeRequest struct {
	FarmID  string          `json:"farm_id"`
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// UnstakeRequest asks to withdraw Amount from the principal's position.
type UnstakeRequest struct {
	FarmID  string          `json:"farm_id"`
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// HarvestRequest asks to pay out the principal's accrued rewards.
type HarvestRequest struct {
	FarmID  string `json:"farm_id"`
	Address string `json:"address"`
}

// UnstakeResult reports the outcome of an unstake. Position is nil when the
// unstake emptied the position and removed it. Rewards is the amount paid
// out on a full exit; for a partial unstake it reflects the currently
// accumulated (not yet harvested) amount for caller visibility and is not
// paid out.
type UnstakeResult struct {
	Rewards  decimal.Decimal `json:"rewards"`
	Position *model.Position `json:"position,omitempty"`
}

// PositionView is a position joined with its farm context and the rewards
// it would pay if harvested now.
type PositionView struct {
	Position     model.Position  `json:"position"`
	StakingToken string          `json:"staking_token"`
	RewardToken  string          `json:"reward_token"`
	Pending      decimal.Decimal `json:"pending"`
}

// --- Mutations ---

// Stake adds to the principal's position, creating it on first stake.
// Repeated stakes aggregate into the same position: pending rewards are
// settled first, then the amount is added and the lock period restarts.
func (l *Ledger) Stake(ctx context.Context, req StakeRequest) (*model.Position, error) {
	now := l.now()

	farm, err := l.loadFarm(ctx, req.FarmID, now)
	if err != nil {
		return nil, err
	}
	if err := policy.ValidateStake(farm, req.Amount, now); err != nil {
		return nil, err
	}
	if err := policy.ValidateBalance(ctx, l.balances, req.Address, farm.StakingToken, req.Amount); err != nil {
		return nil, err
	}

	pos, err := l.store.GetPosition(ctx, req.FarmID, req.Address)
	fresh := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		fresh = true
		pos = &model.Position{
			ID:            uuid.New().String(),
			FarmID:        req.FarmID,
			Address:       req.Address,
			StakedAmount:  decimal.Zero,
			StakedAt:      now,
			LastAccruedAt: now,
			Accumulated:   decimal.Zero,
		}
	case err != nil:
		return nil, err
	default:
		accrual.Settle(pos, farm.Config.RewardRate, now)
	}

	pos.StakedAmount = pos.StakedAmount.Add(req.Amount)
	if farm.Config.LockPeriod > 0 {
		pos.LockExpiresAt = now.Add(time.Duration(farm.Config.LockPeriod) * time.Second)
	}

	farm.Stats.TotalStaked = farm.Stats.TotalStaked.Add(req.Amount)
	if fresh {
		farm.Stats.UniqueStakers++
	}
	if err := l.recomputeStats(ctx, farm, pos, false, now); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(farm.ID, model.AuditStake, req.Address, map[string]string{
		"amount":       req.Amount.String(),
		"staked_total": pos.StakedAmount.String(),
	}, now)

	if err := l.store.PutPosition(ctx, farm, pos, entry); err != nil {
		return nil, fmt.Errorf("persist stake: %w", err)
	}

	slog.Info("stake applied",
		"farm", farm.ID,
		"address", req.Address,
		"amount", req.Amount.String(),
		"staked_total", pos.StakedAmount.String(),
		"fresh", fresh,
	)
	return pos, nil
}

// Unstake withdraws part or all of the principal's staked amount. A full
// exit removes the position and pays out its accumulated rewards (an
// implicit harvest); a partial unstake leaves accumulated rewards untouched.
func (l *Ledger) Unstake(ctx context.Context, req UnstakeRequest) (*UnstakeResult, error) {
	now := l.now()

	farm, err := l.loadFarm(ctx, req.FarmID, now)
	if err != nil {
		return nil, err
	}
	if err := policy.ValidateOpen(farm); err != nil {
		return nil, err
	}

	pos, err := l.store.GetPosition(ctx, req.FarmID, req.Address)
	if err != nil {
		return nil, err
	}
	if err := policy.ValidateUnstake(pos, req.Amount, now); err != nil {
		return nil, err
	}

	accrual.Settle(pos, farm.Config.RewardRate, now)
	pos.StakedAmount = pos.StakedAmount.Sub(req.Amount)
	farm.Stats.TotalStaked = farm.Stats.TotalStaked.Sub(req.Amount)

	if pos.StakedAmount.IsZero() {
		// Full exit: pay out accumulated rewards and remove the position.
		payout := pos.Accumulated
		if payout.GreaterThan(farm.Pool.Available) {
			slog.Warn("reward pool short on full exit, paying available remainder",
				"farm", farm.ID,
				"address", req.Address,
				"accrued", pos.Accumulated.String(),
				"available", farm.Pool.Available.String(),
			)
			payout = farm.Pool.Available
		}
		distribute(farm, payout, now)
		pos.Accumulated = decimal.Zero
		farm.Stats.UniqueStakers--
		if err := l.recomputeStats(ctx, farm, pos, true, now); err != nil {
			return nil, err
		}

		entry := audit.NewEntry(farm.ID, model.AuditUnstake, req.Address, map[string]string{
			"amount":  req.Amount.String(),
			"rewards": payout.String(),
			"exit":    "full",
		}, now)
		if err := l.store.DeletePosition(ctx, farm, pos, entry); err != nil {
			return nil, fmt.Errorf("persist unstake: %w", err)
		}

		slog.Info("position closed",
			"farm", farm.ID,
			"address", req.Address,
			"amount", req.Amount.String(),
			"rewards", payout.String(),
		)
		return &UnstakeResult{Rewards: payout}, nil
	}

	if err := l.recomputeStats(ctx, farm, pos, false, now); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(farm.ID, model.AuditUnstake, req.Address, map[string]string{
		"amount":       req.Amount.String(),
		"staked_total": pos.StakedAmount.String(),
	}, now)
	if err := l.store.PutPosition(ctx, farm, pos, entry); err != nil {
		return nil, fmt.Errorf("persist unstake: %w", err)
	}

	slog.Info("unstake applied",
		"farm", farm.ID,
		"address", req.Address,
		"amount", req.Amount.String(),
		"staked_total", pos.StakedAmount.String(),
	)
	return &UnstakeResult{Rewards: pos.Accumulated, Position: pos}, nil
}

// Harvest settles and pays out the principal's accrued rewards, debiting
// the farm's reward pool.
func (l *Ledger) Harvest(ctx context.Context, req HarvestRequest) (decimal.Decimal, error) {
	now := l.now()

	farm, err := l.loadFarm(ctx, req.FarmID, now)
	if err != nil {
		return decimal.Zero, err
	}
	if err := policy.ValidateOpen(farm); err != nil {
		return decimal.Zero, err
	}

	pos, err := l.store.GetPosition(ctx, req.FarmID, req.Address)
	if err != nil {
		return decimal.Zero, err
	}

	accrual.Settle(pos, farm.Config.RewardRate, now)
	if pos.Accumulated.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: farm %s", ErrNoRewards, farm.ID)
	}
	if pos.Accumulated.GreaterThan(farm.Pool.Available) {
		return decimal.Zero, fmt.Errorf("%w: accrued %s, available %s",
			ErrPoolExhausted, pos.Accumulated, farm.Pool.Available)
	}

	paid := pos.Accumulated
	distribute(farm, paid, now)
	pos.Accumulated = decimal.Zero
	farm.Stats.LastUpdated = now

	entry := audit.NewEntry(farm.ID, model.AuditHarvest, req.Address, map[string]string{
		"rewards": paid.String(),
	}, now)
	if err := l.store.PutPosition(ctx, farm, pos, entry); err != nil {
		return decimal.Zero, fmt.Errorf("persist harvest: %w", err)
	}

	slog.Info("harvest paid",
		"farm", farm.ID,
		"address", req.Address,
		"rewards", paid.String(),
		"pool_available", farm.Pool.Available.String(),
	)
	return paid, nil
}

// --- Queries ---

// Position returns the principal's position in a farm together with the
// rewards it would pay if harvested now.
func (l *Ledger) Position(ctx context.Context, farmID, address string) (*PositionView, error) {
	now := l.now()

	farm, err := l.store.GetFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	pos, err := l.store.GetPosition(ctx, farmID, address)
	if err != nil {
		return nil, err
	}

	pending := pos.Accumulated.Add(accrual.Pending(pos, farm.Config.RewardRate, now))
	return &PositionView{
		Position:     *pos,
		StakingToken: farm.StakingToken,
		RewardToken:  farm.RewardToken,
		Pending:      pending,
	}, nil
}

// UserPositions returns all of the principal's open positions across farms,
// each with its live pending rewards.
func (l *Ledger) UserPositions(ctx context.Context, address string) ([]PositionView, error) {
	now := l.now()

	positions, err := l.store.ListUserPositions(ctx, address)
	if err != nil {
		return nil, err
	}

	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		pos := positions[i]
		farm, err := l.store.GetFarm(ctx, pos.FarmID)
		if err != nil {
			return nil, err
		}
		pending := pos.Accumulated.Add(accrual.Pending(&pos, farm.Config.RewardRate, now))
		views = append(views, PositionView{
			Position:     pos,
			StakingToken: farm.StakingToken,
			RewardToken:  farm.RewardToken,
			Pending:      pending,
		})
	}
	return views, nil
}

// --- Internals ---

// loadFarm fetches the farm and applies the lazy expired transition,
// persisting the flip on first observation. The flip carries no audit
// action.
func (l *Ledger) loadFarm(ctx context.Context, farmID string, now time.Time) (*model.Farm, error) {
	farm, err := l.store.GetFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	if farm.RefreshStatus(now) {
		if err := l.store.UpdateFarm(ctx, farm, nil); err != nil {
			return nil, fmt.Errorf("persist expiry: %w", err)
		}
	}
	return farm, nil
}

// distribute moves paid rewards from available to distributed, keeping the
// pool conservation invariant: totalDeposited = available + distributed.
func distribute(farm *model.Farm, amount decimal.Decimal, now time.Time) {
	farm.Pool.Distributed = farm.Pool.Distributed.Add(amount)
	farm.Pool.Available = farm.Pool.TotalDeposited.Sub(farm.Pool.Distributed)
	farm.Pool.LastCalculatedAt = now
	farm.Stats.RewardsDistributed = farm.Stats.RewardsDistributed.Add(amount)
}

// recomputeStats refreshes the derived aggregates after a staked-total
// change. current is the in-flight position not yet visible in the store;
// removed marks it as exiting.
func (l *Ledger) recomputeStats(ctx context.Context, farm *model.Farm, current *model.Position, removed bool, now time.Time) error {
	farm.Stats.CurrentAPY = accrual.CurrentAPY(farm.Config.RewardRate, farm.Stats.TotalStaked)

	positions, err := l.store.ListFarmPositions(ctx, farm.ID)
	if err != nil {
		return fmt.Errorf("list positions for stats: %w", err)
	}

	var totalAge, count int64
	for i := range positions {
		if positions[i].Address == current.Address {
			continue // superseded by the in-flight copy
		}
		totalAge += accrual.Elapsed(positions[i].StakedAt, now)
		count++
	}
	if !removed {
		totalAge += accrual.Elapsed(current.StakedAt, now)
		count++
	}

	if count > 0 {
		farm.Stats.AvgStakeDuration = totalAge / count
	} else {
		farm.Stats.AvgStakeDuration = 0
	}
	farm.Stats.LastUpdated = now
	return nil
}
