// Package policy implements the pure precondition checks applied to every
// farm mutation: configuration bounds, ownership, stake/unstake limits, and
// balance sufficiency. No state lives here; every check either passes or
// returns a sentinel error naming exactly why the action was rejected.
//
// All validation runs strictly before any state mutation. Invalid requests
// are rejected, never corrected — an over-limit stake is refused, not
// clamped to the maximum.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/model"
)

// Fixed bounds on farm configuration.
const (
	// MinFarmDuration is the shortest finite farm lifetime: one day.
	MinFarmDuration int64 = 86400
	// MaxFarmDuration is the longest finite farm lifetime: one year.
	MaxFarmDuration int64 = 31536000
)

// MaxRewardRate caps the per-second per-unit reward rate.
var MaxRewardRate = decimal.NewFromFloat(0.001)

var (
	// Configuration errors.
	ErrInvalidConfig       = errors.New("policy: invalid farm configuration")
	ErrLockExceedsDuration = errors.New("policy: lock period exceeds farm duration")
	ErrMinExceedsMax       = errors.New("policy: minimum stake exceeds maximum stake")

	// Authorization errors.
	ErrNotOwner = errors.New("policy: principal is not the farm owner")

	// State errors.
	ErrFarmPaused     = errors.New("policy: farm is paused")
	ErrFarmExpired    = errors.New("policy: farm has expired")
	ErrFarmClosed     = errors.New("policy: farm is closed")
	ErrPositionLocked = errors.New("policy: position is still locked")

	// Resource errors.
	ErrBelowMinimum      = errors.New("policy: stake amount below farm minimum")
	ErrAboveMaximum      = errors.New("policy: stake amount above farm maximum")
	ErrInsufficientStake = errors.New("policy: amount exceeds staked balance")
	ErrInsufficientFunds = errors.New("policy: insufficient balance")
)

// BalanceProvider reports the spendable balance a principal holds in a token.
// The engine does not know how balances are computed or persisted.
type BalanceProvider interface {
	AvailableBalance(ctx context.Context, address, token string) (decimal.Decimal, error)
}

// ValidateConfig checks a proposed farm configuration against the fixed
// bounds. The first violated constraint is reported; the error message names
// the offending field.
func ValidateConfig(cfg model.FarmConfig) error {
	if cfg.RewardRate.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: rewardRate must be positive, got %s", ErrInvalidConfig, cfg.RewardRate)
	}
	if cfg.RewardRate.GreaterThan(MaxRewardRate) {
		return fmt.Errorf("%w: rewardRate %s exceeds maximum %s", ErrInvalidConfig, cfg.RewardRate, MaxRewardRate)
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidConfig)
	}
	if cfg.Duration > 0 && (cfg.Duration < MinFarmDuration || cfg.Duration > MaxFarmDuration) {
		return fmt.Errorf("%w: duration %d outside [%d, %d]", ErrInvalidConfig, cfg.Duration, MinFarmDuration, MaxFarmDuration)
	}
	if cfg.LockPeriod < 0 {
		return fmt.Errorf("%w: lockPeriod must not be negative", ErrInvalidConfig)
	}
	if cfg.Duration > 0 && cfg.LockPeriod > cfg.Duration {
		return fmt.Errorf("%w: lockPeriod %d > duration %d", ErrLockExceedsDuration, cfg.LockPeriod, cfg.Duration)
	}
	if cfg.MinStake.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: minStake must be positive, got %s", ErrInvalidConfig, cfg.MinStake)
	}
	if cfg.MaxStake.IsPositive() && cfg.MinStake.GreaterThan(cfg.MaxStake) {
		return fmt.Errorf("%w: minStake %s > maxStake %s", ErrMinExceedsMax, cfg.MinStake, cfg.MaxStake)
	}
	return nil
}

// ValidateOwnership checks that principal is the farm's owner.
func ValidateOwnership(principal string, farm *model.Farm) error {
	if principal != farm.Owner {
		return fmt.Errorf("%w: farm %s", ErrNotOwner, farm.ID)
	}
	return nil
}

// ValidateOpen rejects mutations against a closed farm.
func ValidateOpen(farm *model.Farm) error {
	if farm.Status == model.FarmClosed {
		return fmt.Errorf("%w: farm %s", ErrFarmClosed, farm.ID)
	}
	return nil
}

// ValidateStake checks a stake request against the farm's state and limits.
func ValidateStake(farm *model.Farm, amount decimal.Decimal, now time.Time) error {
	if err := ValidateOpen(farm); err != nil {
		return err
	}
	if farm.Config.Paused {
		return fmt.Errorf("%w: farm %s", ErrFarmPaused, farm.ID)
	}
	if farm.Status == model.FarmExpired || farm.Expired(now) {
		return fmt.Errorf("%w: farm %s", ErrFarmExpired, farm.ID)
	}
	if amount.LessThan(farm.Config.MinStake) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, farm.Config.MinStake)
	}
	if farm.Config.MaxStake.IsPositive() && amount.GreaterThan(farm.Config.MaxStake) {
		return fmt.Errorf("%w: %s > %s", ErrAboveMaximum, amount, farm.Config.MaxStake)
	}
	return nil
}

// ValidateUnstake checks lock expiry and staked balance for an unstake.
func ValidateUnstake(pos *model.Position, amount decimal.Decimal, now time.Time) error {
	if pos.Locked(now) {
		return fmt.Errorf("%w: until %s", ErrPositionLocked, pos.LockExpiresAt.UTC().Format(time.RFC3339))
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", ErrInsufficientStake)
	}
	if amount.GreaterThan(pos.StakedAmount) {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientStake, amount, pos.StakedAmount)
	}
	return nil
}

// ValidateBalance checks that the principal holds at least required units of
// token, delegating the lookup to the injected provider.
func ValidateBalance(ctx context.Context, balances BalanceProvider, address, token string, required decimal.Decimal) error {
	if required.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	have, err := balances.AvailableBalance(ctx, address, token)
	if err != nil {
		return fmt.Errorf("balance lookup for %s: %w", address, err)
	}
	if have.LessThan(required) {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientFunds, have, required, token)
	}
	return nil
}
