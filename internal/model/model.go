// Package model defines the core domain types shared across the farm engine.
// All token amounts and rates use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FarmStatus is the lifecycle state of a farm.
type FarmStatus string

const (
	FarmActive  FarmStatus = "active"
	FarmPaused  FarmStatus = "paused"
	FarmExpired FarmStatus = "expired"
	FarmClosed  FarmStatus = "closed" // terminal
)

// FarmConfig holds the owner-controlled parameters of a farm.
type FarmConfig struct {
	// RewardRate is reward units per second per staked unit. Always > 0.
	RewardRate decimal.Decimal `json:"reward_rate" db:"reward_rate"`
	// Duration is the farm lifetime in seconds; 0 means indefinite.
	Duration int64 `json:"duration" db:"duration"`
	// LockPeriod is the number of seconds a fresh stake is frozen before
	// unstaking is allowed.
	LockPeriod int64 `json:"lock_period" db:"lock_period"`
	// MinStake is the smallest accepted stake amount. Always > 0.
	MinStake decimal.Decimal `json:"min_stake" db:"min_stake"`
	// MaxStake is the largest accepted stake amount; zero means unlimited.
	MaxStake  decimal.Decimal `json:"max_stake" db:"max_stake"`
	Paused    bool            `json:"paused" db:"paused"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// RewardPool tracks the owner-funded reward balance of one farm.
// Invariant: TotalDeposited = Available + Distributed at all times.
type RewardPool struct {
	TotalDeposited   decimal.Decimal `json:"total_deposited" db:"total_deposited"`
	Available        decimal.Decimal `json:"available" db:"available"`
	Distributed      decimal.Decimal `json:"distributed" db:"distributed"` // monotonically increasing
	LastCalculatedAt time.Time       `json:"last_calculated_at" db:"last_calculated_at"`
}

// FarmStats is the derived aggregate recomputed after every ledger mutation
// that changes staked totals.
type FarmStats struct {
	TotalStaked        decimal.Decimal `json:"total_staked" db:"total_staked"`
	UniqueStakers      int             `json:"unique_stakers" db:"unique_stakers"`
	CurrentAPY         decimal.Decimal `json:"current_apy" db:"current_apy"`
	RewardsDistributed decimal.Decimal `json:"rewards_distributed" db:"rewards_distributed"`
	// AvgStakeDuration is the mean age of open positions, in seconds.
	AvgStakeDuration int64     `json:"avg_stake_duration" db:"avg_stake_duration"`
	LastUpdated      time.Time `json:"last_updated" db:"last_updated"`
}

// Farm pairs a staking token with a reward token under one owner.
// The lifecycle manager exclusively owns these records, including the
// embedded pool and stats.
type Farm struct {
	ID           string     `json:"id" db:"id"`
	Owner        string     `json:"owner" db:"owner"` // the only principal permitted to mutate lifecycle/config
	StakingToken string     `json:"staking_token" db:"staking_token"`
	RewardToken  string     `json:"reward_token" db:"reward_token"`
	Config       FarmConfig `json:"config"`
	Pool         RewardPool `json:"pool"`
	Stats        FarmStats  `json:"stats"`
	Status       FarmStatus `json:"status" db:"status"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// ExpiresAt returns the derived expiry instant, or the zero time when the
// farm runs indefinitely.
func (f *Farm) ExpiresAt() time.Time {
	if f.Config.Duration <= 0 {
		return time.Time{}
	}
	return f.Config.CreatedAt.Add(time.Duration(f.Config.Duration) * time.Second)
}

// Expired reports whether the farm's duration has elapsed at now.
func (f *Farm) Expired(now time.Time) bool {
	exp := f.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

// RefreshStatus applies the lazy expired transition. Returns true when the
// status changed so callers can persist the flip.
func (f *Farm) RefreshStatus(now time.Time) bool {
	if f.Status == FarmClosed || f.Status == FarmExpired {
		return false
	}
	if f.Expired(now) {
		f.Status = FarmExpired
		return true
	}
	return false
}

// Position is one principal's staked balance and unclaimed-reward state
// within a single farm. A principal has at most one open position per farm;
// repeated stakes aggregate into it. The record is removed once StakedAmount
// reaches zero.
type Position struct {
	ID           string          `json:"id" db:"id"`
	FarmID       string          `json:"farm_id" db:"farm_id"`
	Address      string          `json:"address" db:"address"`
	StakedAmount decimal.Decimal `json:"staked_amount" db:"staked_amount"`
	StakedAt     time.Time       `json:"staked_at" db:"staked_at"`
	// LastAccruedAt is the settlement anchor: rewards in Accumulated cover
	// the interval up to this instant. Advanced on every accrual.
	LastAccruedAt time.Time `json:"last_accrued_at" db:"last_accrued_at"`
	// Accumulated holds rewards settled but not yet harvested.
	Accumulated decimal.Decimal `json:"accumulated" db:"accumulated"`
	// LockExpiresAt is the instant the stake lock lifts; zero means unlocked.
	LockExpiresAt time.Time `json:"lock_expires_at" db:"lock_expires_at"`
}

// Locked reports whether the position is still inside its lock period.
func (p *Position) Locked(now time.Time) bool {
	return !p.LockExpiresAt.IsZero() && now.Before(p.LockExpiresAt)
}

// AuditAction identifies the kind of mutation an audit entry records.
type AuditAction string

const (
	AuditCreate       AuditAction = "create"
	AuditDeposit      AuditAction = "deposit"
	AuditUpdateConfig AuditAction = "update_config"
	AuditPause        AuditAction = "pause"
	AuditResume       AuditAction = "resume"
	AuditClose        AuditAction = "close"
	AuditStake        AuditAction = "stake"
	AuditUnstake      AuditAction = "unstake"
	AuditHarvest      AuditAction = "harvest"
)

// AuditEntry is an immutable record of one mutating action on a farm.
// Once written, these are never modified or deleted.
type AuditEntry struct {
	ID        string            `json:"id" db:"id"`
	FarmID    string            `json:"farm_id" db:"farm_id"`
	Action    AuditAction       `json:"action" db:"action"`
	Principal string            `json:"principal" db:"principal"`
	Payload   map[string]string `json:"payload" db:"payload"`
	Timestamp time.Time         `json:"timestamp" db:"timestamp"`
}
