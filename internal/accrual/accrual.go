// Package accrual implements the reward accrual and APY math for staking
// positions.
//
// Rewards accrue linearly: elapsed seconds × reward rate × staked amount.
// Time is measured in whole seconds; fractional seconds are not tracked.
// A backward clock jump accrues zero rather than a negative amount.
//
// All monetary values use shopspring/decimal — never float64 for money.
package accrual

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/model"
)

// SecondsPerYear is 86400 × 365, used to annualize per-second reward rates.
const SecondsPerYear = 31536000

var (
	// MaxAPY is the display ceiling for any annualized yield figure, in
	// percent. Both the nominal and the effective APY are clamped to it.
	MaxAPY = decimal.NewFromInt(50000)

	hundred        = decimal.NewFromInt(100)
	secondsPerYear = decimal.NewFromInt(SecondsPerYear)
)

// Elapsed returns the whole seconds between from and to, never negative.
func Elapsed(from, to time.Time) int64 {
	secs := to.Unix() - from.Unix()
	if secs < 0 {
		return 0
	}
	return secs
}

// Pending returns the rewards earned by a position since its last settlement,
// without mutating it:
//
//	pending = (now − lastAccruedAt in seconds) × rewardRate × stakedAmount
func Pending(pos *model.Position, rewardRate decimal.Decimal, now time.Time) decimal.Decimal {
	elapsed := Elapsed(pos.LastAccruedAt, now)
	if elapsed == 0 || pos.StakedAmount.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(elapsed).Mul(rewardRate).Mul(pos.StakedAmount)
}

// Settle folds the pending rewards into the position's accumulated balance
// and advances the settlement anchor to now. Returns the amount settled.
//
// Advancing the anchor on every settlement keeps repeated accruals from
// counting the same interval twice when the staked amount changes between
// settlements.
func Settle(pos *model.Position, rewardRate decimal.Decimal, now time.Time) decimal.Decimal {
	pending := Pending(pos, rewardRate, now)
	if pending.IsPositive() {
		pos.Accumulated = pos.Accumulated.Add(pending)
	}
	if now.After(pos.LastAccruedAt) {
		pos.LastAccruedAt = now
	}
	return pending
}

// APY returns the nominal rate-implied annual yield in percent, independent
// of pool size:
//
//	apy = rewardRate × 100 × 86400 × 365
//
// Clamped to MaxAPY.
func APY(rewardRate decimal.Decimal) decimal.Decimal {
	apy := rewardRate.Mul(hundred).Mul(secondsPerYear)
	if apy.GreaterThan(MaxAPY) {
		return MaxAPY
	}
	return apy
}

// CurrentAPY returns the effective annual yield in percent, distributing the
// fixed aggregate reward rate proportionally across current stakers:
//
//	0                                          when totalStaked = 0
//	rewardRate × 86400 × 365 × 100 / totalStaked   otherwise
//
// Clamped to MaxAPY. Note the inverse relation to totalStaked: more stakers
// in the same farm dilute the effective yield.
func CurrentAPY(rewardRate, totalStaked decimal.Decimal) decimal.Decimal {
	if totalStaked.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	apy := rewardRate.Mul(secondsPerYear).Mul(hundred).Div(totalStaked)
	if apy.GreaterThan(MaxAPY) {
		return MaxAPY
	}
	return apy
}
