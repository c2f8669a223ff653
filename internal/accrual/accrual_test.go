package accrual_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/accrual"
	"github.com/moonpad/farm-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newPosition(staked float64, anchor time.Time) *model.Position {
	return &model.Position{
		ID:            "pos-1",
		FarmID:        "farm-1",
		Address:       "alice",
		StakedAmount:  d(staked),
		StakedAt:      anchor,
		LastAccruedAt: anchor,
		Accumulated:   decimal.Zero,
	}
}

func TestElapsed(t *testing.T) {
	if got := accrual.Elapsed(t0, t0.Add(10*time.Second)); got != 10 {
		t.Errorf("expected 10s, got %d", got)
	}
	// Sub-second remainders are dropped, not rounded.
	if got := accrual.Elapsed(t0, t0.Add(10*time.Second+900*time.Millisecond)); got != 10 {
		t.Errorf("expected 10s with fractional remainder dropped, got %d", got)
	}
	// A backward clock jump yields zero, never a negative interval.
	if got := accrual.Elapsed(t0, t0.Add(-5*time.Second)); got != 0 {
		t.Errorf("expected 0 for backward jump, got %d", got)
	}
}

func TestPending_LinearAccrual(t *testing.T) {
	// 1000 staked at 0.0001/s for 10s = 1.0 reward unit.
	pos := newPosition(1000, t0)
	got := accrual.Pending(pos, d(0.0001), t0.Add(10*time.Second))
	if !got.Equal(d(1.0)) {
		t.Errorf("expected 1.0, got %s", got)
	}
}

func TestPending_ZeroCases(t *testing.T) {
	pos := newPosition(1000, t0)
	if got := accrual.Pending(pos, d(0.0001), t0); !got.IsZero() {
		t.Errorf("expected zero at the anchor instant, got %s", got)
	}

	empty := newPosition(0, t0)
	if got := accrual.Pending(empty, d(0.0001), t0.Add(time.Hour)); !got.IsZero() {
		t.Errorf("expected zero for empty position, got %s", got)
	}
}

func TestSettle_AdvancesAnchor(t *testing.T) {
	pos := newPosition(1000, t0)
	now := t0.Add(10 * time.Second)

	settled := accrual.Settle(pos, d(0.0001), now)
	if !settled.Equal(d(1.0)) {
		t.Fatalf("expected 1.0 settled, got %s", settled)
	}
	if !pos.Accumulated.Equal(d(1.0)) {
		t.Errorf("expected accumulated 1.0, got %s", pos.Accumulated)
	}
	if !pos.LastAccruedAt.Equal(now) {
		t.Errorf("anchor should advance to settlement time")
	}

	// Settling again at the same instant adds nothing: the interval was
	// already consumed.
	again := accrual.Settle(pos, d(0.0001), now)
	if !again.IsZero() {
		t.Errorf("expected zero on re-settle, got %s", again)
	}
	if !pos.Accumulated.Equal(d(1.0)) {
		t.Errorf("accumulated should stay 1.0, got %s", pos.Accumulated)
	}
}

func TestSettle_SplitEqualsWhole(t *testing.T) {
	// Settling twice over two half-intervals must equal one settlement over
	// the whole interval when the staked amount is unchanged.
	rate := d(0.0001)
	split := newPosition(500, t0)
	accrual.Settle(split, rate, t0.Add(30*time.Second))
	accrual.Settle(split, rate, t0.Add(60*time.Second))

	whole := newPosition(500, t0)
	accrual.Settle(whole, rate, t0.Add(60*time.Second))

	if !split.Accumulated.Equal(whole.Accumulated) {
		t.Errorf("split settlement %s != whole settlement %s", split.Accumulated, whole.Accumulated)
	}
}

func TestAPY_Nominal(t *testing.T) {
	// 1e-9/s × 100 × 31536000 = 3.1536%.
	got := accrual.APY(decimal.New(1, -9))
	if !got.Equal(d(3.1536)) {
		t.Errorf("expected 3.1536, got %s", got)
	}
}

func TestAPY_Clamped(t *testing.T) {
	// The maximum legal rate annualizes far past the display ceiling.
	got := accrual.APY(d(0.001))
	if !got.Equal(accrual.MaxAPY) {
		t.Errorf("expected clamp to %s, got %s", accrual.MaxAPY, got)
	}
}

func TestCurrentAPY(t *testing.T) {
	if got := accrual.CurrentAPY(d(0.0001), decimal.Zero); !got.IsZero() {
		t.Errorf("expected zero APY with nothing staked, got %s", got)
	}

	// Effective yield dilutes as the staked total grows.
	small := accrual.CurrentAPY(d(0.0000001), d(100000))
	large := accrual.CurrentAPY(d(0.0000001), d(1000000))
	if !large.LessThan(small) {
		t.Errorf("expected dilution: %s staked=1e6 should be < %s staked=1e5", large, small)
	}

	// A tiny pool of stakers clamps at the ceiling.
	got := accrual.CurrentAPY(d(0.001), d(1))
	if !got.Equal(accrual.MaxAPY) {
		t.Errorf("expected clamp to %s, got %s", accrual.MaxAPY, got)
	}
}
