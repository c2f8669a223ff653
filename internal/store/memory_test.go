package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/model"
	"github.com/moonpad/farm-engine/internal/store"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newFarm(id, stakingToken string) *model.Farm {
	return &model.Farm{
		ID:           id,
		Owner:        "owner",
		StakingToken: stakingToken,
		RewardToken:  "STAR",
		Config: model.FarmConfig{
			RewardRate: decimal.NewFromFloat(0.0001),
			MinStake:   decimal.NewFromInt(10),
			CreatedAt:  t0,
			UpdatedAt:  t0,
		},
		Status:    model.FarmActive,
		CreatedAt: t0,
	}
}

func TestCreateFarm_DuplicateStakingToken(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateFarm(ctx, newFarm("f1", "MOON"), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := ms.CreateFarm(ctx, newFarm("f2", "MOON"), nil); !errors.Is(err, store.ErrDuplicateFarm) {
		t.Fatalf("expected ErrDuplicateFarm, got %v", err)
	}

	// A closed farm releases its staking token for reuse.
	closed, _ := ms.GetFarm(ctx, "f1")
	closed.Status = model.FarmClosed
	if err := ms.UpdateFarm(ctx, closed, nil); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := ms.CreateFarm(ctx, newFarm("f3", "MOON"), nil); err != nil {
		t.Fatalf("expected token reusable after close, got %v", err)
	}
}

func TestGetFarm_ReturnsCopy(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateFarm(ctx, newFarm("f1", "MOON"), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	a, _ := ms.GetFarm(ctx, "f1")
	a.Status = model.FarmPaused

	b, _ := ms.GetFarm(ctx, "f1")
	if b.Status != model.FarmActive {
		t.Error("mutating a returned farm must not affect the store")
	}

	if _, err := ms.GetFarm(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositions_Lifecycle(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	f := newFarm("f1", "MOON")
	if err := ms.CreateFarm(ctx, f, nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	pos := &model.Position{
		ID: "p1", FarmID: "f1", Address: "alice",
		StakedAmount: decimal.NewFromInt(100),
		StakedAt:     t0, LastAccruedAt: t0,
	}
	if err := ms.PutPosition(ctx, f, pos, nil); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := ms.GetPosition(ctx, "f1", "alice")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.StakedAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100 staked, got %s", got.StakedAmount)
	}

	byFarm, _ := ms.ListFarmPositions(ctx, "f1")
	byUser, _ := ms.ListUserPositions(ctx, "alice")
	if len(byFarm) != 1 || len(byUser) != 1 {
		t.Errorf("expected position listed both ways, got %d/%d", len(byFarm), len(byUser))
	}

	if err := ms.DeletePosition(ctx, f, pos, nil); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := ms.GetPosition(ctx, "f1", "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAuditEntries_OrderAndLimit(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	f := newFarm("f1", "MOON")
	if err := ms.CreateFarm(ctx, f, nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		entry := &model.AuditEntry{
			ID:        fmt.Sprintf("e%d", i),
			FarmID:    "f1",
			Action:    model.AuditStake,
			Principal: "alice",
			Timestamp: t0.Add(time.Duration(i) * time.Second),
		}
		if err := ms.UpdateFarm(ctx, f, entry); err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}

	all, err := ms.AuditEntries(ctx, "f1", 0)
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(all))
	}
	// Most recent first.
	if all[0].ID != "e4" || all[4].ID != "e0" {
		t.Errorf("expected newest-first order, got %s..%s", all[0].ID, all[4].ID)
	}

	limited, _ := ms.AuditEntries(ctx, "f1", 2)
	if len(limited) != 2 || limited[0].ID != "e4" {
		t.Errorf("expected 2 newest entries, got %v", limited)
	}

	empty, _ := ms.AuditEntries(ctx, "other", 0)
	if len(empty) != 0 {
		t.Errorf("expected no entries for unknown farm, got %d", len(empty))
	}
}
