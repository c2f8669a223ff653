package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moonpad/farm-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. A payload that fails to
// decode is discarded and re-populated from the primary, so a corrupted
// cache never wedges a load.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateFarm(ctx context.Context, farm *model.Farm, entry *model.AuditEntry) error {
	if err := s.primary.CreateFarm(ctx, farm, entry); err != nil {
		return err
	}
	s.cacheFarm(ctx, farm)
	return nil
}

func (s *CachedStore) UpdateFarm(ctx context.Context, farm *model.Farm, entry *model.AuditEntry) error {
	if err := s.primary.UpdateFarm(ctx, farm, entry); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, farmKey(farm.ID))
	return nil
}

func (s *CachedStore) PutPosition(ctx context.Context, farm *model.Farm, pos *model.Position, entry *model.AuditEntry) error {
	if err := s.primary.PutPosition(ctx, farm, pos, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, farmKey(farm.ID), positionKey(pos.FarmID, pos.Address))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, farm *model.Farm, pos *model.Position, entry *model.AuditEntry) error {
	if err := s.primary.DeletePosition(ctx, farm, pos, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, farmKey(farm.ID), positionKey(pos.FarmID, pos.Address))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFarm(ctx context.Context, id string) (*model.Farm, error) {
	data, err := s.rdb.Get(ctx, farmKey(id)).Bytes()
	if err == nil {
		var f model.Farm
		if json.Unmarshal(data, &f) == nil {
			return &f, nil
		}
		// Corrupted payload: drop it and fall through to the primary.
		s.rdb.Del(ctx, farmKey(id))
	}

	f, err := s.primary.GetFarm(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheFarm(ctx, f)
	return f, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, farmID, address string) (*model.Position, error) {
	key := positionKey(farmID, address)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
		s.rdb.Del(ctx, key)
	}

	p, err := s.primary.GetPosition(ctx, farmID, address)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListFarms(ctx context.Context) ([]model.Farm, error) {
	return s.primary.ListFarms(ctx)
}

func (s *CachedStore) ListFarmPositions(ctx context.Context, farmID string) ([]model.Position, error) {
	return s.primary.ListFarmPositions(ctx, farmID)
}

func (s *CachedStore) ListUserPositions(ctx context.Context, address string) ([]model.Position, error) {
	return s.primary.ListUserPositions(ctx, address)
}

func (s *CachedStore) AuditEntries(ctx context.Context, farmID string, limit int) ([]model.AuditEntry, error) {
	return s.primary.AuditEntries(ctx, farmID, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheFarm(ctx context.Context, f *model.Farm) {
	if data, err := json.Marshal(f); err == nil {
		s.rdb.Set(ctx, farmKey(f.ID), data, s.ttl)
	}
}

func farmKey(id string) string { return fmt.Sprintf("farm:%s", id) }

func positionKey(farmID, address string) string {
	return fmt.Sprintf("position:%s:%s", farmID, address)
}
