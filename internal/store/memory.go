package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/moonpad/farm-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	farms     map[string]*model.Farm
	positions map[string]*model.Position // farmID + "/" + address
	audit     map[string][]model.AuditEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		farms:     make(map[string]*model.Farm),
		positions: make(map[string]*model.Position),
		audit:     make(map[string][]model.AuditEntry),
	}
}

func posKey(farmID, address string) string { return farmID + "/" + address }

func (s *MemoryStore) CreateFarm(_ context.Context, farm *model.Farm, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.farms {
		if existing.StakingToken == farm.StakingToken && existing.Status != model.FarmClosed {
			return fmt.Errorf("%w: %s", ErrDuplicateFarm, farm.StakingToken)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *farm
	s.farms[farm.ID] = &cp
	s.appendAudit(entry)
	return nil
}

func (s *MemoryStore) GetFarm(_ context.Context, id string) (*model.Farm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.farms[id]
	if !ok {
		return nil, fmt.Errorf("%w: farm %s", ErrNotFound, id)
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) ListFarms(_ context.Context) ([]model.Farm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	farms := make([]model.Farm, 0, len(s.farms))
	for _, f := range s.farms {
		farms = append(farms, *f)
	}
	sort.Slice(farms, func(i, j int) bool {
		return farms[i].CreatedAt.After(farms[j].CreatedAt)
	})
	return farms, nil
}

func (s *MemoryStore) UpdateFarm(_ context.Context, farm *model.Farm, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.farms[farm.ID]; !ok {
		return fmt.Errorf("%w: farm %s", ErrNotFound, farm.ID)
	}
	cp := *farm
	s.farms[farm.ID] = &cp
	s.appendAudit(entry)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, farmID, address string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(farmID, address)]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, farmID, address)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListFarmPositions(_ context.Context, farmID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.FarmID == farmID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StakedAt.Before(result[j].StakedAt) })
	return result, nil
}

func (s *MemoryStore) ListUserPositions(_ context.Context, address string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Address == address {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StakedAt.Before(result[j].StakedAt) })
	return result, nil
}

func (s *MemoryStore) PutPosition(_ context.Context, farm *model.Farm, pos *model.Position, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.farms[farm.ID]; !ok {
		return fmt.Errorf("%w: farm %s", ErrNotFound, farm.ID)
	}
	fcp := *farm
	s.farms[farm.ID] = &fcp
	pcp := *pos
	s.positions[posKey(pos.FarmID, pos.Address)] = &pcp
	s.appendAudit(entry)
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, farm *model.Farm, pos *model.Position, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.farms[farm.ID]; !ok {
		return fmt.Errorf("%w: farm %s", ErrNotFound, farm.ID)
	}
	fcp := *farm
	s.farms[farm.ID] = &fcp
	delete(s.positions, posKey(pos.FarmID, pos.Address))
	s.appendAudit(entry)
	return nil
}

func (s *MemoryStore) AuditEntries(_ context.Context, farmID string, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audit[farmID]
	// Most recent first.
	result := make([]model.AuditEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		result = append(result, entries[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// appendAudit must be called with the write lock held.
func (s *MemoryStore) appendAudit(entry *model.AuditEntry) {
	if entry == nil {
		return
	}
	s.audit[entry.FarmID] = append(s.audit[entry.FarmID], *entry)
}
