// Package store defines the persistence interface for the farm engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every mutating method persists the changed state together with its audit
// entry in one atomic step: a transaction in PostgreSQL, a single critical
// section in memory. The engine never applies a mutation it cannot persist.
package store

import (
	"context"
	"errors"

	"github.com/moonpad/farm-engine/internal/model"
)

var (
	// ErrNotFound is returned when a farm or position does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateFarm is returned when creating a farm whose staking token
	// already has an open farm.
	ErrDuplicateFarm = errors.New("store: farm already exists for staking token")

	// ErrQuotaExceeded is returned when the backing store refuses a write
	// for lack of space. The requested mutation did not happen.
	ErrQuotaExceeded = errors.New("store: storage quota exceeded")

	// ErrCorrupted is returned when a stored record cannot be decoded.
	// Load paths treat it as absence and re-initialize rather than failing
	// permanently.
	ErrCorrupted = errors.New("store: stored record corrupted")
)

// Store is the persistence interface for farms, positions, and the audit
// trail. Audit entries are append-only; nothing ever mutates or deletes them.
type Store interface {
	// --- Farm lifecycle ---

	// CreateFarm persists a new farm and its create audit entry.
	CreateFarm(ctx context.Context, farm *model.Farm, entry *model.AuditEntry) error

	// GetFarm retrieves a farm by id.
	GetFarm(ctx context.Context, id string) (*model.Farm, error)

	// ListFarms returns all farms, newest first.
	ListFarms(ctx context.Context) ([]model.Farm, error)

	// UpdateFarm persists the farm's current state. A nil entry skips the
	// audit append (used for lazy expiry flips, which record no action).
	UpdateFarm(ctx context.Context, farm *model.Farm, entry *model.AuditEntry) error

	// --- Positions ---

	// GetPosition retrieves one principal's position in a farm.
	GetPosition(ctx context.Context, farmID, address string) (*model.Position, error)

	// ListFarmPositions returns all open positions in a farm.
	ListFarmPositions(ctx context.Context, farmID string) ([]model.Position, error)

	// ListUserPositions returns a principal's open positions across farms.
	ListUserPositions(ctx context.Context, address string) ([]model.Position, error)

	// PutPosition upserts a position together with the farm state it
	// depends on and the audit entry describing the mutation.
	PutPosition(ctx context.Context, farm *model.Farm, pos *model.Position, entry *model.AuditEntry) error

	// DeletePosition removes a fully-exited position together with the
	// farm update and audit entry.
	DeletePosition(ctx context.Context, farm *model.Farm, pos *model.Position, entry *model.AuditEntry) error

	// --- Audit trail ---

	// AuditEntries returns up to limit entries for a farm, most recent
	// first.
	AuditEntries(ctx context.Context, farmID string, limit int) ([]model.AuditEntry, error)
}
