// Package audit builds and queries the append-only log of mutating farm
// actions. Entries are written by the lifecycle manager and the position
// ledger atomically with the state change they describe; nothing in the
// engine ever mutates or deletes one.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/moonpad/farm-engine/internal/model"
	"github.com/moonpad/farm-engine/internal/store"
)

// DefaultQueryLimit bounds audit queries that do not name a limit.
const DefaultQueryLimit = 50

// NewEntry constructs an audit entry for one mutating action.
func NewEntry(farmID string, action model.AuditAction, principal string, payload map[string]string, ts time.Time) *model.AuditEntry {
	return &model.AuditEntry{
		ID:        uuid.New().String(),
		FarmID:    farmID,
		Action:    action,
		Principal: principal,
		Payload:   payload,
		Timestamp: ts,
	}
}

// Trail reads the audit log back out of the store.
type Trail struct {
	store store.Store
}

// NewTrail creates a query handle over the stored audit log.
func NewTrail(st store.Store) *Trail {
	return &Trail{store: st}
}

// Query returns up to limit entries for a farm, most recent first. A limit
// of zero or less falls back to DefaultQueryLimit. Re-querying returns the
// same entries until a new append occurs.
func (t *Trail) Query(ctx context.Context, farmID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	return t.store.AuditEntries(ctx, farmID, limit)
}
