package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// CreateAuditEntry writes one row of the generic audit_trail, the table
// components outside internal/audit (the Portfolio Synchronizer's
// alpaca_sync entries, the Guard Controller's override log) share. It is
// a plainer sibling of internal/audit.Log.RecordComplianceEvent: no
// severity/type mapping, just "what changed".
func (s *Store) CreateAuditEntry(ctx context.Context, userID, entityType, entityID, action string, oldValues, newValues any) error {
	oldJSON, err := json.Marshal(oldValues)
	if err != nil {
		return wrap("CreateAuditEntry: marshal old", err)
	}
	newJSON, err := json.Marshal(newValues)
	if err != nil {
		return wrap("CreateAuditEntry: marshal new", err)
	}

	const q = `
		INSERT INTO audit_trail (id, user_id, entity_type, entity_id, action, old_values, new_values, created_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, now())`

	_, err = s.db.ExecContext(ctx, q, uuid.New().String(), userID, entityType, entityID, action, oldJSON, newJSON)
	return wrap("CreateAuditEntry", err)
}
