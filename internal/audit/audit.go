// Package audit implements the Audit Trail: every policy change and
// compliance decision is written to the structured log unconditionally,
// and best-effort persisted to Postgres for the compliance_checks and
// audit_trail tables.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"jax-advisor-core/internal/observability"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Log is the single audit sink used across the core. db may be nil,
// in which case every event is still logged structurally but never
// persisted — the same degrade-gracefully behavior as the Python
// AuditLogger running without a db_service.
type Log struct {
	db *sql.DB
}

// New builds a Log. db may be nil.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// RecordPolicyChange implements policy.ChangeRecorder.
func (l *Log) RecordPolicyChange(ctx context.Context, oldVersion, newVersion, oldChecksum, newChecksum, diff string) {
	payload := map[string]any{
		"event":        "policy_change",
		"changed_at":   time.Now().UTC().Format(time.RFC3339),
		"old_version":  oldVersion,
		"old_checksum": oldChecksum,
		"new_version":  newVersion,
		"new_checksum": newChecksum,
		"diff":         diff,
	}
	observability.Info(ctx, "policy_change", payload)

	if l.db == nil {
		return
	}
	if err := l.insertAuditTrail(ctx, newVersion, oldVersion, oldChecksum, newVersion, newChecksum, diff); err != nil {
		observability.Error(ctx, "audit_persist_failed", map[string]any{"error": err, "event": "policy_change"})
	}
}

// RecordComplianceEvent implements compliance.AuditRecorder.
func (l *Log) RecordComplianceEvent(ctx context.Context, eventType, subject string, input, result any, ruleIDs []string, score int) {
	decision := "rejected"
	if approved(result) {
		decision = "approved"
	}

	payload := map[string]any{
		"event":   "compliance_event",
		"id":      uuid.New().String(),
		"at":      time.Now().UTC().Format(time.RFC3339),
		"type":    eventType,
		"subject": subject,
		"rule_ids": ruleIDs,
		"decision": decision,
		"score":    score,
		"input":    input,
		"result":   result,
	}
	observability.Info(ctx, "compliance_event", payload)

	if l.db == nil {
		return
	}
	if err := l.insertComplianceCheck(ctx, eventType, subject, input, result, ruleIDs, score, decision); err != nil {
		observability.Error(ctx, "audit_persist_failed", map[string]any{"error": err, "event": "compliance_event"})
	}
}

// approved mirrors the Python's `result_obj.get("trade_approved") or
// result_obj.get("overall_compliant")` by duck-typing on whichever field
// the result carries.
func approved(result any) bool {
	raw, err := json.Marshal(result)
	if err != nil {
		return false
	}
	var decoded struct {
		TradeApproved    bool `json:"TradeApproved"`
		OverallCompliant bool `json:"OverallCompliant"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false
	}
	return decoded.TradeApproved || decoded.OverallCompliant
}

var checkTypeByEvent = map[string]string{
	"trade":          "regulatory",
	"portfolio":      "concentration",
	"recommendation": "suitability",
}

func (l *Log) insertComplianceCheck(ctx context.Context, eventType, subject string, input, result any, ruleIDs []string, score int, decision string) error {
	checkType, ok := checkTypeByEvent[eventType]
	if !ok {
		checkType = "regulatory"
	}

	checkResult := "fail"
	if decision == "approved" {
		checkResult = "pass"
	}

	severity := firstViolationSeverity(result)

	violationDetails, err := json.Marshal(map[string]any{"input": input, "result": result, "score": score})
	if err != nil {
		return fmt.Errorf("marshal violation_details: %w", err)
	}

	userID, portfolioID, transactionID, recommendationID := extractIDs(input)

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO compliance_checks(
			user_id, portfolio_id, transaction_id, recommendation_id,
			check_type, rule_name, rule_description, check_result,
			violation_details, severity, checked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		nullableUUID(userID), nullableUUID(portfolioID), nullableUUID(transactionID), nullableUUID(recommendationID),
		checkType, joinRuleIDs(ruleIDs), fmt.Sprintf("Compliance check for %s", subject), checkResult,
		string(violationDetails), severity,
	)
	return err
}

func (l *Log) insertAuditTrail(ctx context.Context, entityID, oldVersion, oldChecksum, newVersion, newChecksum, diff string) error {
	oldValues, err := json.Marshal(map[string]any{"version": oldVersion, "checksum": oldChecksum})
	if err != nil {
		return err
	}
	newValues, err := json.Marshal(map[string]any{"version": newVersion, "checksum": newChecksum, "diff": diff})
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_trail(user_id, entity_type, entity_id, action, old_values, new_values, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		"system", "policy", entityID, "policy_update", string(oldValues), string(newValues),
	)
	return err
}

var severityRank = map[string]string{
	"critical": "critical",
	"major":    "high",
	"warning":  "medium",
	"advisory": "low",
}

func firstViolationSeverity(result any) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return "low"
	}
	var decoded struct {
		Violations []struct {
			Severity string `json:"Severity"`
		} `json:"Violations"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded.Violations) == 0 {
		return "low"
	}
	if mapped, ok := severityRank[decoded.Violations[0].Severity]; ok {
		return mapped
	}
	return "medium"
}

func extractIDs(input any) (userID, portfolioID, transactionID, recommendationID string) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", "", "", ""
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", "", "", ""
	}
	userID, _ = decoded["user_id"].(string)
	if userID == "" {
		if profile, ok := decoded["client_profile"].(map[string]any); ok {
			userID, _ = profile["client_id"].(string)
		}
	}
	portfolioID, _ = decoded["portfolio_id"].(string)
	transactionID, _ = decoded["transaction_id"].(string)
	recommendationID, _ = decoded["recommendation_id"].(string)
	return
}

// nullableUUID returns nil for anything that isn't a well-formed UUID, so a
// foreign-key constraint never rejects a standalone compliance check that
// has no transaction or portfolio row yet.
func nullableUUID(id string) any {
	if id == "" || !uuidPattern.MatchString(id) {
		return nil
	}
	return id
}

func joinRuleIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
