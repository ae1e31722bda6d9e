package ledgercore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/relaycord/core/internal/corerr"
)

// ProposeRule appends a "proposed" row to the append-only four-eyes audit
// trail (§6, §8 scenario 4). detail carries the caller-encoded action and
// payload; the audit log itself only distinguishes proposed/approved/
// rejected.
func (s *Store) ProposeRule(ctx context.Context, ruleID, actorID, detail string) (*RuleAuditEntry, error) {
	entry := &RuleAuditEntry{RuleID: ruleID, Action: RuleAuditProposed, ActorID: actorID, Detail: detail}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO revenue_rule_audit_log (rule_id, action, actor_id, detail) VALUES ($1, $2, $3, $4)
		 RETURNING audit_seq, created_at`,
		entry.RuleID, entry.Action, entry.ActorID, entry.Detail,
	).Scan(&entry.AuditSeq, &entry.CreatedAt)
	if err != nil {
		return nil, corerr.Wrap(corerr.Transient, "propose rule", err)
	}
	return entry, nil
}

// LatestRuleAudit returns the most recent audit row for ruleID, or
// corerr.NotFound if the rule has never been proposed.
func (s *Store) LatestRuleAudit(ctx context.Context, ruleID string) (*RuleAuditEntry, error) {
	var e RuleAuditEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT audit_seq, rule_id, action, actor_id, detail, created_at FROM revenue_rule_audit_log
		 WHERE rule_id = $1 ORDER BY audit_seq DESC LIMIT 1`, ruleID,
	).Scan(&e.AuditSeq, &e.RuleID, &e.Action, &e.ActorID, &e.Detail, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corerr.New(corerr.NotFound, "rule proposal not found")
	}
	if err != nil {
		return nil, corerr.Wrap(corerr.Transient, "get latest rule audit", err)
	}
	return &e, nil
}

// GetRuleAuditTrail returns every audit row for ruleID, oldest first, for
// support tooling and compliance export.
func (s *Store) GetRuleAuditTrail(ctx context.Context, ruleID string) ([]RuleAuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT audit_seq, rule_id, action, actor_id, detail, created_at FROM revenue_rule_audit_log
		 WHERE rule_id = $1 ORDER BY audit_seq ASC`, ruleID)
	if err != nil {
		return nil, corerr.Wrap(corerr.Transient, "get rule audit trail", err)
	}
	defer rows.Close()

	var out []RuleAuditEntry
	for rows.Next() {
		var e RuleAuditEntry
		if err := rows.Scan(&e.AuditSeq, &e.RuleID, &e.Action, &e.ActorID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, corerr.Wrap(corerr.Transient, "scan rule audit entry", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolveRule appends an "approved" or "rejected" row. The rule must be in
// its freshly-proposed state (no prior resolution), otherwise a
// corerr.Conflict is returned; and actorID must differ from the original
// proposer (§6A four-eyes control), otherwise a corerr.Policy
// four_eyes_violation is returned.
func (s *Store) ResolveRule(ctx context.Context, ruleID, actorID string, approve bool) (*RuleAuditEntry, error) {
	latest, err := s.LatestRuleAudit(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if latest.Action != RuleAuditProposed {
		return nil, corerr.New(corerr.Conflict, "rule proposal already resolved")
	}
	if latest.ActorID == actorID {
		return nil, corerr.New(corerr.Policy, "four_eyes_violation").With("rule_id", ruleID)
	}

	action := RuleAuditRejected
	if approve {
		action = RuleAuditApproved
	}
	entry := &RuleAuditEntry{RuleID: ruleID, Action: action, ActorID: actorID, Detail: latest.Detail}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO revenue_rule_audit_log (rule_id, action, actor_id, detail) VALUES ($1, $2, $3, $4)
		 RETURNING audit_seq, created_at`,
		entry.RuleID, entry.Action, entry.ActorID, entry.Detail,
	).Scan(&entry.AuditSeq, &entry.CreatedAt)
	if err != nil {
		return nil, corerr.Wrap(corerr.Transient, "resolve rule", err)
	}
	return entry, nil
}
