package ledgercore

import (
	"context"
	"time"

	"github.com/relaycord/core/internal/corerr"
)

// InvocationRecord is the persisted outcome of one Agent Gateway call
// (§3.9 Agent invocation), stored alongside the ledger it debits so usage
// reconciliation can query both with a single connection.
type InvocationRecord struct {
	TenantID        string
	PoolID          string
	ModelAlias      string
	ReservationID   string
	AccountingMode  string
	ActualCostMicro int64
	InputTokens     int64
	OutputTokens    int64
	Succeeded       bool
	StartedAt       time.Time
	FinishedAt      time.Time
}

// InsertInvocation persists one invocation record. The signature is kept
// independent of agentgw.Invocation so ledgercore has no import-cycle
// dependency on the gateway package; callers adapt the concrete type.
func (s *Store) InsertInvocation(ctx context.Context, rec InvocationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_invocations
			(tenant_id, pool_id, model_alias, reservation_id, accounting_mode,
			 actual_cost_micro, input_tokens, output_tokens, succeeded, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.TenantID, rec.PoolID, rec.ModelAlias, rec.ReservationID, rec.AccountingMode,
		rec.ActualCostMicro, rec.InputTokens, rec.OutputTokens, rec.Succeeded, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return corerr.Wrap(corerr.Transient, "insert invocation record", err)
	}
	return nil
}

// reconciliationWindow bounds how far back LocalUsageMicro looks; usage
// reconciliation runs hourly (§4.5), so one hour of history is sufficient.
const reconciliationWindow = 1 * time.Hour

// LocalUsageMicro sums actual platform-accounted spend for (tenant, pool,
// alias) over the trailing reconciliation window, satisfying
// agentgw.LocalUsageLookup.
func (s *Store) LocalUsageMicro(ctx context.Context, tenantID, poolID, modelAlias string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(actual_cost_micro), 0) FROM agent_invocations
		WHERE tenant_id = $1 AND pool_id = $2 AND model_alias = $3
		  AND accounting_mode = 'platform_budget' AND finished_at > $4`,
		tenantID, poolID, modelAlias, time.Now().Add(-reconciliationWindow)).Scan(&total)
	if err != nil {
		return 0, corerr.Wrap(corerr.Transient, "sum local usage", err)
	}
	return total, nil
}
