package agentgw

import (
	"context"

	"github.com/relaycord/core/internal/ledgercore"
)

// LedgerRecorder adapts *ledgercore.Store to InvocationRecorder, so
// invocation history lives next to the ledger rows it debits.
type LedgerRecorder struct {
	store *ledgercore.Store
}

// NewLedgerRecorder wraps a ledger store as an InvocationRecorder.
func NewLedgerRecorder(store *ledgercore.Store) *LedgerRecorder {
	return &LedgerRecorder{store: store}
}

// RecordInvocation implements InvocationRecorder.
func (r *LedgerRecorder) RecordInvocation(ctx context.Context, inv *Invocation) error {
	return r.store.InsertInvocation(ctx, ledgercore.InvocationRecord{
		TenantID:        inv.TenantID,
		PoolID:          inv.PoolID,
		ModelAlias:      inv.ModelAlias,
		ReservationID:   inv.ReservationID,
		AccountingMode:  string(inv.AccountingMode),
		ActualCostMicro: inv.ActualCostMicro,
		InputTokens:     inv.InputTokens,
		OutputTokens:    inv.OutputTokens,
		Succeeded:       inv.Succeeded,
		StartedAt:       inv.StartedAt,
		FinishedAt:      inv.FinishedAt,
	})
}
