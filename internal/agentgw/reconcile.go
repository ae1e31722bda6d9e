package agentgw

import (
	"context"
	"log/slog"
)

// ProviderUsageReport is one hour's worth of usage the provider reports,
// pulled by the periodic reconciliation sweep (§4.5 "Usage reconciliation").
type ProviderUsageReport struct {
	TenantID     string
	PoolID       string
	ModelAlias   string
	ReportedMicro int64
}

// LocalUsageLookup reads back what the gateway's own invocation records say
// was spent for the same (tenant, pool, alias) over the reconciliation
// window.
type LocalUsageLookup interface {
	LocalUsageMicro(ctx context.Context, tenantID, poolID, modelAlias string) (int64, error)
}

// driftToleranceBps bounds acceptable drift before a compensating ledger
// entry is required (mirrors the ledger's own I-3 drift tolerance knob).
const driftToleranceBps = 10

// Reconciler cross-checks provider-reported usage against local invocation
// records and compensates the ledger when drift exceeds tolerance.
type Reconciler struct {
	local  LocalUsageLookup
	ledger Ledger
}

// NewReconciler builds a Reconciler.
func NewReconciler(local LocalUsageLookup, ledger Ledger) *Reconciler {
	return &Reconciler{local: local, ledger: ledger}
}

// Reconcile processes one provider usage report, returning the drift in
// basis points relative to the reported amount.
func (r *Reconciler) Reconcile(ctx context.Context, report ProviderUsageReport) (driftBps int64, err error) {
	localMicro, err := r.local.LocalUsageMicro(ctx, report.TenantID, report.PoolID, report.ModelAlias)
	if err != nil {
		return 0, err
	}

	diff := report.ReportedMicro - localMicro
	if report.ReportedMicro == 0 {
		return 0, nil
	}
	driftBps = (abs(diff) * 10000) / report.ReportedMicro

	if driftBps <= driftToleranceBps {
		return driftBps, nil
	}

	slog.Warn("agentgw: usage drift exceeds tolerance", "tenant", report.TenantID, "pool", report.PoolID,
		"alias", report.ModelAlias, "drift_bps", driftBps, "reported_micro", report.ReportedMicro, "local_micro", localMicro)

	accountID := report.TenantID + ":" + report.PoolID
	if diff > 0 {
		// Provider reports more spend than we recorded locally: nothing to
		// refund, the gap is covered by the next deposit cycle; this sweep
		// only compensates overcounted local spend.
		return driftBps, nil
	}
	return driftBps, r.ledger.Refund(ctx, accountID, abs(diff))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
