package agentgw

// EnsembleStrategy is the closed set of multi-model invocation strategies
// (§4.5 step 8).
type EnsembleStrategy string

const (
	StrategyBestOfN    EnsembleStrategy = "best_of_n"
	StrategyConsensus  EnsembleStrategy = "consensus"
	StrategyFallback   EnsembleStrategy = "fallback"
)

// MemberResult is one model's contribution to an ensemble invocation.
type MemberResult struct {
	ModelAlias      string
	Succeeded       bool
	ActualCostMicro int64
	AccountingMode  AccountingMode
}

// EnsembleReport aggregates per-model breakdowns into the strategy summary
// §4.5 step 8 requires.
type EnsembleReport struct {
	Strategy        EnsembleStrategy
	Requested       int
	Succeeded       int
	Failed          int
	TotalMicro      int64
	PlatformMicro   int64
	BYOKMicro       int64
	ReservedMicro   int64
	SavingsMicro    int64
}

// Summarize aggregates member results into a report. SavingsMicro is the
// difference between the sum of each member's reserved upper bound and the
// actual platform spend, i.e. what best_of_n/consensus overhead saved by
// only paying actual cost instead of every member's worst case.
func Summarize(strategy EnsembleStrategy, members []MemberResult, reservedMicro int64) EnsembleReport {
	report := EnsembleReport{Strategy: strategy, Requested: len(members), ReservedMicro: reservedMicro}
	for _, m := range members {
		if m.Succeeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.TotalMicro += m.ActualCostMicro
		switch m.AccountingMode {
		case PlatformBudget:
			report.PlatformMicro += m.ActualCostMicro
		case BYOKNoBudget:
			report.BYOKMicro += m.ActualCostMicro
		}
	}
	if reservedMicro > report.PlatformMicro {
		report.SavingsMicro = reservedMicro - report.PlatformMicro
	}
	return report
}
