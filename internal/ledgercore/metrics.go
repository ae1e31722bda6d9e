package ledgercore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors the predecessor's escrow metrics.go shape: a handful of
// named counters/gauges registered once and shared by every Store method.
type Metrics struct {
	DepositsTotal        prometheus.Counter
	ReservationsCreated  prometheus.Counter
	ReservationsRejected prometheus.Counter
	ReservationsExpired  prometheus.Counter
	FinalizationsTotal   prometheus.Counter
	RefundsTotal         prometheus.Counter
	DriftBps             prometheus.Gauge
}

// NewMetrics registers the ledger metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DepositsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_deposits_total", Help: "Total deposits recorded.",
		}),
		ReservationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_reservations_created_total", Help: "Total reservations created.",
		}),
		ReservationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_reservations_rejected_total", Help: "Total reservations rejected for insufficient funds.",
		}),
		ReservationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_reservations_expired_total", Help: "Total reservations reclaimed by expire_sweep.",
		}),
		FinalizationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_finalizations_total", Help: "Total reservations finalized.",
		}),
		RefundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_refunds_total", Help: "Total refund operations.",
		}),
		DriftBps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_cache_store_drift_bps", Help: "Basis-point drift between cached and stored committed totals (I-3).",
		}),
	}
	reg.MustRegister(m.DepositsTotal, m.ReservationsCreated, m.ReservationsRejected,
		m.ReservationsExpired, m.FinalizationsTotal, m.RefundsTotal, m.DriftBps)
	return m
}
