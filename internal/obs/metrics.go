// Package obs exposes engine counters over Prometheus and the read-only
// HTTP view consumed by the dashboard.
package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"breakout/internal/schema"
)

// Metrics collects engine-level counters. All methods tolerate a nil
// receiver so tests can run the engine without a registry.
type Metrics struct {
	signals       *prometheus.CounterVec
	denials       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	orphans       *prometheus.CounterVec
	gatewayEvents *prometheus.CounterVec
	openPositions prometheus.Gauge
	unmanaged     prometheus.Gauge
	equity        prometheus.Gauge
	snapshotWrite prometheus.Histogram
}

// NewMetrics registers the engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Signals observed, by outcome (admitted|denied|duplicate)",
		}, []string{"outcome"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_denials_total",
			Help: "Admission denials by reason",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_transitions_total",
			Help: "Trade record transitions by target status",
		}, []string{"status"}),
		orphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orphans_total",
			Help: "Records downgraded to orphaned, by reason",
		}, []string{"reason"}),
		gatewayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_gateway_events_total",
			Help: "Gateway notifications by kind",
		}, []string{"kind"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Records currently occupying a concurrency slot",
		}),
		unmanaged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_unmanaged_positions",
			Help: "Broker positions with no local trade record",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_account_equity",
			Help: "Last observed account equity",
		}),
		snapshotWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_snapshot_write_seconds",
			Help:    "State snapshot write latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.signals, m.denials, m.transitions, m.orphans, m.gatewayEvents,
		m.openPositions, m.unmanaged, m.equity, m.snapshotWrite,
	)
	return m
}

// IncSignal counts one signal by outcome.
func (m *Metrics) IncSignal(outcome string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(outcome).Inc()
}

// IncDenial counts one admission denial.
func (m *Metrics) IncDenial(reason schema.DenyReason) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(string(reason)).Inc()
}

// IncTransition counts one transition into status.
func (m *Metrics) IncTransition(status schema.TradeStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

// IncOrphan counts one orphan downgrade.
func (m *Metrics) IncOrphan(reason schema.OrphanReason) {
	if m == nil {
		return
	}
	m.orphans.WithLabelValues(string(reason)).Inc()
}

// IncGatewayEvent counts one gateway notification.
func (m *Metrics) IncGatewayEvent(kind string) {
	if m == nil {
		return
	}
	m.gatewayEvents.WithLabelValues(kind).Inc()
}

// SetOpenPositions updates the open slot gauge.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

// SetUnmanaged updates the unmanaged position gauge.
func (m *Metrics) SetUnmanaged(n int) {
	if m == nil {
		return
	}
	m.unmanaged.Set(float64(n))
}

// SetEquity records the last observed account equity.
func (m *Metrics) SetEquity(v float64) {
	if m == nil {
		return
	}
	m.equity.Set(v)
}

// ObserveSnapshotWrite records one snapshot write duration.
func (m *Metrics) ObserveSnapshotWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.snapshotWrite.Observe(d.Seconds())
}
