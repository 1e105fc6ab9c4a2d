package runner

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wonny/daytrader/internal/engine"
)

const namespace = "daytrader"

// Metrics exposes engine and hook counters to Prometheus
// ⭐ SSOT: 메트릭 이름은 여기서만 정의
type Metrics struct {
	registry *prometheus.Registry

	actions       *prometheus.CounterVec
	renewals      *prometheus.CounterVec
	days          *prometheus.CounterVec
	freeUSD       prometheus.Gauge
	minFreeUSD    prometheus.Gauge
	validationErr prometheus.Counter

	stats atomic.Pointer[engine.Stats]
}

// NewMetrics registers every collector on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_actions_total",
			Help:      "Order actions recorded, by action type.",
		}, []string{"type"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_renewals_total",
			Help:      "Positions retired at a day boundary, by renewal type.",
		}, []string{"type"}),
		days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trading_days_total",
			Help:      "Trading days run, by result.",
		}, []string{"result"}),
		freeUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "free_usd",
			Help:      "Free cash balance after the latest fill.",
		}),
		minFreeUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "min_free_usd",
			Help:      "Lowest free cash balance seen.",
		}),
		validationErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Round or end-of-day consistency checks that failed.",
		}),
	}

	m.registry.MustRegister(m.actions, m.renewals, m.days, m.freeUSD, m.minFreeUSD, m.validationErr)

	// 엔진은 일자마다 새로 만들어지므로 현재 엔진의 Stats를 포인터로 따라감
	statFunc := func(name, help string, read func(*engine.Stats) int64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			s := m.stats.Load()
			if s == nil {
				return 0
			}
			return float64(read(s))
		}))
	}
	statFunc("rounds_total", "Price update rounds completed today.", func(s *engine.Stats) int64 { return s.Rounds.Load() })
	statFunc("ticks_identical_total", "Ticks dropped as identical to the previous quote.", func(s *engine.Stats) int64 { return s.Identical.Load() })
	statFunc("ticks_anomalous_total", "Ticks dropped as anomalous jumps.", func(s *engine.Stats) int64 { return s.Anomalies.Load() })
	statFunc("ticks_unknown_symbol_total", "Ticks for symbols without a position.", func(s *engine.Stats) int64 { return s.UnknownSymbol.Load() })
	statFunc("place_failures_total", "Order placements the broker rejected.", func(s *engine.Stats) int64 { return s.PlaceFailures.Load() })

	return m
}

// Registry returns the registry served on /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe switches the engine-stat collectors to stats
func (m *Metrics) Observe(stats *engine.Stats) {
	m.stats.Store(stats)
}

// DayFinished counts a finished trading day
func (m *Metrics) DayFinished(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.days.WithLabelValues(result).Inc()
}
