package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hedgeline"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	perpetualMetricsOnce sync.Once
	perpetualRegistry    *PerpetualMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and route.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// PerpetualMetrics tracks ledger-wide exposure.
type PerpetualMetrics struct {
	operations  *prometheus.CounterVec
	open        prometheus.Gauge
	totalHedge  prometheus.Gauge
	totalMargin prometheus.Gauge
	coverage    prometheus.Gauge
	poolBalance prometheus.Gauge
}

// Perpetual returns the singleton perpetual ledger metrics.
func Perpetual() *PerpetualMetrics {
	perpetualMetricsOnce.Do(func() {
		perpetualRegistry = &PerpetualMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "perpetual",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			open: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "perpetual",
				Name:      "open_positions",
				Help:      "Number of open perpetual positions.",
			}),
			totalHedge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "perpetual",
				Name:      "total_hedge",
				Help:      "Aggregate hedged amount across open positions.",
			}),
			totalMargin: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "perpetual",
				Name:      "total_margin",
				Help:      "Aggregate margin across open positions.",
			}),
			coverage: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "perpetual",
				Name:      "coverage_ratio",
				Help:      "Hedge coverage of user stocks as a fraction.",
			}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "balance",
				Help:      "Collateral held by the pool.",
			}),
		}
		prometheus.MustRegister(
			perpetualRegistry.operations,
			perpetualRegistry.open,
			perpetualRegistry.totalHedge,
			perpetualRegistry.totalMargin,
			perpetualRegistry.coverage,
			perpetualRegistry.poolBalance,
		)
	})
	return perpetualRegistry
}

// RecordOperation counts a ledger mutation attempt.
func (m *PerpetualMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(strings.TrimSpace(operation), outcome).Inc()
}

// SetExposure publishes the ledger aggregates. coverage is expressed in base
// units of base; an unbounded ratio is reported as +Inf.
func (m *PerpetualMetrics) SetExposure(open uint64, totalHedge, totalMargin *big.Int, coverage, base uint64) {
	if m == nil {
		return
	}
	m.open.Set(float64(open))
	m.totalHedge.Set(bigToFloat(totalHedge))
	m.totalMargin.Set(bigToFloat(totalMargin))
	switch {
	case coverage == math.MaxUint64:
		m.coverage.Set(math.Inf(1))
	case base == 0:
		m.coverage.Set(0)
	default:
		m.coverage.Set(float64(coverage) / float64(base))
	}
}

// SetPoolBalance publishes the pool's collateral balance.
func (m *PerpetualMetrics) SetPoolBalance(balance *big.Int) {
	if m == nil {
		return
	}
	m.poolBalance.Set(bigToFloat(balance))
}

// KeeperMetrics covers liquidation and force-close rounds.
type KeeperMetrics struct {
	rounds  *prometheus.CounterVec
	closed  *prometheus.CounterVec
	fees    *prometheus.CounterVec
	latency prometheus.Histogram
}

// Keeper returns the singleton keeper metrics.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "rounds_total",
				Help:      "Keeper rounds segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			closed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "positions_closed_total",
				Help:      "Positions closed by keepers segmented by action.",
			}, []string{"action"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "fees_paid_total",
				Help:      "Keeper fees paid segmented by action.",
			}, []string{"action"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "round_duration_seconds",
				Help:      "Latency distribution for keeper rounds.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.rounds,
			keeperRegistry.closed,
			keeperRegistry.fees,
			keeperRegistry.latency,
		)
	})
	return keeperRegistry
}

// ObserveRound records a keeper round. closed and fee may be zero when the
// round found nothing to do.
func (m *KeeperMetrics) ObserveRound(action string, closed int, fee *big.Int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case closed == 0:
		outcome = "idle"
	}
	m.rounds.WithLabelValues(action, outcome).Inc()
	if closed > 0 {
		m.closed.WithLabelValues(action).Add(float64(closed))
	}
	if fee != nil && fee.Sign() > 0 {
		m.fees.WithLabelValues(action).Add(bigToFloat(fee))
	}
	m.latency.Observe(duration.Seconds())
}

// OracleMetrics tracks feed freshness and failures.
type OracleMetrics struct {
	freshness *prometheus.GaugeVec
	rate      *prometheus.GaugeVec
	failures  *prometheus.CounterVec
}

// Oracle returns the singleton oracle metrics.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "freshness_seconds",
				Help:      "Age of the most recent observation per source.",
			}, []string{"source"}),
			rate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "rate",
				Help:      "Latest observed rate per source in base units.",
			}, []string{"source"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "poll_failures_total",
				Help:      "Failed polls per source.",
			}, []string{"source"}),
		}
		prometheus.MustRegister(oracleRegistry.freshness, oracleRegistry.rate, oracleRegistry.failures)
	})
	return oracleRegistry
}

// RecordObservation publishes a fresh sample.
func (m *OracleMetrics) RecordObservation(source string, rate *big.Int, age time.Duration) {
	if m == nil {
		return
	}
	label := labelSource(source)
	m.rate.WithLabelValues(label).Set(bigToFloat(rate))
	m.freshness.WithLabelValues(label).Set(age.Seconds())
}

// RecordFailure counts a failed poll.
func (m *OracleMetrics) RecordFailure(source string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(labelSource(source)).Inc()
}

func labelSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
