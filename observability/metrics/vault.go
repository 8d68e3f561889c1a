package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics groups the Prometheus collectors describing vault activity.
type VaultMetrics struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	compounded      *prometheus.CounterVec
	stakedLP        prometheus.Gauge
	principal       prometheus.Gauge
	depositors      prometheus.Gauge
	carry           *prometheus.GaugeVec
	persistFailures prometheus.Counter
	compensations   *prometheus.CounterVec
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the lazily registered vault metrics.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Name:      "operations_total",
				Help:      "Vault operations segmented by kind and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency of vault operations including external calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			compounded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Name:      "compounded_total",
				Help:      "Cumulative amounts processed by compounding cycles, by unit.",
			}, []string{"unit"}),
			stakedLP: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Name:      "staked_lp",
				Help:      "Pool shares staked and attributed to depositors.",
			}),
			principal: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Name:      "principal_stable",
				Help:      "Sum of depositor principal in stable base units.",
			}),
			depositors: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Name:      "depositors",
				Help:      "Depositors holding positive principal.",
			}),
			carry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vault",
				Name:      "carry",
				Help:      "Harvested value awaiting the next cycle, by pipeline stage.",
			}, []string{"stage"}),
			persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vault",
				Name:      "persist_failures_total",
				Help:      "State snapshots that failed to persist.",
			}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Name:      "compensations_total",
				Help:      "Compensating actions run after partial failures.",
			}, []string{"operation", "outcome"}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.compounded,
			vaultRegistry.stakedLP,
			vaultRegistry.principal,
			vaultRegistry.depositors,
			vaultRegistry.carry,
			vaultRegistry.persistFailures,
			vaultRegistry.compensations,
		)
	})
	return vaultRegistry
}

// ObserveOperation records an operation outcome such as "success",
// "noop" or an error kind.
func (m *VaultMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// AddCompounded increments the cumulative compounded counter for unit.
func (m *VaultMetrics) AddCompounded(unit string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.compounded.WithLabelValues(unit).Add(toFloat(amount))
}

// SetPosition publishes the aggregate position gauges.
func (m *VaultMetrics) SetPosition(stakedLP, principal *big.Int, depositors int) {
	if m == nil {
		return
	}
	m.stakedLP.Set(toFloat(stakedLP))
	m.principal.Set(toFloat(principal))
	m.depositors.Set(float64(depositors))
}

// SetCarry publishes the carried amount for a pipeline stage.
func (m *VaultMetrics) SetCarry(stage string, amount *big.Int) {
	if m == nil {
		return
	}
	m.carry.WithLabelValues(stage).Set(toFloat(amount))
}

// IncPersistFailure counts a failed state snapshot.
func (m *VaultMetrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// ObserveCompensation counts a compensating action and whether it succeeded.
func (m *VaultMetrics) ObserveCompensation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.compensations.WithLabelValues(operation, outcome).Inc()
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
