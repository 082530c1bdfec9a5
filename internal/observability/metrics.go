package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus metrics for a single gate run. Each run owns
// its registry so values are never shared between runs or tests.
type Metrics struct {
	registry *prometheus.Registry

	// Finding metrics
	FindingsTotal      *prometheus.CounterVec
	ExceptedFindings   prometheus.Counter
	ActionableFindings *prometheus.GaugeVec

	// Gate metrics
	GatePassed       prometheus.Gauge
	LastRunTimestamp prometheus.Gauge

	// Exception rule set metrics
	ExceptionRules           prometheus.Gauge
	ExpiredExceptions        prometheus.Gauge
	ReviewRequiredExceptions prometheus.Gauge
	ExpiringExceptions       prometheus.Gauge

	// Scan metrics
	ScanDuration prometheus.Gauge
	ScanFailures *prometheus.CounterVec
}

// NewMetrics creates the metric set on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FindingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depgate_findings_total",
				Help: "Vulnerability findings in the report by severity tier, excepted or not",
			},
			[]string{"tier"},
		),
		ExceptedFindings: factory.NewCounter(prometheus.CounterOpts{
			Name: "depgate_excepted_findings_total",
			Help: "Findings covered by an active exception rule",
		}),
		ActionableFindings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "depgate_actionable_findings",
				Help: "Findings not covered by any active exception rule by severity tier",
			},
			[]string{"tier"},
		),

		GatePassed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depgate_gate_passed",
			Help: "1 if the last gate run passed, 0 otherwise",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depgate_last_run_timestamp_seconds",
			Help: "Unix time of the last completed gate run",
		}),

		ExceptionRules: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depgate_exception_rules",
			Help: "Active exception rules loaded from the rule set",
		}),
		ExpiredExceptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depgate_expired_exceptions",
			Help: "Exception rules dropped because their expiry date has passed",
		}),
		ReviewRequiredExceptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depgate_review_required_exceptions",
			Help: "Exception rules whose review date has passed",
		}),
		ExpiringExceptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depgate_expiring_exceptions",
			Help: "Exception rules expiring within the warning window",
		}),

		ScanDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depgate_scan_duration_seconds",
			Help: "Duration of the dependency-check run in seconds",
		}),
		ScanFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depgate_scan_failures_total",
			Help: "Dependency-check runs that failed by failure kind (transient, permanent)",
		}, []string{"kind"}),
	}
}

// Registry returns the registry backing this metric set
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the metric set to a Prometheus Pushgateway, replacing any
// metrics previously pushed under the same job and grouping.
func (m *Metrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(m.registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
