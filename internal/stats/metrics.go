package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the numbers from Stats as Prometheus gauges, written out
// via the node_exporter textfile-collector convention so `auditor status`
// can run as a cron job without a scrape target of its own.
type Metrics struct {
	registry *prometheus.Registry

	totalFindings        prometheus.Gauge
	activeIssues         prometheus.Gauge
	documentedExceptions prometheus.Gauge
	compliant            prometheus.Gauge

	fixedSinceBaseline       prometheus.Gauge
	regressionsSinceBaseline prometheus.Gauge
	newIssuesSinceBaseline   prometheus.Gauge

	fixedSinceLast       prometheus.Gauge
	regressionsSinceLast prometheus.Gauge
	newIssuesSinceLast   prometheus.Gauge
}

// NewMetrics builds an isolated registry scoped to one invocation of
// `auditor status`; it is never a process-wide default registry since the
// CLI exits after writing the textfile.
func NewMetrics(organization string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"organization": organization}

	newGauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sqlguardian",
			Subsystem:   "audit",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Metrics{
		registry:                 registry,
		totalFindings:             newGauge("total_findings", "Total findings in the current run"),
		activeIssues:              newGauge("active_issues", "FAIL/WARN findings without a documented exception"),
		documentedExceptions:      newGauge("documented_exceptions", "FAIL/WARN findings with a documented exception"),
		compliant:                 newGauge("compliant", "PASS findings"),
		fixedSinceBaseline:        newGauge("fixed_since_baseline", "Issues fixed since the baseline run"),
		regressionsSinceBaseline:  newGauge("regressions_since_baseline", "Regressions since the baseline run"),
		newIssuesSinceBaseline:    newGauge("new_issues_since_baseline", "New issues since the baseline run"),
		fixedSinceLast:            newGauge("fixed_since_last", "Issues fixed since the previous sync"),
		regressionsSinceLast:      newGauge("regressions_since_last", "Regressions since the previous sync"),
		newIssuesSinceLast:        newGauge("new_issues_since_last", "New issues since the previous sync"),
	}
}

// Set populates every gauge from a computed Stats value.
func (m *Metrics) Set(s Stats) {
	m.totalFindings.Set(float64(s.TotalFindings))
	m.activeIssues.Set(float64(s.ActiveIssues))
	m.documentedExceptions.Set(float64(s.DocumentedExceptions))
	m.compliant.Set(float64(s.Compliant))
	m.fixedSinceBaseline.Set(float64(s.FixedSinceBaseline))
	m.regressionsSinceBaseline.Set(float64(s.RegressionsSinceBaseline))
	m.newIssuesSinceBaseline.Set(float64(s.NewIssuesSinceBaseline))
	m.fixedSinceLast.Set(float64(s.FixedSinceLast))
	m.regressionsSinceLast.Set(float64(s.RegressionsSinceLast))
	m.newIssuesSinceLast.Set(float64(s.NewIssuesSinceLast))
}

// Registry returns the underlying registry so callers can gather and
// write it out with prometheus/common/expfmt.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
