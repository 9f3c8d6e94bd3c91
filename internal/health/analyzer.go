// Package health turns metrics and recent log lines into a health report.
package health

import (
	"strings"

	"ringdht/internal/logs"
	"ringdht/internal/metrics"
)

// Status represents overall node health.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// Report is the health summary served on /health.
type Report struct {
	OverallStatus   Status   `json:"overall_status"`
	Summary         string   `json:"summary"`
	Activated       bool     `json:"activated"`
	Signals         []string `json:"signals"`
	Recommendations []string `json:"recommendations"`
}

// logWindow is how many recent log entries are scanned.
const logWindow = 100

// Analyzer converts metrics + logs into a health report.
type Analyzer struct {
	metrics   *metrics.Registry
	logger    *logs.Logger
	rules     []Rule
	activated func() bool
}

// NewAnalyzer creates a new analyzer. activated may be nil.
func NewAnalyzer(
	reg *metrics.Registry,
	logger *logs.Logger,
	activated func() bool,
) *Analyzer {
	return &Analyzer{
		metrics:   reg,
		logger:    logger,
		rules:     DefaultRules,
		activated: activated,
	}
}

// Analyze evaluates metrics and logs and returns a health report.
func (ha *Analyzer) Analyze() Report {
	snapshot := ha.metrics.Snapshot()

	r := Report{
		OverallStatus:   StatusOK,
		Signals:         []string{},
		Recommendations: []string{},
	}

	/* ---------- METRICS-BASED RULES ---------- */

	for _, rule := range ha.rules {
		result := rule(snapshot)
		if result.Triggered {
			r.add(result)
		}
	}

	/* ---------- LOG-BASED SIGNALS ---------- */

	forwardFailures, transferFailures, panics := 0, 0, 0
	for _, entry := range ha.logger.GetLast(logWindow) {
		switch {
		case entry.Level == logs.WARN && strings.HasPrefix(entry.Message, "forward of put"):
			forwardFailures++
		case entry.Level == logs.WARN && strings.HasPrefix(entry.Message, "transfer of key"):
			transferFailures++
		case entry.Level == logs.ERROR && strings.Contains(entry.Message, "panic"):
			panics++
		}
	}

	if forwardFailures >= 3 {
		r.add(RuleResult{
			Signal:         "Repeated forward failures detected in logs",
			Recommendation: "Investigate network connectivity to the structured neighbors",
			Severity:       StatusDegraded,
		})
	}
	if transferFailures >= 3 {
		r.add(RuleResult{
			Signal:         "Repeated transfer failures detected in logs",
			Recommendation: "Check the neighbor receiving replication transfers",
			Severity:       StatusDegraded,
		})
	}
	if panics > 0 {
		r.add(RuleResult{
			Signal:         "Application panics detected in logs",
			Recommendation: "Inspect stack traces and stabilize error handling",
			Severity:       StatusCritical,
		})
	}

	/* ---------- ACTIVATION ---------- */

	r.Activated = true
	if ha.activated != nil && !ha.activated() {
		r.Activated = false
		r.add(RuleResult{
			Signal:         "Node has not joined the ring yet",
			Recommendation: "Wait for a structured neighbor or check the peer list",
			Severity:       StatusDegraded,
		})
	}

	/* ---------- SUMMARY ---------- */

	r.Summary = "Node is healthy"
	if r.OverallStatus != StatusOK {
		r.Summary = "Node health issues detected"
	}
	return r
}

func (r *Report) add(result RuleResult) {
	r.Signals = append(r.Signals, result.Signal)
	r.Recommendations = append(r.Recommendations, result.Recommendation)

	// Escalate status
	if result.Severity == StatusCritical {
		r.OverallStatus = StatusCritical
	} else if result.Severity == StatusDegraded && r.OverallStatus == StatusOK {
		r.OverallStatus = StatusDegraded
	}
}
