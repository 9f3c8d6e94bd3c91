package health

import "ringdht/internal/metrics"

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates a metrics snapshot.
type Rule func(snapshot map[string]int64) RuleResult

// counterRule fires once key is above zero.
func counterRule(key metrics.MetricKey, severity Status, signal, recommendation string) Rule {
	return func(snapshot map[string]int64) RuleResult {
		if snapshot[string(key)] <= 0 {
			return RuleResult{}
		}
		return RuleResult{
			Triggered:      true,
			Signal:         signal,
			Recommendation: recommendation,
			Severity:       severity,
		}
	}
}

var (
	// Failed forwards mean puts were rolled back.
	ForwardFailureRule = counterRule(metrics.ForwardFailuresTotal, StatusDegraded,
		"Forwarded puts are failing",
		"Check the structured neighbors and the rpc timeout")

	// A node without neighbors rejects every put.
	NeighborlessRule = counterRule(metrics.TableNeighborlessTotal, StatusCritical,
		"Puts rejected for lack of a structured neighbor",
		"Add ring members or restore the unhealthy ones")

	// Failed transfers leave a neighbor short of entries until the next session.
	TransferFailureRule = counterRule(metrics.TransferValuesFailedTotal, StatusDegraded,
		"Replication transfers failed",
		"Check neighbor availability; values are resent on the next neighbor change")

	PeerUnhealthyRule = counterRule(metrics.PeersUnhealthy, StatusDegraded,
		"One or more peers are unhealthy",
		"Inspect peer health and heartbeat configuration")

	HeartbeatFailureRule = counterRule(metrics.HeartbeatFailuresTotal, StatusDegraded,
		"Heartbeat failures detected",
		"Check peer availability and heartbeat endpoints")
)

// DefaultRules is the rule set used by NewAnalyzer.
var DefaultRules = []Rule{
	ForwardFailureRule,
	NeighborlessRule,
	TransferFailureRule,
	PeerUnhealthyRule,
	HeartbeatFailureRule,
}
