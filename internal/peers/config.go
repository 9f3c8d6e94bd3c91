package peers

import "time"

// RetryPolicy controls retry behavior for network operations
type RetryPolicy struct {
	MaxRetries  int           //max retry attempts
	BaseBackoff time.Duration //initial backoff duration
	MaxBackoff  time.Duration // upper bound on backoff
	JitterFn    func(time.Duration) time.Duration
}

// TimeoutPolicy defines request-level timeouts
type TimeoutPolicy struct {
	RPCTimeout       time.Duration // zero leaves forwards and transfers unbounded
	HeartbeatTimeout time.Duration
}

// HealthPolicy defines when a peer is considered healthy or recovered
type HealthPolicy struct {
	FailureThreshold int //consecutive failures to mark unhealthy
	SuccessThreshold int //consecutive successes to mark healthy again
}

type HeartbeatPolicy struct {
	Interval time.Duration
}

type Config struct {
	Retry     RetryPolicy
	Timeout   TimeoutPolicy
	Health    HealthPolicy
	Heartbeat HeartbeatPolicy
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxRetries:  2,
			BaseBackoff: 100 * time.Millisecond,
			MaxBackoff:  time.Second,
			JitterFn:    func(d time.Duration) time.Duration { return d / 2 }, //default jitter:50%
		},
		Timeout: TimeoutPolicy{
			HeartbeatTimeout: time.Second,
		},
		Health: HealthPolicy{
			FailureThreshold: 3,
			SuccessThreshold: 2,
		},
		Heartbeat: HeartbeatPolicy{
			Interval: 2 * time.Second,
		},
	}
}
