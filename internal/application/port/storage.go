package port

import "context"

// HealthReport is the storage health snapshot.
type HealthReport struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker reports whether a backing store is reachable and how long
// one round trip takes. The HTTP health endpoint aggregates these.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthReport
}
