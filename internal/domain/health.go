package domain

import "strings"

// HealthCheck names one of the four independent checks.
type HealthCheck string

const (
	CheckContainerCount HealthCheck = "container_count"
	CheckRestartLoops   HealthCheck = "restart_loops"
	CheckLiveness       HealthCheck = "liveness_probe"
	CheckLogErrors      HealthCheck = "log_errors"
)

// Finding is the result of a single health check.
type Finding struct {
	Check  HealthCheck
	OK     bool
	Detail string
}

// HealthReport aggregates all findings. Every check always runs so the
// rollback/report path can show complete diagnostics.
type HealthReport struct {
	TargetID string
	Findings []Finding
}

// Healthy reports whether every check passed.
func (r HealthReport) Healthy() bool {
	for _, f := range r.Findings {
		if !f.OK {
			return false
		}
	}
	return len(r.Findings) > 0
}

// Failures returns the findings of the checks that failed.
func (r HealthReport) Failures() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.OK {
			out = append(out, f)
		}
	}
	return out
}

// Summary renders a one-line diagnostic for operator-facing output.
func (r HealthReport) Summary() string {
	if r.Healthy() {
		return "all checks passed"
	}
	parts := make([]string, 0, len(r.Findings))
	for _, f := range r.Failures() {
		parts = append(parts, string(f.Check)+": "+f.Detail)
	}
	return strings.Join(parts, "; ")
}
