// Package health evaluates whether a target's stack is serving after a
// restart. The verdict gates the update pipeline's commit-or-rollback
// decision.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

const (
	// restartLoopThreshold marks a service as looping once its restart
	// count reaches this value.
	restartLoopThreshold = 3
	logTailLines         = 100
	probePath            = "/rest/v1/"
	probeTimeout         = 10 * time.Second
)

var logMarkers = []string{"error", "fatal", "panic"}

// Service runs the four health checks against a target.
type Service struct {
	runtime out.ContainerRuntime
	prober  out.HTTPProber
	log     zerowrap.Logger
}

// NewService creates a health evaluator.
func NewService(runtime out.ContainerRuntime, prober out.HTTPProber, log zerowrap.Logger) *Service {
	return &Service{runtime: runtime, prober: prober, log: log}
}

// Check runs all four checks and aggregates findings. No check
// short-circuits another; the report is always complete.
func (s *Service) Check(ctx context.Context, target domain.Instance) domain.HealthReport {
	report := domain.HealthReport{TargetID: target.ID}
	report.Findings = append(report.Findings,
		s.checkContainerCount(ctx, target),
		s.checkRestartLoops(ctx, target),
		s.checkLiveness(ctx, target),
		s.checkLogErrors(ctx, target),
	)

	if report.Healthy() {
		s.log.Info().Str("target", target.ID).Msg("health check passed")
	} else {
		s.log.Warn().Str("target", target.ID).Str("summary", report.Summary()).Msg("health check failed")
	}
	return report
}

func (s *Service) checkContainerCount(ctx context.Context, target domain.Instance) domain.Finding {
	running := 0
	var down []string
	for _, service := range target.Services {
		state, err := s.runtime.ContainerState(ctx, target.ContainerName(service))
		if err != nil {
			return domain.Finding{Check: domain.CheckContainerCount, Detail: fmt.Sprintf("inspect %s: %v", service, err)}
		}
		if state.Running {
			running++
		} else {
			down = append(down, service)
		}
	}

	if running != len(target.Services) {
		sort.Strings(down)
		return domain.Finding{
			Check:  domain.CheckContainerCount,
			Detail: fmt.Sprintf("%d of %d containers running, down: %s", running, len(target.Services), strings.Join(down, ", ")),
		}
	}
	return domain.Finding{
		Check:  domain.CheckContainerCount,
		OK:     true,
		Detail: fmt.Sprintf("%d of %d containers running", running, len(target.Services)),
	}
}

func (s *Service) checkRestartLoops(ctx context.Context, target domain.Instance) domain.Finding {
	var looping []string
	for _, service := range target.Services {
		state, err := s.runtime.ContainerState(ctx, target.ContainerName(service))
		if err != nil {
			return domain.Finding{Check: domain.CheckRestartLoops, Detail: fmt.Sprintf("inspect %s: %v", service, err)}
		}
		if state.Restarting || state.RestartCount >= restartLoopThreshold {
			looping = append(looping, fmt.Sprintf("%s (%d restarts)", service, state.RestartCount))
		}
	}

	if len(looping) > 0 {
		sort.Strings(looping)
		return domain.Finding{
			Check:  domain.CheckRestartLoops,
			Detail: "restart loop: " + strings.Join(looping, ", "),
		}
	}
	return domain.Finding{Check: domain.CheckRestartLoops, OK: true, Detail: "no restart loops"}
}

// checkLiveness probes the API gateway. 401 passes alongside 200: an
// unauthorized response still proves the process is serving requests.
func (s *Service) checkLiveness(ctx context.Context, target domain.Instance) domain.Finding {
	port := target.APIPort()
	if port == 0 {
		return domain.Finding{Check: domain.CheckLiveness, Detail: "no api port recorded for target"}
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, probePath)

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status, latency, err := s.prober.Probe(probeCtx, url)
	if err != nil {
		return domain.Finding{Check: domain.CheckLiveness, Detail: fmt.Sprintf("probe %s: %v", url, err)}
	}
	if status == http.StatusOK || status == http.StatusUnauthorized {
		return domain.Finding{
			Check:  domain.CheckLiveness,
			OK:     true,
			Detail: fmt.Sprintf("status %d in %dms", status, latency),
		}
	}
	return domain.Finding{
		Check:  domain.CheckLiveness,
		Detail: fmt.Sprintf("unexpected status %d from %s", status, url),
	}
}

func (s *Service) checkLogErrors(ctx context.Context, target domain.Instance) domain.Finding {
	var noisy []string
	for _, service := range target.Services {
		logs, err := s.runtime.RecentLogs(ctx, target.ContainerName(service), logTailLines)
		if err != nil {
			return domain.Finding{Check: domain.CheckLogErrors, Detail: fmt.Sprintf("logs %s: %v", service, err)}
		}
		lower := strings.ToLower(logs)
		for _, marker := range logMarkers {
			if strings.Contains(lower, marker) {
				noisy = append(noisy, service)
				break
			}
		}
	}

	if len(noisy) > 0 {
		sort.Strings(noisy)
		return domain.Finding{
			Check:  domain.CheckLogErrors,
			Detail: "error markers in logs: " + strings.Join(noisy, ", "),
		}
	}
	return domain.Finding{Check: domain.CheckLogErrors, OK: true, Detail: "no error markers in recent logs"}
}
