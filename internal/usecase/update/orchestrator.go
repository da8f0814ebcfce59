// Package update sequences version resolution, snapshotting, image swap,
// restart, health verification and the rollback-or-commit decision as an
// explicit state machine.
package update

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/compose"
	"github.com/bnema/stackops/internal/domain"
)

// State tags where the orchestrator is in an update run.
type State string

const (
	StateIdle                 State = "idle"
	StateSnapshotting         State = "snapshotting"
	StateResolving            State = "resolving"
	StateRewriting            State = "rewriting"
	StateRestarting           State = "restarting"
	StateHealthChecking       State = "health_checking"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateRollingBack          State = "rolling_back"
	StateCommitting           State = "committing"

	// Terminal states. Nothing is reachable from either without a new
	// update request.
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// DefaultSettle is how long the stack gets to settle after a restart
// before the health evaluator runs.
const DefaultSettle = 30 * time.Second

// Confirmer asks the operator to accept or decline a healthy update.
type Confirmer func(ctx context.Context, plan domain.UpdatePlan, report domain.HealthReport) (bool, error)

// versionResolver is the slice of the version service the orchestrator uses.
type versionResolver interface {
	Current(target domain.Instance) (domain.VersionMap, error)
	Latest(ctx context.Context) domain.VersionMap
	Diff(current, latest domain.VersionMap, selector []string) domain.UpdatePlan
}

// snapshotManager is the slice of the snapshot service the orchestrator uses.
type snapshotManager interface {
	Capture(ctx context.Context, target domain.Instance, kind domain.SnapshotKind) (domain.Snapshot, error)
	Restore(ctx context.Context, target domain.Instance, snap domain.Snapshot) error
	Delete(target domain.Instance, id string) error
}

// healthChecker is the slice of the health service the orchestrator uses.
type healthChecker interface {
	Check(ctx context.Context, target domain.Instance) domain.HealthReport
}

// Request names a target and an optional service subset to update.
type Request struct {
	Target   domain.Instance
	Services []string
}

// Result is the outcome of an update run.
type Result struct {
	State  State
	Plan   domain.UpdatePlan
	Pre    domain.Snapshot
	Post   *domain.Snapshot
	Health domain.HealthReport
	// Reason explains a rolled-back terminal state.
	Reason string
	// PrunedImages counts images removed after a commit.
	PrunedImages int
}

// Committed reports whether the run ended in the success terminal state.
func (r Result) Committed() bool { return r.State == StateCommitted }

// Orchestrator drives one update request to a terminal state. Once
// Rewriting begins the run does not stop until Committed or RolledBack.
type Orchestrator struct {
	runtime   out.ContainerRuntime
	versions  versionResolver
	snapshots snapshotManager
	health    healthChecker
	confirm   Confirmer
	settle    time.Duration
	sleep     func(ctx context.Context, d time.Duration)
	log       zerowrap.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithSettle sets the post-restart settle interval.
func WithSettle(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.settle = d
	}
}

// WithSleep overrides the settle sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// NewOrchestrator creates an update orchestrator.
func NewOrchestrator(
	runtime out.ContainerRuntime,
	versions versionResolver,
	snapshots snapshotManager,
	health healthChecker,
	confirm Confirmer,
	log zerowrap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		runtime:   runtime,
		versions:  versions,
		snapshots: snapshots,
		health:    health,
		confirm:   confirm,
		settle:    DefaultSettle,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
		log: log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries the mutable state of one update through the steps.
type run struct {
	req    Request
	result Result
}

// step computes the next state and its side effects. Every transition of
// the machine lives here so the paths are independently testable.
func (o *Orchestrator) step(ctx context.Context, state State, r *run) (State, error) {
	switch state {
	case StateIdle:
		return StateSnapshotting, nil
	case StateSnapshotting:
		return o.stepSnapshot(ctx, r)
	case StateResolving:
		return o.stepResolve(ctx, r)
	case StateRewriting:
		return o.stepRewrite(r)
	case StateRestarting:
		return o.stepRestart(ctx, r)
	case StateHealthChecking:
		return o.stepHealthCheck(ctx, r)
	case StateAwaitingConfirmation:
		return o.stepAwaitConfirmation(ctx, r)
	case StateRollingBack:
		return o.stepRollback(ctx, r)
	case StateCommitting:
		return o.stepCommit(ctx, r)
	default:
		return "", fmt.Errorf("no transition from state %q", state)
	}
}

// Run drives the machine from Idle to a terminal state. Once Rewriting
// begins, a failing step routes through rollback instead of returning
// with the target half-updated.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	r := &run{req: req}
	state := StateIdle
	var stepErr error
	for state != StateCommitted && state != StateRolledBack {
		next, err := o.step(ctx, state, r)
		if err != nil {
			r.result.State = state
			if stepErr != nil {
				return r.result, fmt.Errorf("rollback after update failure (%v): %w", stepErr, err)
			}
			if !mutated(state) {
				return r.result, err
			}
			stepErr = err
			r.result.Reason = err.Error()
			o.log.Error().Err(err).
				Str("target", req.Target.ID).
				Str("state", string(state)).
				Msg("update step failed, rolling back")
			next = StateRollingBack
		}
		o.log.Debug().
			Str("target", req.Target.ID).
			Str("from", string(state)).
			Str("to", string(next)).
			Msg("update state transition")
		state = next
	}
	r.result.State = state

	if stepErr != nil {
		return r.result, fmt.Errorf("update rolled back: %w", stepErr)
	}
	// A failing health verdict is an error; an operator declining a
	// healthy update is not.
	if state == StateRolledBack && len(r.result.Health.Findings) > 0 && !r.result.Health.Healthy() {
		return r.result, fmt.Errorf("update rolled back: %s: %w", r.result.Reason, domain.ErrHealthCheckFailed)
	}
	return r.result, nil
}

// mutated reports whether the state's step may already have touched the
// compose file or the running stack. A failure there must not leave the
// run in a non-terminal state.
func mutated(state State) bool {
	switch state {
	case StateRewriting, StateRestarting, StateHealthChecking, StateAwaitingConfirmation, StateCommitting:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) stepSnapshot(ctx context.Context, r *run) (State, error) {
	snap, err := o.snapshots.Capture(ctx, r.req.Target, domain.SnapshotPreUpdate)
	if err != nil {
		return "", fmt.Errorf("capture pre-update snapshot: %w", err)
	}
	r.result.Pre = snap
	return StateResolving, nil
}

func (o *Orchestrator) stepResolve(ctx context.Context, r *run) (State, error) {
	current, err := o.versions.Current(r.req.Target)
	if err != nil {
		return "", fmt.Errorf("resolve current versions: %w", err)
	}
	latest := o.versions.Latest(ctx)
	r.result.Plan = o.versions.Diff(current, latest, r.req.Services)

	if r.result.Plan.Empty() {
		// Nothing to change: discard the snapshot and just bring the
		// target back up.
		if err := o.snapshots.Delete(r.req.Target, r.result.Pre.ID); err != nil {
			o.log.Warn().Err(err).Str("snapshot", r.result.Pre.ID).Msg("failed to discard pre-update snapshot")
		}
		r.result.Pre = domain.Snapshot{}
		if err := o.startAll(ctx, r.req.Target); err != nil {
			return "", err
		}
		return StateCommitting, nil
	}
	return StateRewriting, nil
}

func (o *Orchestrator) stepRewrite(r *run) (State, error) {
	file, err := compose.Load(r.req.Target.ComposePath())
	if err != nil {
		return "", fmt.Errorf("load compose file: %w", err)
	}
	if err := file.WriteFile(r.req.Target.ComposePath(), r.result.Plan.Updates); err != nil {
		return "", fmt.Errorf("rewrite compose file: %w", err)
	}
	return StateRestarting, nil
}

func (o *Orchestrator) stepRestart(ctx context.Context, r *run) (State, error) {
	file, err := compose.Load(r.req.Target.ComposePath())
	if err != nil {
		return "", fmt.Errorf("load compose file: %w", err)
	}
	images := file.Images()
	order, err := file.DependencyOrder()
	if err != nil {
		return "", fmt.Errorf("resolve service order: %w", err)
	}

	updated := make(map[string]bool, len(r.result.Plan.Updates))
	for _, u := range r.result.Plan.Updates {
		updated[u.Service] = true
	}

	// Pull and restart in dependency order so data services come up
	// before the services that need them.
	for _, service := range order {
		if updated[service] {
			if err := o.runtime.PullImage(ctx, images[service]); err != nil {
				return "", fmt.Errorf("pull %s: %w", images[service], domain.ErrImagePullFailed)
			}
		}
	}
	for _, service := range order {
		if err := o.runtime.RestartContainer(ctx, r.req.Target.ContainerName(service)); err != nil {
			return "", fmt.Errorf("restart %s: %w", service, err)
		}
	}
	return StateHealthChecking, nil
}

func (o *Orchestrator) stepHealthCheck(ctx context.Context, r *run) (State, error) {
	o.sleep(ctx, o.settle)
	r.result.Health = o.health.Check(ctx, r.req.Target)
	if !r.result.Health.Healthy() {
		r.result.Reason = r.result.Health.Summary()
		return StateRollingBack, nil
	}
	return StateAwaitingConfirmation, nil
}

func (o *Orchestrator) stepAwaitConfirmation(ctx context.Context, r *run) (State, error) {
	accepted, err := o.confirm(ctx, r.result.Plan, r.result.Health)
	if err != nil {
		return "", fmt.Errorf("confirmation: %w", err)
	}
	if !accepted {
		r.result.Reason = "declined by operator"
		o.log.Info().Str("target", r.req.Target.ID).Msg("update declined by operator")
		return StateRollingBack, nil
	}
	return StateCommitting, nil
}

func (o *Orchestrator) stepRollback(ctx context.Context, r *run) (State, error) {
	if err := o.snapshots.Restore(ctx, r.req.Target, r.result.Pre); err != nil {
		return "", fmt.Errorf("rollback to %s: %w", r.result.Pre.ID, err)
	}
	o.log.Warn().
		Str("target", r.req.Target.ID).
		Str("snapshot", r.result.Pre.ID).
		Str("reason", r.result.Reason).
		Msg("update rolled back")
	return StateRolledBack, nil
}

func (o *Orchestrator) stepCommit(ctx context.Context, r *run) (State, error) {
	if r.result.Plan.Empty() {
		return StateCommitted, nil
	}

	post, err := o.snapshots.Capture(ctx, r.req.Target, domain.SnapshotPostUpdate)
	if err != nil {
		return "", fmt.Errorf("capture post-update snapshot: %w", err)
	}
	r.result.Post = &post

	// Capture stopped the mutable services for a consistent copy.
	for _, service := range domain.MutableServices {
		if err := o.runtime.StartContainer(ctx, r.req.Target.ContainerName(service)); err != nil {
			return "", fmt.Errorf("restart %s after post-update snapshot: %w", service, err)
		}
	}

	if err := o.snapshots.Delete(r.req.Target, r.result.Pre.ID); err != nil {
		o.log.Warn().Err(err).Str("snapshot", r.result.Pre.ID).Msg("failed to delete pre-update snapshot")
	}

	pruned, err := o.runtime.PruneImages(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("image prune failed")
	}
	r.result.PrunedImages = pruned

	o.log.Info().
		Str("target", r.req.Target.ID).
		Int("services", len(r.result.Plan.Updates)).
		Msg("update committed")
	return StateCommitted, nil
}

func (o *Orchestrator) startAll(ctx context.Context, target domain.Instance) error {
	file, err := compose.Load(target.ComposePath())
	if err != nil {
		return fmt.Errorf("load compose file: %w", err)
	}
	order, err := file.DependencyOrder()
	if err != nil {
		return fmt.Errorf("resolve service order: %w", err)
	}
	for _, service := range order {
		if err := o.runtime.StartContainer(ctx, target.ContainerName(service)); err != nil {
			return fmt.Errorf("start %s: %w", service, err)
		}
	}
	return nil
}
