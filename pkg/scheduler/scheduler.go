// Package scheduler implements the Scheduler / Worker Pool: a single
// supervisor goroutine driving the dependency graph forward with a
// bounded pool of workers, honoring the Ready predicate, ConditionalUpdate
// lazy resolution, retries and the cancellation ladder.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/graph"
)

// Mode distinguishes a dry-run reconciliation pass from one that
// actually invokes the engine.
type Mode int

const (
	// ModeApply invokes the engine and mutates remote state.
	ModeApply Mode = iota
	// ModePreview invokes the engine's preview path only.
	ModePreview
	// ModeList performs no engine execution at all.
	ModeList
)

// CancelLevel is the four-step cancellation ladder of the component
// design.
type CancelLevel int

const (
	CancelNone CancelLevel = iota
	// CancelStopDispatch stops dispatching new work; running steps finish.
	CancelStopDispatch
	// CancelCooperative requests a soft-stop signal in running subprocesses.
	CancelCooperative
	// CancelForceTerminate forces termination of running subprocesses.
	CancelForceTerminate
	// CancelAbort aborts the supervisor immediately.
	CancelAbort
)

// Executor is the scheduler's view of the Engine Dispatcher: it
// executes one step to completion (including ConditionalUpdate's
// dispatch-time output diff) and reports a classified error or an
// outcome.
type Executor interface {
	// Execute runs step's action. level communicates how far the
	// cancellation ladder has progressed so the executor can signal
	// subprocesses accordingly.
	Execute(ctx context.Context, step *deploy.Step, mode Mode, level CancelLevel) (*deploy.StepOutcome, error)

	// CheckConditionalUpdate resolves current upstream output values for
	// step's VariablesFromOutputs and compares them to the persisted
	// current state, reporting whether anything changed.
	CheckConditionalUpdate(ctx context.Context, step *deploy.Step) (changed bool, err error)
}

// Checkpointer persists the in-memory step/record state. It is called
// at run completion and, if configured, periodically during the run.
type Checkpointer interface {
	Checkpoint(ctx context.Context, g *graph.Graph) error
}

// Config bounds scheduler behavior.
type Config struct {
	ConcurrentWorkers     int
	SaveStateEverySeconds int // 0 disables periodic checkpointing
}

// DefaultConfig matches the documented default of 10 concurrent workers.
func DefaultConfig() Config {
	return Config{ConcurrentWorkers: 10}
}

// Scheduler drives one run of a built graph.
type Scheduler struct {
	cfg      Config
	executor Executor
	check    Checkpointer
	log      zerolog.Logger

	mu    sync.Mutex
	level CancelLevel
}

// New constructs a Scheduler.
func New(cfg Config, executor Executor, check Checkpointer, log zerolog.Logger) *Scheduler {
	if cfg.ConcurrentWorkers <= 0 {
		cfg.ConcurrentWorkers = DefaultConfig().ConcurrentWorkers
	}
	return &Scheduler{
		cfg:      cfg,
		executor: executor,
		check:    check,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Cancel escalates the cancellation ladder. Safe to call concurrently
// with Run, typically from a signal handler.
func (s *Scheduler) Cancel(level CancelLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level > s.level {
		s.level = level
	}
}

func (s *Scheduler) cancelLevel() CancelLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// completion is what a worker reports back to the supervisor.
type completion struct {
	key      deploy.Key
	outcome  *deploy.StepOutcome
	err      error
	attempts int
}

// Summary is the run's final per-key results.
type Summary struct {
	Steps map[deploy.Key]*deploy.Step
}

// Run drives g to completion: steps are dispatched to idle workers as
// they become Ready, retried per their module's RetryPolicy, and
// failures are propagated transitively to downstream steps as
// Skipped(UpstreamFailed). Returns once no step is Running and no step
// is Ready (terminate condition of the dispatch loop).
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph, retryPolicies map[deploy.Key]deploy.RetryPolicy, mode Mode) (*Summary, error) {
	steps := g.Steps
	running := map[deploy.Key]struct{}{}
	completions := make(chan completion, s.cfg.ConcurrentWorkers)

	var checkpointTicker *time.Ticker
	if s.cfg.SaveStateEverySeconds > 0 {
		checkpointTicker = time.NewTicker(time.Duration(s.cfg.SaveStateEverySeconds) * time.Second)
		defer checkpointTicker.Stop()
	}

	ready := s.computeReady(g, steps)

	for {
		level := s.cancelLevel()

		if level == CancelNone {
			for len(ready) > 0 && len(running) < s.cfg.ConcurrentWorkers {
				k := ready[0]
				ready = ready[1:]
				s.dispatch(ctx, g, k, retryPolicies[k], mode, level, completions)
				running[k] = struct{}{}
				steps[k].State = deploy.StepRunning
			}
		}

		if len(running) == 0 {
			if len(ready) == 0 {
				break
			}
			if level >= CancelStopDispatch {
				// No workers running and dispatch is halted: mark the
				// remaining ready/waiting steps Pending and stop.
				s.markRemainingPending(g, steps)
				break
			}
		}

		if level >= CancelAbort {
			s.markRemainingPending(g, steps)
			if s.check != nil {
				_ = s.check.Checkpoint(ctx, g)
			}
			return &Summary{Steps: steps}, deploy.NewInterruptedError("run aborted at cancellation level 4")
		}

		var tick <-chan time.Time
		if checkpointTicker != nil {
			tick = checkpointTicker.C
		}

		select {
		case c := <-completions:
			delete(running, c.key)
			s.applyCompletion(g, steps, c, mode)
			ready = s.propagateAndRecomputeReady(g, steps, mode)
		case <-tick:
			if s.check != nil {
				if err := s.check.Checkpoint(ctx, g); err != nil {
					s.log.Warn().Err(err).Msg("periodic checkpoint failed")
				}
			}
		case <-ctx.Done():
			s.Cancel(CancelAbort)
		}
	}

	if s.check != nil {
		if err := s.check.Checkpoint(ctx, g); err != nil {
			return &Summary{Steps: steps}, err
		}
	}
	return &Summary{Steps: steps}, nil
}

func (s *Scheduler) markRemainingPending(g *graph.Graph, steps map[deploy.Key]*deploy.Step) {
	for _, step := range steps {
		if !step.Terminal() {
			step.Pending = true
		}
	}
}

// computeReady scans for steps whose predecessors are all satisfied.
// The preview-mode pending-upstream check is applied later, by
// propagateAndRecomputeReady.
func (s *Scheduler) computeReady(g *graph.Graph, steps map[deploy.Key]*deploy.Step) []deploy.Key {
	var ready []deploy.Key
	for k, step := range steps {
		if step.State != deploy.StepWaiting {
			continue
		}
		if s.isReady(g, steps, k) {
			ready = append(ready, k)
			step.State = deploy.StepReady
		}
	}
	return ready
}

func (s *Scheduler) isReady(g *graph.Graph, steps map[deploy.Key]*deploy.Step, k deploy.Key) bool {
	for _, pred := range g.Predecessors(k) {
		predStep := steps[pred]
		if predStep == nil {
			continue
		}
		if !predStep.ReadyForDependents() {
			return false
		}
	}
	return true
}

func (s *Scheduler) propagateAndRecomputeReady(g *graph.Graph, steps map[deploy.Key]*deploy.Step, mode Mode) []deploy.Key {
	changed := true
	for changed {
		changed = false
		for k, step := range steps {
			if step.State != deploy.StepWaiting {
				continue
			}
			for _, pred := range g.Predecessors(k) {
				predStep := steps[pred]
				if predStep != nil && predStep.State == deploy.StepFailed {
					step.State = deploy.StepSkipped
					step.SkipCause = deploy.SkipUpstreamFailed
					step.Err = deploy.NewUpstreamFailedError(fmt.Sprintf("predecessor %s failed", pred)).WithKey(k)
					changed = true
					break
				}
			}
		}
	}

	var ready []deploy.Key
	for k, step := range steps {
		if step.State != deploy.StepWaiting {
			continue
		}
		if mode == ModePreview && step.Action.IsPending() && step.Action != deploy.ActionNoChange {
			if previewBlocked(g, steps, k) {
				step.State = deploy.StepFailed
				step.Err = deploy.NewPreviewBlockedError(fmt.Sprintf("predecessor of %s has an unapplied pending change", k)).WithKey(k)
				continue
			}
		}
		if s.isReady(g, steps, k) {
			ready = append(ready, k)
			step.State = deploy.StepReady
		}
	}
	return ready
}

// previewBlocked implements the preview-only rule: a Create/Update/
// ConditionalUpdate step fails with PreviewBlockedByPendingUpstream if
// any predecessor has a pending Create/Update that has not been
// applied, unless that predecessor was classified NoChange.
func previewBlocked(g *graph.Graph, steps map[deploy.Key]*deploy.Step, k deploy.Key) bool {
	for _, pred := range g.Predecessors(k) {
		predStep := steps[pred]
		if predStep == nil {
			continue
		}
		if predStep.Action == deploy.ActionNoChange {
			continue
		}
		// Preview never applies a change, so a pending Create/Update
		// predecessor stays unapplied even after its own preview completes.
		if predStep.Action == deploy.ActionCreate || predStep.Action == deploy.ActionUpdate {
			return true
		}
	}
	return false
}

func (s *Scheduler) dispatch(ctx context.Context, g *graph.Graph, k deploy.Key, policy deploy.RetryPolicy, mode Mode, level CancelLevel, completions chan<- completion) {
	step := g.Steps[k]
	step.StartedAt = time.Now()

	go func() {
		if mode == ModeList {
			// list performs no engine execution at all: not the
			// ConditionalUpdate dispatch-time output check, and not the
			// step's action itself.
			completions <- completion{
				key:      k,
				outcome:  &deploy.StepOutcome{ResultedInChanges: false},
				attempts: 0,
			}
			return
		}

		if policy.MaxAttempts <= 0 {
			policy = deploy.DefaultRetryPolicy()
		}

		if step.Action == deploy.ActionConditionalUpdate {
			changed, err := s.executor.CheckConditionalUpdate(ctx, step)
			if err != nil {
				completions <- completion{key: k, err: err, attempts: 1}
				return
			}
			if !changed {
				completions <- completion{
					key:      k,
					outcome:  &deploy.StepOutcome{ResultedInChanges: false},
					attempts: 1,
				}
				return
			}
		}

		attempts := 0
		operation := func() (*deploy.StepOutcome, error) {
			attempts++
			lvl := s.cancelLevel()
			outcome, err := s.executor.Execute(ctx, step, mode, lvl)
			if err != nil && !deploy.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return outcome, err
		}

		opts := []backoff.RetryOption{
			backoff.WithMaxTries(uint(policy.MaxAttempts)),
		}
		if policy.DelayBeforeRetrying > 0 {
			opts = append(opts, backoff.WithBackOff(backoff.NewConstantBackOff(policy.DelayBeforeRetrying)))
		}

		outcome, err := backoff.Retry(ctx, operation, opts...)
		completions <- completion{key: k, outcome: outcome, err: err, attempts: attempts}
	}()
}

func (s *Scheduler) applyCompletion(g *graph.Graph, steps map[deploy.Key]*deploy.Step, c completion, mode Mode) {
	step := steps[c.key]
	step.NbAttempts = c.attempts
	step.CompletedAt = time.Now()

	if c.err != nil {
		step.State = deploy.StepFailed
		step.Err = c.err
		s.log.Error().Str("key", c.key.String()).Err(c.err).Msg("step failed")
		return
	}

	step.Result = c.outcome
	// In list mode the synthetic ResultedInChanges=false outcome only
	// means "never checked", not "checked and found unchanged": only
	// an actual dispatch-time check earns the Skipped(NoChange) verdict.
	if mode != ModeList && step.Action == deploy.ActionConditionalUpdate && !c.outcome.ResultedInChanges {
		step.State = deploy.StepSkipped
		step.SkipCause = deploy.SkipNoChange
		return
	}
	step.State = deploy.StepCompleted
}
