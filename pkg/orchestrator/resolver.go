package orchestrator

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/dispatcher"
	"github.com/meridian-iac/deployer/pkg/scheduler"
	"github.com/meridian-iac/deployer/pkg/scope"
	"github.com/meridian-iac/deployer/pkg/variables"
)

// resolver implements dispatcher.ConfigResolver and the
// CheckConditionalUpdate half of scheduler.Executor: both need the same
// VariablesFromOutputs lookup, resolved lazily against either a step
// that already completed earlier this run or the state document loaded
// at the start of the run.
type resolver struct {
	mu sync.RWMutex

	moduleConfigs map[string]deploy.ModuleConfig        // by module name
	moduleHashes  map[string]string                     // by module name
	declaredVars  map[deploy.Key]map[string]interface{} // pre-output merge
	targets       map[deploy.Key]scope.Target
	steps         map[deploy.Key]*deploy.Step
	baseline      map[deploy.Key]map[string]interface{} // outputs as of run start
}

func newResolver() *resolver {
	return &resolver{
		moduleConfigs: map[string]deploy.ModuleConfig{},
		moduleHashes:  map[string]string{},
		declaredVars:  map[deploy.Key]map[string]interface{}{},
		targets:       map[deploy.Key]scope.Target{},
		baseline:      map[deploy.Key]map[string]interface{}{},
	}
}

// buildRecord assembles the *deploy.Record snapshot of a target's
// declared state, for ApplyStepResult to persist once its step
// completes. It returns nil for a key the scope expander never
// produced a target for, which is the case for a Destroy step whose
// module/block no longer includes it.
func (r *resolver) buildRecord(k deploy.Key) *deploy.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target, ok := r.targets[k]
	if !ok {
		return nil
	}
	return &deploy.Record{
		Variables:            copyVars(r.declaredVars[k]),
		VariablesFromOutputs: target.VariablesFromOutputs,
		Dependencies:         target.Dependencies,
		ModuleHash:           r.moduleHashes[k.Module],
	}
}

// ResolveConfig implements dispatcher.ConfigResolver. It is called by
// the Dispatcher at dispatch time, after the scheduler has guaranteed
// every predecessor this step depends on is already
// ReadyForDependents, so every output reference it carries is
// resolvable.
func (r *resolver) ResolveConfig(k deploy.Key) (deploy.ModuleConfig, map[string]interface{}, error) {
	r.mu.RLock()
	cfg := r.moduleConfigs[k.Module]
	target := r.targets[k]
	merged := copyVars(r.declaredVars[k])
	r.mu.RUnlock()

	resolved, err := variables.ResolveOutputs(merged, target.VariablesFromOutputs, r.lookup)
	if err != nil {
		return deploy.ModuleConfig{}, nil, err
	}
	return cfg, resolved, nil
}

// CheckConditionalUpdate implements the scheduler.Executor half the
// Dispatcher deliberately leaves unimplemented: it compares each
// output reference's value as of run start against its value resolved
// right now (which, for a dependency already completed earlier in this
// same run, reflects whatever that dependency just produced).
func (r *resolver) CheckConditionalUpdate(ctx context.Context, step *deploy.Step) (bool, error) {
	r.mu.RLock()
	target := r.targets[step.Key]
	r.mu.RUnlock()

	for _, ref := range target.VariablesFromOutputs {
		current, currentFound := r.lookup(ref.Key(), ref.OutputName)
		previous, previousFound := r.baselineLookup(ref.Key(), ref.OutputName)
		if currentFound != previousFound {
			return true, nil
		}
		if currentFound && !reflect.DeepEqual(current, previous) {
			return true, nil
		}
	}
	return false, nil
}

// lookup resolves a dependency key's named output against whichever is
// freshest: a step this run has already completed, falling back to the
// state-as-of-run-start baseline for a dependency this run left
// untouched.
func (r *resolver) lookup(k deploy.Key, outputName string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if step, ok := r.steps[k]; ok && step.Result != nil {
		if v, ok := step.Result.Outputs[outputName]; ok {
			return v, true
		}
	}
	if vals, ok := r.baseline[k]; ok {
		if v, ok := vals[outputName]; ok {
			return v, true
		}
	}
	return nil, false
}

// baselineLookup resolves strictly against the pre-run snapshot,
// ignoring anything this run has produced so far.
func (r *resolver) baselineLookup(k deploy.Key, outputName string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vals, ok := r.baseline[k]
	if !ok {
		return nil, false
	}
	v, ok := vals[outputName]
	return v, ok
}

func copyVars(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func decodeOutputs(raw map[string]json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		var decoded interface{}
		if err := json.Unmarshal(v, &decoded); err == nil {
			out[k] = decoded
		}
	}
	return out
}

// executor composes the Dispatcher (which implements Execute) with the
// resolver (which implements CheckConditionalUpdate) into the single
// scheduler.Executor the Scheduler drives.
type executor struct {
	dispatcher *dispatcher.Dispatcher
	resolver   *resolver
}

func (e *executor) Execute(ctx context.Context, step *deploy.Step, mode scheduler.Mode, level scheduler.CancelLevel) (*deploy.StepOutcome, error) {
	return e.dispatcher.Execute(ctx, step, mode, level)
}

func (e *executor) CheckConditionalUpdate(ctx context.Context, step *deploy.Step) (bool, error) {
	return e.resolver.CheckConditionalUpdate(ctx, step)
}
