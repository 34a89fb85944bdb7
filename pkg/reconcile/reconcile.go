// Package reconcile implements the Reconciler: it walks the union of
// target and current deployment keys and assigns each exactly one
// action, per the classification rules of the component design.
package reconcile

import "github.com/meridian-iac/deployer/pkg/deploy"

// TargetRecord is what the Scope Expander + Variable Resolver produced
// for a key that is in scope for this run.
type TargetRecord struct {
	Variables            map[string]interface{}
	VariablesFromOutputs map[string]deploy.OutputRef
	Dependencies         []deploy.DependencyRef
	ModuleHash           string
}

func (t TargetRecord) toRecord() *deploy.Record {
	return &deploy.Record{
		Variables:            t.Variables,
		VariablesFromOutputs: t.VariablesFromOutputs,
		Dependencies:         t.Dependencies,
		ModuleHash:           t.ModuleHash,
	}
}

// Options controls reconciliation behavior.
type Options struct {
	// ForceUpdate forces Update for every key present in both target
	// and current state, bypassing the equality check.
	ForceUpdate bool
}

// Reconcile classifies every key in the union of target and current
// into exactly one Action (invariant I1), returning one Step per key.
func Reconcile(target map[deploy.Key]TargetRecord, current map[deploy.Key]*deploy.Record, opts Options) map[deploy.Key]*deploy.Step {
	steps := make(map[deploy.Key]*deploy.Step, len(target)+len(current))

	for k, t := range target {
		cur, inCurrent := current[k]
		if !inCurrent {
			steps[k] = &deploy.Step{Key: k, Action: deploy.ActionCreate, State: deploy.StepWaiting}
			continue
		}

		if opts.ForceUpdate {
			steps[k] = &deploy.Step{Key: k, Action: deploy.ActionUpdate, State: deploy.StepWaiting}
			continue
		}

		steps[k] = &deploy.Step{Key: k, Action: classify(t, cur), State: deploy.StepWaiting}
	}

	for k := range current {
		if _, inTarget := target[k]; !inTarget {
			steps[k] = &deploy.Step{Key: k, Action: deploy.ActionDestroy, State: deploy.StepWaiting}
		}
	}

	return steps
}

// classify implements the in-both classification rule: structurally
// equal and no output refs -> NoChange; structurally equal with output
// refs -> ConditionalUpdate; otherwise -> Update.
func classify(t TargetRecord, cur *deploy.Record) deploy.Action {
	equal := t.toRecord().Equal(cur)
	hasOutputRefs := len(t.VariablesFromOutputs) > 0

	switch {
	case equal && !hasOutputRefs:
		return deploy.ActionNoChange
	case equal && hasOutputRefs:
		return deploy.ActionConditionalUpdate
	default:
		return deploy.ActionUpdate
	}
}
