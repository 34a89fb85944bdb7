package deploy

// Action is the reconciler's verdict for a single key, derived from
// comparing the target and current state. Every key in a run's target
// set carries exactly one action.
type Action string

const (
	// ActionCreate means the key exists only in the target state.
	ActionCreate Action = "Create"

	// ActionUpdate means the key exists in both states and a local
	// field (variables, module hash or dependencies) differs.
	ActionUpdate Action = "Update"

	// ActionConditionalUpdate means the key is locally unchanged but
	// carries VariablesFromOutputs references whose upstream values
	// must be checked at dispatch time before deciding to act.
	ActionConditionalUpdate Action = "ConditionalUpdate"

	// ActionDestroy means the key exists only in the current state.
	ActionDestroy Action = "Destroy"

	// ActionNoChange means the key is unchanged and carries no output
	// references to re-check.
	ActionNoChange Action = "NoChange"
)

// IsMutating reports whether the action, if executed, invokes the engine
// and may change remote state. ConditionalUpdate is excluded: whether it
// mutates anything is only known once upstream outputs are resolved.
func (a Action) IsMutating() bool {
	switch a {
	case ActionCreate, ActionUpdate:
		return true
	case ActionDestroy:
		return true
	default:
		return false
	}
}

// IsPending reports whether the action represents a change not yet
// known to have been applied, for list/preview reporting.
func (a Action) IsPending() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionConditionalUpdate, ActionDestroy:
		return true
	default:
		return false
	}
}
