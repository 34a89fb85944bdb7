package deploy

import "time"

// StepState is the runtime state of a scheduler node. A step moves
// strictly forward through Waiting -> Ready -> Running -> a terminal
// state, with Pending recorded as a subflag rather than a state of its
// own when a run is interrupted mid-flight.
type StepState string

const (
	StepWaiting   StepState = "Waiting"
	StepReady     StepState = "Ready"
	StepRunning   StepState = "Running"
	StepCompleted StepState = "Completed"
	StepFailed    StepState = "Failed"
	StepSkipped   StepState = "Skipped"
)

// SkipCause records why a step was skipped, when State is StepSkipped.
type SkipCause string

const (
	// SkipUpstreamFailed marks a step skipped because a predecessor
	// failed and the failure was propagated transitively.
	SkipUpstreamFailed SkipCause = "UpstreamFailed"

	// SkipNoChange marks a ConditionalUpdate step that resolved to no
	// local or upstream change and was finalized without invoking the
	// engine.
	SkipNoChange SkipCause = "NoChange"
)

// Step is one node in the scheduler's dependency graph: a single key
// with a pending action, its current lifecycle state, and its
// execution bookkeeping.
type Step struct {
	Key    Key
	Action Action

	State     StepState
	SkipCause SkipCause

	// Pending is set when the run is interrupted while this step is
	// Waiting, Ready or Running; it is recorded alongside whatever
	// terminal state (if any) the step reached before the abort.
	Pending bool

	// NbAttempts counts execution attempts, including the first.
	NbAttempts int

	// Result holds the engine's outcome once the step reaches a
	// terminal state.
	Result *StepOutcome

	// Err is the error that caused a Failed terminal state, if any.
	Err error

	StartedAt   time.Time
	CompletedAt time.Time
}

// StepOutcome is what postprocess() reports back for a finished step.
type StepOutcome struct {
	MadeChanges      bool                       `json:"made_changes"`
	ResultSummary    string                     `json:"result_summary,omitempty"`
	DetailedResults  string                     `json:"detailed_results,omitempty"`
	Outputs          map[string]interface{}     `json:"outputs,omitempty"`

	// ResultedInChanges mirrors MadeChanges for executed steps; for a
	// ConditionalUpdate step that short-circuited to NoChange without
	// invoking the engine, it is explicitly recorded false.
	ResultedInChanges bool `json:"resulted_in_changes"`
}

// Terminal reports whether the step has reached one of its three
// terminal states.
func (s *Step) Terminal() bool {
	switch s.State {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// ReadyForDependents reports whether a successor may consider this step
// satisfied for its Ready predicate: either it completed normally, or it
// was skipped specifically because it resolved to no change.
func (s *Step) ReadyForDependents() bool {
	if s.State == StepCompleted {
		return true
	}
	return s.State == StepSkipped && s.SkipCause == SkipNoChange
}
