package deploy

import "testing"

func TestStep_ReadyForDependents_Completed(t *testing.T) {
	s := &Step{State: StepCompleted}
	if !s.ReadyForDependents() {
		t.Errorf("expected a completed step to satisfy dependents")
	}
}

func TestStep_ReadyForDependents_SkippedNoChange(t *testing.T) {
	s := &Step{State: StepSkipped, SkipCause: SkipNoChange}
	if !s.ReadyForDependents() {
		t.Errorf("expected a no-change skipped step to satisfy dependents")
	}
}

func TestStep_ReadyForDependents_SkippedUpstreamFailed(t *testing.T) {
	s := &Step{State: StepSkipped, SkipCause: SkipUpstreamFailed}
	if s.ReadyForDependents() {
		t.Errorf("expected an upstream-failed skip to not satisfy dependents")
	}
}

func TestStep_ReadyForDependents_Running(t *testing.T) {
	s := &Step{State: StepRunning}
	if s.ReadyForDependents() {
		t.Errorf("expected a running step to not satisfy dependents")
	}
}

func TestStep_Terminal(t *testing.T) {
	cases := []struct {
		state StepState
		want  bool
	}{
		{StepWaiting, false},
		{StepReady, false},
		{StepRunning, false},
		{StepCompleted, true},
		{StepFailed, true},
		{StepSkipped, true},
	}
	for _, tc := range cases {
		s := &Step{State: tc.state}
		if got := s.Terminal(); got != tc.want {
			t.Errorf("Terminal() for state %s = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestAction_IsPending(t *testing.T) {
	cases := []struct {
		action Action
		want   bool
	}{
		{ActionCreate, true},
		{ActionUpdate, true},
		{ActionConditionalUpdate, true},
		{ActionDestroy, true},
		{ActionNoChange, false},
	}
	for _, tc := range cases {
		if got := tc.action.IsPending(); got != tc.want {
			t.Errorf("IsPending() for %s = %v, want %v", tc.action, got, tc.want)
		}
	}
}

func TestAction_IsMutating_ConditionalUpdateIsUnknownUntilDispatch(t *testing.T) {
	if ActionConditionalUpdate.IsMutating() {
		t.Errorf("expected ConditionalUpdate to not be reported as unconditionally mutating")
	}
}
