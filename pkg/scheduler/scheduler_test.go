package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/graph"
)

type fakeExecutor struct {
	mu                sync.Mutex
	fail              map[deploy.Key]bool
	changed           map[deploy.Key]bool
	calls             map[deploy.Key]int
	conditionalChecks map[deploy.Key]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		fail:              map[deploy.Key]bool{},
		changed:           map[deploy.Key]bool{},
		calls:             map[deploy.Key]int{},
		conditionalChecks: map[deploy.Key]int{},
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, step *deploy.Step, mode Mode, level CancelLevel) (*deploy.StepOutcome, error) {
	f.mu.Lock()
	f.calls[step.Key]++
	fail := f.fail[step.Key]
	f.mu.Unlock()

	if fail {
		return nil, deploy.NewEngineFailure("simulated failure", nil)
	}
	return &deploy.StepOutcome{MadeChanges: true, ResultedInChanges: true}, nil
}

func (f *fakeExecutor) CheckConditionalUpdate(ctx context.Context, step *deploy.Step) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conditionalChecks[step.Key]++
	return f.changed[step.Key], nil
}

type fakeCurrentState map[deploy.Key]bool

func (f fakeCurrentState) Exists(k deploy.Key) bool { return f[k] }

func singleStepGraph(k deploy.Key, action deploy.Action) *graph.Graph {
	steps := map[deploy.Key]*deploy.Step{k: {Key: k, Action: action, State: deploy.StepWaiting}}
	g, _ := graph.Build(steps, map[deploy.Key][]deploy.DependencyRef{}, fakeCurrentState{})
	return g
}

func TestScheduler_Run_SingleStepCompletes(t *testing.T) {
	k := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	g := singleStepGraph(k, deploy.ActionCreate)
	exec := newFakeExecutor()

	s := New(Config{ConcurrentWorkers: 2}, exec, nil, zerolog.Nop())
	summary, err := s.Run(context.Background(), g, map[deploy.Key]deploy.RetryPolicy{}, ModeApply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Steps[k].State != deploy.StepCompleted {
		t.Errorf("expected step to complete, got state %s", summary.Steps[k].State)
	}
}

func TestScheduler_Run_DependencyOrdering(t *testing.T) {
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}

	steps := map[deploy.Key]*deploy.Step{
		network: {Key: network, Action: deploy.ActionCreate, State: deploy.StepWaiting},
		compute: {Key: compute, Action: deploy.ActionCreate, State: deploy.StepWaiting},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1"}},
	}
	g, err := graph.Build(steps, refs, fakeCurrentState{})
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}

	exec := newFakeExecutor()
	s := New(Config{ConcurrentWorkers: 2}, exec, nil, zerolog.Nop())
	summary, err := s.Run(context.Background(), g, map[deploy.Key]deploy.RetryPolicy{}, ModeApply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Steps[network].State != deploy.StepCompleted || summary.Steps[compute].State != deploy.StepCompleted {
		t.Fatalf("expected both steps to complete, got network=%s compute=%s",
			summary.Steps[network].State, summary.Steps[compute].State)
	}
	if !summary.Steps[network].CompletedAt.Before(summary.Steps[compute].CompletedAt) &&
		summary.Steps[network].CompletedAt != summary.Steps[compute].CompletedAt {
		t.Errorf("expected network to complete no later than compute")
	}
}

func TestScheduler_Run_FailurePropagatesToDownstream(t *testing.T) {
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}

	steps := map[deploy.Key]*deploy.Step{
		network: {Key: network, Action: deploy.ActionCreate, State: deploy.StepWaiting},
		compute: {Key: compute, Action: deploy.ActionCreate, State: deploy.StepWaiting},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1"}},
	}
	g, err := graph.Build(steps, refs, fakeCurrentState{})
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}

	exec := newFakeExecutor()
	exec.fail[network] = true

	s := New(Config{ConcurrentWorkers: 2}, exec, nil, zerolog.Nop())
	summary, err := s.Run(context.Background(), g, map[deploy.Key]deploy.RetryPolicy{network: {MaxAttempts: 1}}, ModeApply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Steps[network].State != deploy.StepFailed {
		t.Errorf("expected network to fail, got %s", summary.Steps[network].State)
	}
	if summary.Steps[compute].State != deploy.StepSkipped || summary.Steps[compute].SkipCause != deploy.SkipUpstreamFailed {
		t.Errorf("expected compute to be skipped with UpstreamFailed, got state=%s cause=%s",
			summary.Steps[compute].State, summary.Steps[compute].SkipCause)
	}
}

func TestScheduler_Run_ConditionalUpdateShortCircuitsToNoChange(t *testing.T) {
	k := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	g := singleStepGraph(k, deploy.ActionConditionalUpdate)
	exec := newFakeExecutor()
	exec.changed[k] = false

	s := New(Config{ConcurrentWorkers: 1}, exec, nil, zerolog.Nop())
	summary, err := s.Run(context.Background(), g, map[deploy.Key]deploy.RetryPolicy{}, ModeApply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := summary.Steps[k]
	if step.State != deploy.StepSkipped || step.SkipCause != deploy.SkipNoChange {
		t.Fatalf("expected ConditionalUpdate with no upstream change to skip as NoChange, got state=%s cause=%s", step.State, step.SkipCause)
	}
	if step.Result == nil || step.Result.ResultedInChanges {
		t.Errorf("expected ResultedInChanges=false to be recorded")
	}
	if exec.calls[k] != 0 {
		t.Errorf("expected the engine to not be invoked for a short-circuited ConditionalUpdate")
	}
}

func TestScheduler_Run_ConditionalUpdateExecutesWhenUpstreamChanged(t *testing.T) {
	k := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	g := singleStepGraph(k, deploy.ActionConditionalUpdate)
	exec := newFakeExecutor()
	exec.changed[k] = true

	s := New(Config{ConcurrentWorkers: 1}, exec, nil, zerolog.Nop())
	summary, err := s.Run(context.Background(), g, map[deploy.Key]deploy.RetryPolicy{}, ModeApply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Steps[k].State != deploy.StepCompleted {
		t.Errorf("expected ConditionalUpdate with an upstream change to execute and complete, got %s", summary.Steps[k].State)
	}
	if exec.calls[k] != 1 {
		t.Errorf("expected exactly one engine invocation, got %d", exec.calls[k])
	}
}

func TestScheduler_Run_PreviewBlockedByPendingUpstream(t *testing.T) {
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}

	steps := map[deploy.Key]*deploy.Step{
		network: {Key: network, Action: deploy.ActionCreate, State: deploy.StepWaiting},
		compute: {Key: compute, Action: deploy.ActionCreate, State: deploy.StepWaiting},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1"}},
	}
	g, err := graph.Build(steps, refs, fakeCurrentState{})
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}

	exec := newFakeExecutor()
	s := New(Config{ConcurrentWorkers: 2}, exec, nil, zerolog.Nop())
	summary, err := s.Run(context.Background(), g, map[deploy.Key]deploy.RetryPolicy{}, ModePreview)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Steps[compute].State != deploy.StepFailed {
		t.Fatalf("expected compute preview to fail as blocked, got %s", summary.Steps[compute].State)
	}
	if !deploy.IsCode(summary.Steps[compute].Err, deploy.CodePreviewBlockedByPendingUpstream) {
		t.Errorf("expected PreviewBlockedByPendingUpstream, got %v", summary.Steps[compute].Err)
	}
}

func TestScheduler_Cancel_StopDispatchHaltsNewWork(t *testing.T) {
	k := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	g := singleStepGraph(k, deploy.ActionCreate)
	exec := newFakeExecutor()

	s := New(Config{ConcurrentWorkers: 1}, exec, nil, zerolog.Nop())
	s.Cancel(CancelStopDispatch)

	summary, err := s.Run(context.Background(), g, map[deploy.Key]deploy.RetryPolicy{}, ModeApply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Steps[k].Pending {
		t.Errorf("expected the undispatched step to be marked Pending")
	}
	if exec.calls[k] != 0 {
		t.Errorf("expected CancelStopDispatch set before Run to prevent dispatch entirely")
	}
}

func TestScheduler_Run_ModeListNeverInvokesTheEngine(t *testing.T) {
	create := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	conditional := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}

	steps := map[deploy.Key]*deploy.Step{
		create:      {Key: create, Action: deploy.ActionCreate, State: deploy.StepWaiting},
		conditional: {Key: conditional, Action: deploy.ActionConditionalUpdate, State: deploy.StepWaiting},
	}
	g, err := graph.Build(steps, map[deploy.Key][]deploy.DependencyRef{}, fakeCurrentState{})
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}

	exec := newFakeExecutor()
	s := New(Config{ConcurrentWorkers: 2}, exec, nil, zerolog.Nop())
	summary, err := s.Run(context.Background(), g, map[deploy.Key]deploy.RetryPolicy{}, ModeList)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exec.calls[create] != 0 || exec.calls[conditional] != 0 {
		t.Errorf("expected ModeList to never call Execute, got calls=%d/%d", exec.calls[create], exec.calls[conditional])
	}
	if exec.conditionalChecks[conditional] != 0 {
		t.Errorf("expected ModeList to never call CheckConditionalUpdate")
	}
	if summary.Steps[conditional].State == deploy.StepSkipped {
		t.Errorf("expected an unresolved ConditionalUpdate to not be reported as Skipped(NoChange) in list mode")
	}
}
