package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/dispatcher"
	"github.com/meridian-iac/deployer/pkg/inventory"
	"github.com/meridian-iac/deployer/pkg/pkgdef"
	"github.com/meridian-iac/deployer/pkg/scheduler"
	"github.com/meridian-iac/deployer/pkg/scope"
	"github.com/meridian-iac/deployer/pkg/state"
)

func scopeTargetWithOutputRef(k, depKey deploy.Key, outputName string) scope.Target {
	return scope.Target{
		Key: k,
		VariablesFromOutputs: map[string]deploy.OutputRef{
			"vpc_id": {
				DependencyRef: deploy.DependencyRef{Module: depKey.Module, AccountID: depKey.AccountID, Region: depKey.Region},
				OutputName:    outputName,
			},
		},
	}
}

type fakeSource struct {
	snap *inventory.Snapshot
}

func (f *fakeSource) Fetch(ctx context.Context) (*inventory.Snapshot, error) {
	return f.snap, nil
}

type memObjectStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{data: map[string][]byte{}}
}

func (m *memObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, state.ErrNotExist
	}
	return v, nil
}

func (m *memObjectStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

// stubEngine always reports success and echoes back a fixed output.
type stubEngine struct{}

func (stubEngine) ValidateModuleConfig(cfg deploy.ModuleConfig) error { return nil }

func (stubEngine) Prepare(ctx context.Context, k deploy.Key, command string, action deploy.Action,
	resolvedVariables map[string]interface{}, cfg deploy.ModuleConfig,
	deploymentCacheDir, engineCacheDir string) ([]dispatcher.Command, error) {
	return nil, nil
}

func (stubEngine) Postprocess(ctx context.Context, k deploy.Key, command string, action deploy.Action,
	cfg deploy.ModuleConfig, deploymentCacheDir string) (*deploy.StepOutcome, error) {
	return &deploy.StepOutcome{
		MadeChanges:        true,
		ResultedInChanges:  true,
		ResultSummary:      "stub applied",
		Outputs:            map[string]interface{}{"vpc_id": "vpc-123"},
	}, nil
}

func testSnapshot() *inventory.Snapshot {
	return &inventory.Snapshot{
		Accounts: []inventory.Account{
			{ID: "111111111111", Name: "prod-network", Active: true, EnabledRegions: []string{"us-east-1"}},
		},
		GeneratedAt: time.Now(),
	}
}

func baseDoc() *pkgdef.Document {
	return &pkgdef.Document{
		PackageConfiguration: pkgdef.PackageConfiguration{
			ObjectStoreLocation:      "mem://state",
			InventoryCacheTTLSeconds: 60,
			ConcurrentWorkers:        4,
		},
		Modules: []pkgdef.Module{
			{
				Name: "stub.network",
				Blocks: []pkgdef.Block{
					{
						Include: pkgdef.Predicate{AccountIDs: []string{"111111111111"}},
					},
				},
			},
		},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *dispatcher.Registry) {
	t.Helper()
	registry := dispatcher.NewRegistry()
	registry.Register("stub", stubEngine{})

	o := New(Config{
		InventorySource: &fakeSource{snap: testSnapshot()},
		Store:           state.New(newMemObjectStore()),
		Registry:        registry,
		CacheRoot:       t.TempDir(),
	}, zerolog.Nop())
	return o, registry
}

func TestOrchestrator_Run_CreatesNewDeployment(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	doc := baseDoc()

	result, err := o.Run(context.Background(), doc, RunOptions{Mode: scheduler.ModeApply, Operation: "apply"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	k := deploy.Key{Module: "stub.network", AccountID: "111111111111", Region: "us-east-1"}
	step, ok := result.Steps[k]
	if !ok {
		t.Fatalf("expected a step for %s", k)
	}
	if step.Action != deploy.ActionCreate {
		t.Errorf("expected Create action on first run, got %s", step.Action)
	}
	if step.State != deploy.StepCompleted {
		t.Errorf("expected step to complete, got %s (err=%v)", step.State, step.Err)
	}
}

func TestOrchestrator_Run_SecondRunIsNoChange(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	doc := baseDoc()
	ctx := context.Background()

	if _, err := o.Run(ctx, doc, RunOptions{Mode: scheduler.ModeApply, Operation: "apply"}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	result, err := o.Run(ctx, doc, RunOptions{Mode: scheduler.ModeApply, Operation: "apply"})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	k := deploy.Key{Module: "stub.network", AccountID: "111111111111", Region: "us-east-1"}
	step, ok := result.Steps[k]
	if !ok {
		t.Fatalf("expected a step for %s", k)
	}
	if step.Action != deploy.ActionNoChange {
		t.Errorf("expected NoChange on unmodified second run, got %s", step.Action)
	}
	if step.State != deploy.StepCompleted {
		t.Errorf("expected NoChange step pre-marked Completed, got %s", step.State)
	}
}

func TestOrchestrator_Run_DestroysDroppedDeployment(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Run(ctx, baseDoc(), RunOptions{Mode: scheduler.ModeApply, Operation: "apply"}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	emptyDoc := baseDoc()
	emptyDoc.Modules = nil

	result, err := o.Run(ctx, emptyDoc, RunOptions{Mode: scheduler.ModeApply, Operation: "apply"})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	k := deploy.Key{Module: "stub.network", AccountID: "111111111111", Region: "us-east-1"}
	step, ok := result.Steps[k]
	if !ok {
		t.Fatalf("expected a destroy step for %s", k)
	}
	if step.Action != deploy.ActionDestroy {
		t.Errorf("expected Destroy action once the module is dropped, got %s", step.Action)
	}
	if step.State != deploy.StepCompleted {
		t.Errorf("expected destroy step to complete, got %s (err=%v)", step.State, step.Err)
	}
}

func TestBuildModuleConfig_FallsBackToEngineDefault(t *testing.T) {
	doc := &pkgdef.Document{
		DefaultModuleConfiguration: map[string]json.RawMessage{
			"stub": json.RawMessage(`{"max_attempts": 3, "delay_before_retrying": "2s"}`),
		},
	}
	mod := pkgdef.Module{Name: "stub.network"}

	cfg, err := buildModuleConfig(doc, mod, "stub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.DelayBeforeRetrying != 2*time.Second {
		t.Errorf("expected 2s delay, got %v", cfg.Retry.DelayBeforeRetrying)
	}
}

func TestEngineNameFor(t *testing.T) {
	cases := map[string]string{
		"script.rotate-keys": "script",
		"terraform.vpc":      "terraform",
		"noengine":           "noengine",
	}
	for in, want := range cases {
		if got := engineNameFor(in); got != want {
			t.Errorf("engineNameFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolver_CheckConditionalUpdate_DetectsOutputChange(t *testing.T) {
	r := newResolver()
	depKey := deploy.Key{Module: "stub.base", AccountID: "111111111111", Region: "us-east-1"}
	thisKey := deploy.Key{Module: "stub.network", AccountID: "111111111111", Region: "us-east-1"}

	r.baseline[depKey] = map[string]interface{}{"vpc_id": "vpc-old"}
	r.targets[thisKey] = scopeTargetWithOutputRef(thisKey, depKey, "vpc_id")

	changed, err := r.CheckConditionalUpdate(context.Background(), &deploy.Step{Key: thisKey})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("expected no change when baseline equals current")
	}

	r.steps = map[deploy.Key]*deploy.Step{
		depKey: {
			Key:    depKey,
			State:  deploy.StepCompleted,
			Result: &deploy.StepOutcome{Outputs: map[string]interface{}{"vpc_id": "vpc-new"}},
		},
	}

	changed, err = r.CheckConditionalUpdate(context.Background(), &deploy.Step{Key: thisKey})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("expected change to be detected once the dependency's output differs from baseline")
	}
}
