package graph

import (
	"testing"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

type fakeCurrentState map[deploy.Key]bool

func (f fakeCurrentState) Exists(k deploy.Key) bool { return f[k] }

func TestBuild_EmptySteps(t *testing.T) {
	g, err := Build(map[deploy.Key]*deploy.Step{}, map[deploy.Key][]deploy.DependencyRef{}, fakeCurrentState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Edges) != 0 || len(g.Order) != 0 {
		t.Errorf("expected empty graph, got %d edges, %d order entries", len(g.Edges), len(g.Order))
	}
}

func TestBuild_CreateDependsOnCreateAddsEdge(t *testing.T) {
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}

	steps := map[deploy.Key]*deploy.Step{
		network: {Key: network, Action: deploy.ActionCreate},
		compute: {Key: compute, Action: deploy.ActionCreate},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1"}},
	}

	g, err := Build(steps, refs, fakeCurrentState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Edges) != 1 || g.Edges[0].From != network || g.Edges[0].To != compute {
		t.Fatalf("expected one edge network->compute, got %+v", g.Edges)
	}

	order := g.Order
	if len(order) != 2 || order[0] != network || order[1] != compute {
		t.Errorf("expected topological order [network, compute], got %v", order)
	}
}

func TestBuild_UnmetDependencyMissingFatal(t *testing.T) {
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	steps := map[deploy.Key]*deploy.Step{
		compute: {Key: compute, Action: deploy.ActionCreate},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1"}},
	}

	_, err := Build(steps, refs, fakeCurrentState{})
	if !deploy.IsCode(err, deploy.CodeUnmetDependencyMissing) {
		t.Errorf("expected UnmetDependencyMissing, got %v", err)
	}
}

func TestBuild_UnmetDependencyMissingIgnored(t *testing.T) {
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	steps := map[deploy.Key]*deploy.Step{
		compute: {Key: compute, Action: deploy.ActionCreate},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1", IgnoreIfNotExists: true}},
	}

	_, err := Build(steps, refs, fakeCurrentState{})
	if err != nil {
		t.Fatalf("expected IgnoreIfNotExists to suppress the error, got %v", err)
	}
}

func TestBuild_DependencyOnKeyAlreadyInCurrentStateNeedsNoEdge(t *testing.T) {
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	steps := map[deploy.Key]*deploy.Step{
		compute: {Key: compute, Action: deploy.ActionCreate},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1"}},
	}

	g, err := Build(steps, refs, fakeCurrentState{network: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Edges) != 0 {
		t.Errorf("expected no edge for a dependency already satisfied in current state, got %+v", g.Edges)
	}
}

func TestBuild_DependencyScheduledForDestroyFatal(t *testing.T) {
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	steps := map[deploy.Key]*deploy.Step{
		compute: {Key: compute, Action: deploy.ActionUpdate},
		network: {Key: network, Action: deploy.ActionDestroy},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1"}},
	}

	_, err := Build(steps, refs, fakeCurrentState{network: true})
	if !deploy.IsCode(err, deploy.CodeDependencyScheduledForDestroy) {
		t.Errorf("expected DependencyScheduledForDestroy, got %v", err)
	}
}

func TestBuild_DependentRemainsAfterDestroyFatal(t *testing.T) {
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	steps := map[deploy.Key]*deploy.Step{
		network: {Key: network, Action: deploy.ActionDestroy},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		network: {{Module: "compute", AccountID: "111", Region: "us-east-1"}},
	}

	_, err := Build(steps, refs, fakeCurrentState{compute: true})
	if !deploy.IsCode(err, deploy.CodeDependentRemainsAfterDestroy) {
		t.Errorf("expected DependentRemainsAfterDestroy, got %v", err)
	}
}

func TestBuild_BothDestroyedOrdersReverse(t *testing.T) {
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	steps := map[deploy.Key]*deploy.Step{
		network: {Key: network, Action: deploy.ActionDestroy},
		compute: {Key: compute, Action: deploy.ActionDestroy},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		network: {{Module: "compute", AccountID: "111", Region: "us-east-1"}},
	}

	g, err := Build(steps, refs, fakeCurrentState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Edges) != 1 || g.Edges[0].From != compute || g.Edges[0].To != network {
		t.Fatalf("expected destroy order compute->network (dependent destroyed first), got %+v", g.Edges)
	}
}

func TestBuild_CycleDetected(t *testing.T) {
	a := deploy.Key{Module: "a", AccountID: "111", Region: "us-east-1"}
	b := deploy.Key{Module: "b", AccountID: "111", Region: "us-east-1"}
	steps := map[deploy.Key]*deploy.Step{
		a: {Key: a, Action: deploy.ActionCreate},
		b: {Key: b, Action: deploy.ActionCreate},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		a: {{Module: "b", AccountID: "111", Region: "us-east-1"}},
		b: {{Module: "a", AccountID: "111", Region: "us-east-1"}},
	}

	_, err := Build(steps, refs, fakeCurrentState{})
	if !deploy.IsCode(err, deploy.CodeCircularDependency) {
		t.Errorf("expected CircularDependency, got %v", err)
	}
}

func TestGraph_ToDOT_ContainsNodesAndEdges(t *testing.T) {
	network := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	compute := deploy.Key{Module: "compute", AccountID: "111", Region: "us-east-1"}
	steps := map[deploy.Key]*deploy.Step{
		network: {Key: network, Action: deploy.ActionCreate},
		compute: {Key: compute, Action: deploy.ActionCreate},
	}
	refs := map[deploy.Key][]deploy.DependencyRef{
		compute: {{Module: "network", AccountID: "111", Region: "us-east-1"}},
	}

	g, err := Build(steps, refs, fakeCurrentState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dot := g.ToDOT()
	if len(dot) == 0 {
		t.Fatalf("expected non-empty DOT output")
	}
}
