// Package graph implements the Graph Builder: it turns the Reconciler's
// steps into a dependency DAG, validates the edge rules of the
// component design (unmet dependencies, destroy-ordering conflicts),
// detects cycles, and produces a deterministic topological order for
// reproducibility.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

// Edge is a directed dependency edge: From must complete before To may
// start.
type Edge struct {
	From deploy.Key
	To   deploy.Key
}

// Graph is the built dependency graph: one node per step plus the
// edges among them, and the deterministic topological order.
type Graph struct {
	Steps map[deploy.Key]*deploy.Step
	Edges []Edge

	// adjacency maps a key to the set of keys that depend on it
	// (outgoing edges in the From->To sense above).
	adjacency map[deploy.Key][]deploy.Key
	// indegree counts unresolved predecessors per key.
	indegree map[deploy.Key]int

	Order []deploy.Key
}

// CurrentStateIndex answers "does this key currently exist", used by
// the edge-validation rules below for keys that have no step in this
// run.
type CurrentStateIndex interface {
	Exists(k deploy.Key) bool
}

// Build constructs the graph from a set of steps (each already
// annotated with its action by the Reconciler) plus the dependency
// and variables-from-outputs references each step carries.
//
// refs maps a step's key to every key it depends on in this run,
// merging Dependencies and VariablesFromOutputs references as the
// component design requires ("VariablesFromOutputs induces edges
// identically to Dependencies"). For a Destroy step the direction is
// reversed: refs lists the keys that depend on it, and each of those is
// destroyed before it.
func Build(steps map[deploy.Key]*deploy.Step, refs map[deploy.Key][]deploy.DependencyRef, current CurrentStateIndex) (*Graph, error) {
	g := &Graph{
		Steps:     steps,
		adjacency: map[deploy.Key][]deploy.Key{},
		indegree:  map[deploy.Key]int{},
	}
	for k := range steps {
		g.indegree[k] = 0
	}

	for k, step := range steps {
		for _, ref := range refs[k] {
			dep := ref.Key()
			depStep, depInRun := steps[dep]

			switch step.Action {
			case deploy.ActionCreate, deploy.ActionUpdate, deploy.ActionConditionalUpdate:
				if !depInRun {
					if !current.Exists(dep) {
						if ref.IgnoreIfNotExists {
							continue
						}
						return nil, deploy.NewUnmetDependencyMissingError(
							fmt.Sprintf("%s depends on %s, which has no current state and no step in this run", k, dep),
						).WithKey(k)
					}
					// D already exists and is untouched this run: no edge needed.
					continue
				}
				if depStep.Action == deploy.ActionDestroy {
					return nil, deploy.NewDependencyScheduledForDestroyError(
						fmt.Sprintf("%s depends on %s, which is scheduled for destroy in this run", k, dep),
					).WithKey(k)
				}
				g.addEdge(dep, k)

			case deploy.ActionDestroy:
				// Reverse direction: a downstream consumer D of this
				// destroyed key must itself be absent or destroyed.
				if depInRun {
					if depStep.Action != deploy.ActionDestroy {
						return nil, deploy.NewDependentRemainsAfterDestroyError(
							fmt.Sprintf("%s is being destroyed but %s (which depends on it) is not", k, dep),
						).WithKey(k)
					}
					g.addEdge(dep, k)
				} else if current.Exists(dep) {
					return nil, deploy.NewDependentRemainsAfterDestroyError(
						fmt.Sprintf("%s is being destroyed but %s (which depends on it) remains in current state", k, dep),
					).WithKey(k)
				}
			}
		}
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}
	g.Order = g.topologicalOrder()
	return g, nil
}

func (g *Graph) addEdge(from, to deploy.Key) {
	for _, existing := range g.adjacency[from] {
		if existing == to {
			return
		}
	}
	g.adjacency[from] = append(g.adjacency[from], to)
	g.Edges = append(g.Edges, Edge{From: from, To: to})
	g.indegree[to]++
}

// Predecessors returns the keys that must complete before k may run.
func (g *Graph) Predecessors(k deploy.Key) []deploy.Key {
	var preds []deploy.Key
	for from, tos := range g.adjacency {
		for _, to := range tos {
			if to == k {
				preds = append(preds, from)
			}
		}
	}
	sort.Slice(preds, func(i, j int) bool { return keyLess(preds[i], preds[j]) })
	return preds
}

// Successors returns the keys that depend directly on k.
func (g *Graph) Successors(k deploy.Key) []deploy.Key {
	out := append([]deploy.Key(nil), g.adjacency[k]...)
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i], out[j]) })
	return out
}

// detectCycle runs DFS-based cycle detection over the adjacency list.
func (g *Graph) detectCycle() error {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := map[deploy.Key]int{}

	var keys []deploy.Key
	for k := range g.Steps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	var visit func(k deploy.Key) error
	visit = func(k deploy.Key) error {
		state[k] = visiting
		next := append([]deploy.Key(nil), g.adjacency[k]...)
		sort.Slice(next, func(i, j int) bool { return keyLess(next[i], next[j]) })
		for _, n := range next {
			switch state[n] {
			case visiting:
				return deploy.NewCircularDependencyError()
			case unvisited:
				if err := visit(n); err != nil {
					return err
				}
			}
		}
		state[k] = visited
		return nil
	}

	for _, k := range keys {
		if state[k] == unvisited {
			if err := visit(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// topologicalOrder computes a deterministic order via Kahn's algorithm,
// breaking ties lexicographically by key string. It is produced purely
// for reproducibility; the scheduler uses the Ready predicate, not
// this order, to dispatch work.
func (g *Graph) topologicalOrder() []deploy.Key {
	indegree := make(map[deploy.Key]int, len(g.indegree))
	for k, v := range g.indegree {
		indegree[k] = v
	}

	var ready []deploy.Key
	for k, d := range indegree {
		if d == 0 {
			ready = append(ready, k)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return keyLess(ready[i], ready[j]) })

	var order []deploy.Key
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []deploy.Key
		successors := append([]deploy.Key(nil), g.adjacency[next]...)
		sort.Slice(successors, func(i, j int) bool { return keyLess(successors[i], successors[j]) })
		for _, s := range successors {
			indegree[s]--
			if indegree[s] == 0 {
				newlyReady = append(newlyReady, s)
			}
		}
		ready = append(ready, newlyReady...)
		sort.Slice(ready, func(i, j int) bool { return keyLess(ready[i], ready[j]) })
	}
	return order
}

func keyLess(a, b deploy.Key) bool {
	return a.String() < b.String()
}

// ToDOT renders the graph in Graphviz DOT format for --dot export,
// labeling each node with its action.
func (g *Graph) ToDOT() string {
	var b strings.Builder
	b.WriteString("digraph deployment {\n")
	var keys []deploy.Key
	for k := range g.Steps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	for _, k := range keys {
		step := g.Steps[k]
		fmt.Fprintf(&b, "  %q [label=%q];\n", k.String(), fmt.Sprintf("%s\\n%s", k, step.Action))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", e.From.String(), e.To.String())
	}
	b.WriteString("}\n")
	return b.String()
}
