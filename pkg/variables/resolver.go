// Package variables implements the Variable Resolver: the layered
// precedence merge of defaults, module and block-level variables, and
// VariablesFromOutputs resolution against upstream state.
package variables

import "github.com/meridian-iac/deployer/pkg/deploy"

// Layers holds the four precedence layers, innermost (highest
// priority) last: defaults-all, defaults-engine, module-level,
// block-level.
type Layers struct {
	DefaultsAll    map[string]interface{}
	DefaultsEngine map[string]interface{}
	Module         map[string]interface{}
	Block          map[string]interface{}
}

// Merge flattens the four layers into a single map, each layer
// overwriting the previous for shared keys.
func Merge(l Layers) map[string]interface{} {
	out := map[string]interface{}{}
	for _, layer := range []map[string]interface{}{l.DefaultsAll, l.DefaultsEngine, l.Module, l.Block} {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// OutputLookup resolves the current value of a single named output for
// a dependency key. Out of scope: the concrete backing (in-memory
// run state, or the persisted state store for a not-yet-touched
// upstream) is supplied by the caller.
type OutputLookup func(k deploy.Key, outputName string) (value interface{}, found bool)

// ResolveOutputs overrides entries in merged with the values resolved
// from refs via lookup. If a reference cannot be resolved:
//   - IgnoreIfNotExists set: the variable keeps whatever value the
//     layered merge already produced (it is not set to nil).
//   - otherwise: returns a deploy.RunError with code
//     UpstreamOutputMissing.
func ResolveOutputs(merged map[string]interface{}, refs map[string]deploy.OutputRef, lookup OutputLookup) (map[string]interface{}, error) {
	for name, ref := range refs {
		value, found := lookup(ref.Key(), ref.OutputName)
		if !found {
			if ref.IgnoreIfNotExists {
				continue
			}
			return nil, deploy.NewUpstreamOutputMissingError(
				"output " + ref.OutputName + " not found on " + ref.Key().String(),
			).WithKey(ref.Key())
		}
		merged[name] = value
	}
	return merged, nil
}
