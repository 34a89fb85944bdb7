package deploy

import (
	"encoding/json"
	"time"
)

// Record is the persisted unit D(K): everything needed to reconcile and
// execute a single deployment key.
type Record struct {
	Variables            map[string]interface{}     `json:"variables,omitempty"`
	VariablesFromOutputs map[string]OutputRef        `json:"variables_from_outputs,omitempty"`
	Dependencies         []DependencyRef             `json:"dependencies,omitempty"`
	ModuleHash           string                      `json:"module_hash,omitempty"`
	Outputs              map[string]json.RawMessage  `json:"outputs,omitempty"`
	LastChangedTime      time.Time                   `json:"last_changed_time,omitempty"`
}

// Clone returns a deep-enough copy of the record for safe mutation by
// callers that must not observe partial writes (invariant I6).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := &Record{
		ModuleHash:      r.ModuleHash,
		LastChangedTime: r.LastChangedTime,
	}
	if r.Variables != nil {
		clone.Variables = make(map[string]interface{}, len(r.Variables))
		for k, v := range r.Variables {
			clone.Variables[k] = v
		}
	}
	if r.VariablesFromOutputs != nil {
		clone.VariablesFromOutputs = make(map[string]OutputRef, len(r.VariablesFromOutputs))
		for k, v := range r.VariablesFromOutputs {
			clone.VariablesFromOutputs[k] = v
		}
	}
	if r.Dependencies != nil {
		clone.Dependencies = append([]DependencyRef(nil), r.Dependencies...)
	}
	if r.Outputs != nil {
		clone.Outputs = make(map[string]json.RawMessage, len(r.Outputs))
		for k, v := range r.Outputs {
			clone.Outputs[k] = v
		}
	}
	return clone
}

// Equal reports whether two records are structurally equal on the fields the
// reconciler compares: variables, module hash, dependencies (as a set) and
// variables-from-outputs specifications. Outputs and LastChangedTime are
// runtime bookkeeping and are intentionally excluded.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.ModuleHash != other.ModuleHash {
		return false
	}
	if !jsonEqual(r.Variables, other.Variables) {
		return false
	}
	if !jsonEqual(r.VariablesFromOutputs, other.VariablesFromOutputs) {
		return false
	}
	return dependencySetEqual(r.Dependencies, other.Dependencies)
}

func jsonEqual(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var na, nb interface{}
	if err := json.Unmarshal(ab, &na); err != nil {
		return false
	}
	if err := json.Unmarshal(bb, &nb); err != nil {
		return false
	}
	return deepEqualJSON(na, nb)
}

func deepEqualJSON(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqualJSON(v, bvv) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func dependencySetEqual(a, b []DependencyRef) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[DependencyRef]int, len(a))
	for _, d := range a {
		seen[d]++
	}
	for _, d := range b {
		if seen[d] == 0 {
			return false
		}
		seen[d]--
	}
	return true
}
