// Package deploy holds the core data model shared by every subsystem of the
// orchestrator: deployment keys, deployment records, actions and steps.
package deploy

import "fmt"

// Key is the deployment identity triple (module, account, region). It is
// unique across a package and used as a map key throughout the core.
type Key struct {
	Module    string `json:"module"`
	AccountID string `json:"account_id"`
	Region    string `json:"region"`
}

// String renders the key in the diagnostic form used in errors and logs.
func (k Key) String() string {
	return fmt.Sprintf("[%s,%s,%s]", k.Module, k.AccountID, k.Region)
}

// DependencyRef references another deployment key without naming an output.
// It is used both for Dependencies and, with an OutputName, for
// VariablesFromOutputs.
type DependencyRef struct {
	Module            string `json:"module"`
	AccountID         string `json:"account_id"`
	Region            string `json:"region"`
	IgnoreIfNotExists bool   `json:"ignore_if_not_exists,omitempty"`
}

// Key returns the deployment key this reference points at.
func (d DependencyRef) Key() Key {
	return Key{Module: d.Module, AccountID: d.AccountID, Region: d.Region}
}

// OutputRef is a DependencyRef plus the specific output it resolves.
type OutputRef struct {
	DependencyRef
	OutputName string `json:"output_name"`
}
