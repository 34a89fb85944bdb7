package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block scheduling.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation against one deployment
// key (or, for package-level policies, the whole run).
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// DeploymentKey is the "[module,account,region]" diagnostic form of
	// the offending key, empty for a package-wide violation.
	DeploymentKey string `json:"deployment_key,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result represents the outcome of evaluating one or more policies.
type Result struct {
	// Allowed indicates whether the evaluated deployment(s) may proceed
	// to scheduling: false whenever any Error/Critical-severity
	// violation fired.
	Allowed bool `json:"allowed"`

	// Violations lists every violation found, at any severity.
	Violations []Violation `json:"violations,omitempty"`

	// EvaluatedAt is when the policy set was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`
}

// DeploymentInput is the per-key fact the Scope Expander's resolved
// target set contributes to a policy evaluation: everything a Rego
// guardrail needs to judge a single deployment key without reaching
// back into the orchestrator.
type DeploymentInput struct {
	// Module, AccountID, Region identify the deployment key.
	Module    string `json:"module"`
	AccountID string `json:"account_id"`
	Region    string `json:"region"`

	// AccountName is the inventory display name for the account.
	AccountName string `json:"account_name"`

	// AccountTags are the account's inventory tags.
	AccountTags map[string]string `json:"account_tags,omitempty"`

	// OUIDs lists every organizational unit the account sits under.
	OUIDs []string `json:"ou_ids,omitempty"`

	// Action is the reconciler's verdict for this key (Create, Update,
	// ConditionalUpdate, Destroy, NoChange).
	Action string `json:"action"`

	// AssumeRole mirrors the module configuration's AssumeRole override,
	// if any.
	AssumeRole string `json:"assume_role,omitempty"`

	// Variables are the fully merged, pre-output-resolution variables
	// for this key.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// PackageInput is the whole resolved target set, for policies that
// judge the run as a whole rather than one key at a time (e.g. "don't
// silently destroy more than N deployments in a single run").
type PackageInput struct {
	Deployments []DeploymentInput `json:"deployments"`
}

// EvalContext carries information about the run that isn't local to any
// single deployment key: the command being run, the home account a
// package is anchored to, and the set of OUs that are off-limits
// regardless of what a module's Include predicate resolves to.
type EvalContext struct {
	// Operation is the CLI command in progress (list/preview/apply/...).
	Operation string `json:"operation"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// HomeAccountID is the account the deployer itself runs from; a
	// deployment targeting any other account without an AssumeRole
	// override is a guardrail violation.
	HomeAccountID string `json:"home_account_id,omitempty"`

	// ExcludedOUIDs are organizational units no module may ever target,
	// regardless of its own Include/Exclude predicates.
	ExcludedOUIDs []string `json:"excluded_ou_ids,omitempty"`

	// DryRun marks a list/preview evaluation. It reaches policies as
	// input.context.dry_run; the engine itself does not read it, so
	// error and critical violations block scheduling in every mode.
	DryRun bool `json:"dry_run"`
}

// regoInput is the shape actually handed to rego.Input: at most one of
// Deployment/Package is set per evaluation call.
type regoInput struct {
	Deployment *DeploymentInput `json:"deployment,omitempty"`
	Package    *PackageInput    `json:"package,omitempty"`
	Context    *EvalContext     `json:"context"`
}
