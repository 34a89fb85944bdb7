package policy

import "time"

// GetBuiltinPolicies returns the guardrails evaluated over every run by
// default.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		moduleNamingPolicy(),
		assumeRoleRequiredPolicy(),
		excludedOUGuardPolicy(),
		destroyBatchReviewPolicy(),
	}
}

// moduleNamingPolicy enforces the "<engine>.<name>" module naming
// convention the dispatcher relies on to resolve the engine name.
func moduleNamingPolicy() Policy {
	return Policy{
		Name:        "module-naming",
		Description: "Module names must be lowercase, alphanumeric-hyphen, and carry an engine prefix",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployer.policies.naming

import rego.v1

deny contains violation if {
	input.deployment
	module := input.deployment.module

	not contains(module, ".")
	violation := {
		"message": sprintf("module %q must be named <engine>.<name>", [module]),
		"severity": "error",
	}
}

deny contains violation if {
	input.deployment
	module := input.deployment.module

	lower(module) != module
	violation := {
		"message": sprintf("module %q must be lowercase", [module]),
		"severity": "error",
	}
}

deny contains violation if {
	input.deployment
	module := input.deployment.module

	not regex.match("^[a-z0-9.-]+$", module)
	violation := {
		"message": sprintf("module %q must contain only lowercase letters, numbers, dots and hyphens", [module]),
		"severity": "error",
	}
}`,
	}
}

// assumeRoleRequiredPolicy implements "AssumeRole required outside the
// home account": a deployment that mutates state in any account other
// than the run's home account must carry an explicit AssumeRole.
func assumeRoleRequiredPolicy() Policy {
	return Policy{
		Name:        "assume-role-required",
		Description: "Deployments outside the home account must set AssumeRole",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"credentials", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployer.policies.assume_role

import rego.v1

mutating_actions := {"Create", "Update", "ConditionalUpdate", "Destroy"}

deny contains violation if {
	input.deployment
	input.context.home_account_id != ""
	d := input.deployment

	d.account_id != input.context.home_account_id
	d.action in mutating_actions
	d.assume_role == ""

	violation := {
		"message": sprintf("deployment targets account %s outside the home account %s without AssumeRole", [d.account_id, input.context.home_account_id]),
		"severity": "critical",
	}
}`,
	}
}

// excludedOUGuardPolicy implements "no module may target an excluded
// OU" regardless of the module's own Include/Exclude predicates.
func excludedOUGuardPolicy() Policy {
	return Policy{
		Name:        "excluded-ou-guard",
		Description: "No deployment may target an account under an organization-wide excluded OU",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"scope", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployer.policies.excluded_ou

import rego.v1

deny contains violation if {
	input.deployment
	d := input.deployment
	some excluded in input.context.excluded_ou_ids
	some ou in d.ou_ids
	ou == excluded

	violation := {
		"message": sprintf("account %s is under excluded OU %s", [d.account_id, excluded]),
		"severity": "critical",
	}
}`,
	}
}

// destroyBatchReviewPolicy warns when a single run would destroy an
// unusually large number of deployments, a cheap trip-wire against a
// mis-scoped package definition wiping out far more than intended.
func destroyBatchReviewPolicy() Policy {
	return Policy{
		Name:        "destroy-batch-review",
		Description: "Flags runs that would destroy more than 5 deployments at once",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"operations", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployer.policies.destroy_batch

import rego.v1

max_batch_destroys := 5

deny contains violation if {
	input.package
	destroys := [d | some d in input.package.deployments; d.action == "Destroy"]
	count(destroys) > max_batch_destroys

	violation := {
		"message": sprintf("run would destroy %d deployments in one pass, review before applying", [count(destroys)]),
		"severity": "warning",
	}
}`,
	}
}
