// Package policy evaluates Open Policy Agent (OPA) guardrails over the
// Scope Expander's resolved target set before a run is scheduled.
//
// # Architecture
//
// The policy system has three parts:
//
//  1. Engine - compiles and evaluates Rego policies against a single
//     deployment key or the whole resolved target set.
//  2. Loader - loads extra policies from files and directories on top
//     of the built-ins.
//  3. Built-in policies - module naming, AssumeRole-outside-home-account,
//     excluded-OU guard, and a batch-destroy review trip-wire.
//
// # Usage
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.EvaluateDeployment(ctx, policy.DeploymentInput{
//	    Module:    "terraform.vpc",
//	    AccountID: "123456789012",
//	    Region:    "eu-west-1",
//	    Action:    "Create",
//	}, policy.EvalContext{Operation: "apply", HomeAccountID: "000000000000"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("policy %s violated: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// # Custom policies
//
// Custom guardrails are ordinary Rego files under a configured policy
// directory:
//
//	package custom.policies.backup
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.deployment
//	    d := input.deployment
//	    d.account_tags.backup != "true"
//	    violation := {
//	        "message": "production deployments must carry the backup tag",
//	        "severity": "error",
//	    }
//	}
//
// # Severity levels
//
//   - info: informational
//   - warning: reviewed but does not block scheduling
//   - error / critical: blocks the offending key from scheduling
package policy
