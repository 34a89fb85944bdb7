package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates a set of Rego guardrails over the Scope Expander's
// resolved target set before scheduling. It generalizes the teacher's
// per-resource policy gate to a per-deployment-key gate, plus a
// package-wide evaluation for checks that need the whole run in view.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy   *Policy
	compiled time.Time
}

// NewEngine constructs an Engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, p := range GetBuiltinPolicies() {
		p := p
		if err := e.compileAndStore(&p); err != nil {
			return nil, fmt.Errorf("failed to load built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// LoadPolicies loads and compiles additional policies from files or
// directories, on top of (and replacing by name) the built-ins.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	for i := range policies {
		if err := e.compileAndStore(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// EvaluateDeployment runs every enabled policy's deny rule against a
// single deployment key.
func (e *Engine) EvaluateDeployment(ctx context.Context, in DeploymentInput, evalCtx EvalContext) (*Result, error) {
	return e.evaluate(ctx, regoInput{Deployment: &in, Context: &evalCtx})
}

// EvaluatePackage runs every enabled policy's deny rule against the
// whole resolved target set, for checks that need cross-key context
// (e.g. counting destroys in the run).
func (e *Engine) EvaluatePackage(ctx context.Context, in PackageInput, evalCtx EvalContext) (*Result, error) {
	return e.evaluate(ctx, regoInput{Package: &in, Context: &evalCtx})
}

func (e *Engine) evaluate(ctx context.Context, input regoInput) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{EvaluatedAt: time.Now()}

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("policy evaluation failed")
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	result.Allowed = true
	for _, v := range result.Violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			result.Allowed = false
			break
		}
	}
	return result, nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input regoInput) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, toViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

func extractPackageName(regoSrc string) string {
	for _, line := range strings.Split(regoSrc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "deployer.policies"
}

func toViolation(policy *Policy, result interface{}, input regoInput) Violation {
	v := Violation{
		Policy:      policy.Name,
		Severity:    policy.Severity,
		DetectedAt:  time.Now(),
	}
	if input.Deployment != nil {
		v.DeploymentKey = fmt.Sprintf("[%s,%s,%s]", input.Deployment.Module, input.Deployment.AccountID, input.Deployment.Region)
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if key, ok := r["deployment_key"].(string); ok {
			v.DeploymentKey = key
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

func (e *Engine) compileAndStore(policy *Policy) error {
	if _, err := ast.ParseModule(policy.Name, policy.Rego); err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	e.mu.Lock()
	e.policies[policy.Name] = &compiledPolicy{policy: policy, compiled: time.Now()}
	e.mu.Unlock()
	e.logger.Debug().Str("policy", policy.Name).Msg("policy compiled")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns every loaded policy.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	return out
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = true
	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	return nil
}
