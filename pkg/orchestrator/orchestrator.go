// Package orchestrator wires the Inventory Cache, Scope Expander,
// Variable Resolver, Reconciler, Graph Builder, Scheduler, Engine
// Dispatcher and State Store into the single entry point a command
// invokes for one run of a package definition: list, preview or apply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/dispatcher"
	"github.com/meridian-iac/deployer/pkg/graph"
	"github.com/meridian-iac/deployer/pkg/inventory"
	"github.com/meridian-iac/deployer/pkg/modulehash"
	"github.com/meridian-iac/deployer/pkg/pkgdef"
	"github.com/meridian-iac/deployer/pkg/policy"
	"github.com/meridian-iac/deployer/pkg/reconcile"
	"github.com/meridian-iac/deployer/pkg/scheduler"
	"github.com/meridian-iac/deployer/pkg/scope"
	"github.com/meridian-iac/deployer/pkg/state"
	"github.com/meridian-iac/deployer/pkg/variables"
)

// Orchestrator holds every long-lived collaborator a run needs. A
// single instance is reused across runs; per-run state (the inventory
// snapshot, the resolved target set, the built graph) lives entirely
// inside Run's call stack.
type Orchestrator struct {
	inventorySource inventory.Source
	store           *state.Store
	ledger          *state.Ledger // nil disables ledger recording
	registry        *dispatcher.Registry
	creds           dispatcher.CredentialProvider
	policyEngine    *policy.Engine // nil disables guardrail evaluation
	modulesFS       fs.FS
	moduleHashGlobs map[string]modulehash.GlobSet // by engine name, merged under each module's own override

	cacheRoot           string
	keepDeploymentCache bool
	homeAccountID       string
	excludedOUIDs       []string

	log zerolog.Logger
}

// Config collects Orchestrator's construction-time dependencies.
type Config struct {
	InventorySource     inventory.Source
	Store               *state.Store
	Ledger              *state.Ledger
	Registry            *dispatcher.Registry
	Credentials         dispatcher.CredentialProvider
	PolicyEngine        *policy.Engine
	ModulesFS           fs.FS
	ModuleHashGlobs     map[string]modulehash.GlobSet
	CacheRoot           string
	KeepDeploymentCache bool
	HomeAccountID       string
	ExcludedOUIDs       []string
}

// New constructs an Orchestrator from cfg.
func New(cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		inventorySource:     cfg.InventorySource,
		store:               cfg.Store,
		ledger:              cfg.Ledger,
		registry:            cfg.Registry,
		creds:               cfg.Credentials,
		policyEngine:        cfg.PolicyEngine,
		modulesFS:           cfg.ModulesFS,
		moduleHashGlobs:     cfg.ModuleHashGlobs,
		cacheRoot:           cfg.CacheRoot,
		keepDeploymentCache: cfg.KeepDeploymentCache,
		homeAccountID:       cfg.HomeAccountID,
		excludedOUIDs:       cfg.ExcludedOUIDs,
		log:                 log.With().Str("component", "orchestrator").Logger(),
	}
}

// RunOptions parameterizes a single run.
type RunOptions struct {
	// Mode selects list/preview/apply engine behavior.
	Mode scheduler.Mode
	// Operation names the run for the ledger and policy evaluation
	// context ("list", "preview", "apply").
	Operation string
	// ForceUpdate bypasses the reconciler's equality check, forcing
	// Update for every key present in both target and current state.
	ForceUpdate bool
	// ForceInventoryRefresh bypasses the inventory cache's TTL for this
	// run, equivalent to the CLI's --force-orga-refresh flag.
	ForceInventoryRefresh bool
	// ScopeFilter, when non-nil, narrows this run to the keys it
	// matches. Keys it excludes are never Created, Updated or
	// Destroyed: a currently-deployed but out-of-scope key is frozen
	// to reconcile as NoChange/ConditionalUpdate instead of dropped
	// outright, so a partial --include/--exclude run can never read as
	// "this module was removed from the package".
	ScopeFilter *ScopeFilter
}

// ScopeFilter narrows a run to the intersection of the package's own
// scope and a caller-supplied subset, per the CLI's --include-*/
// --exclude-* flags. A nil or zero-value field on either side imposes
// no constraint.
type ScopeFilter struct {
	IncludeModules []string // glob, empty matches every module
	ExcludeModules []string // glob

	Include scope.Predicate
	Exclude scope.Predicate
}

// moduleMatches reports whether module passes the include/exclude glob
// lists: included if includes is empty or module matches any pattern
// in it, then rejected if it matches any exclude pattern.
func moduleMatches(includes, excludes []string, module string) bool {
	if len(includes) > 0 && !matchesAnyGlob(includes, module) {
		return false
	}
	if len(excludes) > 0 && matchesAnyGlob(excludes, module) {
		return false
	}
	return true
}

func matchesAnyGlob(patterns []string, s string) bool {
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		if g.Match(s) {
			return true
		}
	}
	return false
}

// predicateMatches replicates scope.Predicate's matching rules for the
// CLI's account/region filter flags. It omits OUTags: inventory.Cache
// exposes no OU-tag lookup by ID, only AccountTags, so an OUTags filter
// has nothing to evaluate it against at this layer.
func predicateMatches(p scope.Predicate, acct inventory.Account, region string) bool {
	if predicateEmpty(p) {
		return true
	}
	if len(p.AccountIDs) > 0 && !stringInList(p.AccountIDs, acct.ID) {
		return false
	}
	if len(p.AccountNames) > 0 && !matchesAnyGlob(p.AccountNames, acct.Name) {
		return false
	}
	for k, v := range p.AccountTags {
		if acct.Tags[k] != v {
			return false
		}
	}
	if len(p.OUIDs) > 0 {
		found := false
		for _, ou := range acct.ParentOUs {
			if stringInList(p.OUIDs, ou) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(p.Regions) > 0 && !stringInList(p.Regions, region) {
		return false
	}
	return true
}

func predicateEmpty(p scope.Predicate) bool {
	return len(p.AccountIDs) == 0 && len(p.AccountNames) == 0 && len(p.AccountTags) == 0 &&
		len(p.OUIDs) == 0 && len(p.OUTags) == 0 && len(p.Regions) == 0
}

func stringInList(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// matches reports whether key k, belonging to acct, falls inside f: it
// must pass the module globs, satisfy Include (or Include must be
// empty), and not satisfy Exclude.
func (f *ScopeFilter) matches(k deploy.Key, acct inventory.Account) bool {
	if f == nil {
		return true
	}
	if !moduleMatches(f.IncludeModules, f.ExcludeModules, k.Module) {
		return false
	}
	if !predicateEmpty(f.Include) && !predicateMatches(f.Include, acct, k.Region) {
		return false
	}
	if !predicateEmpty(f.Exclude) && predicateMatches(f.Exclude, acct, k.Region) {
		return false
	}
	return true
}

// applyScopeFilter narrows targetRecords/forwardRefs to f's intersection
// with the package scope. An in-scope key is untouched. An out-of-scope
// key with a current record is frozen in place so it reconciles as
// NoChange/ConditionalUpdate, never Destroy; an out-of-scope key with
// no current record is dropped entirely, left pending for a future run
// that includes it.
func applyScopeFilter(ctx context.Context, inv *inventory.Cache, f *ScopeFilter, targetRecords map[deploy.Key]reconcile.TargetRecord, forwardRefs map[deploy.Key][]deploy.DependencyRef, currentRecords map[deploy.Key]*deploy.Record) error {
	snap, err := inv.Get(ctx, false)
	if err != nil {
		return err
	}
	accountsByID := make(map[string]inventory.Account, len(snap.Accounts))
	for _, a := range snap.Accounts {
		accountsByID[a.ID] = a
	}
	lookup := func(id string) inventory.Account {
		if a, ok := accountsByID[id]; ok {
			return a
		}
		return inventory.Account{ID: id}
	}

	for k := range targetRecords {
		if f.matches(k, lookup(k.AccountID)) {
			continue
		}
		if cur, ok := currentRecords[k]; ok {
			targetRecords[k] = freeze(cur)
			forwardRefs[k] = cur.Dependencies
		} else {
			delete(targetRecords, k)
			delete(forwardRefs, k)
		}
	}

	for k, cur := range currentRecords {
		if _, inTarget := targetRecords[k]; inTarget {
			continue
		}
		if f.matches(k, lookup(k.AccountID)) {
			continue
		}
		targetRecords[k] = freeze(cur)
		forwardRefs[k] = cur.Dependencies
	}

	return nil
}

// freeze pins a target record to exactly mirror cur, so the reconciler
// can only ever classify it as NoChange or ConditionalUpdate.
func freeze(cur *deploy.Record) reconcile.TargetRecord {
	return reconcile.TargetRecord{
		Variables:            cur.Variables,
		VariablesFromOutputs: cur.VariablesFromOutputs,
		Dependencies:         cur.Dependencies,
		ModuleHash:           cur.ModuleHash,
	}
}

// Result is a run's outcome: the terminal state of every step plus the
// graph it ran against, for a caller to render or export as DOT.
type Result struct {
	Graph *graph.Graph
	Steps map[deploy.Key]*deploy.Step
}

// Run executes one full pass of doc: expand scope, reconcile against
// persisted state, build the dependency graph, evaluate guardrails,
// schedule, and checkpoint the result back to the state store.
func (o *Orchestrator) Run(ctx context.Context, doc *pkgdef.Document, opts RunOptions) (*Result, error) {
	ttl := time.Duration(doc.PackageConfiguration.InventoryCacheTTLSeconds) * time.Second
	inv := inventory.NewCache(o.inventorySource, ttl, o.log)
	if _, err := inv.Get(ctx, opts.ForceInventoryRefresh); err != nil {
		return nil, err
	}

	sDoc, err := o.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	currentRecords := sDoc.ToMap()

	res := newResolver()
	targetRecords := map[deploy.Key]reconcile.TargetRecord{}
	// forwardRefs holds each in-scope key's own dependencies, the
	// direction graph.Build wants for a Create/Update/ConditionalUpdate
	// step. A Destroy step needs the opposite: its dependents, derived
	// below by reversing this map.
	forwardRefs := map[deploy.Key][]deploy.DependencyRef{}

	expander := scope.NewExpander(inv)
	for _, mod := range doc.Modules {
		engineName := engineNameFor(mod.Name)

		cfg, err := buildModuleConfig(doc, mod, engineName)
		if err != nil {
			return nil, deploy.NewValidationError(fmt.Sprintf("module %s: invalid configuration", mod.Name), err)
		}
		res.moduleConfigs[mod.Name] = cfg

		hash, err := o.hashModule(mod.Name, engineName)
		if err != nil {
			return nil, deploy.NewValidationError(fmt.Sprintf("module %s: failed to hash module directory", mod.Name), err)
		}
		res.moduleHashes[mod.Name] = hash

		blocks := make([]scope.Block, len(mod.Blocks))
		for i, b := range mod.Blocks {
			blocks[i] = convertBlock(b)
		}

		targets, err := expander.Expand(ctx, mod.Name, blocks)
		if err != nil {
			return nil, err
		}

		defaultsAll := doc.DefaultVariables["All"]
		defaultsEngine := doc.DefaultVariables[engineName]

		for k, target := range targets {
			res.targets[k] = target

			declared := variables.Merge(variables.Layers{
				DefaultsAll:    defaultsAll,
				DefaultsEngine: defaultsEngine,
				Module:         mod.Variables,
				Block:          target.Variables,
			})
			res.declaredVars[k] = declared

			targetRecords[k] = reconcile.TargetRecord{
				Variables:            declared,
				VariablesFromOutputs: target.VariablesFromOutputs,
				Dependencies:         target.Dependencies,
				ModuleHash:           hash,
			}

			dependsOn := append([]deploy.DependencyRef{}, target.Dependencies...)
			for _, ref := range target.VariablesFromOutputs {
				dependsOn = append(dependsOn, ref.DependencyRef)
			}
			forwardRefs[k] = dependsOn
		}
	}

	for k, rec := range currentRecords {
		res.baseline[k] = decodeOutputs(rec.Outputs)
	}

	if opts.ScopeFilter != nil {
		if err := applyScopeFilter(ctx, inv, opts.ScopeFilter, targetRecords, forwardRefs, currentRecords); err != nil {
			return nil, err
		}
	}

	steps := reconcile.Reconcile(targetRecords, currentRecords, reconcile.Options{ForceUpdate: opts.ForceUpdate})

	reverseRefs := map[deploy.Key][]deploy.DependencyRef{}
	for dependent, deps := range forwardRefs {
		for _, d := range deps {
			dk := d.Key()
			reverseRefs[dk] = append(reverseRefs[dk], deploy.DependencyRef{
				Module: dependent.Module, AccountID: dependent.AccountID, Region: dependent.Region,
			})
		}
	}

	refs := forwardRefs
	for k, step := range steps {
		if step.Action == deploy.ActionDestroy {
			refs[k] = reverseRefs[k]
		}
	}

	// NoChange never needs the engine: the scheduler's Ready predicate
	// only ever looks at Waiting steps, and a Completed step already
	// satisfies ReadyForDependents for anything that depends on it.
	for _, step := range steps {
		if step.Action == deploy.ActionNoChange {
			step.State = deploy.StepCompleted
			step.Result = &deploy.StepOutcome{ResultedInChanges: false}
		}
	}

	if o.policyEngine != nil {
		if err := o.evaluatePolicy(ctx, inv, res, steps, targetRecords, opts); err != nil {
			return nil, err
		}
	}

	g, err := graph.Build(steps, refs, sDoc)
	if err != nil {
		return nil, err
	}
	res.steps = g.Steps

	runID := ""
	if o.ledger != nil {
		runID, err = o.ledger.BeginRun(ctx, opts.Operation)
		if err != nil {
			o.log.Warn().Err(err).Msg("failed to record run start")
		}
	}

	disp := dispatcher.New(o.registry, o.creds, res, o.cacheRoot, o.keepDeploymentCache, o.log)
	exec := &executor{dispatcher: disp, resolver: res}
	var check scheduler.Checkpointer
	if opts.Mode == scheduler.ModeApply {
		check = newCheckpointer(o.store, o.ledger, runID, sDoc, res, o.log)
	}

	schedCfg := scheduler.DefaultConfig()
	if doc.PackageConfiguration.ConcurrentWorkers > 0 {
		schedCfg.ConcurrentWorkers = doc.PackageConfiguration.ConcurrentWorkers
	}
	schedCfg.SaveStateEverySeconds = 30

	retryPolicies := map[deploy.Key]deploy.RetryPolicy{}
	for k := range g.Steps {
		retryPolicies[k] = res.moduleConfigs[k.Module].Retry
	}

	sched := scheduler.New(schedCfg, exec, check, o.log)
	summary, runErr := sched.Run(ctx, g, retryPolicies, opts.Mode)

	exitCode := 0
	if runErr != nil {
		exitCode = 1
	}
	if o.ledger != nil && runID != "" {
		if err := o.ledger.EndRun(ctx, runID, exitCode); err != nil {
			o.log.Warn().Err(err).Msg("failed to record run end")
		}
	}

	if runErr != nil {
		return &Result{Graph: g, Steps: summary.Steps}, runErr
	}
	return &Result{Graph: g, Steps: summary.Steps}, nil
}

func (o *Orchestrator) hashModule(moduleName, engineName string) (string, error) {
	if o.modulesFS == nil {
		return "", nil
	}
	if _, err := fs.Stat(o.modulesFS, moduleName); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	globs := o.moduleHashGlobs[engineName]
	return modulehash.Hash(o.modulesFS, moduleName, globs)
}

func (o *Orchestrator) evaluatePolicy(ctx context.Context, inv *inventory.Cache, res *resolver, steps map[deploy.Key]*deploy.Step, targets map[deploy.Key]reconcile.TargetRecord, opts RunOptions) error {
	inputs := make([]policy.DeploymentInput, 0, len(steps))
	for k, step := range steps {
		account, _ := inv.Account(k.AccountID)
		var assumeRole string
		if cfg := res.moduleConfigs[k.Module]; cfg.AssumeRole != nil {
			assumeRole = *cfg.AssumeRole
		}

		if step.Action == deploy.ActionDestroy {
			inputs = append(inputs, policy.DeploymentInput{
				Module:      k.Module,
				AccountID:   k.AccountID,
				Region:      k.Region,
				AccountName: account.Name,
				AccountTags: account.Tags,
				OUIDs:       account.ParentOUs,
				Action:      string(step.Action),
				AssumeRole:  assumeRole,
			})
			continue
		}
		target := targets[k]
		cfg := policy.DeploymentInput{
			Module:      k.Module,
			AccountID:   k.AccountID,
			Region:      k.Region,
			AccountName: account.Name,
			AccountTags: account.Tags,
			OUIDs:       account.ParentOUs,
			Action:      string(step.Action),
			AssumeRole:  assumeRole,
			Variables:   target.Variables,
		}
		inputs = append(inputs, cfg)
	}

	evalCtx := policy.EvalContext{
		Operation:     opts.Operation,
		Timestamp:     time.Now(),
		HomeAccountID: o.homeAccountID,
		ExcludedOUIDs: o.excludedOUIDs,
		DryRun:        opts.Mode != scheduler.ModeApply,
	}

	result, err := o.policyEngine.EvaluatePackage(ctx, policy.PackageInput{Deployments: inputs}, evalCtx)
	if err != nil {
		return err
	}
	if !result.Allowed {
		msg := fmt.Sprintf("%d policy violation(s) block this run", len(result.Violations))
		runErr := deploy.NewPolicyViolationError(msg)
		for _, v := range result.Violations {
			runErr = runErr.WithDetail(v.Policy, v.Message)
		}
		return runErr
	}
	return nil
}

func engineNameFor(module string) string {
	for i, r := range module {
		if r == '.' {
			return module[:i]
		}
	}
	return module
}

func convertBlock(b pkgdef.Block) scope.Block {
	deps := make([]deploy.DependencyRef, len(b.Dependencies))
	for i, d := range b.Dependencies {
		deps[i] = deploy.DependencyRef{
			Module:            d.Module,
			AccountID:         d.AccountID,
			Region:            d.Region,
			IgnoreIfNotExists: d.IgnoreIfNotExists,
		}
	}

	outputRefs := make(map[string]deploy.OutputRef, len(b.VariablesFromOutputs))
	for name, ref := range b.VariablesFromOutputs {
		outputRefs[name] = deploy.OutputRef{
			DependencyRef: deploy.DependencyRef{
				Module:            ref.Module,
				AccountID:         ref.AccountID,
				Region:            ref.Region,
				IgnoreIfNotExists: ref.IgnoreIfNotExists,
			},
			OutputName: ref.OutputName,
		}
	}

	return scope.Block{
		Include:              convertPredicate(b.Include),
		Exclude:              convertPredicate(b.Exclude),
		Variables:            b.Variables,
		Dependencies:         deps,
		VariablesFromOutputs: outputRefs,
	}
}

func convertPredicate(p pkgdef.Predicate) scope.Predicate {
	return scope.Predicate{
		AccountIDs:   p.AccountIDs,
		AccountNames: p.AccountNames,
		AccountTags:  p.AccountTags,
		OUIDs:        p.OUIDs,
		OUTags:       p.OUTags,
		Regions:      p.Regions,
	}
}
