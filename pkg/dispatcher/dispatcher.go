// Package dispatcher implements the Engine Dispatcher: the uniform
// contract the scheduler drives every engine through, engine
// registration by name, deployment/engine cache directory lifecycle,
// and credential injection for AssumeRole.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/scheduler"
)

// Command is a single subprocess descriptor an engine's prepare() asks
// the dispatcher to run.
type Command struct {
	Argv  []string
	Env   []string
	Dir   string
	Stdin []byte
}

// Engine is the contract every engine implementation (script, template,
// or a native Go engine) exposes to the dispatcher.
type Engine interface {
	// ValidateModuleConfig is pure and may reject cfg before any step runs.
	ValidateModuleConfig(cfg deploy.ModuleConfig) error

	// Prepare returns the subprocess descriptors to run for this step,
	// given the resolved variables and the two cache directories.
	Prepare(ctx context.Context, k deploy.Key, command string, action deploy.Action,
		resolvedVariables map[string]interface{}, cfg deploy.ModuleConfig,
		deploymentCacheDir, engineCacheDir string) ([]Command, error)

	// Postprocess interprets the subprocess run's artifacts (typically
	// an output.json left in deploymentCacheDir) into a StepOutcome.
	Postprocess(ctx context.Context, k deploy.Key, command string, action deploy.Action,
		cfg deploy.ModuleConfig, deploymentCacheDir string) (*deploy.StepOutcome, error)
}

// ConfigValidator describes a validator over a module configuration's
// raw JSON. The Dispatcher never calls one: configuration validation
// at dispatch time goes through Engine.ValidateModuleConfig only, and
// no WASM validator is loaded.
type ConfigValidator interface {
	Validate(ctx context.Context, cfg json.RawMessage) error
}

// CredentialProvider resolves temporary credentials for an AssumeRole
// override, injected into subprocess environments. Out of scope: the
// concrete provider (STS, a cloud SDK, ...) is supplied by the caller.
type CredentialProvider interface {
	AssumeRole(ctx context.Context, roleARN string) (envVars []string, err error)
}

// ConfigResolver supplies the per-key module configuration and fully
// resolved variables the orchestrator's Variable Resolver computed for
// a step, since the scheduler.Executor contract itself carries neither.
type ConfigResolver interface {
	ResolveConfig(k deploy.Key) (deploy.ModuleConfig, map[string]interface{}, error)
}

// Registry maps an engine name (the leading path segment under the
// package root, e.g. "terraform" for module "terraform.mymodule") to its
// Engine implementation.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry constructs an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{engines: map[string]Engine{}}
}

// Register adds an engine under name. Registering the same name twice
// replaces the previous registration.
func (r *Registry) Register(name string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = e
}

// Lookup returns the engine registered under name.
func (r *Registry) Lookup(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Dispatcher provides the Execute half of scheduler.Executor by running an engine's
// prepare()/postprocess() contract with cache-directory lifecycle and
// credential injection.
type Dispatcher struct {
	registry   *Registry
	creds      CredentialProvider
	config     ConfigResolver
	cacheRoot  string
	keepDeploy bool
	log        zerolog.Logger
}

// New constructs a Dispatcher. cacheRoot is the --temp-dir root under
// which per-step deployment cache directories and per-engine shared
// cache directories are created. config supplies the resolved module
// configuration and variables for each step at dispatch time.
func New(registry *Registry, creds CredentialProvider, config ConfigResolver, cacheRoot string, keepDeploymentCache bool, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		creds:      creds,
		config:     config,
		cacheRoot:  cacheRoot,
		keepDeploy: keepDeploymentCache,
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
}

// engineNameFor derives the engine name from the module's leading path
// segment, matching the package-definition convention of naming
// modules as "<engine>.<name>".
func engineNameFor(module string) string {
	for i, r := range module {
		if r == '.' {
			return module[:i]
		}
	}
	return module
}

func (d *Dispatcher) engineCacheDir(engineName string) string {
	return filepath.Join(d.cacheRoot, "engines", engineName)
}

func (d *Dispatcher) deploymentCacheDir(k deploy.Key) string {
	return filepath.Join(d.cacheRoot, "deployments", k.Module, k.AccountID, k.Region)
}

func commandName(mode scheduler.Mode) string {
	switch mode {
	case scheduler.ModePreview:
		return "preview"
	case scheduler.ModeList:
		return "list"
	default:
		return "apply"
	}
}

// Execute implements scheduler.Executor: it runs the registered
// engine's prepare() subprocesses sequentially and then postprocess(),
// creating and tearing down the deployment cache directory around the
// call per the component design.
func (d *Dispatcher) Execute(ctx context.Context, step *deploy.Step, mode scheduler.Mode, level scheduler.CancelLevel) (*deploy.StepOutcome, error) {
	engineName := engineNameFor(step.Key.Module)
	engine, ok := d.registry.Lookup(engineName)
	if !ok {
		return nil, deploy.NewValidationError(fmt.Sprintf("no engine registered for module %q", step.Key.Module), nil).WithKey(step.Key)
	}

	depCacheDir := d.deploymentCacheDir(step.Key)
	engineCacheDir := d.engineCacheDir(engineName)
	if err := os.MkdirAll(depCacheDir, 0o755); err != nil {
		return nil, deploy.NewEngineFailure("failed to create deployment cache directory", err).WithKey(step.Key)
	}
	if err := os.MkdirAll(engineCacheDir, 0o755); err != nil {
		return nil, deploy.NewEngineFailure("failed to create engine cache directory", err).WithKey(step.Key)
	}
	if !d.keepDeploy {
		defer os.RemoveAll(depCacheDir)
	}

	var cfg deploy.ModuleConfig
	var resolvedVariables map[string]interface{}
	if d.config != nil {
		var err error
		cfg, resolvedVariables, err = d.config.ResolveConfig(step.Key)
		if err != nil {
			return nil, deploy.NewValidationError("failed to resolve module configuration", err).WithKey(step.Key)
		}
	}
	cmd := commandName(mode)

	if err := engine.ValidateModuleConfig(cfg); err != nil {
		return nil, deploy.NewValidationError("engine rejected module configuration", err).WithKey(step.Key)
	}

	commands, err := engine.Prepare(ctx, step.Key, cmd, step.Action, resolvedVariables, cfg, depCacheDir, engineCacheDir)
	if err != nil {
		return nil, deploy.NewValidationError("engine rejected module configuration", err).WithKey(step.Key)
	}

	var env []string
	if cfg.AssumeRole != nil && d.creds != nil {
		roleEnv, err := d.creds.AssumeRole(ctx, *cfg.AssumeRole)
		if err != nil {
			return nil, deploy.NewEngineFailure("failed to assume configured role", err).WithKey(step.Key)
		}
		env = roleEnv
	}

	for i, c := range commands {
		if err := d.runCommand(ctx, step.Key, i, c, env, level); err != nil {
			return nil, err
		}
	}

	outcome, err := engine.Postprocess(ctx, step.Key, cmd, step.Action, cfg, depCacheDir)
	if err != nil {
		return nil, deploy.NewEngineFailure("postprocess failed", err).WithKey(step.Key)
	}
	return outcome, nil
}

func (d *Dispatcher) runCommand(ctx context.Context, k deploy.Key, index int, c Command, roleEnv []string, level scheduler.CancelLevel) error {
	if len(c.Argv) == 0 {
		return deploy.NewEngineFailure("engine returned an empty command", nil).WithKey(k)
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(append([]string{}, c.Env...), roleEnv...)
	if len(c.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if level >= scheduler.CancelCooperative {
		// No signal is sent to the subprocess at these levels: it is
		// only killed (exec.CommandContext's default) once ctx is done,
		// and no soft-stop signal such as SIGTERM is ever delivered.
	}

	if err := cmd.Run(); err != nil {
		d.writeStepLog(k, index, stdout.Bytes(), stderr.Bytes())
		return deploy.NewEngineFailure(fmt.Sprintf("engine subprocess %q exited non-zero", c.Argv[0]), err).WithKey(k)
	}
	d.writeStepLog(k, index, stdout.Bytes(), stderr.Bytes())
	return nil
}

func (d *Dispatcher) writeStepLog(k deploy.Key, index int, stdout, stderr []byte) {
	dir := d.deploymentCacheDir(k)
	_ = os.MkdirAll(dir, 0o755)
	logPath := filepath.Join(dir, fmt.Sprintf("step-%d.log", index))
	var buf bytes.Buffer
	buf.Write(stdout)
	buf.Write(stderr)
	if err := os.WriteFile(logPath, buf.Bytes(), 0o644); err != nil {
		d.log.Warn().Err(err).Str("path", logPath).Msg("failed to write step log")
	}
}

// Dispatcher intentionally does not implement the CheckConditionalUpdate
// half of scheduler.Executor: deciding whether an upstream output
// actually changed requires the Variable Resolver's current-vs-recorded
// output comparison, which the orchestrator composes on top of this
// Dispatcher (see pkg/orchestrator).
