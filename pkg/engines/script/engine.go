// Package script implements the "arbitrary scripts" engine family: a
// module's entrypoint is a Starlark (.star) file, interpreted in an
// embedded interpreter rather than an external toolchain. Prepare still
// returns a subprocess descriptor that re-invokes the deployer binary
// itself in a hidden execution mode, so the scheduler's "all engine
// subprocesses run on the local host" invariant holds uniformly across
// every engine family even though this one's interpreter is embedded.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/dispatcher"
)

// hiddenModeFlag is the subcommand the re-invoked binary is launched
// with; cmd/deployer registers it without advertising it in --help.
const hiddenModeFlag = "__exec-script"

const inputFileName = "input.json"
const outputFileName = "output.json"

// Engine implements dispatcher.Engine for the script module family.
type Engine struct {
	// executablePath is the deployer binary's own path, used to
	// re-invoke itself for the hidden execution mode. Exposed for
	// testing; cmd/deployer sets it to os.Executable() at startup.
	executablePath string
}

// New constructs a script Engine. executablePath is the absolute path
// to the running deployer binary.
func New(executablePath string) *Engine {
	return &Engine{executablePath: executablePath}
}

// ValidateModuleConfig is pure: it only checks that an entrypoint is
// declared, without touching the filesystem.
func (e *Engine) ValidateModuleConfig(cfg deploy.ModuleConfig) error {
	_, err := parseModuleOptions(cfg)
	return err
}

// Prepare writes the input envelope to the deployment cache directory
// and returns a single subprocess descriptor that re-invokes the
// deployer binary in the hidden script-execution mode.
func (e *Engine) Prepare(ctx context.Context, k deploy.Key, command string, action deploy.Action,
	resolvedVariables map[string]interface{}, cfg deploy.ModuleConfig,
	deploymentCacheDir, engineCacheDir string) ([]dispatcher.Command, error) {

	opts, err := parseModuleOptions(cfg)
	if err != nil {
		return nil, err
	}

	in := inputEnvelope{
		Module:     k.Module,
		AccountID:  k.AccountID,
		Region:     k.Region,
		Command:    command,
		Action:     string(action),
		Variables:  resolvedVariables,
		Entrypoint: opts.Entrypoint,
	}
	data, err := json.MarshalIndent(&in, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode script engine input: %w", err)
	}
	inputPath := filepath.Join(deploymentCacheDir, inputFileName)
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write script engine input: %w", err)
	}

	return []dispatcher.Command{
		{
			Argv: []string{e.executablePath, hiddenModeFlag, "--cache-dir", deploymentCacheDir},
			Dir:  engineCacheDir,
		},
	}, nil
}

// Postprocess reads the output envelope the subprocess wrote and
// converts it into a StepOutcome.
func (e *Engine) Postprocess(ctx context.Context, k deploy.Key, command string, action deploy.Action,
	cfg deploy.ModuleConfig, deploymentCacheDir string) (*deploy.StepOutcome, error) {

	outputPath := filepath.Join(deploymentCacheDir, outputFileName)
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("script engine did not produce an output envelope: %w", err)
	}

	var out outputEnvelope
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("script engine output envelope is malformed: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("script execution failed: %s", out.Error)
	}
	return out.toStepOutcome(), nil
}

// ExecHidden implements the hidden "__exec-script" subcommand body:
// read input.json from cacheDir, run the named entrypoint under the
// embedded interpreter with moduleDir as the root for resolving it, and
// write output.json. This is invoked by cmd/deployer, not by the
// scheduler directly.
func ExecHidden(cacheDir, moduleDir string) error {
	inputPath := filepath.Join(cacheDir, inputFileName)
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read script engine input: %w", err)
	}
	var in inputEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("script engine input envelope is malformed: %w", err)
	}

	out := Run(context.Background(), moduleDir, in)

	encoded, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode script engine output: %w", err)
	}
	return os.WriteFile(filepath.Join(cacheDir, outputFileName), encoded, 0o644)
}
