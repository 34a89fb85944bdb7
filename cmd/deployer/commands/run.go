package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-iac/deployer/pkg/orchestrator"
	"github.com/meridian-iac/deployer/pkg/scheduler"
)

// Flags shared by the three run-scoped commands (list/preview/apply).
var (
	detailedExitcode    bool
	forceUpdate         bool
	keepDeploymentCache bool
)

func registerRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&detailedExitcode, "detailed-exitcode", false, "exit 2 instead of 0 when the run leaves pending or unchecked changes")
	cmd.Flags().BoolVar(&forceUpdate, "force-update", false, "force Update for every key present in both target and current state")
	cmd.Flags().BoolVar(&keepDeploymentCache, "keep-deployment-cache", false, "keep each deployment's engine cache directory after the run instead of removing it")
}

// runOnce builds the runtime, invokes the orchestrator once with mode
// and the assembled scope filter, and returns the result alongside the
// runtime for the caller to bucket and persist output from.
func runOnce(ctx context.Context, mode scheduler.Mode, operation string, sf *scopeFlags) (*runtime, *orchestrator.Result, error) {
	rt, err := buildRuntime(ctx)
	if err != nil {
		return nil, nil, err
	}

	result, runErr := rt.orch.Run(ctx, rt.doc, orchestrator.RunOptions{
		Mode:                  mode,
		Operation:             operation,
		ForceUpdate:           forceUpdate,
		ForceInventoryRefresh: forceOrgaRefresh,
		ScopeFilter:           sf.toScopeFilter(),
	})
	if runErr != nil {
		rt.Close()
		return nil, nil, runErr
	}
	return rt, result, nil
}

// exitWithCode terminates the process with code if non-zero, matching
// Terraform-style --detailed-exitcode semantics: cobra's RunE error
// path only distinguishes 0 from 1, so reaching 2 requires bypassing it.
func exitWithCode(code int) {
	if code != 0 {
		os.Exit(code)
	}
}

func reportListExitCode(o listOutput) {
	if detailedExitcode && o.hasPending() {
		exitWithCode(2)
	}
}

func reportRunExitCode(o runOutput) error {
	if len(o.Failed) > 0 {
		return fmt.Errorf("%d step(s) failed", len(o.Failed))
	}
	if detailedExitcode && o.hasPending() {
		exitWithCode(2)
	}
	return nil
}
