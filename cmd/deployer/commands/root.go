// Package commands implements the deployer CLI surface: the run-scoped
// commands (list/preview/apply), the inventory dump, the two
// maintenance commands, and the hidden subprocess re-invocation mode
// the script engine shells out to.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Common flags, shared by every command.
var (
	packageFile      string
	outputFile       string
	tempDir          string
	forceOrgaRefresh bool
	debug            bool
	accountsFile     string
	modulesDir       string
	policyDir        string
	metricsAddr      string
	homeAccountID    string
	excludedOUIDs    []string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployer",
		Short: "Multi-account, multi-region infrastructure package deployer",
		Long: `deployer reconciles a declarative package definition against the
current state of deployed infrastructure across any number of cloud
accounts and regions, and drives the reconciliation through a pool of
pluggable execution engines.`,
		Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	rootCmd.PersistentFlags().StringVar(&packageFile, "package-file", "package.yaml", "package definition file")
	rootCmd.PersistentFlags().StringVar(&outputFile, "output-file", "output.json", "path to write the run's output document")
	rootCmd.PersistentFlags().StringVar(&tempDir, "temp-dir", "", "root directory for engine cache/scratch space (default: a temp dir)")
	rootCmd.PersistentFlags().BoolVar(&forceOrgaRefresh, "force-orga-refresh", false, "bypass the inventory cache TTL and refetch")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level logging")
	rootCmd.PersistentFlags().StringVar(&accountsFile, "accounts-file", "orga.json", "local inventory snapshot file")
	rootCmd.PersistentFlags().StringVar(&modulesDir, "modules-dir", "modules", "directory containing module source trees")
	rootCmd.PersistentFlags().StringVar(&policyDir, "policy-dir", "", "additional Rego policy file or directory, on top of the built-ins")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables the server)")
	rootCmd.PersistentFlags().StringVar(&homeAccountID, "home-account-id", "", "the package's own home/management account ID, for the assume-role guardrail policy")
	rootCmd.PersistentFlags().StringSliceVar(&excludedOUIDs, "excluded-ou-ids", nil, "OU IDs blocked from deployment by the excluded-OU guardrail policy")

	rootCmd.AddCommand(newOrgaCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newUpdateHashCommand())
	rootCmd.AddCommand(newRemoveOrphansCommand())
	rootCmd.AddCommand(newExecScriptCommand())

	return rootCmd
}
