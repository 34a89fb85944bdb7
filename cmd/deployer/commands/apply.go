package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meridian-iac/deployer/pkg/scheduler"
)

func newApplyCommand() *cobra.Command {
	sf := &scopeFlags{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile deployed infrastructure to match the package definition",
		Long: `apply reconciles the package definition against persisted state,
schedules every pending step through its engine, and checkpoints each
completed step back to the state store as it finishes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, result, err := runOnce(ctx, scheduler.ModeApply, "apply", sf)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := bucketRun(result.Steps)
			if err := writeOutputFile(outputFile, out); err != nil {
				return err
			}
			log.Info().
				Int("completed", len(out.Completed)).
				Int("failed", len(out.Failed)).
				Int("pending", len(out.Pending)).
				Msg("apply complete")

			return reportRunExitCode(out)
		},
	}

	registerScopeFlags(cmd, sf)
	registerRunFlags(cmd)
	return cmd
}
