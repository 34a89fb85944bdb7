package commands

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meridian-iac/deployer/pkg/scheduler"
)

func newPreviewCommand() *cobra.Command {
	sf := &scopeFlags{}
	var dot bool

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Run each engine's preview path without mutating remote state",
		Long: `preview reconciles the package definition against persisted state and
drives every pending step through its engine's preview command. No
engine apply command runs, and no deployment cache entries are
checkpointed as completed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, result, err := runOnce(ctx, scheduler.ModePreview, "preview", sf)
			if err != nil {
				return err
			}
			defer rt.Close()

			if dot {
				dotPath := outputFile + ".dot"
				if werr := os.WriteFile(dotPath, []byte(result.Graph.ToDOT()), 0o644); werr != nil {
					return werr
				}
				log.Info().Str("path", dotPath).Msg("wrote dependency graph")
			}

			out := bucketRun(result.Steps)
			if err := writeOutputFile(outputFile, out); err != nil {
				return err
			}
			log.Info().
				Int("completed", len(out.Completed)).
				Int("failed", len(out.Failed)).
				Int("pending", len(out.Pending)).
				Msg("preview complete")

			return reportRunExitCode(out)
		},
	}

	registerScopeFlags(cmd, sf)
	registerRunFlags(cmd)
	cmd.Flags().BoolVar(&dot, "dot", false, "also write the dependency graph as Graphviz DOT to <output-file>.dot")
	return cmd
}
