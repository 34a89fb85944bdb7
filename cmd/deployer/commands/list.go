package commands

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meridian-iac/deployer/pkg/scheduler"
)

func newListCommand() *cobra.Command {
	sf := &scopeFlags{}
	var dot bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Classify every deployment key without executing anything",
		Long: `list reconciles the package definition against persisted state and
reports the action each deployment key would take, without invoking
any execution engine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, result, err := runOnce(ctx, scheduler.ModeList, "list", sf)
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

			out := bucketList(result.Steps)
			if err := writeOutputFile(outputFile, out); err != nil {
				return err
			}
			log.Info().
				Int("pending", len(out.PendingChanges)).
				Int("pending_but_skipped", len(out.PendingButSkippedChanges)).
				Int("no_change", len(out.NoChanges)).
				Msg("list complete")

			reportListExitCode(out)
			return nil
		},
	}

	registerScopeFlags(cmd, sf)
	registerRunFlags(cmd)
	cmd.Flags().BoolVar(&dot, "dot", false, "also write the dependency graph as Graphviz DOT to <output-file>.dot")
	return cmd
}
