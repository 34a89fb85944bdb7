package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newOrgaCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "orga",
		Short: "Fetch and print the current organization inventory snapshot",
		Long: `orga fetches the account/OU inventory this package's scope
predicates are evaluated against, and writes it as JSON. It is a thin
pass-through around the configured inventory source, useful for
inspecting or seeding --accounts-file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source := &fileInventorySource{path: accountsFile}

			snap, err := source.Fetch(ctx)
			if err != nil {
				return err
			}

			target := outPath
			if target == "" {
				target = accountsFile
			}
			if err := writeOutputFile(target, snap); err != nil {
				return err
			}
			log.Info().
				Int("accounts", len(snap.Accounts)).
				Int("ous", len(snap.OUs)).
				Str("path", target).
				Msg("orga snapshot written")
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "path to write the snapshot (default: --accounts-file)")
	return cmd
}
