package commands

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meridian-iac/deployer/pkg/inventory"
	"github.com/meridian-iac/deployer/pkg/state"
)

// newRemoveOrphansCommand drops every persisted deployment whose
// account is no longer present, or present but inactive, in the
// inventory. Unlike list/preview/apply it always walks the entire
// state document: --include/--exclude scope filters narrow what this
// run deploys, not what counts as orphaned, so a scoped run can never
// make this command under-report orphans left behind by past runs.
func newRemoveOrphansCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-orphans",
		Short: "Drop persisted deployments whose account is gone or inactive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			ttl := time.Duration(rt.doc.PackageConfiguration.InventoryCacheTTLSeconds) * time.Second
			inv := inventory.NewCache(&fileInventorySource{path: accountsFile}, ttl, rt.log)
			if _, err := inv.Get(ctx, forceOrgaRefresh); err != nil {
				return err
			}

			sDoc, err := rt.store.Load(ctx)
			if err != nil {
				return err
			}

			kept := sDoc.Deployments[:0]
			removed := 0
			for _, dep := range sDoc.Deployments {
				acct, ok := inv.Account(dep.Deployment.AccountID)
				if !ok || !acct.Active {
					removed++
					continue
				}
				kept = append(kept, dep)
			}
			sDoc.Deployments = kept

			if err := rt.store.Save(ctx, &state.Document{Deployments: sDoc.Deployments}); err != nil {
				return err
			}
			log.Info().Int("removed", removed).Int("remaining", len(sDoc.Deployments)).Msg("remove-orphans complete")
			return nil
		},
	}
	return cmd
}
