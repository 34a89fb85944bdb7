package commands

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meridian-iac/deployer/pkg/modulehash"
)

// newUpdateHashCommand rewrites every persisted deployment's
// ModuleHash to match the module source tree on disk today, without
// scheduling any step. It exists for the case where a module's source
// changed in a way that should not itself trigger an Update (a
// formatting pass, a comment fix) and the operator wants to re-baseline
// the hash instead of forcing one through.
func newUpdateHashCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-hash",
		Short: "Recompute and persist each module's hash without deploying",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			var modulesFS fs.FS
			if modulesDir != "" {
				if _, statErr := os.Stat(modulesDir); statErr == nil {
					modulesFS = os.DirFS(modulesDir)
				}
			}

			sDoc, err := rt.store.Load(ctx)
			if err != nil {
				return err
			}

			hashes := map[string]string{}
			for _, mod := range rt.doc.Modules {
				if modulesFS == nil {
					continue
				}
				if _, statErr := fs.Stat(modulesFS, mod.Name); statErr != nil {
					continue
				}
				hash, hashErr := modulehash.Hash(modulesFS, mod.Name, modulehash.GlobSet{})
				if hashErr != nil {
					return fmt.Errorf("failed to hash module %s: %w", mod.Name, hashErr)
				}
				hashes[mod.Name] = hash
			}

			updated := 0
			for _, dep := range sDoc.Deployments {
				hash, ok := hashes[dep.Deployment.Module]
				if !ok || dep.CurrentState == nil || dep.CurrentState.ModuleHash == hash {
					continue
				}
				dep.CurrentState.ModuleHash = hash
				updated++
			}

			if err := rt.store.Save(ctx, sDoc); err != nil {
				return err
			}
			log.Info().Int("updated", updated).Msg("update-hash complete")
			return nil
		},
	}
	return cmd
}
