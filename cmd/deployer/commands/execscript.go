package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meridian-iac/deployer/pkg/engines/script"
)

// scriptInputPeek reads only the field execscript needs out of the
// script engine's input.json: the module name, used to resolve the
// module's source directory on disk before handing off to
// script.ExecHidden.
type scriptInputPeek struct {
	Module string `json:"module"`
}

// newExecScriptCommand registers the hidden re-invocation mode the
// script engine's dispatched Command shells back into: the deployer
// binary launches itself with this subcommand instead of a second
// binary, so the embedded interpreter always matches the build that
// scheduled the step. The subcommand name must match the script
// engine's unexported hidden mode flag literally, since that constant
// cannot be imported across package boundaries.
func newExecScriptCommand() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:    "__exec-script",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(filepath.Join(cacheDir, "input.json"))
			if err != nil {
				return fmt.Errorf("failed to read script engine input: %w", err)
			}
			var peek scriptInputPeek
			if err := json.Unmarshal(raw, &peek); err != nil {
				return fmt.Errorf("script engine input is malformed: %w", err)
			}

			moduleDir := filepath.Join(modulesDir, peek.Module)
			return script.ExecHidden(cacheDir, moduleDir)
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "deployment cache directory containing input.json")
	cmd.MarkFlagRequired("cache-dir")
	return cmd
}
