package script

import (
	"encoding/json"
	"fmt"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

// moduleOptions is the engine-specific slice of deploy.ModuleConfig.Raw
// this engine understands.
type moduleOptions struct {
	// Entrypoint is the module-relative path to the .star file the
	// interpreter runs.
	Entrypoint string `json:"entrypoint"`
}

func parseModuleOptions(cfg deploy.ModuleConfig) (moduleOptions, error) {
	var opts moduleOptions
	if len(cfg.Raw) == 0 {
		return opts, fmt.Errorf("script engine requires a module configuration with an entrypoint")
	}
	if err := json.Unmarshal(cfg.Raw, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse script engine configuration: %w", err)
	}
	if opts.Entrypoint == "" {
		return opts, fmt.Errorf("script engine configuration is missing entrypoint")
	}
	return opts, nil
}
