package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/pkgdef"
)

// moduleCoreFields is the subset of a module's configuration blob the
// core itself reads; everything else in the blob is opaque and passed
// through to the engine as deploy.ModuleConfig.Raw unexamined.
type moduleCoreFields struct {
	AssumeRole          *string           `json:"assume_role,omitempty"`
	MaxAttempts         int               `json:"max_attempts,omitempty"`
	DelayBeforeRetrying string            `json:"delay_before_retrying,omitempty"`
	EndpointUrls        map[string]string `json:"endpoint_urls,omitempty"`
}

// buildModuleConfig resolves a module's effective deploy.ModuleConfig:
// the module's own Configuration blob if set, falling back to the
// package's per-engine then package-wide ("All") default. raw is kept
// whole as ModuleConfig.Raw so the engine can still read its own
// opaque fields out of the same blob the core reads AssumeRole/Retry
// from.
func buildModuleConfig(doc *pkgdef.Document, m pkgdef.Module, engineName string) (deploy.ModuleConfig, error) {
	raw := m.Configuration
	if len(raw) == 0 {
		if v, ok := doc.DefaultModuleConfiguration[engineName]; ok {
			raw = v
		} else if v, ok := doc.DefaultModuleConfiguration["All"]; ok {
			raw = v
		}
	}

	cfg := deploy.ModuleConfig{
		Retry: deploy.DefaultRetryPolicy(),
		Raw:   raw,
	}
	if len(raw) == 0 {
		return cfg, nil
	}

	var core moduleCoreFields
	if err := json.Unmarshal(raw, &core); err != nil {
		return deploy.ModuleConfig{}, fmt.Errorf("failed to parse module configuration for engine fields: %w", err)
	}
	cfg.AssumeRole = core.AssumeRole
	cfg.EndpointUrls = core.EndpointUrls
	if core.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = core.MaxAttempts
	}
	if core.DelayBeforeRetrying != "" {
		d, err := time.ParseDuration(core.DelayBeforeRetrying)
		if err != nil {
			return deploy.ModuleConfig{}, fmt.Errorf("invalid delay_before_retrying: %w", err)
		}
		cfg.Retry.DelayBeforeRetrying = d
	}
	return cfg, nil
}
