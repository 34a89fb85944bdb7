package dispatcher

import (
	"context"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

type stubEngine struct{}

func (s *stubEngine) ValidateModuleConfig(cfg deploy.ModuleConfig) error { return nil }

func (s *stubEngine) Prepare(ctx context.Context, k deploy.Key, command string, action deploy.Action,
	resolvedVariables map[string]interface{}, cfg deploy.ModuleConfig,
	deploymentCacheDir, engineCacheDir string) ([]Command, error) {
	return nil, nil
}

func (s *stubEngine) Postprocess(ctx context.Context, k deploy.Key, command string, action deploy.Action,
	cfg deploy.ModuleConfig, deploymentCacheDir string) (*deploy.StepOutcome, error) {
	return &deploy.StepOutcome{}, nil
}
