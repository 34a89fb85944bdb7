package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/meridian-iac/deployer/pkg/inventory"
)

// fileInventorySource reads an inventory.Snapshot from a local JSON
// file. It stands in for the organization directory API (AWS
// Organizations, Azure management groups, or similar) that a real
// deployment environment would query; the core only depends on
// inventory.Source, so swapping this for a live client never touches
// pkg/inventory or pkg/orchestrator.
type fileInventorySource struct {
	path string
}

func (f *fileInventorySource) Fetch(ctx context.Context) (*inventory.Snapshot, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory snapshot %s: %w", f.path, err)
	}
	var snap inventory.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse inventory snapshot %s: %w", f.path, err)
	}
	return &snap, nil
}
