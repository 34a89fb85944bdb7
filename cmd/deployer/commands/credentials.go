package commands

import (
	"context"
	"fmt"
)

// noopCredentialProvider is the concrete stand-in for the out-of-scope
// STS/cloud-SDK assume-role collaborator dispatcher.CredentialProvider
// declares. It never succeeds: a real deployment wires a provider
// backed by its cloud's SDK, and nothing in this tree needs cross-
// account assumption to exercise the rest of the dispatch path (engine
// configs that never set AssumeRole never call this).
type noopCredentialProvider struct{}

func (n *noopCredentialProvider) AssumeRole(ctx context.Context, roleARN string) ([]string, error) {
	return nil, fmt.Errorf("assume-role is not configured for this deployer build: requested role %s", roleARN)
}
