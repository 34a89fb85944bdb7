package variables

import (
	"testing"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

func TestMerge_InnermostLayerWins(t *testing.T) {
	merged := Merge(Layers{
		DefaultsAll:    map[string]interface{}{"size": "xs", "region_count": 1},
		DefaultsEngine: map[string]interface{}{"size": "sm"},
		Module:         map[string]interface{}{"size": "md"},
		Block:          map[string]interface{}{"size": "lg"},
	})

	if merged["size"] != "lg" {
		t.Errorf("size = %v, want lg", merged["size"])
	}
	if merged["region_count"] != 1 {
		t.Errorf("region_count = %v, want 1", merged["region_count"])
	}
}

func TestResolveOutputs_OverridesMergedVariables(t *testing.T) {
	merged := map[string]interface{}{"vpc_id": "placeholder"}
	refs := map[string]deploy.OutputRef{
		"vpc_id": {
			DependencyRef: deploy.DependencyRef{Module: "network", AccountID: "111", Region: "us-east-1"},
			OutputName:    "vpc_id",
		},
	}
	lookup := func(k deploy.Key, name string) (interface{}, bool) {
		return "vpc-abc123", true
	}

	got, err := ResolveOutputs(merged, refs, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["vpc_id"] != "vpc-abc123" {
		t.Errorf("vpc_id = %v, want vpc-abc123", got["vpc_id"])
	}
}

func TestResolveOutputs_MissingWithIgnoreKeepsLowerLayerValue(t *testing.T) {
	merged := map[string]interface{}{"vpc_id": "fallback"}
	refs := map[string]deploy.OutputRef{
		"vpc_id": {
			DependencyRef: deploy.DependencyRef{Module: "network", AccountID: "111", Region: "us-east-1", IgnoreIfNotExists: true},
			OutputName:    "vpc_id",
		},
	}
	lookup := func(k deploy.Key, name string) (interface{}, bool) { return nil, false }

	got, err := ResolveOutputs(merged, refs, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["vpc_id"] != "fallback" {
		t.Errorf("expected fallback value retained, got %v", got["vpc_id"])
	}
}

func TestResolveOutputs_MissingWithoutIgnoreFails(t *testing.T) {
	merged := map[string]interface{}{}
	refs := map[string]deploy.OutputRef{
		"vpc_id": {
			DependencyRef: deploy.DependencyRef{Module: "network", AccountID: "111", Region: "us-east-1"},
			OutputName:    "vpc_id",
		},
	}
	lookup := func(k deploy.Key, name string) (interface{}, bool) { return nil, false }

	_, err := ResolveOutputs(merged, refs, lookup)
	if !deploy.IsCode(err, deploy.CodeUpstreamOutputMissing) {
		t.Errorf("expected UpstreamOutputMissing, got %v", err)
	}
}
