package scope

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/inventory"
)

type staticSource struct {
	snap *inventory.Snapshot
}

func (s staticSource) Fetch(ctx context.Context) (*inventory.Snapshot, error) {
	return s.snap, nil
}

func newTestCache(snap *inventory.Snapshot) *inventory.Cache {
	return inventory.NewCache(staticSource{snap: snap}, time.Minute, zerolog.Nop())
}

func baseSnapshot() *inventory.Snapshot {
	return &inventory.Snapshot{
		Accounts: []inventory.Account{
			{ID: "111", Name: "prod-network", Active: true, EnabledRegions: []string{"us-east-1", "eu-west-1"}, Tags: map[string]string{"env": "prod"}, ParentOUs: []string{"ou-prod"}},
			{ID: "222", Name: "staging-network", Active: true, EnabledRegions: []string{"us-east-1"}, Tags: map[string]string{"env": "staging"}, ParentOUs: []string{"ou-staging"}},
			{ID: "333", Name: "disabled-account", Active: false, EnabledRegions: []string{"us-east-1"}},
		},
	}
}

func TestExpander_Expand_EmptyIncludeMeansAllActive(t *testing.T) {
	e := NewExpander(newTestCache(baseSnapshot()))
	targets, err := e.Expand(context.Background(), "network", []Block{{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("expected 3 keys (2 regions + 1 region across 2 active accounts), got %d", len(targets))
	}
	for k := range targets {
		if k.AccountID == "333" {
			t.Errorf("expected inactive account to be excluded")
		}
	}
}

func TestExpander_Expand_AccountNameGlob(t *testing.T) {
	e := NewExpander(newTestCache(baseSnapshot()))
	targets, err := e.Expand(context.Background(), "network", []Block{
		{Include: Predicate{AccountNames: []string{"prod-*"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for k := range targets {
		if k.AccountID != "111" {
			t.Errorf("expected only account 111 to match prod-* glob, got %s", k.AccountID)
		}
	}
}

func TestExpander_Expand_ExcludeSubtractsFromInclude(t *testing.T) {
	e := NewExpander(newTestCache(baseSnapshot()))
	targets, err := e.Expand(context.Background(), "network", []Block{
		{
			Include: Predicate{AccountTags: map[string]string{"env": "prod"}},
			Exclude: Predicate{Regions: []string{"eu-west-1"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("expected 1 key after region exclude, got %d", len(targets))
	}
	for k := range targets {
		if k.Region != "us-east-1" {
			t.Errorf("expected remaining key to be us-east-1, got %s", k.Region)
		}
	}
}

func TestExpander_Expand_LaterBlockOverridesVariablesLastWins(t *testing.T) {
	e := NewExpander(newTestCache(baseSnapshot()))
	targets, err := e.Expand(context.Background(), "network", []Block{
		{
			Include:   Predicate{AccountIDs: []string{"111"}},
			Variables: map[string]interface{}{"size": "small", "az_count": 2},
		},
		{
			Include:   Predicate{AccountIDs: []string{"111"}},
			Variables: map[string]interface{}{"size": "large"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var found bool
	for k, tgt := range targets {
		if k.Region == "us-east-1" {
			found = true
			if tgt.Variables["size"] != "large" {
				t.Errorf("expected later block's size to win, got %v", tgt.Variables["size"])
			}
			if tgt.Variables["az_count"] != 2 {
				t.Errorf("expected earlier block's az_count to be preserved by merge, got %v", tgt.Variables["az_count"])
			}
		}
	}
	if !found {
		t.Fatalf("expected a us-east-1 key for account 111")
	}
}

func TestSubstituteTarget_ReplacesCurrentAccountAndRegion(t *testing.T) {
	k := deploy.Key{Module: "network", AccountID: "111", Region: "us-east-1"}
	target := Target{
		Key: k,
		Variables: map[string]interface{}{
			"bucket_arn": "arn:aws:s3:::${CURRENT_ACCOUNT_ID}-${CURRENT_REGION}-logs",
		},
		Dependencies: []deploy.DependencyRef{
			{Module: "iam", AccountID: "${CURRENT_ACCOUNT_ID}", Region: "${CURRENT_REGION}"},
		},
	}

	got := substituteTarget(target, k)
	want := "arn:aws:s3:::111-us-east-1-logs"
	if got.Variables["bucket_arn"] != want {
		t.Errorf("bucket_arn = %v, want %v", got.Variables["bucket_arn"], want)
	}
	if got.Dependencies[0].AccountID != "111" || got.Dependencies[0].Region != "us-east-1" {
		t.Errorf("expected dependency fields substituted, got %+v", got.Dependencies[0])
	}
}
