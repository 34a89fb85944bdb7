// Package scope implements the Scope Expander: it turns a module's list
// of deployment blocks into the resolved set of deployment keys that
// module targets, substituting ${CURRENT_ACCOUNT_ID}/${CURRENT_REGION}
// and applying Include/Exclude predicates over the inventory cache.
package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/inventory"
)

// Predicate is one side (Include or Exclude) of a deployment block's
// selector. An empty Predicate (all fields zero) means "match
// everything" when used as Include.
type Predicate struct {
	AccountIDs   []string
	AccountNames []string // glob, case-sensitive
	AccountTags  map[string]string
	OUIDs        []string
	OUTags       map[string]string
	Regions      []string
}

// empty reports whether the predicate has no constraints at all.
func (p Predicate) empty() bool {
	return len(p.AccountIDs) == 0 && len(p.AccountNames) == 0 && len(p.AccountTags) == 0 &&
		len(p.OUIDs) == 0 && len(p.OUTags) == 0 && len(p.Regions) == 0
}

// Block is one deployment block of a module: an Include/Exclude pair
// plus the block-level data that gets merged (last-wins) into the
// resolved target record for every key the block contributes.
type Block struct {
	Include Predicate
	Exclude Predicate

	Variables            map[string]interface{}
	Dependencies         []deploy.DependencyRef
	VariablesFromOutputs map[string]deploy.OutputRef
}

// Target is the resolved output for a single key after substitution
// and block-merging.
type Target struct {
	Key                  deploy.Key
	Variables            map[string]interface{}
	Dependencies         []deploy.DependencyRef
	VariablesFromOutputs map[string]deploy.OutputRef
}

// Expander resolves a module's deployment blocks against an inventory
// snapshot.
type Expander struct {
	inv *inventory.Cache
}

// NewExpander constructs an Expander backed by the given inventory
// cache.
func NewExpander(inv *inventory.Cache) *Expander {
	return &Expander{inv: inv}
}

// Expand resolves module's blocks, in order, into a map of key to
// Target. Later blocks override earlier ones for the same key: block-
// level fields replace wholesale, variables merge last-wins per entry.
func (e *Expander) Expand(ctx context.Context, module string, blocks []Block) (map[deploy.Key]Target, error) {
	snap, err := e.inv.Get(ctx, false)
	if err != nil {
		return nil, err
	}

	result := map[deploy.Key]Target{}
	for _, block := range blocks {
		keys, err := e.matchingKeys(snap, module, block)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			existing, had := result[k]
			merged := Target{
				Key:                  k,
				Dependencies:         block.Dependencies,
				VariablesFromOutputs: block.VariablesFromOutputs,
				Variables:            map[string]interface{}{},
			}
			if had {
				for vk, vv := range existing.Variables {
					merged.Variables[vk] = vv
				}
			}
			for vk, vv := range block.Variables {
				merged.Variables[vk] = vv
			}
			merged = substituteTarget(merged, k)
			for _, dep := range merged.Dependencies {
				if err := ResolveRef(e.inv, dep, result); err != nil {
					return nil, err
				}
			}
			for _, ref := range merged.VariablesFromOutputs {
				if err := ResolveRef(e.inv, ref.DependencyRef, result); err != nil {
					return nil, err
				}
			}
			result[k] = merged
		}
	}
	return result, nil
}

func (e *Expander) matchingKeys(snap *inventory.Snapshot, module string, block Block) ([]deploy.Key, error) {
	var keys []deploy.Key
	for _, acct := range snap.Accounts {
		if !acct.Active {
			continue
		}
		if !matches(block.Include, acct) && !block.Include.empty() {
			continue
		}
		excludeAcct := matches(block.Exclude, acct)
		regions := acct.EnabledRegions
		if len(block.Include.Regions) > 0 {
			regions = intersect(regions, block.Include.Regions)
		}
		for _, region := range regions {
			if excludeAcct && (len(block.Exclude.Regions) == 0 || containsString(block.Exclude.Regions, region)) {
				continue
			}
			keys = append(keys, deploy.Key{Module: module, AccountID: acct.ID, Region: region})
		}
	}
	return keys, nil
}

// matches reports whether the account satisfies the predicate's
// AccountIDs, AccountNames, AccountTags and OUIDs fields (each only
// when non-empty). Tag predicates are conjunctive: every listed tag
// key must be present with the listed value. OUTags is not evaluated,
// and Regions is applied by the caller, so a non-empty predicate that
// sets only those fields matches every account.
func matches(p Predicate, acct inventory.Account) bool {
	if p.empty() {
		return false
	}
	if len(p.AccountIDs) > 0 && !containsString(p.AccountIDs, acct.ID) {
		return false
	}
	if len(p.AccountNames) > 0 && !matchesAnyGlob(p.AccountNames, acct.Name) {
		return false
	}
	for k, v := range p.AccountTags {
		if acct.Tags[k] != v {
			return false
		}
	}
	if len(p.OUIDs) > 0 {
		found := false
		for _, ou := range acct.ParentOUs {
			if containsString(p.OUIDs, ou) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesAnyGlob(patterns []string, name string) bool {
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		if g.Match(name) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if containsString(b, v) {
			out = append(out, v)
		}
	}
	return out
}

// substituteTarget replaces ${CURRENT_ACCOUNT_ID} and ${CURRENT_REGION}
// textually within the target's variables, dependency fields and
// output references, now that k is fixed.
func substituteTarget(t Target, k deploy.Key) Target {
	replacer := strings.NewReplacer(
		"${CURRENT_ACCOUNT_ID}", k.AccountID,
		"${CURRENT_REGION}", k.Region,
	)

	vars := map[string]interface{}{}
	for key, v := range t.Variables {
		vars[key] = substituteValue(replacer, v)
	}
	t.Variables = vars

	deps := make([]deploy.DependencyRef, len(t.Dependencies))
	for i, d := range t.Dependencies {
		d.AccountID = replacer.Replace(d.AccountID)
		d.Region = replacer.Replace(d.Region)
		deps[i] = d
	}
	t.Dependencies = deps

	refs := map[string]deploy.OutputRef{}
	for name, ref := range t.VariablesFromOutputs {
		ref.AccountID = replacer.Replace(ref.AccountID)
		ref.Region = replacer.Replace(ref.Region)
		refs[name] = ref
	}
	t.VariablesFromOutputs = refs

	return t
}

func substituteValue(replacer *strings.Replacer, v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return replacer.Replace(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = substituteValue(replacer, vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = substituteValue(replacer, vv)
		}
		return out
	default:
		return v
	}
}

// ResolveRef validates a reference to another key against the
// inventory and current expansion, returning deploy.CodeUnmetDependencyMissing
// unless the reference carries IgnoreIfNotExists.
func ResolveRef(inv *inventory.Cache, ref deploy.DependencyRef, known map[deploy.Key]Target) error {
	k := ref.Key()
	if _, ok := known[k]; ok {
		return nil
	}
	if _, ok := inv.Account(k.AccountID); !ok {
		if ref.IgnoreIfNotExists {
			return nil
		}
		return deploy.NewUnmetDependencyMissingError(fmt.Sprintf("referenced account %s does not exist in inventory", k.AccountID)).WithKey(k)
	}
	return nil
}
