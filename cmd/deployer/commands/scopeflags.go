package commands

import (
	"github.com/spf13/cobra"

	"github.com/meridian-iac/deployer/pkg/orchestrator"
	"github.com/meridian-iac/deployer/pkg/scope"
)

// scopeFlags holds the raw --include-*/--exclude-* flag values for a
// run-scoped command, before they are assembled into an
// orchestrator.ScopeFilter.
type scopeFlags struct {
	includeModules []string
	excludeModules []string

	includeAccountIDs   []string
	includeAccountNames []string
	includeAccountTags  map[string]string
	includeOUIDs        []string
	includeOUTags       map[string]string
	includeRegions      []string

	excludeAccountIDs   []string
	excludeAccountNames []string
	excludeAccountTags  map[string]string
	excludeOUIDs        []string
	excludeOUTags       map[string]string
	excludeRegions      []string
}

func registerScopeFlags(cmd *cobra.Command, f *scopeFlags) {
	cmd.Flags().StringSliceVar(&f.includeModules, "include-module", nil, "glob of module names to include (repeatable)")
	cmd.Flags().StringSliceVar(&f.excludeModules, "exclude-module", nil, "glob of module names to exclude (repeatable)")

	cmd.Flags().StringSliceVar(&f.includeAccountIDs, "include-account-id", nil, "account ID to include (repeatable)")
	cmd.Flags().StringSliceVar(&f.includeAccountNames, "include-account-name", nil, "glob of account names to include (repeatable)")
	cmd.Flags().StringToStringVar(&f.includeAccountTags, "include-account-tag", nil, "account tag key=value to include (repeatable)")
	cmd.Flags().StringSliceVar(&f.includeOUIDs, "include-ou-id", nil, "organizational unit ID to include (repeatable)")
	cmd.Flags().StringToStringVar(&f.includeOUTags, "include-ou-tag", nil, "organizational unit tag key=value to include (repeatable; accepted but not evaluated by the run filter)")
	cmd.Flags().StringSliceVar(&f.includeRegions, "include-region", nil, "region to include (repeatable)")

	cmd.Flags().StringSliceVar(&f.excludeAccountIDs, "exclude-account-id", nil, "account ID to exclude (repeatable)")
	cmd.Flags().StringSliceVar(&f.excludeAccountNames, "exclude-account-name", nil, "glob of account names to exclude (repeatable)")
	cmd.Flags().StringToStringVar(&f.excludeAccountTags, "exclude-account-tag", nil, "account tag key=value to exclude (repeatable)")
	cmd.Flags().StringSliceVar(&f.excludeOUIDs, "exclude-ou-id", nil, "organizational unit ID to exclude (repeatable)")
	cmd.Flags().StringToStringVar(&f.excludeOUTags, "exclude-ou-tag", nil, "organizational unit tag key=value to exclude (repeatable; accepted but not evaluated by the run filter)")
	cmd.Flags().StringSliceVar(&f.excludeRegions, "exclude-region", nil, "region to exclude (repeatable)")
}

// toScopeFilter converts the raw flags into an orchestrator.ScopeFilter.
// A nil result (when every flag was left unset) tells Run to apply no
// narrowing at all.
func (f *scopeFlags) toScopeFilter() *orchestrator.ScopeFilter {
	if f == nil {
		return nil
	}
	if len(f.includeModules) == 0 && len(f.excludeModules) == 0 &&
		len(f.includeAccountIDs) == 0 && len(f.includeAccountNames) == 0 && len(f.includeAccountTags) == 0 &&
		len(f.includeOUIDs) == 0 && len(f.includeOUTags) == 0 && len(f.includeRegions) == 0 &&
		len(f.excludeAccountIDs) == 0 && len(f.excludeAccountNames) == 0 && len(f.excludeAccountTags) == 0 &&
		len(f.excludeOUIDs) == 0 && len(f.excludeOUTags) == 0 && len(f.excludeRegions) == 0 {
		return nil
	}
	return &orchestrator.ScopeFilter{
		IncludeModules: f.includeModules,
		ExcludeModules: f.excludeModules,
		Include: scope.Predicate{
			AccountIDs:   f.includeAccountIDs,
			AccountNames: f.includeAccountNames,
			AccountTags:  f.includeAccountTags,
			OUIDs:        f.includeOUIDs,
			OUTags:       f.includeOUTags,
			Regions:      f.includeRegions,
		},
		Exclude: scope.Predicate{
			AccountIDs:   f.excludeAccountIDs,
			AccountNames: f.excludeAccountNames,
			AccountTags:  f.excludeAccountTags,
			OUIDs:        f.excludeOUIDs,
			OUTags:       f.excludeOUTags,
			Regions:      f.excludeRegions,
		},
	}
}
