// Package pkgdef defines the package definition file's structure: the
// top-level document the CLI loads and hands to the core, plus the
// per-module deployment blocks the Scope Expander consumes.
package pkgdef

import "encoding/json"

// Document is the whole package definition file.
type Document struct {
	// PackageConfiguration carries the cross-cutting settings that are
	// not themselves part of any module's deployment scope.
	PackageConfiguration PackageConfiguration `json:"package_configuration" validate:"required"`

	// DefaultModuleConfiguration is keyed by engine name, or "All" for
	// settings applied regardless of engine.
	DefaultModuleConfiguration map[string]json.RawMessage `json:"default_module_configuration,omitempty"`

	// DefaultVariables is keyed by engine name, or "All".
	DefaultVariables map[string]map[string]interface{} `json:"default_variables,omitempty"`

	// Modules lists every module this package deploys, each carrying
	// its own list of deployment blocks.
	Modules []Module `json:"modules" validate:"required,dive"`
}

// PackageConfiguration is the object-store location, cache TTL and
// run-wide defaults a package definition declares.
type PackageConfiguration struct {
	// ObjectStoreLocation addresses the state.json/orga.json blob store
	// (bucket URL, local path, ...); opaque to the core.
	ObjectStoreLocation string `json:"object_store_location" validate:"required"`

	// InventoryCacheTTLSeconds bounds how stale the inventory cache may
	// be before a refresh is forced.
	InventoryCacheTTLSeconds int `json:"inventory_cache_ttl_seconds" validate:"gte=0"`

	// ConcurrentWorkers sizes the scheduler's worker pool; zero takes
	// the scheduler's documented default of 10.
	ConcurrentWorkers int `json:"concurrent_workers" validate:"gte=0"`

	// AssumeRoleForInventory overrides the credentials used to list the
	// cloud-provider organization directory.
	AssumeRoleForInventory string `json:"assume_role_for_inventory,omitempty"`

	// AccountNameOverrideTagKey names an account tag that, when
	// present, overrides the account's display name for glob matching.
	AccountNameOverrideTagKey string `json:"account_name_override_tag_key,omitempty"`
}

// Module is one module's full configuration: its deployment blocks and
// any module-level configuration override.
type Module struct {
	// Name is the module identifier, conventionally "<engine>.<name>".
	Name string `json:"name" validate:"required"`

	// Configuration is the module-level opaque engine configuration,
	// validated by the engine's own validate_module_config hook.
	Configuration json.RawMessage `json:"configuration,omitempty"`

	// Variables are module-level variables, layered under block-level
	// variables per the Variable Resolver's precedence.
	Variables map[string]interface{} `json:"variables,omitempty"`

	// Blocks are the deployment blocks for this module, evaluated in
	// document order (later blocks override earlier ones for the same
	// key, per §4.1).
	Blocks []Block `json:"deployments" validate:"required,dive"`
}

// Block is a single deployment block: an Include/Exclude predicate
// pair plus the variables, dependencies and output references it
// contributes to every key it resolves to.
type Block struct {
	Include Predicate `json:"include,omitempty"`
	Exclude Predicate `json:"exclude,omitempty"`

	// Variables are merged last-wins with module- and default-level
	// variables for every key this block resolves to.
	Variables map[string]interface{} `json:"variables,omitempty"`

	// VariablesFromOutputs are output references that override
	// Variables for the same key.
	VariablesFromOutputs map[string]OutputReference `json:"variables_from_outputs,omitempty"`

	// Dependencies orders deployment-level dependency edges.
	Dependencies []DependencyReference `json:"dependencies,omitempty"`
}

// Predicate is the account/region filter a block's Include or Exclude
// side applies.
type Predicate struct {
	AccountIDs   []string          `json:"account_ids,omitempty"`
	AccountNames []string          `json:"account_names,omitempty"`
	AccountTags  map[string]string `json:"account_tags,omitempty"`
	OUIDs        []string          `json:"ou_ids,omitempty"`
	OUTags       map[string]string `json:"ou_tags,omitempty"`
	Regions      []string          `json:"regions,omitempty"`
}

// DependencyReference names another deployment key this block depends
// on, without naming an output.
type DependencyReference struct {
	Module            string `json:"module" validate:"required"`
	AccountID         string `json:"account_id" validate:"required"`
	Region            string `json:"region" validate:"required"`
	IgnoreIfNotExists bool   `json:"ignore_if_not_exists,omitempty"`
}

// OutputReference is a DependencyReference plus the output it resolves.
type OutputReference struct {
	Module            string `json:"module" validate:"required"`
	AccountID         string `json:"account_id" validate:"required"`
	Region            string `json:"region" validate:"required"`
	OutputName        string `json:"output_name" validate:"required"`
	IgnoreIfNotExists bool   `json:"ignore_if_not_exists,omitempty"`
}
