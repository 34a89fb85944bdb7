// Package schema validates a package definition document against a
// closed CUE schema before it is unmarshaled into pkg/pkgdef types,
// giving "unknown top-level or nested properties are rejected" (§6 of
// the external interfaces) for free from CUE's closedness instead of a
// hand-rolled json.Decoder.DisallowUnknownFields recursion.
package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

// Validator compiles the package definition schema once and validates
// arbitrary JSON-shaped documents against it.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// New compiles the built-in package definition schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(packageDefinitionSchema)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile package definition schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: val}, nil
}

// ValidateJSON unifies raw (a JSON document already decoded into a
// generic interface{} tree, e.g. via encoding/json or yaml.v3's
// yaml.Node-to-interface conversion) against the closed schema,
// rejecting unknown fields at any nesting level.
func (v *Validator) ValidateJSON(raw interface{}) error {
	data := v.ctx.Encode(raw)
	if err := data.Err(); err != nil {
		return deploy.NewValidationError("failed to encode package definition for schema validation", err)
	}

	unified := v.schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true), cue.All()); err != nil {
		return deploy.NewValidationError("package definition failed schema validation", formatCUEError(err))
	}
	return nil
}

func formatCUEError(err error) error {
	if errs := errors.Errors(err); len(errs) > 0 {
		return fmt.Errorf("%s", errs[0].Error())
	}
	return err
}

// packageDefinitionSchema is the closed-struct CUE schema for the
// package definition file described in §6 of the external interfaces.
// #Document is closed: any property not declared here is a validation
// error, at every nesting level that uses a closed struct literal.
const packageDefinitionSchema = `
#Document: {
	package_configuration: #PackageConfiguration
	default_module_configuration?: {[string]: _}
	default_variables?: {[string]: {[string]: _}}
	modules: [...#Module]
}

#PackageConfiguration: {
	object_store_location: string & !=""
	inventory_cache_ttl_seconds: int & >=0
	concurrent_workers: int & >=0
	assume_role_for_inventory?: string
	account_name_override_tag_key?: string
}

#Module: {
	name: string & =~"^[a-z0-9.-]+\\.[a-z0-9-]+$"
	configuration?: _
	variables?: {[string]: _}
	deployments: [...#Block]
}

#Block: {
	include?: #Predicate
	exclude?: #Predicate
	variables?: {[string]: _}
	variables_from_outputs?: {[string]: #OutputReference}
	dependencies?: [...#DependencyReference]
}

#Predicate: {
	account_ids?: [...string]
	account_names?: [...string]
	account_tags?: {[string]: string}
	ou_ids?: [...string]
	ou_tags?: {[string]: string}
	regions?: [...string]
}

#DependencyReference: {
	module:    string
	account_id: string
	region:    string
	ignore_if_not_exists?: bool
}

#OutputReference: {
	module:      string
	account_id:  string
	region:      string
	output_name: string
	ignore_if_not_exists?: bool
}

#Document
`
