package pkgdef

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

// Validator runs struct-tag validation over a loaded Document. Closed-
// schema rejection of unknown properties is a separate concern, handled
// by pkg/schema against the raw document before it is unmarshaled here.
type Validator struct {
	v *validator.Validate
}

// NewValidator constructs a Validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// Validate checks doc's struct tags and the cross-field rules the tags
// cannot express: no module name is declared twice, and every module
// name carries an engine prefix. Deployment blocks are not checked
// beyond their struct tags, so an entirely empty block is accepted.
func (val *Validator) Validate(doc *Document) error {
	if err := val.v.Struct(doc); err != nil {
		return deploy.NewValidationError("package definition failed struct validation", err)
	}

	seen := make(map[string]bool, len(doc.Modules))
	for _, m := range doc.Modules {
		if seen[m.Name] {
			return deploy.NewValidationError(fmt.Sprintf("module %q declared more than once", m.Name), nil)
		}
		seen[m.Name] = true

		if !hasEnginePrefix(m.Name) {
			return deploy.NewValidationError(fmt.Sprintf("module %q must be named <engine>.<name>", m.Name), nil)
		}
	}
	return nil
}

func hasEnginePrefix(module string) bool {
	for _, r := range module {
		if r == '.' {
			return true
		}
	}
	return false
}
