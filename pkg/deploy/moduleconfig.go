package deploy

import (
	"encoding/json"
	"time"
)

// ModuleConfig carries the cross-cutting, core-consumed fields of a
// module's otherwise engine-opaque configuration. Everything else is an
// opaque blob validated by the engine's own validate_module_config hook.
type ModuleConfig struct {
	// AssumeRole optionally overrides the ambient credentials used to run
	// this module's engine subprocesses.
	AssumeRole *string `json:"assume_role,omitempty"`

	// Retry controls the scheduler's retry policy for this module's steps.
	Retry RetryPolicy `json:"retry"`

	// EndpointUrls is opaque, passed through to the engine unexamined.
	EndpointUrls map[string]string `json:"endpoint_urls,omitempty"`

	// Raw is the engine-specific configuration blob, validated by the
	// engine's validate_module_config hook rather than by the core.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// RetryPolicy bounds how many times and how fast a failed step retries.
type RetryPolicy struct {
	MaxAttempts         int           `json:"max_attempts"`
	DelayBeforeRetrying time.Duration `json:"delay_before_retrying"`
}

// DefaultRetryPolicy is applied when a module does not specify one: a
// single attempt, no retry delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, DelayBeforeRetrying: 0}
}
