package deploy

import (
	"errors"
	"fmt"
)

// ErrorClass is the retry classification of a RunError, independent of
// its taxonomy Code.
type ErrorClass string

const (
	// ClassTransient is a temporary failure that may succeed on retry.
	ClassTransient ErrorClass = "transient"

	// ClassThrottled is rate limiting or quota exhaustion; retried with
	// backoff the same as transient.
	ClassThrottled ErrorClass = "throttled"

	// ClassConflict is a concurrent-modification style failure.
	ClassConflict ErrorClass = "conflict"

	// ClassPermanent cannot succeed on retry.
	ClassPermanent ErrorClass = "permanent"
)

// Code is the taxonomy kind from the error handling design, used for
// programmatic dispatch (exit codes, CLI reporting) independent of the
// human-readable message.
type Code string

const (
	CodeValidationError               Code = "ValidationError"
	CodeInventoryUnavailable          Code = "InventoryUnavailable"
	CodeUnmetDependencyMissing        Code = "UnmetDependencyMissing"
	CodeDependencyScheduledForDestroy Code = "DependencyScheduledForDestroy"
	CodeDependentRemainsAfterDestroy  Code = "DependentRemainsAfterDestroy"
	CodeCircularDependency            Code = "CircularDependency"
	CodePreviewBlockedByPendingUpstream Code = "PreviewBlockedByPendingUpstream"
	CodeUpstreamOutputMissing         Code = "UpstreamOutputMissing"
	CodeUpstreamFailed                Code = "UpstreamFailed"
	CodeEngineFailure                 Code = "EngineFailure"
	CodeInterrupted                   Code = "Interrupted"

	// CodePolicyViolation is a fatal, pre-scheduling guardrail failure
	// raised by the policy gate over the resolved target set.
	CodePolicyViolation Code = "PolicyViolation"
)

// RunError is a classified error carrying both a retry Class and a
// taxonomy Code, plus enough context to report the failing key.
type RunError struct {
	Class ErrorClass `json:"class"`
	Code  Code       `json:"code"`

	Message string `json:"message"`
	Key     *Key   `json:"key,omitempty"`

	Err error `json:"-"`

	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("[%s] %s %s: %s", e.Code, e.Message, e.Key, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is: two RunErrors
// match when their taxonomy code agrees.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithKey attaches the failing deployment key to the error.
func (e *RunError) WithKey(k Key) *RunError {
	e.Key = &k
	return e
}

// WithDetail adds a detail field to the error context.
func (e *RunError) WithDetail(key string, value interface{}) *RunError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(class ErrorClass, code Code, message string, err error) *RunError {
	return &RunError{Class: class, Code: code, Message: message, Err: err}
}

// Constructors for the graph-construction and validation failures, all
// permanent: nothing about re-running the same inputs would change them.
func NewValidationError(message string, err error) *RunError {
	return newError(ClassPermanent, CodeValidationError, message, err)
}

func NewInventoryUnavailableError(message string, err error) *RunError {
	return newError(ClassPermanent, CodeInventoryUnavailable, message, err)
}

func NewUnmetDependencyMissingError(message string) *RunError {
	return newError(ClassPermanent, CodeUnmetDependencyMissing, message, nil)
}

func NewDependencyScheduledForDestroyError(message string) *RunError {
	return newError(ClassPermanent, CodeDependencyScheduledForDestroy, message, nil)
}

func NewDependentRemainsAfterDestroyError(message string) *RunError {
	return newError(ClassPermanent, CodeDependentRemainsAfterDestroy, message, nil)
}

func NewCircularDependencyError() *RunError {
	return newError(ClassPermanent, CodeCircularDependency, "The package contains circular dependencies", nil)
}

// Constructors for per-step failures.
func NewPreviewBlockedError(message string) *RunError {
	return newError(ClassPermanent, CodePreviewBlockedByPendingUpstream, message, nil)
}

func NewUpstreamOutputMissingError(message string) *RunError {
	return newError(ClassPermanent, CodeUpstreamOutputMissing, message, nil)
}

func NewUpstreamFailedError(message string) *RunError {
	return newError(ClassPermanent, CodeUpstreamFailed, message, nil)
}

// NewEngineFailure wraps a subprocess failure. It is retryable: the
// scheduler decides whether to actually retry based on the step's
// RetryPolicy, not on the class alone.
func NewEngineFailure(message string, err error) *RunError {
	return newError(ClassTransient, CodeEngineFailure, message, err)
}

func NewInterruptedError(message string) *RunError {
	return newError(ClassPermanent, CodeInterrupted, message, nil)
}

// NewPolicyViolationError wraps a guardrail rejection from the policy gate.
func NewPolicyViolationError(message string) *RunError {
	return newError(ClassPermanent, CodePolicyViolation, message, nil)
}

// IsRetryable returns true if the error's class permits a retry attempt.
// Transient, throttled and conflict errors are retryable; permanent
// errors are not.
func IsRetryable(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		switch e.Class {
		case ClassTransient, ClassThrottled, ClassConflict:
			return true
		}
	}
	return false
}

// IsCode reports whether err is a RunError carrying the given taxonomy
// code, looking through wrapped errors.
func IsCode(err error, code Code) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
