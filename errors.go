package guard

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes identify guard failure classes across transports.
const (
	TextCodeConfiguration     = "CONFIGURATION_ERROR"
	TextCodeRuleNotFound      = "RULE_NOT_FOUND"
	TextCodeMissingRuleField  = "MISSING_RULE_FIELD"
	TextCodeInvalidArgument   = "INVALID_ARGUMENT"
	TextCodeDuplicateTracking = "DUPLICATE_TRACKING"
	TextCodeTableNotFound     = "TABLE_NOT_FOUND"
	TextCodePersistence       = "PERSISTENCE_ERROR"
)

// ErrUnauthorized is the uniform rejection for denied requests. It carries no
// detail about which check failed.
var ErrUnauthorized = goerrors.New("Unauthorized access", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotInitialized is returned by package level accessors used before Initialize.
var ErrNotInitialized = goerrors.New("guard engine has not been initialized", goerrors.CategoryInternal)

// NewConfigurationError reports every misconfigured rule at once. fieldErrors
// maps rule name to its validation errors.
func NewConfigurationError(msg string, fieldErrors map[string]any) *goerrors.Error {
	err := goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode(TextCodeConfiguration).
		WithCode(goerrors.CodeBadRequest)
	if len(fieldErrors) > 0 {
		err = err.WithMetadata(map[string]any{"rules": fieldErrors})
	}
	return err
}

// NewRuleNotFoundError signals a lookup for a rule name that was never registered.
func NewRuleNotFoundError(name string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("authentication rule %q is not registered", name), goerrors.CategoryNotFound).
		WithTextCode(TextCodeRuleNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{"rule": name})
}

// NewMissingFieldError signals a required rule field that resolved empty at use time.
func NewMissingFieldError(rule, field string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("rule %q does not define %q", rule, field), goerrors.CategoryInternal).
		WithTextCode(TextCodeMissingRuleField).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"rule": rule, "field": field})
}

// NewInvalidArgumentError signals malformed issuance or authentication arguments.
func NewInvalidArgumentError(msg string, meta map[string]any) *goerrors.Error {
	err := goerrors.New(msg, goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidArgument).
		WithCode(goerrors.CodeBadRequest)
	if len(meta) > 0 {
		err = err.WithMetadata(meta)
	}
	return err
}

// NewDuplicateTrackingError signals a second issuance for an entity under a
// rule that forbids duplicate tracking.
func NewDuplicateTrackingError(rule string, entityID any) *goerrors.Error {
	return goerrors.New("a tracked token already exists for this entity", goerrors.CategoryConflict).
		WithTextCode(TextCodeDuplicateTracking).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{"rule": rule, "entity_id": fmt.Sprint(entityID)})
}

// NewTableNotFoundError signals a rule referencing a table that was never
// registered with the gateway. Raised at setup, not at first use.
func NewTableNotFoundError(ref string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("no table registered for reference %q", ref), goerrors.CategoryValidation).
		WithTextCode(TextCodeTableNotFound).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"table_ref": ref})
}

// NewPersistenceError wraps a storage failure. Never swallowed, always propagated.
func NewPersistenceError(err error, op string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("persistence operation %s failed", op)).
		WithTextCode(TextCodePersistence).
		WithCode(goerrors.CodeInternal)
}

// HasTextCode reports whether err (or anything it wraps) carries the given text code.
func HasTextCode(err error, code string) bool {
	var ge *goerrors.Error
	if !errors.As(err, &ge) {
		return false
	}
	return string(ge.TextCode) == code
}

func IsConfigurationError(err error) bool { return HasTextCode(err, TextCodeConfiguration) }

func IsRuleNotFound(err error) bool { return HasTextCode(err, TextCodeRuleNotFound) }

func IsMissingFieldError(err error) bool { return HasTextCode(err, TextCodeMissingRuleField) }

func IsInvalidArgument(err error) bool { return HasTextCode(err, TextCodeInvalidArgument) }

func IsDuplicateTracking(err error) bool { return HasTextCode(err, TextCodeDuplicateTracking) }

func IsTableNotFound(err error) bool { return HasTextCode(err, TextCodeTableNotFound) }

func IsPersistenceError(err error) bool { return HasTextCode(err, TextCodePersistence) }
