package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/froyo/pkg/plugin"
)

// ErrorClass represents the classification of a router error.
type ErrorClass string

const (
	// ErrorClassParameter indicates the caller asked for something the
	// configured plugins cannot provide. Surface to the user, do not retry.
	ErrorClassParameter ErrorClass = "parameter"

	// ErrorClassValidation indicates a handler returned outputs that violate
	// the action type's schema.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConfiguration indicates the plugin set itself is inconsistent.
	ErrorClassConfiguration ErrorClass = "configuration"
)

// Common error codes.
const (
	ErrCodeMissingAction    = "MISSING_ACTION"
	ErrCodeHandlerNotFound  = "HANDLER_NOT_FOUND"
	ErrCodeOutputValidation = "OUTPUT_VALIDATION"
	ErrCodeInvalidPlugin    = "INVALID_PLUGIN"
	ErrCodeUnknownType      = "UNKNOWN_TYPE"
	ErrCodeDuplicateType    = "DUPLICATE_TYPE"
	ErrCodeBaseCycle        = "BASE_CYCLE"
	ErrCodeInvalidSchema    = "INVALID_SCHEMA"
)

// ValidationIssue is a single schema violation in a handler's outputs.
type ValidationIssue struct {
	// Key is the top-level output key the issue concerns, if any.
	Key string `json:"key,omitempty"`

	// Path is the JSON pointer of the offending value (e.g. "/foo/0").
	Path string `json:"path"`

	// Keyword is the schema keyword that failed (required, type, ...).
	Keyword string `json:"keyword"`

	Message string `json:"message"`
}

// Error is a classified router error.
type Error struct {
	Class   ErrorClass `json:"class"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`

	Kind        plugin.Kind        `json:"kind,omitempty"`
	ActionName  string             `json:"actionName,omitempty"`
	ActionType  string             `json:"actionType,omitempty"`
	HandlerType plugin.HandlerType `json:"handlerType,omitempty"`

	// Issues holds per-key detail for validation errors.
	Issues []ValidationIssue `json:"issues,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Issues) > 0 {
		parts := make([]string, len(e.Issues))
		for i, issue := range e.Issues {
			if issue.Key != "" {
				parts[i] = fmt.Sprintf("key %q: %s", issue.Key, issue.Message)
			} else {
				parts[i] = issue.Message
			}
		}
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(parts, "; "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithAction adds action context to an error.
func (e *Error) WithAction(a plugin.Action) *Error {
	e.Kind = a.Kind()
	e.ActionName = a.Name()
	e.ActionType = a.Type()
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// NewConfigurationError creates an error for an inconsistent plugin set.
func NewConfigurationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassConfiguration,
		Code:    ErrCodeInvalidPlugin,
		Message: message,
		Err:     err,
	}
}

// newResolutionError is raised when no handler can be found for a query.
func newResolutionError(kind plugin.Kind, actionType string, handlerType plugin.HandlerType) *Error {
	return &Error{
		Class:       ErrorClassParameter,
		Code:        ErrCodeHandlerNotFound,
		Message:     fmt.Sprintf("No '%s' handler configured for %s type '%s'. Are you missing a provider configuration?", handlerType, kind, actionType),
		Kind:        kind,
		ActionType:  actionType,
		HandlerType: handlerType,
	}
}

// forAction rewrites a resolution error so it names the action as well.
func (e *Error) forAction(a plugin.Action) *Error {
	out := *e
	out.WithAction(a)
	out.Message = fmt.Sprintf("No '%s' handler configured for %s '%s' (type '%s'). Are you missing a provider configuration?",
		e.HandlerType, a.Kind(), a.Name(), a.Type())
	return &out
}

// newValidationError is raised when outputs fail schema validation.
func newValidationError(a plugin.Action, outputKind plugin.OutputKind, issues []ValidationIssue, err error) *Error {
	e := &Error{
		Class:   ErrorClassValidation,
		Code:    ErrCodeOutputValidation,
		Message: fmt.Sprintf("Error validating %s action outputs from %s '%s'", outputKind, a.Kind(), a.Name()),
		Issues:  issues,
		Err:     err,
	}
	return e.WithAction(a)
}

// IsResolutionError reports whether err is a handler resolution failure.
func IsResolutionError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassParameter && e.Code == ErrCodeHandlerNotFound
	}
	return false
}

// IsValidationError reports whether err is an output validation failure.
func IsValidationError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsConfigurationError reports whether err describes an inconsistent plugin set.
func IsConfigurationError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// newUnknownTypeError is raised when an action names a type no plugin creates.
func newUnknownTypeError(kind plugin.Kind, actionType string) *Error {
	return &Error{
		Class:      ErrorClassParameter,
		Code:       ErrCodeUnknownType,
		Message:    fmt.Sprintf("Unrecognized %s type '%s'. Are you missing a provider configuration?", kind, actionType),
		Kind:       kind,
		ActionType: actionType,
	}
}
