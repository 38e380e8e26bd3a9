package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error by how the request boundary must treat it.
type ErrorKind string

const (
	// ErrorKindValidation indicates malformed or missing input from the caller.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindDomain indicates an expected business-rule failure.
	// Examples: unknown project, duplicate name, project already running.
	ErrorKindDomain ErrorKind = "domain"

	// ErrorKindInterrupted indicates cooperative cancellation of a run.
	ErrorKindInterrupted ErrorKind = "interrupted"

	// ErrorKindUnexpected indicates a fault the caller cannot act on.
	ErrorKindUnexpected ErrorKind = "unexpected"
)

// Error represents a classified error with project context.
type Error struct {
	// Kind is the classification used by the request boundary.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Op is the lifecycle operation being performed when the error occurred.
	Op string `json:"op,omitempty"`

	// ProjectID is the project the error refers to, if applicable.
	ProjectID string `json:"project_id,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.ProjectID != "" && e.Op != "" {
		msg = fmt.Sprintf("%s (project=%s, op=%s)", msg, e.ProjectID, e.Op)
	} else if e.Op != "" {
		msg = fmt.Sprintf("%s (op=%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message, Err: err}
}

// NewDomainError creates a new domain error.
func NewDomainError(message string, err error) *Error {
	return &Error{Kind: ErrorKindDomain, Message: message, Err: err}
}

// NewInterruptedError creates a new interruption error.
func NewInterruptedError(message string, err error) *Error {
	return &Error{Kind: ErrorKindInterrupted, Message: message, Err: err}
}

// NewUnexpectedError creates a new unexpected error.
func NewUnexpectedError(message string, err error) *Error {
	return &Error{Kind: ErrorKindUnexpected, Message: message, Err: err}
}

// WithOp adds operation context to an error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithProject adds project context to an error.
func (e *Error) WithProject(projectID string) *Error {
	e.ProjectID = projectID
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or
// ErrorKindUnexpected when the chain carries no classification.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindUnexpected
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return KindOf(err) == ErrorKindValidation
}

// IsDomain checks if an error is a domain error.
func IsDomain(err error) bool {
	return KindOf(err) == ErrorKindDomain
}

// IsInterrupted checks if an error is an interruption.
func IsInterrupted(err error) bool {
	return KindOf(err) == ErrorKindInterrupted
}

// Sentinel domain errors.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrBranchNotFound    = errors.New("branch not found")
	ErrStepOutOfRange    = errors.New("step out of range")
	ErrCorruptCheckpoint = errors.New("corrupted checkpoint data")
	ErrProjectRunning    = errors.New("project is running")
	ErrAlreadyRunning    = errors.New("project is already running")
	ErrDuplicateName     = errors.New("project name already exists")
	ErrNotLoaded         = errors.New("no project loaded")
	ErrPolicyDenied      = errors.New("denied by policy")
	ErrInvalidName       = errors.New("invalid project name")
	ErrStorageRejected   = errors.New("storage rejected project")
)
