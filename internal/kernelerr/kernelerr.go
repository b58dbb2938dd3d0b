// Package kernelerr implements the stable error taxonomy every kernel
// component reports through. Every user-visible failure carries a Code, a
// short message, and optionally a remediation hint and a used/limit pair,
// per the error handling design.
package kernelerr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	// Validation
	CodeDuplicateTaskId   Code = "DuplicateTaskId"
	CodeUnknownTask       Code = "UnknownTask"
	CodeInvalidTransition Code = "InvalidTransition"

	// Structural
	CodeCycleDetected Code = "CycleDetected"

	// Budget
	CodeTokenLimitExceeded   Code = "TokenLimitExceeded"
	CodeCostLimitExceeded    Code = "CostLimitExceeded"
	CodeApiCallLimitExceeded Code = "ApiCallLimitExceeded"
	CodeTimeLimitExceeded    Code = "TimeLimitExceeded"
	CodeContractViolation    Code = "ContractViolation"
	CodeContractClosed       Code = "ContractClosed"
	CodeContractExceeded     Code = "ContractExceeded"

	// Routing
	CodeNoAvailableTier Code = "NoAvailableTier"
	CodeUnknownModel    Code = "UnknownModel"

	// Dependency health
	CodeCircuitOpen        Code = "CircuitOpen"
	CodeProviderTimeout    Code = "ProviderTimeout"
	CodeProviderTransient  Code = "ProviderTransient"

	// Concurrency
	CodeAcquireTimeout Code = "AcquireTimeout"
	CodeShutdown       Code = "Shutdown"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Code       Code
	Message    string
	Hint       string
	Used       float64
	Limit      float64
	HasUsage   bool
	wrapped    error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithHint attaches a remediation hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithUsage attaches the used/limit pair surfaced for budget errors.
func (e *Error) WithUsage(used, limit float64) *Error {
	e.Used, e.Limit, e.HasUsage = used, limit, true
	return e
}

// WithWrapped records an underlying cause for errors.Is/As chains.
func (e *Error) WithWrapped(cause error) *Error {
	e.wrapped = cause
	return e
}

// CodeOf extracts the Code from err, or "" if err is not (or does not wrap)
// a *Error.
func CodeOf(err error) Code {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

var (
	ErrDuplicateTaskId   = New(CodeDuplicateTaskId, "task id already present in the DAG")
	ErrUnknownTask       = New(CodeUnknownTask, "task id not found")
	ErrCycleDetected     = New(CodeCycleDetected, "dependency would introduce a cycle")
	ErrInvalidTransition = New(CodeInvalidTransition, "status transition not permitted")
	ErrContractClosed    = New(CodeContractClosed, "contract is no longer active")
	ErrNoAvailableTier   = New(CodeNoAvailableTier, "no further escalation tier available")
	ErrUnknownModel      = New(CodeUnknownModel, "model not present in catalogue")
	ErrCircuitOpen       = New(CodeCircuitOpen, "circuit breaker is open for this provider")
	ErrAcquireTimeout    = New(CodeAcquireTimeout, "timed out waiting for a worker permit")
	ErrShutdown          = New(CodeShutdown, "worker pool is shutting down")
)
