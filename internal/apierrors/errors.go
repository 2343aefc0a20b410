// Package apierrors defines the closed taxonomy of error kinds the trust
// subsystem returns, in the shape of the teacher's infrastructure/errors
// package: a typed code, a human message, an optional wrapped cause, and a
// details map for structured context.
package apierrors

import "fmt"

// Code identifies the kind of failure. The set is closed; callers switch on
// it rather than on error strings.
type Code string

const (
	CodeNotFound                   Code = "NOT_FOUND"
	CodeAlreadyExists              Code = "ALREADY_EXISTS"
	CodeInvalidInput               Code = "INVALID_INPUT"
	CodeInsufficientTrust          Code = "INSUFFICIENT_TRUST"
	CodeTrustFrozen                Code = "TRUST_FROZEN"
	CodeUnauthorized               Code = "UNAUTHORIZED"
	CodeInvalidCapabilitySignature Code = "INVALID_CAPABILITY_SIGNATURE"
	CodeCircuitOpen                Code = "CIRCUIT_OPEN"
	CodeDenied                     Code = "DENIED"
	CodeUnavailable                Code = "UNAVAILABLE"
	CodeTimeout                    Code = "TIMEOUT"
)

// Error is the concrete error type every public API in this module returns.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e with the given detail key/value attached.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newErr(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a CodeNotFound error for the given resource kind/id.
func NotFound(kind, id string) *Error {
	return newErr(CodeNotFound, "%s %q not found", kind, id)
}

// AlreadyExists builds a CodeAlreadyExists error for the given resource kind/id.
func AlreadyExists(kind, id string) *Error {
	return newErr(CodeAlreadyExists, "%s %q already exists", kind, id)
}

// InvalidInput builds a CodeInvalidInput error describing what was wrong.
func InvalidInput(format string, args ...interface{}) *Error {
	return newErr(CodeInvalidInput, format, args...)
}

// InsufficientTrust builds a CodeInsufficientTrust error for a tier/score gate.
func InsufficientTrust(agentID string, have, need int) *Error {
	return newErr(CodeInsufficientTrust, "agent %q has trust score %d, needs %d", agentID, have, need)
}

// TrustFrozen builds a CodeTrustFrozen error for a frozen agent.
func TrustFrozen(agentID, reason string) *Error {
	return newErr(CodeTrustFrozen, "agent %q is frozen: %s", agentID, reason)
}

// Unauthorized builds a CodeUnauthorized error.
func Unauthorized(format string, args ...interface{}) *Error {
	return newErr(CodeUnauthorized, format, args...)
}

// InvalidCapabilitySignature builds a CodeInvalidCapabilitySignature error.
func InvalidCapabilitySignature(capabilityID string) *Error {
	return newErr(CodeInvalidCapabilitySignature, "capability %q failed signature verification", capabilityID)
}

// CircuitOpen builds a CodeCircuitOpen error for a tripped breaker.
func CircuitOpen(agentID, category string) *Error {
	return newErr(CodeCircuitOpen, "circuit breaker open for agent %q category %q", agentID, category)
}

// Denied builds a CodeDenied error for a policy/confirmation-matrix denial.
func Denied(format string, args ...interface{}) *Error {
	return newErr(CodeDenied, format, args...)
}

// Unavailable builds a CodeUnavailable error, typically from a backing store.
func Unavailable(format string, args ...interface{}) *Error {
	return newErr(CodeUnavailable, format, args...)
}

// Timeout builds a CodeTimeout error.
func Timeout(format string, args ...interface{}) *Error {
	return newErr(CodeTimeout, format, args...)
}

// Wrap attaches an underlying cause to an existing Error, returning a copy.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// IsCode reports whether err is an *Error with the given code. It checks err
// itself only; an *Error wrapped inside another error is not unwrapped.
func IsCode(err error, code Code) bool {
	var e *Error
	if ae, ok := err.(*Error); ok {
		e = ae
	} else {
		return false
	}
	return e.Code == code
}
