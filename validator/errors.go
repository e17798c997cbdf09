package validator

import "fmt"

// Code is the closed set of error codes that may cross the RPC boundary
// (spec §6). No other code is ever returned from SubmitTransaction.
type Code string

const (
	CodeStructInvalid  Code = "VAL_STRUCT_001"
	CodeHashMismatch   Code = "VAL_HASH_001"
	CodeSigMismatch    Code = "VAL_SIG_002"
	CodeUnknownBP      Code = "VAL_SCHEMA_001"
	CodeSchemaViolation Code = "VAL_SCHEMA_004"
	CodeActionNotPermitted Code = "VAL_BP_001"
	CodeSenderNotAuthorised Code = "VAL_BP_002"
	CodePrevTxMismatch Code = "VAL_BP_003"
	CodeBusy           Code = "VAL_BUSY"
	CodeUnavailable    Code = "VAL_UNAVAILABLE"
)

// ValidationError is the closed error sum type spec §9 calls for: pipeline
// stages are pure functions from input+state to Result<Output,
// ValidationError>. Only the Code and Message fields ever cross the RPC
// boundary (spec §7); any other internal error kind is redacted to
// CodeUnavailable or CodeBusy before it reaches a caller.
type ValidationError struct {
	Code    Code
	Message string
	// cause carries the internal diagnostic (often wrapped with
	// github.com/pkg/errors) for logs only; it is never serialised.
	cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the internal cause to errors.Is/errors.As for logging,
// without leaking it across the RPC boundary (the RPC layer only ever
// reads Code/Message).
func (e *ValidationError) Unwrap() error {
	return e.cause
}

func newValErr(code Code, msg string, cause error) *ValidationError {
	return &ValidationError{Code: code, Message: msg, cause: cause}
}

// Redact maps any non-ValidationError failure to the two internal-only
// codes permitted to cross the RPC boundary for non-deterministic
// failures (spec §7: "all other internal kinds are redacted to
// VAL_UNAVAILABLE or VAL_BUSY").
func Redact(err error) *ValidationError {
	if ve, ok := err.(*ValidationError); ok {
		return ve
	}
	if err == ErrBusy {
		return newValErr(CodeBusy, "pipeline is applying backpressure", err)
	}
	return newValErr(CodeUnavailable, "commit stage unavailable", err)
}
