// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with machine-readable
// codes for the orchestration core.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies orchestration errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeSchema indicates a malformed tool or skill descriptor.
	// Fails fast at registration time; never retried.
	CodeSchema ErrorCode = "SCHEMA_ERROR"

	// CodeUnknownTool indicates a tool name absent from the registry.
	CodeUnknownTool ErrorCode = "UNKNOWN_TOOL"

	// CodeUnknownAgent indicates an agent id absent from the directory.
	CodeUnknownAgent ErrorCode = "UNKNOWN_AGENT"

	// CodeArgumentMismatch indicates arguments that violate a tool's
	// parameter schema. Reported back into the planning loop so the
	// reasoning step can self-correct.
	CodeArgumentMismatch ErrorCode = "ARGUMENT_MISMATCH"

	// CodeToolFailure wraps an error raised by a tool executable.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeReasoningUnavailable indicates a transient reasoning service
	// outage. Retried with backoff up to a configured bound.
	CodeReasoningUnavailable ErrorCode = "REASONING_UNAVAILABLE"

	// CodeReasoningMalformed indicates the reasoning service returned
	// output that cannot be parsed into a decision. Not retryable.
	CodeReasoningMalformed ErrorCode = "REASONING_MALFORMED"

	// CodeDelegationTimeout indicates a delegation deadline elapsed
	// with no matching response. Retryable up to a bounded count.
	CodeDelegationTimeout ErrorCode = "DELEGATION_TIMED_OUT"

	// CodeDelegationFailed indicates a transport-level delegation
	// failure. Not retried automatically.
	CodeDelegationFailed ErrorCode = "DELEGATION_FAILED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates the surrounding context was cancelled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"
)

// GatherError is a typed error with context for observability.
// It implements the error interface and supports errors.As traversal.
type GatherError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *GatherError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *GatherError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *GatherError) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"code":        string(e.Code),
		"message":     e.Error(),
		"recoverable": e.Recoverable,
	}
	if len(e.Context) > 0 {
		payload["context"] = e.Context
	}
	return json.Marshal(payload)
}

// New creates a GatherError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *GatherError {
	return &GatherError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]any),
		Recoverable: recoverableByDefault(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *GatherError) WithContext(key string, value any) *GatherError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable overrides whether the error can be recovered from.
func (e *GatherError) WithRecoverable(recoverable bool) *GatherError {
	e.Recoverable = recoverable
	return e
}

// AsGatherError converts err to a GatherError, wrapping unknown
// errors under CodeInternal.
func AsGatherError(err error) *GatherError {
	if err == nil {
		return nil
	}
	var ge *GatherError
	if stderrors.As(err, &ge) {
		return ge
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var ge *GatherError
	if !stderrors.As(err, &ge) {
		return false
	}
	return ge.Code == code
}

// IsRecoverable reports whether err is marked recoverable.
// Untyped errors are not considered recoverable.
func IsRecoverable(err error) bool {
	var ge *GatherError
	if !stderrors.As(err, &ge) {
		return false
	}
	return ge.Recoverable
}

func recoverableByDefault(code ErrorCode) bool {
	switch code {
	case CodeReasoningUnavailable, CodeDelegationTimeout, CodeTimeout:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to HTTP status codes for the
// delegation wire protocol.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeUnknownTool, CodeUnknownAgent:
		return 404
	case CodeArgumentMismatch, CodeSchema:
		return 400
	case CodeTimeout, CodeDelegationTimeout:
		return 408
	case CodeReasoningUnavailable:
		return 503
	default:
		return 500
	}
}
