package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stable application error codes surfaced in Result.Error.Code.
const (
	CodeAuthFailed         = "AUTH_FAILED"
	CodeRateLimit          = "RATE_LIMIT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeUnknownTool        = "UNKNOWN_TOOL"
	CodePolicyBlocked      = "POLICY_BLOCKED"
	CodeUnknownError       = "UNKNOWN_ERROR"
)

// ServiceError is an application-level error with a stable string code.
type ServiceError struct {
	Code    string
	Message string
	Details interface{}

	// RetryAfter is honored by the retry policy for rate-limit errors.
	RetryAfter time.Duration
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewServiceError creates an error with an arbitrary application code.
func NewServiceError(code, message string, details interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: message, Details: details}
}

// NewAuthError creates an authentication failure. Never retried.
func NewAuthError(message string) *ServiceError {
	return &ServiceError{Code: CodeAuthFailed, Message: message}
}

// NewClientError creates a caller-misuse error. Client errors are never
// retried and do not count toward tripping a circuit breaker.
func NewClientError(message string) *ServiceError {
	return &ServiceError{Code: "CLIENT_ERROR", Message: message}
}

// NewRateLimitError creates a rate-limit error with an optional server-
// indicated delay before the next attempt.
func NewRateLimitError(retryAfter time.Duration) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimit,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// NewUnavailableError creates a downstream-unavailable error.
func NewUnavailableError(message string) *ServiceError {
	return &ServiceError{Code: CodeServiceUnavailable, Message: message}
}

// AsServiceError unwraps err to a ServiceError if there is one in the chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsClientError reports whether err is caller misuse rather than a
// downstream failure: authentication failures, validation failures, and
// anything carrying a CLIENT_-prefixed code.
func IsClientError(err error) bool {
	se, ok := AsServiceError(err)
	if !ok {
		return false
	}
	switch se.Code {
	case CodeAuthFailed, CodeValidationError, CodePolicyBlocked,
		CodeSenderNotRegistered, CodeRecipientNotRegistered, CodeAgentNotFound:
		return true
	}
	return strings.HasPrefix(se.Code, "CLIENT")
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	se, ok := AsServiceError(err)
	return ok && se.Code == CodeAuthFailed
}

// IsRateLimitError reports whether err is a rate-limit error, returning the
// server-indicated delay when present.
func IsRateLimitError(err error) (time.Duration, bool) {
	se, ok := AsServiceError(err)
	if !ok || se.Code != CodeRateLimit {
		return 0, false
	}
	return se.RetryAfter, true
}

// Routing error codes.
const (
	CodeSenderNotRegistered    = "SENDER_NOT_REGISTERED"
	CodeRecipientNotRegistered = "RECIPIENT_NOT_REGISTERED"
	CodeAgentNotFound          = "AGENT_NOT_FOUND"
)

// Routing errors. The wire layer maps these to invalid-params responses
// whose message contains "not registered".
var (
	ErrSenderNotRegistered    = NewServiceError(CodeSenderNotRegistered, "sender agent not registered", nil)
	ErrRecipientNotRegistered = NewServiceError(CodeRecipientNotRegistered, "recipient agent not registered", nil)
	ErrAgentNotFound          = NewServiceError(CodeAgentNotFound, "agent not registered", nil)
)
