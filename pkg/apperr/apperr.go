// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package apperr defines the error taxonomy shared by the gateway and the
// tool server. Every error carries a stable kind; the error-handler
// middleware maps kinds to JSON-RPC error codes and HTTP statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure with stable wire mappings.
type Kind string

// Error kinds.
const (
	KindValidation         Kind = "validation_error"
	KindAuthentication     Kind = "authentication_error"
	KindAuthorization      Kind = "authorization_error"
	KindRateLimit          Kind = "rate_limit_error"
	KindNotFound           Kind = "not_found"
	KindRetriever          Kind = "retriever_error"
	KindGateway            Kind = "gateway_error"
	KindServiceUnavailable Kind = "service_unavailable"
	KindInternal           Kind = "internal_error"
)

// JSON-RPC error codes per kind.
const (
	CodeValidation         = -32602
	CodeAuthentication     = -32040
	CodeAuthorization      = -32041
	CodeRateLimit          = -32045
	CodeNotFound           = -32601
	CodeServiceUnavailable = -32000
	CodeInternal           = -32603
)

// Error represents an error in the application.
type Error struct {
	// Kind is the stable error classification.
	Kind Kind

	// Message is the user-visible message. It must not carry internal
	// detail; the cause is for logs only.
	Message string

	// Cause is the underlying error.
	Cause error

	// Data carries optional structured detail included in the JSON-RPC
	// error object (e.g. retry_after for rate limits, a deny reason for
	// authorization failures).
	Data map[string]any
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithData attaches a structured detail field and returns the error.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// New creates a new error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, cause error) *Error {
	return New(KindValidation, message, cause)
}

// NewAuthenticationError creates a new authentication error.
//
// The message is intentionally generic: signature failure, expiry, wrong
// token kind, and revocation all surface identically to callers. The cause
// records the specific reason for internal logs.
func NewAuthenticationError(cause error) *Error {
	return New(KindAuthentication, "invalid credentials", cause)
}

// NewAuthorizationError creates a new authorization error.
func NewAuthorizationError(message string, cause error) *Error {
	return New(KindAuthorization, message, cause)
}

// NewRateLimitError creates a new rate limit error carrying the number of
// seconds until the most-constrained bucket replenishes one token.
func NewRateLimitError(retryAfterSeconds float64) *Error {
	e := New(KindRateLimit, "rate limit exceeded", nil)
	return e.WithData("retry_after", retryAfterSeconds)
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, cause error) *Error {
	return New(KindNotFound, message, cause)
}

// NewRetrieverError creates a new retriever error.
func NewRetrieverError(message string, cause error) *Error {
	return New(KindRetriever, message, cause)
}

// NewGatewayError creates a new gateway error. The message must not leak
// the upstream address.
func NewGatewayError(cause error) *Error {
	return New(KindGateway, "upstream unavailable", cause)
}

// NewServiceUnavailableError creates a new service unavailable error.
func NewServiceUnavailableError(message string, cause error) *Error {
	return New(KindServiceUnavailable, message, cause)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// As extracts an *Error from err, normalizing unknown errors to an
// internal error with a generic message.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError("internal error", err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsAuthentication checks if the error is an authentication error.
func IsAuthentication(err error) bool { return IsKind(err, KindAuthentication) }

// IsAuthorization checks if the error is an authorization error.
func IsAuthorization(err error) bool { return IsKind(err, KindAuthorization) }

// IsRateLimit checks if the error is a rate limit error.
func IsRateLimit(err error) bool { return IsKind(err, KindRateLimit) }

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// JSONRPCCode returns the JSON-RPC error code for the error's kind.
func (e *Error) JSONRPCCode() int {
	switch e.Kind {
	case KindValidation:
		return CodeValidation
	case KindAuthentication:
		return CodeAuthentication
	case KindAuthorization:
		return CodeAuthorization
	case KindRateLimit:
		return CodeRateLimit
	case KindNotFound:
		return CodeNotFound
	case KindServiceUnavailable:
		return CodeServiceUnavailable
	case KindRetriever, KindGateway, KindInternal:
		return CodeInternal
	default:
		return CodeInternal
	}
}

// HTTPStatus returns the transport status for the error's kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindRetriever, KindGateway:
		return http.StatusBadGateway
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
