package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures into a small set of
// categories suitable for retry and UX decisions.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth indicates authentication/authorization failures.
	ProviderErrorKindAuth ProviderErrorKind = "auth"
	// ProviderErrorKindInvalidRequest indicates the request is invalid and
	// retrying without changing it will not succeed.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	// ProviderErrorKindRateLimited indicates the provider is throttling.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"
	// ProviderErrorKindUnavailable indicates a transient provider failure
	// (5xx, network) where retrying may succeed.
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"
	// ProviderErrorKindUnknown indicates an unclassified provider failure.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a model provider. The
// Query Formulator, Resolution Generator, and Evaluator wrap it and return
// it; the Workflow Engine maps any error from those stages, ProviderError or
// not, to the workflow-level model_unavailable / evaluator_unavailable error
// kinds (§7).
type ProviderError struct {
	Provider  string
	Operation string
	Kind      ProviderErrorKind
	Retryable bool
	cause     error
}

// NewProviderError constructs a ProviderError. provider and kind are
// required.
func NewProviderError(provider, operation string, kind ProviderErrorKind, retryable bool, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{Provider: provider, Operation: operation, Kind: kind, Retryable: retryable, cause: cause}
}

func (e *ProviderError) Error() string {
	op := e.Operation
	if op == "" {
		op = "complete"
	}
	msg := ""
	if e.cause != nil {
		msg = e.cause.Error()
	}
	return fmt.Sprintf("%s %s(%s): %s", e.Provider, e.Kind, op, msg)
}

// Unwrap returns the underlying provider error to preserve the original
// error chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
