// Package errors provides structured error handling for TriBridRAG.
//
// Every surfaced error carries a stable machine-readable Kind so callers
// (CLI, collaborating services) can branch on failure class without parsing
// message strings. Stack traces never appear in client-visible form.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic handling.
type Kind string

const (
	// KindConfig indicates an invalid or missing required setting.
	// Fatal at startup or on config reload.
	KindConfig Kind = "config"

	// KindManifestMismatch indicates a query-time embedding dimension or
	// tokenizer disagreement with the stored manifest. Fatal for that query.
	KindManifestMismatch Kind = "manifest_mismatch"

	// KindUpstreamTimeout indicates a retriever, embedder, or reranker call
	// ran past its deadline.
	KindUpstreamTimeout Kind = "upstream_timeout"

	// KindUpstreamFailure indicates a retriever, embedder, or reranker call
	// failed outright.
	KindUpstreamFailure Kind = "upstream_failure"

	// KindAllRetrieversFailed indicates fusion had nothing to fuse.
	KindAllRetrieversFailed Kind = "all_retrievers_failed"

	// KindRerankerUnavailable indicates the reranker model is not loaded and
	// cold load failed.
	KindRerankerUnavailable Kind = "reranker_unavailable"

	// KindBuildConflict indicates a build was requested while one is already
	// in progress for the same corpus.
	KindBuildConflict Kind = "build_conflict"

	// KindBuildFailed indicates indexing aborted mid-way.
	KindBuildFailed Kind = "build_failed"

	// KindCapacity indicates a full queue or in-memory cache. Retryable.
	KindCapacity Kind = "capacity"

	// KindInvalidInput indicates a malformed query or argument.
	KindInvalidInput Kind = "invalid_input"

	// KindNotFound indicates a missing corpus, chunk, or adapter.
	KindNotFound Kind = "not_found"

	// KindPromotionRefused indicates a trained adapter did not beat the
	// stored baseline by the required margin. The active adapter is unchanged.
	KindPromotionRefused Kind = "promotion_refused"

	// KindInternal indicates an unexpected internal failure.
	KindInternal Kind = "internal"
)

// Error is the structured error type for TriBridRAG.
type Error struct {
	// Kind is the stable machine-readable failure class.
	Kind Kind

	// Message is the short human-readable reason.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the operation may be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is against sentinel *Error values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
// Retryability is derived from the kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: retryableKind(kind),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error of the given kind around an existing error.
// Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Message:   message,
		Cause:     err,
		Retryable: retryableKind(kind),
	}
}

// KindOf extracts the kind from an error chain.
// Returns KindInternal for non-structured errors, "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the error may be retried.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// retryableKind reports whether a kind is retryable by default.
func retryableKind(kind Kind) bool {
	switch kind {
	case KindUpstreamTimeout, KindUpstreamFailure, KindCapacity:
		return true
	default:
		return false
	}
}
