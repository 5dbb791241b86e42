package weibo

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the tool response and decides retry policy.
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindUnauthenticated Kind = "unauthenticated"
	KindRateLimited     Kind = "rate_limited"
	KindUpstreamFormat  Kind = "upstream_format"
	KindNetwork         Kind = "network"
	KindInternal        Kind = "internal"
)

// Error carries a machine-readable kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and the operation that failed.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindInternal
}

// Retryable reports whether the dispatcher may transparently retry the call.
// Rate-limit retries go through the shared backoff gate; network retries are
// plain bounded retries. Format errors are defect signals and never retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindNetwork:
		return true
	}
	return false
}
