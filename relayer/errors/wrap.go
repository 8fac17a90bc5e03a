package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// KindOf returns the Kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind checks if an error is an Error with the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// From converts any error into an *Error. Context cancellation and deadline
// errors become transient; everything else unrecognised is internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(ReasonCanceled, "operation abandoned", err)
	}
	if IsTransient(err) {
		return Transient("", "remote call failed", err)
	}
	return Internal("unexpected failure", err)
}

var transientNetworkPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"deadline exceeded",
	"temporary failure",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"eof",
	"node is behind",
	"no such host",
}

var anchorExpiryPatterns = []string{
	"blockhash not found",
	"block height exceeded",
	"blockhash expired",
}

// IsTransient checks if an error is worth retrying. Anchor expiry counts as
// transient here; use IsTransientNetwork where a fresh anchor is required
// before a retry makes sense.
func IsTransient(err error) bool {
	return IsTransientNetwork(err) || IsAnchorExpired(err)
}

// IsTransientNetwork checks for transport-level failures only
func IsTransientNetwork(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransient && e.Reason != ReasonBlockhashExpired && e.Reason != ReasonCanceled
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return containsAny(err.Error(), transientNetworkPatterns) && !containsAny(err.Error(), anchorExpiryPatterns)
}

// IsAnchorExpired checks if a submission failed because its recent blockhash
// is no longer accepted by the ledger.
func IsAnchorExpired(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindTransient && e.Reason == ReasonBlockhashExpired {
		return true
	}
	return containsAny(err.Error(), anchorExpiryPatterns)
}

func containsAny(s string, patterns []string) bool {
	s = strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
