package events

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperation is returned when a push-only operation is requested
// on a transport without subscription support.
var ErrUnsupportedOperation = errors.New("operation requires a push-capable transport")

// TransportError wraps a transient connection-level failure (refused,
// dropped, timed out). Registrations survive it; the failed operation is
// retried on the next tick.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a transport failure of the given operation.
func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// ProviderError reports a query the node rejected or answered malformed.
// Permanent provider errors terminate the registration; transient ones are
// retried like transport errors.
type ProviderError struct {
	Op        string
	Permanent bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s provider error during %s: %v", kind, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err as a provider failure of the given operation.
func NewProviderError(op string, permanent bool, err error) error {
	return &ProviderError{Op: op, Permanent: permanent, Err: err}
}

// MalformedRecordError reports a single record that failed to parse. The
// record is skipped; siblings in the same batch are still processed.
type MalformedRecordError struct {
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed record: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed record: %s", e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// NewMalformedRecordError wraps err as a parse failure of a single record.
func NewMalformedRecordError(reason string, err error) error {
	return &MalformedRecordError{Reason: reason, Err: err}
}

// CacheInvariantError indicates the tracker caches violated their size or
// consistency invariants. It is a bug, always fatal for the tracker that
// raised it, and must never be swallowed.
type CacheInvariantError struct {
	Details string
}

func (e *CacheInvariantError) Error() string {
	return fmt.Sprintf("cache invariant violated: %s", e.Details)
}

// NewCacheInvariantError creates a CacheInvariantError with the given details.
func NewCacheInvariantError(format string, args ...any) error {
	return &CacheInvariantError{Details: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err should terminate the registration that
// observed it, per the propagation policy: permanent provider errors and
// cache invariant violations are fatal, everything else is retried.
func IsFatal(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Permanent
	}
	var cacheErr *CacheInvariantError
	return errors.As(err, &cacheErr)
}
