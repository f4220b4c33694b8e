// Package ingesterr defines the error taxonomy shared by every component of
// the ingestion pipeline. Workers classify every failure into exactly one of
// these kinds before deciding how to transition the progress ledger.
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the error handling design.
type Kind int

const (
	// KindNotFound means the source blob does not exist for (exchange, date).
	KindNotFound Kind = iota
	// KindTransientIO means a retryable network/object-store/remote-database failure.
	KindTransientIO
	// KindDataMalformed means the decoder or bulk loader rejected a record.
	KindDataMalformed
	// KindLedgerConflict means claim() found an active started record owned elsewhere.
	KindLedgerConflict
	// KindCancelled means the cancellation token fired before a transaction boundary.
	KindCancelled
	// KindRemoteDegraded means the Remote Ledger Store is unreachable; never surfaced
	// to a worker result, only logged.
	KindRemoteDegraded
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransientIO:
		return "transient_io"
	case KindDataMalformed:
		return "data_malformed"
	case KindLedgerConflict:
		return "ledger_conflict"
	case KindCancelled:
		return "cancelled"
	case KindRemoteDegraded:
		return "remote_degraded"
	default:
		return "unknown"
	}
}

// Error is a classified ingestion error carrying its Kind alongside a cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err (or something it wraps) is a classified Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NotFound builds a KindNotFound error.
func NotFound(msg string, cause error) *Error { return New(KindNotFound, msg, cause) }

// TransientIO builds a KindTransientIO error.
func TransientIO(msg string, cause error) *Error { return New(KindTransientIO, msg, cause) }

// DataMalformed builds a KindDataMalformed error.
func DataMalformed(msg string, cause error) *Error { return New(KindDataMalformed, msg, cause) }

// LedgerConflict builds a KindLedgerConflict error.
func LedgerConflict(msg string) *Error { return New(KindLedgerConflict, msg, nil) }

// Cancelled builds a KindCancelled error.
func Cancelled(reason string) *Error { return New(KindCancelled, reason, nil) }

// Abbreviate trims an error message to a bounded length for storage in
// Progress Record's error_message column.
func Abbreviate(err error, maxLen int) string {
	s := err.Error()
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...(truncated)"
}
