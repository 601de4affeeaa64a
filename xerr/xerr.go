// Package xerr defines the error-kind taxonomy shared across the indexing
// pipeline.
package xerr

import "fmt"

// Kind tags an error with one of the six propagation behaviors the sync
// driver, fan-out engine, and query surface dispatch on.
type Kind string

const (
	// Protocol marks malformed peer JSON, a bad varint, a size mismatch, or
	// a pubkey/signature that fails to parse when required. Fatal for the
	// current request only; the fan-out engine re-queues the segment.
	Protocol Kind = "PROTOCOL"
	// Integrity marks a tx signature mismatch, a block hash mismatch, or a
	// parent-hash mismatch. The block is refused; the sync loop continues.
	Integrity Kind = "INTEGRITY"
	// Storage marks a KV put/get failure.
	Storage Kind = "STORAGE"
	// NotFound marks a block/tx absent from the KV store or resolver.
	NotFound Kind = "NOT_FOUND"
	// User marks a malformed request to the query surface.
	User Kind = "USER"
	// Cancelled marks a stop-flag observation; never logged as an error.
	Cancelled Kind = "CANCELLED"
)

// Error is the concrete error type carried through the pipeline. It never
// represents a host-language exception; every layer constructs one of
// these explicitly and returns it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a Kind-tagged error around an underlying cause.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ex, ok := err.(*Error); ok {
			e = ex
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
