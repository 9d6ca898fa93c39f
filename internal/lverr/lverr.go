// Package lverr classifies errors raised while walking a drive's GPT,
// LVM2 physical volumes, and text metadata, so callers can tell a bad
// drive apart from a corrupt volume without string-matching messages.
package lverr

import "fmt"

// Kind classifies the broad cause of a pipeline failure.
type Kind string

const (
	KindIO             Kind = "io"
	KindFormatSignature Kind = "format_signature"
	KindFormatSemantic Kind = "format_semantic"
	KindOutOfMemory    Kind = "out_of_memory"
	KindUnsupported    Kind = "unsupported"
)

// Error wraps an underlying error with the stage (Op) and Kind that
// produced it.
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

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind wrapping err.
func New(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Signaturef builds a KindFormatSignature error.
func Signaturef(op, format string, args ...any) *Error {
	return &Error{Kind: KindFormatSignature, Op: op, Err: fmt.Errorf(format, args...)}
}

// Semanticf builds a KindFormatSemantic error.
func Semanticf(op, format string, args ...any) *Error {
	return &Error{Kind: KindFormatSemantic, Op: op, Err: fmt.Errorf(format, args...)}
}

// Unsupportedf builds a KindUnsupported error.
func Unsupportedf(op, format string, args ...any) *Error {
	return &Error{Kind: KindUnsupported, Op: op, Err: fmt.Errorf(format, args...)}
}

// IO wraps err (typically from the os/io packages) as a KindIO error.
func IO(op string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}
