package errs

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// Kind classifies a failure by how the sync loop must react to it.
type Kind string

const (
	// KindConnection is raised when the source or the sink cannot be reached at startup.
	KindConnection Kind = "CONNECTION"

	// KindTransientFetch is raised by an importer while reading a batch.
	KindTransientFetch Kind = "TRANSIENT_FETCH"

	// KindTransientWrite is raised by an exporter while writing a batch.
	KindTransientWrite Kind = "TRANSIENT_WRITE"

	// KindWindow wraps the error that made a whole sync window fail.
	KindWindow Kind = "WINDOW_FAILURE"

	// KindUsage reports a configuration conflict. Never retried.
	KindUsage Kind = "USAGE"

	// KindPermanent marks a batch error that retrying cannot fix.
	KindPermanent Kind = "PERMANENT"

	KindUnknown Kind = "UNKNOWN"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case len(e.Op) > 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Connection(op string, err error) error     { return New(KindConnection, op, err) }
func TransientFetch(op string, err error) error { return New(KindTransientFetch, op, err) }
func TransientWrite(op string, err error) error { return New(KindTransientWrite, op, err) }
func Window(op string, err error) error         { return New(KindWindow, op, err) }
func Permanent(op string, err error) error      { return New(KindPermanent, op, err) }

func Usagef(format string, args ...any) error {
	return Newf(KindUsage, format, args...)
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	if e, ok := lo.ErrorsAs[*Error](err); ok {
		return e.Kind
	}

	return KindUnknown
}

// Is reports whether any *Error in the chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error

		if !errors.As(err, &e) {
			return false
		}

		if e.Kind == kind {
			return true
		}

		err = e.Err
	}

	return false
}
