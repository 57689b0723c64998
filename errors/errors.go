// Package errors provides a standard error definition for use
// throughout lattice. Each error is assigned a class of error (kind)
// and an operation with optional arguments. Errors may be chained, and
// thus can be used to annotate upstream errors.
//
// The API was inspired by package upspin.io/errors (and by
// grailbio/reflow's errors package, from which this one borrows its
// shape).
package errors

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"os"
)

// Separator is inserted between chained errors while rendering.
var Separator = ":\n\t"

// Kind denotes the type of the error. The error's kind is used to
// render the error message and also for interpretation.
type Kind int

const (
	// Other denotes an unknown error.
	Other Kind = iota
	// Canceled denotes a cancellation error.
	Canceled
	// Timeout denotes a timeout error.
	Timeout
	// Temporary denotes a transient error.
	Temporary
	// NotExist denotes an error originating from a nonexistent resource
	// (e.g., a cache_ref or worker that is no longer live).
	NotExist
	// Net denotes a transport-level error: an RPC to a worker failed
	// before (or instead of) producing a result.
	Net
	// Eval denotes an error raised by a Thunk's function on a worker.
	Eval
	// Invalid denotes a structural/invariant violation: a cycle, a
	// missing cache entry at fire time, or a double-dispatch.
	Invalid
	// Fatal denotes an unrecoverable scheduler error.
	Fatal

	maxKind
)

func (k Kind) String() string {
	switch k {
	case Canceled:
		return "canceled"
	case Timeout:
		return "timeout"
	case Temporary:
		return "temporary"
	case NotExist:
		return "resource does not exist"
	case Net:
		return "transport error"
	case Eval:
		return "evaluation error"
	case Invalid:
		return "invalid state"
	case Fatal:
		return "fatal"
	default:
		return "unknown error"
	}
}

// Error defines a lattice error. It is used to indicate an error
// associated with an operation (and arguments), and may wrap another
// error.
//
// Errors should be constructed with E.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Op is a one-word description of the operation that errored.
	Op string
	// Arg is an (optional) list of arguments to the operation.
	Arg []string
	// Err is this error's underlying error: this error is caused by Err.
	Err error
}

// E constructs errors from a set of arguments; each of which must be
// one of the following types:
//
//	string
//		The first string argument is taken as the error's Op; subsequent
//		arguments are taken as the error's Arg.
//	Kind
//		Taken as the error's Kind.
//	error
//		Taken as the error's underlying error.
//
// If the underlying error is another *Error and no Kind was supplied,
// the Kind is inherited from it.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("errors.E: no args")
	}
	e := new(Error)
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if e.Op == "" {
				e.Op = arg
			} else {
				e.Arg = append(e.Arg, arg)
			}
		case Kind:
			e.Kind = arg
		case *Error:
			copy := *arg
			e.Err = &copy
		case error:
			e.Err = arg
		default:
			return Errorf("errors.E: bad call with type %T: %v", arg, args)
		}
	}
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if prev.Kind == e.Kind {
			prev.Kind = Other
		} else if e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if prev.Op == "" && prev.Kind == Other {
			e.Err = prev.Err
		}
	default:
		if e.Kind != Other {
			break
		}
		switch {
		case goerrors.Is(e.Err, context.Canceled):
			e.Kind = Canceled
		case os.IsNotExist(e.Err):
			e.Kind = NotExist
		}
	}
	return e
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}

// Error renders this error and its chain of underlying errors.
func (e *Error) Error() string {
	return e.ErrorSeparator(Separator)
}

// ErrorSeparator renders this error and its underlying chain, joined by sep.
func (e *Error) ErrorSeparator(sep string) string {
	if e == nil {
		return "<nil>"
	}
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
		for _, a := range e.Arg {
			b.WriteString(" " + a)
		}
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if err, ok := e.Err.(*Error); ok {
			pad(b, sep)
			b.WriteString(err.ErrorSeparator(sep))
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	return b.String()
}

// Timeout tells whether this error is a timeout error.
func (e *Error) Timeout() bool { return e.Kind == Timeout }

// Temporary tells whether this error is temporary (and thus may be
// usefully retried, if the caller retried tasks -- the core scheduler
// itself does not).
func (e *Error) Temporary() bool { return e.Kind == Temporary || e.Kind == Net }

// Errorf is an alternate spelling of fmt.Errorf.
var Errorf = fmt.Errorf

// New is an alternate spelling of errors.New.
var New = goerrors.New

// Is reports whether err (or any error in its Err chain) has kind k.
func Is(k Kind, err error) bool {
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			return false
		}
		if e.Kind == k {
			return true
		}
		err = e.Err
	}
	return false
}

// Recover recovers any error into an *Error. If err is already an
// *Error, it is returned unchanged; otherwise it is wrapped.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return E(err).(*Error)
}
