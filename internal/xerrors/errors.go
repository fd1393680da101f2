// Package xerrors defines the error taxonomy shared by every groupcast
// component: a small closed set of failure kinds, each carrying an optional
// platform error code and a wrapped cause.
//
// This generalizes the teacher's internal/errors.NetworkError{Operation, Err,
// Details} pattern from a single free-form operation string to the engine's
// fixed kind enum, while keeping the same wrap-and-describe shape.
package xerrors

import "fmt"

// Kind identifies the category of a groupcast failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidParam
	KindIllegalState
	KindSocketCreate
	KindSocketBind
	KindSocketPrepare
	KindConnectServer
	KindWorkerThreadCreate
	KindReceive
	KindSend
	KindClose
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParam:
		return "invalid-param"
	case KindIllegalState:
		return "illegal-state"
	case KindSocketCreate:
		return "socket-create"
	case KindSocketBind:
		return "socket-bind"
	case KindSocketPrepare:
		return "socket-prepare"
	case KindConnectServer:
		return "connect-server"
	case KindWorkerThreadCreate:
		return "worker-thread-create"
	case KindReceive:
		return "receive"
	case KindSend:
		return "send"
	case KindClose:
		return "close"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across the engine. Code is a
// platform/errno-style numeric detail; it is zero when not applicable.
type Error struct {
	Kind Kind
	Code int
	Err  error
}

func New(kind Kind, code int, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("groupcast: %s (code=%d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("groupcast: %s (code=%d)", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CancelledCode is the code recorded alongside KindCancelled (and alongside
// CloseContext's receive/cancelled close cause) for a session torn down by
// the engine itself rather than by a platform errno — a listener veto or the
// receive-FIFO cap being exceeded. It is a sentinel, not a real errno: unix
// and Windows errno spaces are both non-negative, so -1 can never collide
// with a genuine platform error code.
const CancelledCode = -1

// As reports the Kind of err if it is (or wraps) an *Error, else KindUnknown.
func As(err error) (Kind, int, bool) {
	var e *Error
	if err == nil {
		return KindUnknown, 0, false
	}
	if x, ok := err.(*Error); ok {
		e = x
	} else if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap())
	}
	if e == nil {
		return KindUnknown, 0, false
	}
	return e.Kind, e.Code, true
}
