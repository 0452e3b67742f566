package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a computation failure. Every failure surfaced by the
// pricing core carries exactly one Kind.
type Kind int32

const (
	KindUnknown Kind = iota
	// KindInvalidArgument: the caller supplied a value violating a precondition.
	KindInvalidArgument
	// KindInsufficientLiquidity: the AMM cannot satisfy the request under its
	// safety invariants. Expected in normal operation.
	KindInsufficientLiquidity
	// KindOpenInterestExceeded: the trade would push open interest over its cap.
	KindOpenInterestExceeded
	// KindBug: an internal consistency check failed.
	KindBug
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInsufficientLiquidity:
		return "InsufficientLiquidity"
	case KindOpenInterestExceeded:
		return "OpenInterestExceeded"
	case KindBug:
		return "Bug"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type for InvalidArgument, InsufficientLiquidity
// and Bug failures. OpenInterestExceeded has its own type in package state
// because it carries decimal values.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// ErrorKind implements Kinded.
func (e *Error) ErrorKind() Kind {
	return e.Kind
}

// Kinded is implemented by every error that carries a Kind.
type Kinded interface {
	error
	ErrorKind() Kind
}

func InvalidArgument(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func InsufficientLiquidity(format string, args ...interface{}) error {
	return &Error{Kind: KindInsufficientLiquidity, Msg: fmt.Sprintf(format, args...)}
}

func Bug(format string, args ...interface{}) error {
	return &Error{Kind: KindBug, Msg: fmt.Sprintf(format, args...)}
}

// KindOf unwraps err and returns the Kind of the first Kinded error in its
// chain, or KindUnknown.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnknown
}

// Is reports whether err (or anything it wraps) has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for k := KindInvalidArgument; k <= KindBug; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}
