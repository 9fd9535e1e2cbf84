// Package siloerr defines the stable error-kind taxonomy (spec §6/§7) that the
// core uses for every public operation. Errors are explicit sum-type values,
// never bare strings, so callers across a transport boundary can switch on Kind.
package siloerr

import "fmt"

// Kind is the wire-stable error taxonomy. Values and ordinals must never
// change once shipped — they cross the transport boundary as a u8.
type Kind uint8

const (
	Ok Kind = iota
	NotOwner
	Draining
	Closed
	Timeout
	Cancelled
	Concurrency
	ClusterUnavailable
	NotFound
	DuplicateChild
	RateLimited
	User
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "Ok"
	case NotOwner:
		return "NotOwner"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	case Timeout:
		return "Timeout"
	case Cancelled:
		return "Cancelled"
	case Concurrency:
		return "Concurrency"
	case ClusterUnavailable:
		return "ClusterUnavailable"
	case NotFound:
		return "NotFound"
	case DuplicateChild:
		return "DuplicateChild"
	case RateLimited:
		return "RateLimited"
	case User:
		return "User"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried across the transport boundary.
// The core never throws a bare error across that boundary — every failure
// path returns (or wraps) one of these.
type Error struct {
	Kind    Kind
	Message string

	// NewSilo is set only for NotOwner, when the caller already knows the
	// current owner and can avoid a second ring lookup.
	NewSilo string

	// Expected/Actual are set only for Concurrency.
	Expected *uint64
	Actual   *uint64
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// NotOwnerErr builds a NotOwner error, optionally hinting the current owner.
func NotOwnerErr(newSilo string) *Error {
	return &Error{Kind: NotOwner, Message: "actor is not owned by this silo", NewSilo: newSilo}
}

// ConcurrencyErr builds the Concurrency(expected, actual) error from spec §3/§8.
func ConcurrencyErr(expected, actual uint64) *Error {
	return &Error{
		Kind:     Concurrency,
		Message:  fmt.Sprintf("version mismatch: expected %d, actual %d", expected, actual),
		Expected: &expected,
		Actual:   &actual,
	}
}

// As reports whether err (or something it wraps) is a *Error of the given kind.
func As(err error) (*Error, bool) {
	var se *Error
	if ok := asError(err, &se); ok {
		return se, true
	}
	return nil, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
