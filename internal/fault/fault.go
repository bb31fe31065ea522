// Package fault defines the closed set of failure kinds a tractkit pipeline
// can report. Lower layers wrap errors with eris; the pipeline stages attach
// a Kind so the command layer can decide how to present or recover.
package fault

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Unknown is the zero value for errors that carry no kind.
	Unknown Kind = iota
	// Connection covers transport and authentication failures.
	Connection
	// NotFound covers unresolvable items, layers, or empty searches.
	NotFound
	// Conversion covers a record that could not be normalized.
	Conversion
	// EmptyResult means a run produced no usable features.
	EmptyResult
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Connection:
		return "connection"
	case NotFound:
		return "not_found"
	case Conversion:
		return "conversion"
	case EmptyResult:
		return "empty_result"
	default:
		return "unknown"
	}
}

// Error is an error tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a kinded error with a fresh message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: eris.New(msg)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost fault.Error in err's chain,
// or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsConnection reports whether err means the remote service could not be
// used: an existing Connection fault, a transport failure, or an error in the
// chain whose ConnectionFailure method reports true.
func IsConnection(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, Connection) || IsNetwork(err) {
		return true
	}
	var cf interface{ ConnectionFailure() bool }
	return errors.As(err, &cf) && cf.ConnectionFailure()
}

// IsNetwork reports whether err looks like a transport-level failure:
// timeouts, refused or reset connections, DNS and TLS errors.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"no such host",
		"tls handshake",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
