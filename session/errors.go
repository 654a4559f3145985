package session

import "fmt"

// Kind classifies why an engine operation failed, letting a caller branch on
// failure category with errors.As against *Error rather than string
// matching a message.
type Kind int

const (
	InvalidState Kind = iota + 1
	ParseFailure
	NotFound
	MalformedInput
	TimestampRejected
	SignatureOverflow
	UnsupportedAlgorithm
	IOError
	InvalidConformanceLevel
)

func (k Kind) String() string {
	switch k {
	case InvalidState:
		return "InvalidState"
	case ParseFailure:
		return "ParseFailure"
	case NotFound:
		return "NotFound"
	case MalformedInput:
		return "MalformedInput"
	case TimestampRejected:
		return "TimestampRejected"
	case SignatureOverflow:
		return "SignatureOverflow"
	case UnsupportedAlgorithm:
		return "UnsupportedAlgorithm"
	case IOError:
		return "IOError"
	case InvalidConformanceLevel:
		return "InvalidConformanceLevel"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with the Kind under which it's reported,
// so callers can use errors.As(err, new(*session.Error)) to recover Kind
// while still seeing the original cause through Unwrap.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapf builds an *Error of the given Kind from a formatted message.
func wrapf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}
