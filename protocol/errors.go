package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete means the buffer does not yet hold a whole frame. It is
	// not a failure: nothing was consumed and the caller should retry once
	// more bytes have arrived.
	ErrIncomplete = errors.New("protocol: incomplete frame")

	// ErrMalformed matches any *Error of kind Malformed via errors.Is
	ErrMalformed = errors.New("protocol: malformed frame")

	// ErrUnsupportedType matches any *Error of kind UnsupportedType via errors.Is
	ErrUnsupportedType = errors.New("protocol: unsupported frame type")
)

// ErrorKind classifies a permanent decode failure
type ErrorKind uint8

const (
	// Malformed input violates the grammar
	Malformed ErrorKind = iota + 1
	// UnsupportedType is a recognised tag this decoder does not implement,
	// or a RESP3 tag received while decoding RESP2.
	UnsupportedType
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnsupportedType:
		return "unsupported type"
	default:
		return "unknown"
	}
}

// Error is a permanent decode failure. The stream cannot be resynchronised
// after one.
type Error struct {
	Kind   ErrorKind
	Offset int // byte offset from the start of the decoded buffer
	Msg    string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("protocol error: %s at offset %d: %s", e.Kind, e.Offset, e.Msg)
}

// Is lets errors.Is match the ErrMalformed and ErrUnsupportedType sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Kind == Malformed
	case ErrUnsupportedType:
		return e.Kind == UnsupportedType
	}
	return false
}

func malformed(offset int, format string, args ...interface{}) error {
	return &Error{Kind: Malformed, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func unsupported(offset int, format string, args ...interface{}) error {
	return &Error{Kind: UnsupportedType, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}
