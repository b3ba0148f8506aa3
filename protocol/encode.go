package protocol

import (
	"fmt"
	"strconv"
)

const (
	// CRLF is the protocol line terminator
	CRLF = "\r\n"

	// initialBufSize is the starting capacity for a composite's encoding
	initialBufSize = 4096
)

// Version selects the protocol generation used by an Encoder or Decoder
type Version int

const (
	// Verbatim writes every frame in its own wire form and accepts the
	// whole grammar. It is the zero value.
	Verbatim Version = 0
	// RESP2 is the legacy generation: no null, boolean, double, map or set.
	// Integers carry a sign only when negative, as Redis clients expect.
	RESP2 Version = 2
	// RESP3 is the unified generation: every null is written as "_".
	// Integers are written as in RESP2.
	RESP3 Version = 3
)

// String returns "verbatim", "resp2" or "resp3"
func (v Version) String() string {
	switch v {
	case Verbatim:
		return "verbatim"
	case RESP2:
		return "resp2"
	case RESP3:
		return "resp3"
	}
	return "resp(" + strconv.Itoa(int(v)) + ")"
}

// ParseVersion maps the HELLO protover argument to a Version
func ParseVersion(n int) (Version, error) {
	switch n {
	case 2:
		return RESP2, nil
	case 3:
		return RESP3, nil
	}
	return 0, fmt.Errorf("unsupported protocol version %d", n)
}

// Encoder serializes frames. Encoding is a pure function of the frame and
// the configured Version: it has no side effects and never fails.
type Encoder struct {
	Version Version
}

// Encode returns the wire bytes of f in its verbatim form
func Encode(f Frame) []byte {
	return Encoder{}.Encode(f)
}

// Encode returns the wire bytes of f
func (e Encoder) Encode(f Frame) []byte {
	size := 64
	switch f.Kind() {
	case KindBulkString:
		size = len(f.bulk) + 16
	case KindArray, KindMap, KindSet:
		size = initialBufSize
	}
	return e.Append(make([]byte, 0, size), f)
}

// Append appends the wire bytes of f to dst and returns the extended buffer
func (e Encoder) Append(dst []byte, f Frame) []byte {
	switch f.Kind() {
	case KindSimpleString, KindSimpleError:
		return appendLine(dst, f.Kind().Prefix(), f.str)

	case KindInteger:
		dst = append(dst, ':')
		if e.Version == Verbatim {
			dst = AppendInteger(dst, f.num)
		} else {
			dst = strconv.AppendInt(dst, f.num, 10)
		}
		return append(dst, CRLF...)

	case KindBulkString:
		return appendBulk(dst, f.bulk)

	case KindNull:
		if e.Version == RESP2 {
			return append(dst, "$-1\r\n"...)
		}
		return append(dst, "_\r\n"...)

	case KindNullBulkString:
		if e.Version == RESP3 {
			return append(dst, "_\r\n"...)
		}
		return append(dst, "$-1\r\n"...)

	case KindNullArray:
		if e.Version == RESP3 {
			return append(dst, "_\r\n"...)
		}
		return append(dst, "*-1\r\n"...)

	case KindBoolean:
		if e.Version == RESP2 {
			dst = append(dst, ':')
			dst = strconv.AppendInt(dst, f.num, 10)
			return append(dst, CRLF...)
		}
		if f.Bool() {
			return append(dst, "#t\r\n"...)
		}
		return append(dst, "#f\r\n"...)

	case KindDouble:
		if e.Version == RESP2 {
			var scratch [32]byte
			return appendBulk(dst, AppendDouble(scratch[:0], f.dbl))
		}
		dst = append(dst, ',')
		dst = AppendDouble(dst, f.dbl)
		return append(dst, CRLF...)

	case KindArray:
		dst = appendHeader(dst, '*', len(f.items))
		for _, item := range f.items {
			dst = e.Append(dst, item)
		}
		return dst

	case KindMap:
		if e.Version == RESP2 {
			dst = appendHeader(dst, '*', 2*len(f.keys))
			for i, k := range f.keys {
				dst = appendBulk(dst, []byte(k))
				dst = e.Append(dst, f.items[i])
			}
			return dst
		}
		dst = appendHeader(dst, '%', len(f.keys))
		for i, k := range f.keys {
			dst = appendLine(dst, '+', k)
			dst = e.Append(dst, f.items[i])
		}
		return dst

	case KindSet:
		prefix := byte('~')
		if e.Version == RESP2 {
			prefix = '*'
		}
		dst = appendHeader(dst, prefix, len(f.items))
		for _, item := range f.items {
			dst = e.Append(dst, item)
		}
		return dst
	}
	panic(fmt.Sprintf("protocol: cannot encode frame kind %d", f.kind))
}

func appendLine(dst []byte, prefix byte, text string) []byte {
	dst = append(dst, prefix)
	dst = append(dst, text...)
	return append(dst, CRLF...)
}

func appendHeader(dst []byte, prefix byte, n int) []byte {
	dst = append(dst, prefix)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, CRLF...)
}

func appendBulk(dst []byte, data []byte) []byte {
	dst = appendHeader(dst, '$', len(data))
	dst = append(dst, data...)
	return append(dst, CRLF...)
}
