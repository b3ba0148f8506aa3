package protocol

import (
	"math"
	"strconv"
)

// scientificThreshold is the magnitude above which doubles are written in
// scientific notation.
const scientificThreshold = 1e8

// AppendInteger appends n with an explicit sign: '+' for zero and positive
// values, '-' for negative ones.
func AppendInteger(dst []byte, n int64) []byte {
	if n >= 0 {
		dst = append(dst, '+')
	}
	return strconv.AppendInt(dst, n, 10)
}

// FormatInteger returns the signed text of n, e.g. "+123"
func FormatInteger(n int64) string {
	return string(AppendInteger(make([]byte, 0, 21), n))
}

// AppendDouble appends the protocol text of v.
//
// Magnitudes above 1e8 use scientific notation with a signed mantissa and an
// unpadded exponent ("+1.23456789e8"); everything else is written as a plain
// decimal with the shortest digits that round-trip ("+123.456", "+1").
// NaN is "nan" and the infinities are "+inf" and "-inf".
func AppendDouble(dst []byte, v float64) []byte {
	switch {
	case math.IsNaN(v):
		return append(dst, "nan"...)
	case math.IsInf(v, 1):
		return append(dst, "+inf"...)
	case math.IsInf(v, -1):
		return append(dst, "-inf"...)
	}
	if !math.Signbit(v) {
		dst = append(dst, '+')
	}
	if math.Abs(v) > scientificThreshold {
		return appendScientific(dst, v)
	}
	return strconv.AppendFloat(dst, v, 'f', -1, 64)
}

// FormatDouble returns the protocol text of v
func FormatDouble(v float64) string {
	return string(AppendDouble(make([]byte, 0, 32), v))
}

// appendScientific rewrites strconv's "d.ddde+XX" into "d.ddde<X>".
func appendScientific(dst []byte, v float64) []byte {
	var scratch [32]byte
	s := strconv.AppendFloat(scratch[:0], v, 'e', -1, 64)

	e := len(s) - 1
	for s[e] != 'e' {
		e--
	}
	dst = append(dst, s[:e+1]...)

	exp := s[e+1:]
	if exp[0] == '-' {
		dst = append(dst, '-')
	}
	exp = exp[1:]
	for len(exp) > 1 && exp[0] == '0' {
		exp = exp[1:]
	}
	return append(dst, exp...)
}
