package protocol_test

import (
	"bytes"
	"testing"

	"github.com/stonexwx/simple-redis/protocol"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		frame    protocol.Frame
		expected string
	}{
		{"simple string", protocol.SimpleString("hello world"), "+hello world\r\n"},
		{"simple error", protocol.SimpleError("hello world"), "-hello world\r\n"},
		{"positive integer", protocol.Integer(123), ":+123\r\n"},
		{"negative integer", protocol.Integer(-123), ":-123\r\n"},
		{"zero integer", protocol.Integer(0), ":+0\r\n"},
		{"bulk string", protocol.BulkString("hello world"), "$11\r\nhello world\r\n"},
		{"empty bulk string", protocol.BulkString(""), "$0\r\n\r\n"},
		{"binary bulk string", protocol.BulkBytes([]byte{0, '\r', '\n', 0xff}), "$4\r\n\x00\r\n\xff\r\n"},
		{"null bulk string", protocol.NullBulkString(), "$-1\r\n"},
		{"null array", protocol.NullArray(), "*-1\r\n"},
		{"null", protocol.Null(), "_\r\n"},
		{"zero frame", protocol.Frame{}, "_\r\n"},
		{"true", protocol.Boolean(true), "#t\r\n"},
		{"false", protocol.Boolean(false), "#f\r\n"},
		{"double", protocol.Double(123.456), ",+123.456\r\n"},
		{"negative double", protocol.Double(-123.456), ",-123.456\r\n"},
		{"large double", protocol.Double(123456789.0), ",+1.23456789e8\r\n"},
		{"empty array", protocol.Array(), "*0\r\n"},
		{
			name: "array",
			frame: protocol.Array(
				protocol.SimpleString("hello world"),
				protocol.Integer(123),
				protocol.BulkString("hello world"),
			),
			expected: "*3\r\n+hello world\r\n:+123\r\n$11\r\nhello world\r\n",
		},
		{
			name: "nested array",
			frame: protocol.Array(
				protocol.Array(protocol.Integer(1), protocol.Integer(2)),
				protocol.NullBulkString(),
			),
			expected: "*2\r\n*2\r\n:+1\r\n:+2\r\n$-1\r\n",
		},
		{
			name: "map",
			frame: protocol.Map(map[string]protocol.Frame{
				"hello":  protocol.SimpleString("world"),
				"number": protocol.Integer(123),
				"bulk":   protocol.BulkString("hello world"),
			}),
			expected: "%3\r\n+bulk\r\n$11\r\nhello world\r\n+hello\r\n+world\r\n+number\r\n:+123\r\n",
		},
		{
			name:     "set",
			frame:    protocol.Set(protocol.SimpleString("hello"), protocol.Integer(123)),
			expected: "~2\r\n+hello\r\n:+123\r\n",
		},
		{
			name:     "set orders members",
			frame:    protocol.Set(protocol.Integer(3), protocol.Integer(-1), protocol.Integer(2)),
			expected: "~3\r\n:-1\r\n:+2\r\n:+3\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := protocol.Encode(tt.frame)
			if string(got) != tt.expected {
				t.Errorf("Encode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEncodeIsIdempotent(t *testing.T) {
	f := protocol.Array(
		protocol.Map(map[string]protocol.Frame{"a": protocol.Double(1.5), "b": protocol.Boolean(true)}),
		protocol.Set(protocol.BulkString("x"), protocol.BulkString("y")),
	)

	first := protocol.Encode(f)
	second := protocol.Encode(f)
	if !bytes.Equal(first, second) {
		t.Errorf("Encode() not idempotent: %q vs %q", first, second)
	}
}

func TestEncodeIgnoresInsertionOrder(t *testing.T) {
	a := protocol.MapOf(
		protocol.MapEntry{Key: "z", Value: protocol.Integer(1)},
		protocol.MapEntry{Key: "a", Value: protocol.Integer(2)},
		protocol.MapEntry{Key: "m", Value: protocol.Integer(3)},
	)
	b := protocol.MapOf(
		protocol.MapEntry{Key: "m", Value: protocol.Integer(3)},
		protocol.MapEntry{Key: "z", Value: protocol.Integer(1)},
		protocol.MapEntry{Key: "a", Value: protocol.Integer(2)},
	)
	if got, want := protocol.Encode(a), protocol.Encode(b); !bytes.Equal(got, want) {
		t.Errorf("map encodings differ: %q vs %q", got, want)
	}

	s1 := protocol.Set(protocol.BulkString("b"), protocol.Integer(7), protocol.BulkString("a"))
	s2 := protocol.Set(protocol.BulkString("a"), protocol.BulkString("b"), protocol.Integer(7))
	if got, want := protocol.Encode(s1), protocol.Encode(s2); !bytes.Equal(got, want) {
		t.Errorf("set encodings differ: %q vs %q", got, want)
	}
}

func TestEncoderVersions(t *testing.T) {
	m := protocol.MapOf(protocol.MapEntry{Key: "a", Value: protocol.Integer(1)})

	tests := []struct {
		name     string
		version  protocol.Version
		frame    protocol.Frame
		expected string
	}{
		{"verbatim null", protocol.Verbatim, protocol.Null(), "_\r\n"},
		{"verbatim null bulk", protocol.Verbatim, protocol.NullBulkString(), "$-1\r\n"},
		{"verbatim null array", protocol.Verbatim, protocol.NullArray(), "*-1\r\n"},
		{"verbatim integer", protocol.Verbatim, protocol.Integer(7), ":+7\r\n"},

		{"resp2 null", protocol.RESP2, protocol.Null(), "$-1\r\n"},
		{"resp2 null bulk", protocol.RESP2, protocol.NullBulkString(), "$-1\r\n"},
		{"resp2 null array", protocol.RESP2, protocol.NullArray(), "*-1\r\n"},
		{"resp2 true", protocol.RESP2, protocol.Boolean(true), ":1\r\n"},
		{"resp2 false", protocol.RESP2, protocol.Boolean(false), ":0\r\n"},
		{"resp2 integer", protocol.RESP2, protocol.Integer(7), ":7\r\n"},
		{"resp2 negative integer", protocol.RESP2, protocol.Integer(-7), ":-7\r\n"},
		{"resp2 double", protocol.RESP2, protocol.Double(1.5), "$4\r\n+1.5\r\n"},
		{"resp2 map", protocol.RESP2, m, "*2\r\n$1\r\na\r\n:1\r\n"},
		{"resp2 set", protocol.RESP2, protocol.Set(protocol.Integer(1)), "*1\r\n:1\r\n"},
		{"resp2 nested map", protocol.RESP2, protocol.Array(m), "*1\r\n*2\r\n$1\r\na\r\n:1\r\n"},

		{"resp3 null", protocol.RESP3, protocol.Null(), "_\r\n"},
		{"resp3 null bulk", protocol.RESP3, protocol.NullBulkString(), "_\r\n"},
		{"resp3 null array", protocol.RESP3, protocol.NullArray(), "_\r\n"},
		{"resp3 map", protocol.RESP3, m, "%1\r\n+a\r\n:1\r\n"},
		{"resp3 set", protocol.RESP3, protocol.Set(protocol.Integer(1)), "~1\r\n:1\r\n"},
		{"resp3 true", protocol.RESP3, protocol.Boolean(true), "#t\r\n"},
		{"resp3 integer", protocol.RESP3, protocol.Integer(0), ":0\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := protocol.Encoder{Version: tt.version}
			got := enc.Encode(tt.frame)
			if string(got) != tt.expected {
				t.Errorf("Encode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEncoderAppend(t *testing.T) {
	dst := []byte("prefix")
	got := protocol.Encoder{}.Append(dst, protocol.Integer(5))
	if string(got) != "prefix:+5\r\n" {
		t.Errorf("Append() = %q", got)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := protocol.ParseVersion(2); err != nil || v != protocol.RESP2 {
		t.Errorf("ParseVersion(2) = %v, %v", v, err)
	}
	if v, err := protocol.ParseVersion(3); err != nil || v != protocol.RESP3 {
		t.Errorf("ParseVersion(3) = %v, %v", v, err)
	}
	if _, err := protocol.ParseVersion(4); err == nil {
		t.Error("ParseVersion(4) expected error")
	}
}
