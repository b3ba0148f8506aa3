package protocol_test

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stonexwx/simple-redis/protocol"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected protocol.Frame
	}{
		{"simple string", "+OK\r\n", protocol.SimpleString("OK")},
		{"empty simple string", "+\r\n", protocol.SimpleString("")},
		{"error", "-ERR unknown command\r\n", protocol.SimpleError("ERR unknown command")},
		{"integer", ":42\r\n", protocol.Integer(42)},
		{"signed integer", ":+42\r\n", protocol.Integer(42)},
		{"negative integer", ":-42\r\n", protocol.Integer(-42)},
		{"min integer", ":-9223372036854775808\r\n", protocol.Integer(math.MinInt64)},
		{"max integer", ":+9223372036854775807\r\n", protocol.Integer(math.MaxInt64)},
		{"bulk string", "$5\r\nhello\r\n", protocol.BulkString("hello")},
		{"bulk string with CRLF", "$4\r\na\r\nb\r\n", protocol.BulkString("a\r\nb")},
		{"empty bulk string", "$0\r\n\r\n", protocol.BulkString("")},
		{"null bulk string", "$-1\r\n", protocol.NullBulkString()},
		{"null array", "*-1\r\n", protocol.NullArray()},
		{"empty array", "*0\r\n", protocol.Array()},
		{"null", "_\r\n", protocol.Null()},
		{"true", "#t\r\n", protocol.Boolean(true)},
		{"false", "#f\r\n", protocol.Boolean(false)},
		{"double", ",1.5\r\n", protocol.Double(1.5)},
		{"scientific double", ",+1.23456789e8\r\n", protocol.Double(123456789)},
		{"inf", ",inf\r\n", protocol.Double(math.Inf(1))},
		{"negative inf", ",-inf\r\n", protocol.Double(math.Inf(-1))},
		{
			name:  "array",
			input: "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n",
			expected: protocol.Array(
				protocol.BulkString("SET"),
				protocol.BulkString("key"),
				protocol.BulkString("value"),
			),
		},
		{
			name:     "map with bulk key",
			input:    "%1\r\n$1\r\nk\r\n:1\r\n",
			expected: protocol.MapOf(protocol.MapEntry{Key: "k", Value: protocol.Integer(1)}),
		},
		{
			name:     "set",
			input:    "~2\r\n:2\r\n:1\r\n",
			expected: protocol.Set(protocol.Integer(1), protocol.Integer(2)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := protocol.Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(tt.input) {
				t.Errorf("consumed = %d, want %d", n, len(tt.input))
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeLeavesTail(t *testing.T) {
	buf := []byte("+first\r\n:2\r\n$3\r\nthr")

	f, n, err := protocol.Decode(buf)
	if err != nil || f.Text() != "first" || n != 8 {
		t.Fatalf("first Decode() = %v, %d, %v", f, n, err)
	}
	buf = buf[n:]

	f, n, err = protocol.Decode(buf)
	if err != nil || f.Int() != 2 || n != 4 {
		t.Fatalf("second Decode() = %v, %d, %v", f, n, err)
	}
	buf = buf[n:]

	if _, n, err = protocol.Decode(buf); !errors.Is(err, protocol.ErrIncomplete) || n != 0 {
		t.Fatalf("third Decode() = %d, %v, want ErrIncomplete", n, err)
	}
}

func TestDecodeIncompletePrefixes(t *testing.T) {
	frames := []protocol.Frame{
		protocol.SimpleString("hello world"),
		protocol.Integer(-123),
		protocol.BulkString("hello world"),
		protocol.NullBulkString(),
		protocol.Double(123456789),
		protocol.Array(protocol.SimpleString("a"), protocol.Array(protocol.Integer(1)), protocol.Null()),
		protocol.Map(map[string]protocol.Frame{
			"hello":  protocol.SimpleString("world"),
			"number": protocol.Integer(123),
			"bulk":   protocol.BulkString("hello world"),
		}),
		protocol.Set(protocol.Boolean(true), protocol.BulkString("x")),
	}

	for _, f := range frames {
		wire := protocol.Encode(f)
		for i := 0; i < len(wire); i++ {
			_, n, err := protocol.Decode(wire[:i])
			if !errors.Is(err, protocol.ErrIncomplete) {
				t.Fatalf("Decode(%q) error = %v, want ErrIncomplete", wire[:i], err)
			}
			if n != 0 {
				t.Fatalf("Decode(%q) consumed %d bytes on incomplete input", wire[:i], n)
			}
		}
	}
}

func TestDecodeSplitEquivalence(t *testing.T) {
	f := protocol.Array(
		protocol.SimpleString("hello world"),
		protocol.Integer(123),
		protocol.BulkString("hello world"),
		protocol.MapOf(protocol.MapEntry{Key: "k", Value: protocol.Set(protocol.Double(-0.5))}),
	)
	wire := protocol.Encode(f)

	whole, wholeN, err := protocol.Decode(wire)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	for split := 0; split <= len(wire); split++ {
		var buf []byte
		buf = append(buf, wire[:split]...)

		got, n, err := protocol.Decode(buf)
		if errors.Is(err, protocol.ErrIncomplete) {
			buf = append(buf, wire[split:]...)
			got, n, err = protocol.Decode(buf)
		}
		if err != nil {
			t.Fatalf("split %d: Decode() error = %v", split, err)
		}
		if n != wholeN {
			t.Errorf("split %d: consumed %d, want %d", split, n, wholeN)
		}
		if diff := cmp.Diff(whole, got); diff != "" {
			t.Errorf("split %d: mismatch (-want +got):\n%s", split, diff)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown tag", "?foo\r\n"},
		{"invalid integer", ":abc\r\n"},
		{"empty integer", ":\r\n"},
		{"sign only integer", ":-\r\n"},
		{"integer overflow", ":9223372036854775808\r\n"},
		{"invalid bulk length", "$abc\r\n"},
		{"negative bulk length", "$-2\r\n"},
		{"bulk longer than header", "$3\r\nabcde\r\n"},
		{"line feed without carriage return", "+OK\n"},
		{"carriage return inside line", "+O\rK\r\n"},
		{"invalid utf-8", "+\xff\xfe\r\n"},
		{"invalid boolean", "#x\r\n"},
		{"invalid double", ",abc\r\n"},
		{"null with payload", "_x\r\n"},
		{"integer map key", "%1\r\n:1\r\n:2\r\n"},
		{"duplicate map key", "%2\r\n+a\r\n:1\r\n+a\r\n:2\r\n"},
		{"null map", "%-1\r\n"},
		{"negative array length", "*-5\r\n"},
		{"malformed child", "*2\r\n:1\r\n?\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, n, err := protocol.Decode([]byte(tt.input))
			if !errors.Is(err, protocol.ErrMalformed) {
				t.Fatalf("Decode() error = %v, want ErrMalformed", err)
			}
			if errors.Is(err, protocol.ErrIncomplete) {
				t.Error("malformed input must not be reported as incomplete")
			}
			if n != 0 {
				t.Errorf("consumed = %d, want 0", n)
			}
		})
	}
}

func TestDecodeSetCollapsesDuplicates(t *testing.T) {
	nan1 := math.Float64frombits(0x7ff8000000000001)
	nan2 := math.Float64frombits(0x7ff8000000000002)

	tests := []struct {
		name     string
		input    string
		expected protocol.Frame
	}{
		{"repeated integer", "~3\r\n:1\r\n:2\r\n:1\r\n", protocol.Set(protocol.Integer(1), protocol.Integer(2))},
		{
			"nan payloads",
			string(protocol.Encode(protocol.Set(protocol.Double(nan1), protocol.Double(nan2)))),
			protocol.Set(protocol.Double(math.NaN())),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := protocol.Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(tt.input) {
				t.Errorf("consumed = %d, want %d", n, len(tt.input))
			}
			if !got.Equal(tt.expected) {
				t.Errorf("Decode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// The wire form of a NaN is the bare word, so sign and payload come back as
// the canonical NaN.
func TestDecodeNaNIsCanonical(t *testing.T) {
	negNaN := math.Float64frombits(0xfff8000000000000)
	wire := protocol.Encode(protocol.Double(negNaN))
	if string(wire) != ",nan\r\n" {
		t.Fatalf("Encode() = %q, want \",nan\\r\\n\"", wire)
	}

	got, _, err := protocol.Decode(wire)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if bits := math.Float64bits(got.Float()); bits != math.Float64bits(math.NaN()) {
		t.Errorf("decoded bits = %x, want %x", bits, math.Float64bits(math.NaN()))
	}
}

func TestDecodeErrorOffset(t *testing.T) {
	_, _, err := protocol.Decode([]byte("*1\r\n?\r\n"))

	var perr *protocol.Error
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not a *protocol.Error", err)
	}
	if perr.Kind != protocol.Malformed {
		t.Errorf("Kind = %v, want Malformed", perr.Kind)
	}
	if perr.Offset != 4 {
		t.Errorf("Offset = %d, want 4", perr.Offset)
	}
}

func TestDecodeUnsupportedType(t *testing.T) {
	inputs := []string{
		"!5\r\nerror\r\n",
		"=8\r\ntxt:text\r\n",
		"(3492890328409238509324850943850943825024385\r\n",
		"|1\r\n+key\r\n+value\r\n",
		">1\r\n+message\r\n",
	}
	for _, input := range inputs {
		_, _, err := protocol.Decode([]byte(input))
		if !errors.Is(err, protocol.ErrUnsupportedType) {
			t.Errorf("Decode(%q) error = %v, want ErrUnsupportedType", input, err)
		}
	}
}

func TestDecoderRESP2RejectsRESP3Types(t *testing.T) {
	dec := protocol.Decoder{Version: protocol.RESP2}

	for _, input := range []string{"_\r\n", "#t\r\n", ",1.5\r\n", "%0\r\n", "~0\r\n", "*1\r\n_\r\n"} {
		_, _, err := dec.Decode([]byte(input))
		if !errors.Is(err, protocol.ErrUnsupportedType) {
			t.Errorf("Decode(%q) error = %v, want ErrUnsupportedType", input, err)
		}
	}

	f, _, err := dec.Decode([]byte("*2\r\n$-1\r\n*-1\r\n"))
	if err != nil {
		t.Fatalf("Decode() legacy nulls error = %v", err)
	}
	want := protocol.Array(protocol.NullBulkString(), protocol.NullArray())
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoderLimits(t *testing.T) {
	dec := protocol.Decoder{MaxBulkLen: 4, MaxElements: 1, MaxLineLen: 8}

	cases := []string{
		"$5\r\nhello\r\n",
		"*2\r\n:1\r\n:2\r\n",
		"+" + strings.Repeat("a", 16),
		"+" + strings.Repeat("a", 16) + "\r\n",
		"$" + strings.Repeat("1", 16),
	}
	for _, input := range cases {
		if _, _, err := dec.Decode([]byte(input)); !errors.Is(err, protocol.ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", input, err)
		}
	}

	if _, _, err := dec.Decode([]byte("$4\r\nhell\r\n")); err != nil {
		t.Errorf("Decode() at limit error = %v", err)
	}
	if _, _, err := dec.Decode([]byte("+abcdefgh\r\n")); err != nil {
		t.Errorf("Decode() line at limit error = %v", err)
	}
}

// An unterminated header cannot grow past the line limit while the decoder
// waits for its CRLF
func TestDecodeUnterminatedLineLimit(t *testing.T) {
	header := "$" + strings.Repeat("1", 1<<20)

	_, n, err := protocol.Decode([]byte(header))
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("Decode() error = %v, want ErrMalformed", err)
	}
	if n != 0 {
		t.Errorf("consumed = %d, want 0", n)
	}

	short := "+" + strings.Repeat("a", protocol.DefaultMaxLineLen-1)
	if _, _, err := protocol.Decode([]byte(short)); !errors.Is(err, protocol.ErrIncomplete) {
		t.Errorf("Decode() under the limit error = %v, want ErrIncomplete", err)
	}
}

func TestDecodeDeepNesting(t *testing.T) {
	input := strings.Repeat("*1\r\n", 600) + ":1\r\n"
	if _, _, err := protocol.Decode([]byte(input)); !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("Decode() error = %v, want ErrMalformed", err)
	}
}

func TestRoundTrip(t *testing.T) {
	frames := []protocol.Frame{
		protocol.SimpleString("hello world"),
		protocol.SimpleError("ERR something"),
		protocol.Integer(math.MinInt64),
		protocol.Integer(math.MaxInt64),
		protocol.BulkBytes([]byte{0, 1, 2, '\r', '\n'}),
		protocol.NullBulkString(),
		protocol.NullArray(),
		protocol.Null(),
		protocol.Boolean(true),
		protocol.Double(0),
		protocol.Double(math.Copysign(0, -1)),
		protocol.Double(1e8),
		protocol.Double(-123456789.125),
		protocol.Double(1.5e-300),
		protocol.Double(math.MaxFloat64),
		protocol.Double(math.SmallestNonzeroFloat64),
		protocol.Double(math.Inf(1)),
		protocol.Double(math.Inf(-1)),
		protocol.Double(math.NaN()),
		protocol.Array(),
		protocol.Map(nil),
		protocol.Set(),
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		frames = append(frames, randomFrame(rng, 3))
	}

	for _, f := range frames {
		wire := protocol.Encode(f)
		got, n, err := protocol.Decode(wire)
		if err != nil {
			t.Fatalf("Decode(Encode(%v)) error = %v", f, err)
		}
		if n != len(wire) {
			t.Errorf("consumed %d of %d bytes for %v", n, len(wire), f)
		}
		if !got.Equal(f) {
			t.Errorf("round trip mismatch: got %v, want %v", got, f)
		}
	}
}

func randomText(rng *rand.Rand) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789 -_:é"
	runes := []rune(alphabet)
	n := rng.Intn(12)
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteRune(runes[rng.Intn(len(runes))])
	}
	return sb.String()
}

func randomFrame(rng *rand.Rand, depth int) protocol.Frame {
	kind := rng.Intn(12)
	if depth == 0 {
		kind = rng.Intn(9)
	}
	switch kind {
	case 0:
		return protocol.SimpleString(randomText(rng))
	case 1:
		return protocol.SimpleError(randomText(rng))
	case 2:
		return protocol.Integer(rng.Int63() - rng.Int63())
	case 3:
		b := make([]byte, rng.Intn(32))
		rng.Read(b)
		return protocol.BulkBytes(b)
	case 4:
		return protocol.NullBulkString()
	case 5:
		return protocol.Null()
	case 6:
		return protocol.NullArray()
	case 7:
		return protocol.Boolean(rng.Intn(2) == 0)
	case 8:
		return protocol.Double(rng.NormFloat64() * math.Pow(10, float64(rng.Intn(20)-5)))
	case 9:
		items := make([]protocol.Frame, rng.Intn(4))
		for i := range items {
			items[i] = randomFrame(rng, depth-1)
		}
		return protocol.Array(items...)
	case 10:
		m := make(map[string]protocol.Frame)
		for i := rng.Intn(4); i > 0; i-- {
			m[randomText(rng)] = randomFrame(rng, depth-1)
		}
		return protocol.Map(m)
	default:
		members := make([]protocol.Frame, rng.Intn(4))
		for i := range members {
			members[i] = randomFrame(rng, depth-1)
		}
		return protocol.Set(members...)
	}
}
