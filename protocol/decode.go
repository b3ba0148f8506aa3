package protocol

import (
	"bytes"
	"errors"
	"strconv"
	"unicode/utf8"
)

const (
	// DefaultMaxBulkLen bounds bulk string payloads (512MB)
	DefaultMaxBulkLen = 512 * 1024 * 1024

	// DefaultMaxLineLen bounds CRLF-terminated lines: simple strings and
	// errors, numbers and length headers (64KB)
	DefaultMaxLineLen = 64 * 1024

	// DefaultMaxElements bounds the element count of one composite
	DefaultMaxElements = 1024 * 1024

	// maxDepth bounds composite nesting
	maxDepth = 512
)

// Decoder parses frames out of a caller-owned buffer. A Decoder holds only
// configuration, so one value may be shared by any number of streams.
type Decoder struct {
	// Version restricts the accepted grammar. RESP2 rejects the RESP3-only
	// tags with UnsupportedType; Verbatim and RESP3 accept everything.
	Version Version

	// MaxBulkLen bounds bulk string lengths. Zero means DefaultMaxBulkLen.
	MaxBulkLen int

	// MaxLineLen bounds line lengths, including a line whose terminator has
	// not arrived yet. Zero means DefaultMaxLineLen.
	MaxLineLen int

	// MaxElements bounds the element count of a single array, set or map.
	// Zero means DefaultMaxElements.
	MaxElements int
}

// Decode parses one frame from buf with the default Decoder
func Decode(buf []byte) (Frame, int, error) {
	var d Decoder
	return d.Decode(buf)
}

// Decode parses exactly one frame from the start of buf.
//
// On success it returns the frame and the number of bytes it occupied; the
// caller keeps buf[n:] for the next call. If buf holds only a prefix of a
// frame it returns ErrIncomplete and consumes nothing, so the call can be
// repeated once buf has grown. Any other error is a permanent *Error.
func (d Decoder) Decode(buf []byte) (Frame, int, error) {
	p := parser{
		buf:         buf,
		version:     d.Version,
		maxBulkLen:  d.MaxBulkLen,
		maxElements: d.MaxElements,
		maxLineLen:  d.MaxLineLen,
	}
	if p.maxBulkLen <= 0 {
		p.maxBulkLen = DefaultMaxBulkLen
	}
	if p.maxLineLen <= 0 {
		p.maxLineLen = DefaultMaxLineLen
	}
	if p.maxElements <= 0 {
		p.maxElements = DefaultMaxElements
	}

	f, next, err := p.parse(0, 0)
	if err != nil {
		return Frame{}, 0, err
	}
	return f, next, nil
}

type parser struct {
	buf         []byte
	version     Version
	maxBulkLen  int
	maxElements int
	maxLineLen  int
}

// parse reads the frame starting at pos and returns it with the position
// just past it.
func (p *parser) parse(pos, depth int) (Frame, int, error) {
	if pos >= len(p.buf) {
		return Frame{}, 0, ErrIncomplete
	}
	if depth > maxDepth {
		return Frame{}, 0, malformed(pos, "nesting deeper than %d", maxDepth)
	}

	tag := p.buf[pos]
	if p.version == RESP2 && isRESP3Tag(tag) {
		return Frame{}, 0, unsupported(pos, "type %q is not part of RESP2", tag)
	}

	switch tag {
	case '+':
		return p.parseText(pos, KindSimpleString)
	case '-':
		return p.parseText(pos, KindSimpleError)
	case ':':
		return p.parseInteger(pos)
	case '$':
		return p.parseBulk(pos)
	case '*':
		return p.parseArray(pos, depth)
	case '_':
		return p.parseNull(pos)
	case '#':
		return p.parseBoolean(pos)
	case ',':
		return p.parseDouble(pos)
	case '%':
		return p.parseMap(pos, depth)
	case '~':
		return p.parseSet(pos, depth)
	case '!', '=', '(', '|', '>':
		return Frame{}, 0, unsupported(pos, "type %q is not implemented", tag)
	}
	return Frame{}, 0, malformed(pos, "unknown type tag 0x%02x", tag)
}

func isRESP3Tag(tag byte) bool {
	switch tag {
	case '_', '#', ',', '%', '~', '!', '=', '(', '|', '>':
		return true
	}
	return false
}

// readLine returns the line after the tag byte at pos, without its CRLF,
// and the position following the CRLF.
func (p *parser) readLine(pos int) ([]byte, int, error) {
	start := pos + 1
	i := bytes.IndexByte(p.buf[start:], '\n')
	if i < 0 {
		// leave room for the CR of a line that is exactly at the limit
		if len(p.buf)-start > p.maxLineLen+1 {
			return nil, 0, malformed(pos, "line longer than %d bytes", p.maxLineLen)
		}
		return nil, 0, ErrIncomplete
	}
	if i-1 > p.maxLineLen {
		return nil, 0, malformed(pos, "line longer than %d bytes", p.maxLineLen)
	}
	end := start + i
	if i == 0 || p.buf[end-1] != '\r' {
		return nil, 0, malformed(end, "line feed without carriage return")
	}
	line := p.buf[start : end-1]
	if j := bytes.IndexByte(line, '\r'); j >= 0 {
		return nil, 0, malformed(start+j, "carriage return inside line")
	}
	return line, end + 1, nil
}

func (p *parser) parseText(pos int, kind Kind) (Frame, int, error) {
	line, next, err := p.readLine(pos)
	if err != nil {
		return Frame{}, 0, err
	}
	if !utf8.Valid(line) {
		return Frame{}, 0, malformed(pos+1, "%s is not valid UTF-8", kind)
	}
	return Frame{kind: kind, str: string(line)}, next, nil
}

func (p *parser) parseInteger(pos int) (Frame, int, error) {
	line, next, err := p.readLine(pos)
	if err != nil {
		return Frame{}, 0, err
	}
	n, err := parseInt64(line)
	if err != nil {
		return Frame{}, 0, malformed(pos+1, "invalid integer %q", line)
	}
	return Integer(n), next, nil
}

// readLength reads a length or count header. It returns -1 for the null
// form and rejects any other negative value.
func (p *parser) readLength(pos int, what string, limit int) (int, int, error) {
	line, next, err := p.readLine(pos)
	if err != nil {
		return 0, 0, err
	}
	n, err := parseInt64(line)
	if err != nil {
		return 0, 0, malformed(pos+1, "invalid %s length %q", what, line)
	}
	if n < -1 {
		return 0, 0, malformed(pos+1, "invalid %s length %d", what, n)
	}
	if n > int64(limit) {
		return 0, 0, malformed(pos+1, "%s length %d exceeds limit %d", what, n, limit)
	}
	return int(n), next, nil
}

func (p *parser) parseBulk(pos int) (Frame, int, error) {
	n, next, err := p.readLength(pos, "bulk string", p.maxBulkLen)
	if err != nil {
		return Frame{}, 0, err
	}
	if n == -1 {
		return NullBulkString(), next, nil
	}
	end := next + n
	if end+2 > len(p.buf) {
		return Frame{}, 0, ErrIncomplete
	}
	if p.buf[end] != '\r' || p.buf[end+1] != '\n' {
		return Frame{}, 0, malformed(end, "bulk string not terminated by CRLF")
	}
	return BulkBytes(p.buf[next:end]), end + 2, nil
}

// parseItems reads n consecutive frames starting at pos.
func (p *parser) parseItems(pos, n, depth int) ([]Frame, int, error) {
	items := make([]Frame, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		item, next, err := p.parse(pos, depth+1)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
		pos = next
	}
	return items, pos, nil
}

func (p *parser) parseArray(pos, depth int) (Frame, int, error) {
	n, next, err := p.readLength(pos, "array", p.maxElements)
	if err != nil {
		return Frame{}, 0, err
	}
	if n == -1 {
		return NullArray(), next, nil
	}
	items, next, err := p.parseItems(next, n, depth)
	if err != nil {
		return Frame{}, 0, err
	}
	return Frame{kind: KindArray, items: items}, next, nil
}

func (p *parser) parseNull(pos int) (Frame, int, error) {
	line, next, err := p.readLine(pos)
	if err != nil {
		return Frame{}, 0, err
	}
	if len(line) != 0 {
		return Frame{}, 0, malformed(pos+1, "null carries payload %q", line)
	}
	return Null(), next, nil
}

func (p *parser) parseBoolean(pos int) (Frame, int, error) {
	line, next, err := p.readLine(pos)
	if err != nil {
		return Frame{}, 0, err
	}
	switch string(line) {
	case "t":
		return Boolean(true), next, nil
	case "f":
		return Boolean(false), next, nil
	}
	return Frame{}, 0, malformed(pos+1, "invalid boolean %q", line)
}

func (p *parser) parseDouble(pos int) (Frame, int, error) {
	line, next, err := p.readLine(pos)
	if err != nil {
		return Frame{}, 0, err
	}
	v, err := strconv.ParseFloat(string(line), 64)
	if err != nil {
		return Frame{}, 0, malformed(pos+1, "invalid double %q", line)
	}
	return Double(v), next, nil
}

func (p *parser) parseMap(pos, depth int) (Frame, int, error) {
	n, next, err := p.readLength(pos, "map", p.maxElements)
	if err != nil {
		return Frame{}, 0, err
	}
	if n < 0 {
		return Frame{}, 0, malformed(pos+1, "map has no null form")
	}

	entries := make([]MapEntry, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		keyPos := next
		key, vpos, err := p.parse(keyPos, depth+1)
		if err != nil {
			return Frame{}, 0, err
		}
		if k := key.Kind(); k != KindSimpleString && k != KindBulkString {
			return Frame{}, 0, malformed(keyPos, "map key must be a string, got %s", k)
		}
		if !ValidText(key.Text()) {
			return Frame{}, 0, malformed(keyPos, "map key %q is not valid text", key.Text())
		}
		value, vnext, err := p.parse(vpos, depth+1)
		if err != nil {
			return Frame{}, 0, err
		}
		entries = append(entries, MapEntry{Key: key.Text(), Value: value})
		next = vnext
	}

	f, dup := newMap(entries)
	if dup {
		return Frame{}, 0, malformed(pos, "map has duplicate keys")
	}
	return f, next, nil
}

func (p *parser) parseSet(pos, depth int) (Frame, int, error) {
	n, next, err := p.readLength(pos, "set", p.maxElements)
	if err != nil {
		return Frame{}, 0, err
	}
	if n < 0 {
		return Frame{}, 0, malformed(pos+1, "set has no null form")
	}
	items, next, err := p.parseItems(next, n, depth)
	if err != nil {
		return Frame{}, 0, err
	}
	// Members that compare equal collapse into one. NaN payloads are not
	// carried by the text form, so distinct NaNs arrive as duplicates.
	return Set(items...), next, nil
}

var errSyntax = errors.New("invalid syntax")

// parseInt64 parses a signed decimal without allocating
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errSyntax
	}

	var neg bool
	i := 0
	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}
	if i >= len(b) {
		return 0, errSyntax
	}

	// accumulate negatively so that math.MinInt64 parses
	const cutoff = -(1 << 63) / 10
	var n int64
	for ; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, errSyntax
		}
		if n < cutoff {
			return 0, strconv.ErrRange
		}
		n *= 10
		d := int64(c - '0')
		if n < -(1<<63)+d {
			return 0, strconv.ErrRange
		}
		n -= d
	}

	if neg {
		return n, nil
	}
	if n == -(1 << 63) {
		return 0, strconv.ErrRange
	}
	return -n, nil
}
