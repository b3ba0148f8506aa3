package protocol

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind identifies the variant held by a Frame. The numeric order of the
// kinds is the first key of the total order defined by Compare.
type Kind uint8

const (
	KindSimpleString Kind = iota + 1
	KindSimpleError
	KindInteger
	KindBulkString
	KindNullBulkString
	KindNull
	KindNullArray
	KindArray
	KindBoolean
	KindDouble
	KindMap
	KindSet
)

// kindInfo holds the name and wire tag of a kind
type kindInfo struct {
	name   string
	prefix byte
}

var kinds = [...]kindInfo{
	KindSimpleString:   {"simple-string", '+'},
	KindSimpleError:    {"simple-error", '-'},
	KindInteger:        {"integer", ':'},
	KindBulkString:     {"bulk-string", '$'},
	KindNullBulkString: {"null-bulk-string", '$'},
	KindNull:           {"null", '_'},
	KindNullArray:      {"null-array", '*'},
	KindArray:          {"array", '*'},
	KindBoolean:        {"boolean", '#'},
	KindDouble:         {"double", ','},
	KindMap:            {"map", '%'},
	KindSet:            {"set", '~'},
}

// String returns the name of the kind
func (k Kind) String() string {
	if int(k) < len(kinds) && k != 0 {
		return kinds[k].name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Prefix returns the type tag byte that starts the kind's wire form
func (k Kind) Prefix() byte {
	if int(k) < len(kinds) && k != 0 {
		return kinds[k].prefix
	}
	return 0
}

// Frame is an immutable RESP value. The zero Frame is Null.
//
// Composite frames (Array, Map, Set) own their children. Slices returned by
// accessors must not be modified.
type Frame struct {
	kind  Kind
	str   string   // simple string, simple error
	bulk  []byte   // bulk string
	num   int64    // integer, boolean
	dbl   float64  // double
	items []Frame  // array in order, set in canonical order, map values
	keys  []string // map keys, sorted
}

// MapEntry is one key/value pair of a Map frame
type MapEntry struct {
	Key   string
	Value Frame
}

// ValidText reports whether s can be carried by a simple string, a simple
// error or a map key: valid UTF-8 without CR or LF.
func ValidText(s string) bool {
	return utf8.ValidString(s) && strings.IndexAny(s, "\r\n") < 0
}

// SanitizeText turns arbitrary text into valid line text by replacing CR and
// LF with spaces and invalid UTF-8 with U+FFFD.
func SanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func mustText(kind Kind, s string) {
	if !ValidText(s) {
		panic(fmt.Sprintf("protocol: invalid %s text %q", kind, s))
	}
}

// SimpleString returns a simple string frame. It panics if s is not ValidText.
func SimpleString(s string) Frame {
	mustText(KindSimpleString, s)
	return Frame{kind: KindSimpleString, str: s}
}

// SimpleError returns a simple error frame. It panics if msg is not ValidText.
func SimpleError(msg string) Frame {
	mustText(KindSimpleError, msg)
	return Frame{kind: KindSimpleError, str: msg}
}

// Integer returns an integer frame
func Integer(n int64) Frame {
	return Frame{kind: KindInteger, num: n}
}

// BulkBytes returns a bulk string frame holding a copy of b. A nil b yields
// an empty bulk string, never the null bulk string.
func BulkBytes(b []byte) Frame {
	return Frame{kind: KindBulkString, bulk: append(make([]byte, 0, len(b)), b...)}
}

// BulkString returns a bulk string frame holding s
func BulkString(s string) Frame {
	return Frame{kind: KindBulkString, bulk: []byte(s)}
}

// NullBulkString returns the legacy null bulk string ($-1)
func NullBulkString() Frame {
	return Frame{kind: KindNullBulkString}
}

// Null returns the unified RESP3 null (_)
func Null() Frame {
	return Frame{kind: KindNull}
}

// NullArray returns the legacy null array (*-1)
func NullArray() Frame {
	return Frame{kind: KindNullArray}
}

// Boolean returns a boolean frame
func Boolean(b bool) Frame {
	f := Frame{kind: KindBoolean}
	if b {
		f.num = 1
	}
	return f
}

// Double returns a double frame
func Double(v float64) Frame {
	return Frame{kind: KindDouble, dbl: v}
}

// Array returns an array frame preserving the order of items
func Array(items ...Frame) Frame {
	return Frame{kind: KindArray, items: append(make([]Frame, 0, len(items)), items...)}
}

// Map returns a map frame. It panics if a key is not ValidText.
func Map(m map[string]Frame) Frame {
	entries := make([]MapEntry, 0, len(m))
	for k, v := range m {
		entries = append(entries, MapEntry{Key: k, Value: v})
	}
	f, _ := newMap(entries)
	return f
}

// MapOf returns a map frame from entries. A later entry replaces an earlier
// one with the same key. It panics if a key is not ValidText.
func MapOf(entries ...MapEntry) Frame {
	m := make(map[string]Frame, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Value
	}
	return Map(m)
}

// newMap builds a map frame and reports whether entries had duplicate keys.
func newMap(entries []MapEntry) (Frame, bool) {
	sorted := append([]MapEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	f := Frame{
		kind:  KindMap,
		keys:  make([]string, 0, len(sorted)),
		items: make([]Frame, 0, len(sorted)),
	}
	dup := false
	for i, e := range sorted {
		mustText(KindMap, e.Key)
		if i > 0 && sorted[i-1].Key == e.Key {
			// keep the last value for the key
			f.items[len(f.items)-1] = e.Value
			dup = true
			continue
		}
		f.keys = append(f.keys, e.Key)
		f.items = append(f.items, e.Value)
	}
	return f, dup
}

// Set returns a set frame. Members are deduplicated by Equal and kept in
// the canonical order defined by Compare.
func Set(members ...Frame) Frame {
	sorted := append(make([]Frame, 0, len(members)), members...)
	sort.SliceStable(sorted, func(i, j int) bool { return Compare(sorted[i], sorted[j]) < 0 })

	out := sorted[:0]
	for i, m := range sorted {
		if i > 0 && Compare(out[len(out)-1], m) == 0 {
			continue
		}
		out = append(out, m)
	}
	return Frame{kind: KindSet, items: out}
}

// Kind returns the variant of the frame
func (f Frame) Kind() Kind {
	if f.kind == 0 {
		return KindNull
	}
	return f.kind
}

// IsNull reports whether f is any of the three null variants
func (f Frame) IsNull() bool {
	switch f.Kind() {
	case KindNull, KindNullBulkString, KindNullArray:
		return true
	}
	return false
}

// IsError reports whether f is a simple error
func (f Frame) IsError() bool {
	return f.kind == KindSimpleError
}

// Text returns the text of a simple string or simple error, or the bulk
// string content as a string.
func (f Frame) Text() string {
	if f.kind == KindBulkString {
		return string(f.bulk)
	}
	return f.str
}

// Bytes returns the payload of a bulk string, or the text of a simple
// string or simple error.
func (f Frame) Bytes() []byte {
	switch f.kind {
	case KindBulkString:
		return f.bulk
	case KindSimpleString, KindSimpleError:
		return []byte(f.str)
	}
	return nil
}

// Int returns the value of an integer frame, 1 or 0 for a boolean
func (f Frame) Int() int64 {
	return f.num
}

// Bool returns the value of a boolean frame
func (f Frame) Bool() bool {
	return f.num != 0
}

// Float returns the value of a double frame
func (f Frame) Float() float64 {
	return f.dbl
}

// Len returns the number of children of a composite, or the byte length of
// a bulk string.
func (f Frame) Len() int {
	switch f.kind {
	case KindArray, KindSet, KindMap:
		return len(f.items)
	case KindBulkString:
		return len(f.bulk)
	}
	return 0
}

// Items returns the elements of an array in order or the members of a set
// in canonical order.
func (f Frame) Items() []Frame {
	switch f.kind {
	case KindArray, KindSet:
		return f.items
	}
	return nil
}

// Keys returns the keys of a map in sorted order
func (f Frame) Keys() []string {
	return f.keys
}

// Get looks up key in a map frame
func (f Frame) Get(key string) (Frame, bool) {
	if f.kind != KindMap {
		return Frame{}, false
	}
	i := sort.SearchStrings(f.keys, key)
	if i < len(f.keys) && f.keys[i] == key {
		return f.items[i], true
	}
	return Frame{}, false
}

// Entries returns the entries of a map frame in sorted key order
func (f Frame) Entries() []MapEntry {
	if f.kind != KindMap {
		return nil
	}
	entries := make([]MapEntry, len(f.keys))
	for i, k := range f.keys {
		entries[i] = MapEntry{Key: k, Value: f.items[i]}
	}
	return entries
}

// Equal reports whether f and g are structurally equal. Doubles compare by
// bit pattern.
func (f Frame) Equal(g Frame) bool {
	return Compare(f, g) == 0
}

// Compare defines a strict total order over frames: kinds first, then
// payloads. Doubles are ordered by their bit pattern so NaNs are ordered
// and never equal to a different NaN payload.
func Compare(a, b Frame) int {
	if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
		return c
	}
	switch a.Kind() {
	case KindSimpleString, KindSimpleError:
		return strings.Compare(a.str, b.str)
	case KindInteger, KindBoolean:
		return cmp.Compare(a.num, b.num)
	case KindBulkString:
		return bytes.Compare(a.bulk, b.bulk)
	case KindNull, KindNullBulkString, KindNullArray:
		return 0
	case KindDouble:
		return cmp.Compare(floatKey(a.dbl), floatKey(b.dbl))
	case KindArray, KindSet:
		return compareItems(a.items, b.items)
	case KindMap:
		n := min(len(a.keys), len(b.keys))
		for i := 0; i < n; i++ {
			if c := strings.Compare(a.keys[i], b.keys[i]); c != 0 {
				return c
			}
			if c := Compare(a.items[i], b.items[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a.keys), len(b.keys))
	}
	panic(fmt.Sprintf("protocol: unknown frame kind %d", a.kind))
}

func compareItems(a, b []Frame) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

// floatKey maps the bits of v to an unsigned key whose order follows the
// IEEE 754 total order.
func floatKey(v float64) uint64 {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}

// String renders the frame in a redis-cli like form, for logs and tests
func (f Frame) String() string {
	var sb strings.Builder
	f.writeTo(&sb)
	return sb.String()
}

func (f Frame) writeTo(sb *strings.Builder) {
	switch f.Kind() {
	case KindSimpleString:
		sb.WriteString(f.str)
	case KindSimpleError:
		sb.WriteString("(error) ")
		sb.WriteString(f.str)
	case KindInteger:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(f.num, 10))
	case KindBulkString:
		sb.WriteString(strconv.Quote(string(f.bulk)))
	case KindNull, KindNullBulkString, KindNullArray:
		sb.WriteString("(nil)")
	case KindBoolean:
		sb.WriteString(strconv.FormatBool(f.Bool()))
	case KindDouble:
		sb.WriteString("(double) ")
		sb.Write(AppendDouble(nil, f.dbl))
	case KindArray, KindSet:
		start, end := "[", "]"
		if f.kind == KindSet {
			start, end = "~{", "}"
		}
		sb.WriteString(start)
		for i, item := range f.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.writeTo(sb)
		}
		sb.WriteString(end)
	case KindMap:
		sb.WriteString("{")
		for i, k := range f.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			f.items[i].writeTo(sb)
		}
		sb.WriteString("}")
	}
}
