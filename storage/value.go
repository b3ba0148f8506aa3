package storage

import "time"

// ValueType represents the Redis data type
type ValueType int

const (
	ValueTypeNone ValueType = iota
	ValueTypeString
	ValueTypeHash
	ValueTypeSet
)

// String returns the Redis-compatible type name
func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeHash:
		return "hash"
	case ValueTypeSet:
		return "set"
	default:
		return "none"
	}
}

// Value represents a stored value with metadata
type Value struct {
	Type   ValueType
	Data   interface{}
	Expiry *time.Time
}

// IsExpired returns true if the value has expired
func (v *Value) IsExpired() bool {
	return v.isExpiredAt(time.Now())
}

func (v *Value) isExpiredAt(now time.Time) bool {
	return v.Expiry != nil && !now.Before(*v.Expiry)
}

// StringValue represents a string value
type StringValue struct {
	Data []byte
}

// HashValue represents a hash value
type HashValue struct {
	Fields map[string][]byte
}

// SetValue represents a set value
type SetValue struct {
	Members map[string]struct{}
}
