package storage

import (
	"errors"
	"time"
)

var (
	// ErrWrongType is returned when an operation targets a key holding a
	// value of another type
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrNotInteger is returned by IncrBy when the value is not a base-10
	// 64-bit integer
	ErrNotInteger = errors.New("value is not an integer or out of range")

	// ErrOverflow is returned by IncrBy when the result does not fit in int64
	ErrOverflow = errors.New("increment or decrement would overflow")
)

// TTL results for keys without a positive time to live
const (
	TTLMissing  time.Duration = -2 * time.Second
	TTLNoExpiry time.Duration = -1 * time.Second
)

// Storage defines the interface for data storage operations
type Storage interface {
	// String operations
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, expiry *time.Time) error
	SetNX(key string, value []byte, expiry *time.Time) bool
	SetXX(key string, value []byte, expiry *time.Time) bool
	IncrBy(key string, delta int64) (int64, error)

	// Key operations
	Del(keys ...string) int64
	Exists(keys ...string) int64
	Type(key string) ValueType
	Keys(pattern string) []string
	KeyCount() int64
	FlushAll() error

	// Expiration operations
	Expire(key string, expiry time.Time) bool
	Persist(key string) bool
	TTL(key string) time.Duration

	// Hash operations
	HSet(key string, fields map[string][]byte) (int64, error)
	HGet(key, field string) ([]byte, bool, error)
	HDel(key string, fields ...string) (int64, error)
	HGetAll(key string) (map[string][]byte, error)

	// Set operations
	SAdd(key string, members ...string) (int64, error)
	SRem(key string, members ...string) (int64, error)
	SMembers(key string) ([]string, error)
	SIsMember(key, member string) (bool, error)

	// Shutdown
	Close() error
}

// CleanupConfig holds configuration for incremental expiry cleanup
type CleanupConfig struct {
	// Interval between cleanup cycles
	Interval time.Duration
	// SampleSize is the number of keys to sample per round
	SampleSize int
	// MaxRounds is the maximum number of rounds per shard and cycle
	MaxRounds int
	// ExpiredThreshold continues cleanup if this share of sampled keys had expired
	ExpiredThreshold float64
}

// CleanupConfigDefault mirrors the Redis active expiry cycle
var CleanupConfigDefault = CleanupConfig{
	Interval:         time.Second,
	SampleSize:       20,
	MaxRounds:        4,
	ExpiredThreshold: 0.25,
}
