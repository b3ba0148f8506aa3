package storage

import (
	randv2 "math/rand/v2"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shard represents a single shard of data with its own lock
type shard struct {
	mu   sync.RWMutex
	data map[string]*Value
}

// live returns the value stored under key, deleting it first if it has
// expired. The caller must hold the write lock.
func (sh *shard) live(key string) *Value {
	value, exists := sh.data[key]
	if !exists {
		return nil
	}
	if value.IsExpired() {
		delete(sh.data, key)
		return nil
	}
	return value
}

// peek returns the value stored under key unless it has expired. The caller
// must hold at least the read lock.
func (sh *shard) peek(key string) *Value {
	value, exists := sh.data[key]
	if !exists || value.IsExpired() {
		return nil
	}
	return value
}

// MemoryStorage implements an in-memory storage engine
type MemoryStorage struct {
	shards    []shard
	shardMask uint64

	cleanupConfig CleanupConfig
	cleanupStop   chan struct{}
	cleanupDone   chan struct{}
	closeOnce     sync.Once

	// rng is only used by the cleanup goroutine
	rng *randv2.Rand
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithShardCount sets the number of shards for the storage
// The number is rounded up to the next power of 2
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStorage) {
		if count > 0 {
			n := nextPowerOf2(count)
			s.shards = make([]shard, n)
			s.shardMask = uint64(n - 1)
		}
	}
}

// WithCleanupConfig replaces the background expiry cycle settings
func WithCleanupConfig(config CleanupConfig) MemoryOption {
	return func(s *MemoryStorage) {
		s.cleanupConfig = config
	}
}

// NewMemory creates a new in-memory storage instance with 64 shards by default
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		shards:        make([]shard, 64),
		shardMask:     63,
		cleanupConfig: CleanupConfigDefault,
		cleanupStop:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
		rng:           randv2.New(randv2.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := range s.shards {
		s.shards[i].data = make(map[string]*Value)
	}

	go s.cleanupExpiredKeys()

	return s
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// shardFor returns the shard that owns key
func (s *MemoryStorage) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&s.shardMask]
}

// ShardCount returns the number of shards
func (s *MemoryStorage) ShardCount() int {
	return len(s.shards)
}

// Get retrieves a string value by key
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	value, exists := sh.data[key]
	if !exists {
		sh.mu.RUnlock()
		return nil, false
	}
	if value.IsExpired() {
		sh.mu.RUnlock()
		s.deleteExpiredKey(key)
		return nil, false
	}

	var result []byte
	if sv, ok := value.Data.(*StringValue); ok {
		result = append([]byte{}, sv.Data...)
	}
	sh.mu.RUnlock()

	return result, result != nil
}

// Set stores a string value with optional expiration, replacing any value
// of any type
func (s *MemoryStorage) Set(key string, value []byte, expiry *time.Time) error {
	sh := s.shardFor(key)

	sh.mu.Lock()
	sh.data[key] = newStringValue(value, expiry)
	sh.mu.Unlock()

	return nil
}

// SetNX stores value only if key does not exist
func (s *MemoryStorage) SetNX(key string, value []byte, expiry *time.Time) bool {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.live(key) != nil {
		return false
	}
	sh.data[key] = newStringValue(value, expiry)
	return true
}

// SetXX stores value only if key already exists
func (s *MemoryStorage) SetXX(key string, value []byte, expiry *time.Time) bool {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.live(key) == nil {
		return false
	}
	sh.data[key] = newStringValue(value, expiry)
	return true
}

func newStringValue(value []byte, expiry *time.Time) *Value {
	return &Value{
		Type:   ValueTypeString,
		Data:   &StringValue{Data: append([]byte{}, value...)},
		Expiry: copyTime(expiry),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// IncrBy adds delta to the integer stored at key. A missing key counts as 0.
// The expiry of an existing key is kept.
func (s *MemoryStorage) IncrBy(key string, delta int64) (int64, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	value := sh.live(key)
	if value == nil {
		sh.data[key] = newStringValue(strconv.AppendInt(nil, delta, 10), nil)
		return delta, nil
	}

	sv, ok := value.Data.(*StringValue)
	if !ok {
		return 0, ErrWrongType
	}
	current, err := strconv.ParseInt(string(sv.Data), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	if (delta > 0 && current > (1<<63-1)-delta) || (delta < 0 && current < -(1<<63)-delta) {
		return 0, ErrOverflow
	}

	current += delta
	sv.Data = strconv.AppendInt(sv.Data[:0], current, 10)
	return current, nil
}

// Del deletes one or more keys
func (s *MemoryStorage) Del(keys ...string) int64 {
	deleted := int64(0)

	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if sh.live(key) != nil {
			delete(sh.data, key)
			deleted++
		}
		sh.mu.Unlock()
	}

	return deleted
}

// Exists counts how many of keys exist. A key given twice counts twice.
func (s *MemoryStorage) Exists(keys ...string) int64 {
	count := int64(0)

	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.RLock()
		if sh.peek(key) != nil {
			count++
		}
		sh.mu.RUnlock()
	}

	return count
}

// Type returns the type of a key, ValueTypeNone if it does not exist
func (s *MemoryStorage) Type(key string) ValueType {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if value := sh.peek(key); value != nil {
		return value.Type
	}
	return ValueTypeNone
}

// Keys returns all keys matching the glob-style pattern
func (s *MemoryStorage) Keys(pattern string) []string {
	keys := make([]string, 0)
	all := pattern == "*"

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key, value := range sh.data {
			if value.IsExpired() {
				continue
			}
			if all || MatchPattern(key, pattern) {
				keys = append(keys, key)
			}
		}
		sh.mu.RUnlock()
	}

	return keys
}

// KeyCount returns the number of keys that have not expired
func (s *MemoryStorage) KeyCount() int64 {
	count := int64(0)
	now := time.Now()

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, value := range sh.data {
			if !value.isExpiredAt(now) {
				count++
			}
		}
		sh.mu.RUnlock()
	}

	return count
}

// FlushAll removes all keys
func (s *MemoryStorage) FlushAll() error {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.data = make(map[string]*Value)
		sh.mu.Unlock()
	}
	return nil
}

// Expire sets expiration for a key. An expiry in the past deletes the key.
func (s *MemoryStorage) Expire(key string, expiry time.Time) bool {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	value := sh.live(key)
	if value == nil {
		return false
	}
	if !time.Now().Before(expiry) {
		delete(sh.data, key)
		return true
	}
	value.Expiry = &expiry
	return true
}

// Persist removes the expiration of a key. It reports whether a timeout
// was removed.
func (s *MemoryStorage) Persist(key string) bool {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	value := sh.live(key)
	if value == nil || value.Expiry == nil {
		return false
	}
	value.Expiry = nil
	return true
}

// TTL returns the time to live for a key, TTLMissing if the key does not
// exist and TTLNoExpiry if it has no expiration
func (s *MemoryStorage) TTL(key string) time.Duration {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	value := sh.peek(key)
	if value == nil {
		return TTLMissing
	}
	if value.Expiry == nil {
		return TTLNoExpiry
	}
	return time.Until(*value.Expiry)
}

// HSet sets fields of the hash at key and returns how many were added
func (s *MemoryStorage) HSet(key string, fields map[string][]byte) (int64, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	value := sh.live(key)
	if value == nil {
		value = &Value{Type: ValueTypeHash, Data: &HashValue{Fields: make(map[string][]byte, len(fields))}}
		sh.data[key] = value
	}
	hv, ok := value.Data.(*HashValue)
	if !ok {
		return 0, ErrWrongType
	}

	added := int64(0)
	for field, v := range fields {
		if _, exists := hv.Fields[field]; !exists {
			added++
		}
		hv.Fields[field] = append([]byte{}, v...)
	}
	return added, nil
}

// HGet returns one field of the hash at key
func (s *MemoryStorage) HGet(key, field string) ([]byte, bool, error) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	hv, err := hashAt(sh, key)
	if hv == nil || err != nil {
		return nil, false, err
	}
	v, ok := hv.Fields[field]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

// HDel removes fields from the hash at key. The key is deleted with its
// last field.
func (s *MemoryStorage) HDel(key string, fields ...string) (int64, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.live(key) == nil {
		return 0, nil
	}
	hv, err := hashAt(sh, key)
	if err != nil {
		return 0, err
	}

	removed := int64(0)
	for _, field := range fields {
		if _, exists := hv.Fields[field]; exists {
			delete(hv.Fields, field)
			removed++
		}
	}
	if len(hv.Fields) == 0 {
		delete(sh.data, key)
	}
	return removed, nil
}

// HGetAll returns a copy of the hash at key. A missing key yields an empty map.
func (s *MemoryStorage) HGetAll(key string) (map[string][]byte, error) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	hv, err := hashAt(sh, key)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	if hv == nil {
		return out, nil
	}
	for field, v := range hv.Fields {
		out[field] = append([]byte{}, v...)
	}
	return out, nil
}

func hashAt(sh *shard, key string) (*HashValue, error) {
	value := sh.peek(key)
	if value == nil {
		return nil, nil
	}
	hv, ok := value.Data.(*HashValue)
	if !ok {
		return nil, ErrWrongType
	}
	return hv, nil
}

// SAdd adds members to the set at key and returns how many were new
func (s *MemoryStorage) SAdd(key string, members ...string) (int64, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	value := sh.live(key)
	if value == nil {
		value = &Value{Type: ValueTypeSet, Data: &SetValue{Members: make(map[string]struct{}, len(members))}}
		sh.data[key] = value
	}
	sv, ok := value.Data.(*SetValue)
	if !ok {
		return 0, ErrWrongType
	}

	added := int64(0)
	for _, m := range members {
		if _, exists := sv.Members[m]; !exists {
			sv.Members[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

// SRem removes members from the set at key. The key is deleted with its
// last member.
func (s *MemoryStorage) SRem(key string, members ...string) (int64, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.live(key) == nil {
		return 0, nil
	}
	sv, err := setAt(sh, key)
	if err != nil {
		return 0, err
	}

	removed := int64(0)
	for _, m := range members {
		if _, exists := sv.Members[m]; exists {
			delete(sv.Members, m)
			removed++
		}
	}
	if len(sv.Members) == 0 {
		delete(sh.data, key)
	}
	return removed, nil
}

// SMembers returns the members of the set at key in no particular order
func (s *MemoryStorage) SMembers(key string) ([]string, error) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sv, err := setAt(sh, key)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(sv.Members))
	for m := range sv.Members {
		out = append(out, m)
	}
	return out, nil
}

// SIsMember reports whether member belongs to the set at key
func (s *MemoryStorage) SIsMember(key, member string) (bool, error) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sv, err := setAt(sh, key)
	if sv == nil || err != nil {
		return false, err
	}
	_, ok := sv.Members[member]
	return ok, nil
}

func setAt(sh *shard, key string) (*SetValue, error) {
	value := sh.peek(key)
	if value == nil {
		return nil, nil
	}
	sv, ok := value.Data.(*SetValue)
	if !ok {
		return nil, ErrWrongType
	}
	return sv, nil
}

// Close stops the background cleanup. It is safe to call more than once.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
		<-s.cleanupDone
	})
	return nil
}

// cleanupExpiredKeys runs in background to clean up expired keys
func (s *MemoryStorage) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	interval := s.cleanupConfig.Interval
	if interval <= 0 {
		interval = CleanupConfigDefault.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.performCleanup()
		}
	}
}

// performCleanup removes expired keys from every shard and returns how
// many were deleted
func (s *MemoryStorage) performCleanup() int {
	removed := 0
	for i := range s.shards {
		removed += s.cleanupShard(&s.shards[i])
	}
	return removed
}

// cleanupShard repeatedly samples a shard while the share of expired keys
// found stays above the threshold
func (s *MemoryStorage) cleanupShard(sh *shard) int {
	config := s.cleanupConfig
	removed := 0

	for round := 0; round < config.MaxRounds; round++ {
		expiredKeys, sampled := s.sampleExpired(sh, config.SampleSize)
		if len(expiredKeys) == 0 {
			break
		}

		sh.mu.Lock()
		for _, key := range expiredKeys {
			// re-check under the write lock
			if value, exists := sh.data[key]; exists && value.IsExpired() {
				delete(sh.data, key)
				removed++
			}
		}
		sh.mu.Unlock()

		if float64(len(expiredKeys))/float64(sampled) < config.ExpiredThreshold {
			break
		}
		runtime.Gosched()
	}

	return removed
}

// sampleExpired picks up to sampleSize keys by reservoir sampling and returns
// the expired ones among them with the number of keys sampled
func (s *MemoryStorage) sampleExpired(sh *shard, sampleSize int) ([]string, int) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if len(sh.data) == 0 || sampleSize <= 0 {
		return nil, 0
	}

	sampled := make([]string, 0, min(sampleSize, len(sh.data)))
	i := 0
	for key := range sh.data {
		if i < sampleSize {
			sampled = append(sampled, key)
		} else if j := s.rng.IntN(i + 1); j < sampleSize {
			sampled[j] = key
		}
		i++
	}

	now := time.Now()
	expired := make([]string, 0, len(sampled))
	for _, key := range sampled {
		if sh.data[key].isExpiredAt(now) {
			expired = append(expired, key)
		}
	}
	return expired, len(sampled)
}

// deleteExpiredKey deletes key if it is still expired under the write lock
func (s *MemoryStorage) deleteExpiredKey(key string) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	if value, exists := sh.data[key]; exists && value.IsExpired() {
		delete(sh.data, key)
	}
	sh.mu.Unlock()
}
