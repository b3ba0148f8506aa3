// Package storage provides the keyspace behind the server.
//
// MemoryStorage keeps strings, hashes and sets in a fixed number of shards,
// each guarded by its own lock and selected by hashing the key with xxhash.
// Expired keys are removed lazily on access and by a background cycle that
// samples each shard, in the same way Redis does.
//
// Basic usage:
//
//	s := storage.NewMemory()
//	defer s.Close()
//	err := s.Set("key", []byte("value"), nil)
//	value, exists := s.Get("key")
package storage
