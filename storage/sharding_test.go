package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestShardedStorageConcurrency tests concurrent access to sharded storage
func TestShardedStorageConcurrency(t *testing.T) {
	stor := NewMemory()
	defer func() { _ = stor.Close() }()

	numGoroutines := 50
	numOperations := 100

	var wg sync.WaitGroup

	t.Run("ConcurrentSet", func(t *testing.T) {
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < numOperations; j++ {
					key := fmt.Sprintf("key_%d_%d", id, j)
					value := []byte(fmt.Sprintf("value_%d_%d", id, j))
					if err := stor.Set(key, value, nil); err != nil {
						t.Errorf("Set failed: %v", err)
					}
				}
			}(i)
		}
		wg.Wait()
	})

	t.Run("ConcurrentGet", func(t *testing.T) {
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < numOperations; j++ {
					key := fmt.Sprintf("key_%d_%d", id, j)
					if _, ok := stor.Get(key); !ok {
						t.Errorf("Get failed for key %s", key)
					}
				}
			}(i)
		}
		wg.Wait()
	})

	t.Run("ConcurrentDel", func(t *testing.T) {
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < numOperations; j++ {
					stor.Del(fmt.Sprintf("key_%d_%d", id, j))
				}
			}(i)
		}
		wg.Wait()
	})

	if finalCount := stor.KeyCount(); finalCount != 0 {
		t.Errorf("Expected 0 keys after deletion, got %d", finalCount)
	}
}

// TestShardedIncrBy checks that increments on one key are not lost
func TestShardedIncrBy(t *testing.T) {
	stor := NewMemory(WithShardCount(4))
	defer func() { _ = stor.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := stor.IncrBy("counter", 1); err != nil {
					t.Errorf("IncrBy failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if v, _ := stor.Get("counter"); string(v) != "2000" {
		t.Errorf("counter = %s, want 2000", v)
	}
}

// TestMemoryOptions tests the option pattern for configuring MemoryStorage
func TestMemoryOptions(t *testing.T) {
	testCases := []struct {
		name            string
		requestedShards int
		expectedShards  int
	}{
		{"Zero shards", 0, 64},
		{"One shard", 1, 1},
		{"Three shards (rounds to 4)", 3, 4},
		{"Sixteen shards", 16, 16},
		{"Hundred shards (rounds to 128)", 100, 128},
		{"Negative shards", -1, 64},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stor := NewMemory(WithShardCount(tc.requestedShards))
			defer func() { _ = stor.Close() }()

			if stor.ShardCount() != tc.expectedShards {
				t.Errorf("Expected %d shards, got %d", tc.expectedShards, stor.ShardCount())
			}
			if stor.shardMask != uint64(tc.expectedShards-1) {
				t.Errorf("Expected shard mask %d, got %d", tc.expectedShards-1, stor.shardMask)
			}

			if err := stor.Set("test_key", []byte("test_value"), nil); err != nil {
				t.Errorf("Set failed: %v", err)
			}
			if got, ok := stor.Get("test_key"); !ok || string(got) != "test_value" {
				t.Errorf("Get() = %q, %v", got, ok)
			}
		})
	}
}

// TestShardDistribution tests that keys are distributed across shards
func TestShardDistribution(t *testing.T) {
	stor := NewMemory(WithShardCount(16))
	defer func() { _ = stor.Close() }()

	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		_ = stor.Set(fmt.Sprintf("key_%d", i), []byte("v"), nil)
	}

	shardCounts := make([]int, len(stor.shards))
	for i := range stor.shards {
		stor.shards[i].mu.RLock()
		shardCounts[i] = len(stor.shards[i].data)
		stor.shards[i].mu.RUnlock()
	}

	// xxhash spreads sequential keys well, allow 4x variance
	minExpected := numKeys / (len(stor.shards) * 4)
	for i, count := range shardCounts {
		if count < minExpected {
			t.Errorf("Shard %d has only %d keys (expected at least %d)", i, count, minExpected)
		}
	}
}

// TestShardedCleanup runs the expiry cycle directly
func TestShardedCleanup(t *testing.T) {
	stor := NewMemory(WithCleanupConfig(CleanupConfig{
		Interval:         time.Hour,
		SampleSize:       50,
		MaxRounds:        10,
		ExpiredThreshold: 0.1,
	}))
	defer func() { _ = stor.Close() }()

	numKeys := 500
	pastTime := time.Now().Add(-1 * time.Hour)
	futureTime := time.Now().Add(1 * time.Hour)

	for i := 0; i < numKeys; i++ {
		_ = stor.Set(fmt.Sprintf("expired_%d", i), []byte("v"), &pastTime)
	}
	for i := 0; i < 10; i++ {
		_ = stor.Set(fmt.Sprintf("live_%d", i), []byte("v"), &futureTime)
	}

	removed := 0
	for i := 0; i < 20 && removed < numKeys; i++ {
		removed += stor.performCleanup()
	}
	if removed != numKeys {
		t.Errorf("performCleanup() removed %d keys, want %d", removed, numKeys)
	}

	total := 0
	for i := range stor.shards {
		total += len(stor.shards[i].data)
	}
	if total != 10 {
		t.Errorf("%d keys remain in shards, want 10", total)
	}
}

// TestBackgroundCleanup checks that the ticker drives the expiry cycle
func TestBackgroundCleanup(t *testing.T) {
	stor := NewMemory(WithCleanupConfig(CleanupConfig{
		Interval:         10 * time.Millisecond,
		SampleSize:       20,
		MaxRounds:        4,
		ExpiredThreshold: 0.25,
	}))
	defer func() { _ = stor.Close() }()

	soon := time.Now().Add(20 * time.Millisecond)
	_ = stor.Set("short", []byte("v"), &soon)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sh := stor.shardFor("short")
		sh.mu.RLock()
		_, present := sh.data["short"]
		sh.mu.RUnlock()
		if !present {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expired key was not removed by the background cleanup")
}
