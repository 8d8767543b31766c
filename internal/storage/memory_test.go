package storage

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestMemoryTier builds a tier with a 1 MiB budget and a reaper interval
// long enough that sweeps only happen when a test triggers them directly.
func newTestMemoryTier(t *testing.T) *MemoryTier {
	t.Helper()
	tier := NewMemoryTier(1, time.Hour, zap.NewNop())
	t.Cleanup(tier.Stop)
	return tier
}

// checkInvariants verifies the record/index bijection and the usage sum.
func checkInvariants(t *testing.T, tier *MemoryTier) {
	t.Helper()
	tier.mu.Lock()
	defer tier.mu.Unlock()

	require.Equal(t, len(tier.records), tier.evict.Len(),
		"eviction index and record table must be the same size")

	sum := 0
	seen := make(map[string]bool)
	var prev time.Time
	for e := tier.evict.Front(); e != nil; e = e.Next() {
		node := e.Value.(evictNode)
		rec, ok := tier.records[node.key]
		require.True(t, ok, "index node for %q has no record", node.key)
		require.True(t, rec.elem == e, "record %q does not point back at its index node", node.key)
		require.False(t, seen[node.key], "key %q indexed twice", node.key)
		require.False(t, node.insertedAt.Before(prev), "index out of insertion order at %q", node.key)
		seen[node.key] = true
		prev = node.insertedAt
		sum += rec.cost
	}
	require.Equal(t, sum, tier.usage, "usage counter must equal the sum of record costs")
}

func TestMemoryTierPutGet(t *testing.T) {
	tier := newTestMemoryTier(t)

	t.Run("roundtrip", func(t *testing.T) {
		tier.Put("k1", "v1", "g1", 0)
		assert.Equal(t, "v1", tier.Get("k1"))
		checkInvariants(t, tier)
	})

	t.Run("absent key yields empty string", func(t *testing.T) {
		assert.Equal(t, "", tier.Get("nope"))
	})

	t.Run("overwrite replaces the record", func(t *testing.T) {
		tier.Put("k1", "v1-longer-than-before", "g2", 0)
		assert.Equal(t, "v1-longer-than-before", tier.Get("k1"))

		stats := tier.Stats()
		assert.Equal(t, 1, stats.Records, "overwrite must not grow the record count")
		checkInvariants(t, tier)
	})
}

func TestMemoryTierGroups(t *testing.T) {
	tier := newTestMemoryTier(t)

	tier.Put("a", "1", "blue", 0)
	tier.Put("b", "2", "blue", 0)
	tier.Put("c", "3", "red", 0)

	t.Run("get group", func(t *testing.T) {
		pairs := tier.GetGroup("blue")
		assert.Len(t, pairs, 2)

		keys := []string{pairs[0].Key, pairs[1].Key}
		assert.ElementsMatch(t, []string{"a", "b"}, keys)
	})

	t.Run("get missing group is empty not nil", func(t *testing.T) {
		pairs := tier.GetGroup("green")
		require.NotNil(t, pairs)
		assert.Len(t, pairs, 0)
	})

	t.Run("delete group returns count", func(t *testing.T) {
		assert.Equal(t, 2, tier.DeleteGroup("blue"))
		assert.Equal(t, 0, tier.DeleteGroup("blue"))
		assert.Equal(t, "", tier.Get("a"))
		assert.Equal(t, "3", tier.Get("c"))
		checkInvariants(t, tier)
	})
}

func TestMemoryTierDeleteKey(t *testing.T) {
	tier := newTestMemoryTier(t)

	tier.Put("k", "v", "g", 0)
	assert.Equal(t, 1, tier.DeleteKey("k"))
	assert.Equal(t, 0, tier.DeleteKey("k"))
	assert.Equal(t, "", tier.Get("k"))

	stats := tier.Stats()
	assert.Equal(t, 0, stats.Records)
	assert.Equal(t, 0, stats.Usage)
	checkInvariants(t, tier)
}

func TestMemoryTierList(t *testing.T) {
	tier := newTestMemoryTier(t)

	t.Run("empty list is not nil", func(t *testing.T) {
		entries := tier.List()
		require.NotNil(t, entries)
		assert.Len(t, entries, 0)
	})

	t.Run("lists every record with its group", func(t *testing.T) {
		tier.Put("a", "1", "g1", 0)
		tier.Put("b", "2", "g2", 0)

		entries := tier.List()
		assert.Len(t, entries, 2)
		byKey := make(map[string]string)
		for _, e := range entries {
			byKey[e.Key] = e.Group
		}
		assert.Equal(t, "g1", byKey["a"])
		assert.Equal(t, "g2", byKey["b"])
	})
}

func TestMemoryTierTTLSweep(t *testing.T) {
	tier := newTestMemoryTier(t)

	tier.Put("short", "v", "g", 1)
	tier.Put("long", "v", "g", 3600)
	tier.Put("forever", "v", "g", 0)

	t.Run("nothing expires before its deadline", func(t *testing.T) {
		tier.sweep(time.Now())
		assert.Equal(t, "v", tier.Get("short"))
		assert.Equal(t, "v", tier.Get("long"))
	})

	t.Run("expired records are swept", func(t *testing.T) {
		tier.sweep(time.Now().Add(2 * time.Second))
		assert.Equal(t, "", tier.Get("short"))
		assert.Equal(t, "v", tier.Get("long"))
		checkInvariants(t, tier)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		tier.sweep(time.Now().Add(1000 * time.Hour))
		assert.Equal(t, "v", tier.Get("forever"))
		assert.Equal(t, "", tier.Get("long"))
		checkInvariants(t, tier)
	})
}

func TestMemoryTierReaperExpiry(t *testing.T) {
	// Real-time variant: a short-interval reaper removes an expired record
	// without any direct sweep call.
	tier := NewMemoryTier(1, 20*time.Millisecond, zap.NewNop())
	defer tier.Stop()

	tier.Put("k", "v", "g", 1)
	assert.Equal(t, "v", tier.Get("k"))

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, "", tier.Get("k"))
}

func TestMemoryTierEviction(t *testing.T) {
	tier := newTestMemoryTier(t) // 1 MiB budget

	// Twelve records of ~100 KiB exceed the budget; the sweep must evict
	// oldest-first until usage fits.
	value := strings.Repeat("x", 100*1024)
	for i := 0; i < 12; i++ {
		tier.Put(fmt.Sprintf("key-%02d", i), value, "bulk", 0)
	}

	before := tier.Stats()
	require.Greater(t, before.Usage, before.MaxBytes)

	tier.sweep(time.Now())

	after := tier.Stats()
	assert.LessOrEqual(t, after.Usage, after.MaxBytes)
	checkInvariants(t, tier)

	// The earliest inserts are gone, the latest survive.
	assert.Equal(t, "", tier.Get("key-00"))
	assert.Equal(t, "", tier.Get("key-01"))
	assert.Equal(t, value, tier.Get("key-11"))
}

func TestMemoryTierEvictionAfterOverwrite(t *testing.T) {
	tier := newTestMemoryTier(t)

	value := strings.Repeat("x", 100*1024)
	for i := 0; i < 8; i++ {
		tier.Put(fmt.Sprintf("key-%d", i), value, "bulk", 0)
	}
	// Re-insert the oldest key: it moves to the back of the FIFO, so the
	// next eviction victim is key-1.
	tier.Put("key-0", value, "bulk", 0)
	for i := 8; i < 12; i++ {
		tier.Put(fmt.Sprintf("key-%d", i), value, "bulk", 0)
	}

	tier.sweep(time.Now())

	assert.Equal(t, value, tier.Get("key-0"))
	assert.Equal(t, "", tier.Get("key-1"))
	checkInvariants(t, tier)
}

func TestMemoryTierConcurrentAccess(t *testing.T) {
	tier := newTestMemoryTier(t)

	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				tier.Put(key, "v", "shared", 0)
				tier.Get(key)
				if i%3 == 0 {
					tier.DeleteKey(key)
				}
			}
		}(g)
	}
	wg.Wait()

	checkInvariants(t, tier)
	pairs := tier.GetGroup("shared")
	assert.NotEmpty(t, pairs)
}
