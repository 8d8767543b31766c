package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDiskTier(t *testing.T) *DiskTier {
	t.Helper()
	tier, err := OpenDiskTier(filepath.Join(t.TempDir(), "store.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { tier.Close() })
	return tier
}

func TestDiskTierPutGet(t *testing.T) {
	tier := newTestDiskTier(t)

	t.Run("roundtrip", func(t *testing.T) {
		require.NoError(t, tier.Put("k1", "v1", "g1"))

		value, err := tier.Get("k1")
		require.NoError(t, err)
		assert.Equal(t, "v1", value)
	})

	t.Run("absent key yields empty string", func(t *testing.T) {
		value, err := tier.Get("nope")
		require.NoError(t, err)
		assert.Equal(t, "", value)
	})

	t.Run("put replaces existing row", func(t *testing.T) {
		require.NoError(t, tier.Put("k1", "v2", "g2"))

		value, err := tier.Get("k1")
		require.NoError(t, err)
		assert.Equal(t, "v2", value)

		// The replaced row moved groups: the old group no longer matches.
		pairs, err := tier.GetGroup("g1")
		require.NoError(t, err)
		assert.Len(t, pairs, 0)
	})
}

func TestDiskTierGroups(t *testing.T) {
	tier := newTestDiskTier(t)

	require.NoError(t, tier.Put("a", "1", "blue"))
	require.NoError(t, tier.Put("b", "2", "blue"))
	require.NoError(t, tier.Put("c", "3", "red"))

	t.Run("get group", func(t *testing.T) {
		pairs, err := tier.GetGroup("blue")
		require.NoError(t, err)
		assert.Len(t, pairs, 2)
	})

	t.Run("missing group is empty not nil", func(t *testing.T) {
		pairs, err := tier.GetGroup("green")
		require.NoError(t, err)
		require.NotNil(t, pairs)
		assert.Len(t, pairs, 0)
	})

	t.Run("delete group returns count", func(t *testing.T) {
		count, err := tier.DeleteGroup("blue")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		count, err = tier.DeleteGroup("blue")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		value, err := tier.Get("c")
		require.NoError(t, err)
		assert.Equal(t, "3", value)
	})
}

func TestDiskTierDeleteKey(t *testing.T) {
	tier := newTestDiskTier(t)

	require.NoError(t, tier.Put("k", "v", "g"))

	count, err := tier.DeleteKey("k")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = tier.DeleteKey("k")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDiskTierList(t *testing.T) {
	tier := newTestDiskTier(t)

	t.Run("empty list is not nil", func(t *testing.T) {
		entries, err := tier.List()
		require.NoError(t, err)
		require.NotNil(t, entries)
		assert.Len(t, entries, 0)
	})

	t.Run("lists every row with its group", func(t *testing.T) {
		require.NoError(t, tier.Put("a", "1", "g1"))
		require.NoError(t, tier.Put("b", "2", "g2"))

		entries, err := tier.List()
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		byKey := make(map[string]string)
		for _, e := range entries {
			byKey[e.Key] = e.Group
		}
		assert.Equal(t, "g1", byKey["a"])
		assert.Equal(t, "g2", byKey["b"])
	})
}

func TestDiskTierPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	tier, err := OpenDiskTier(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, tier.Put("durable", "value", "g"))
	require.NoError(t, tier.Close())

	reopened, err := OpenDiskTier(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Get("durable")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}
