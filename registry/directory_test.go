package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the bucketed cache directly, without a live etcd
// server: Discover's network path (loadByKey) is a thin wrapper around
// the etcd client, but the cache/dirty-flag mechanics above it are pure
// and worth testing in isolation.

func TestNameToIndexIsStableAndWithinRange(t *testing.T) {
	for _, name := range []string{"Order", "Payment", "", "a-very-long-service-name"} {
		idx := nameToIndex(name)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, bucketCount)
		assert.Equal(t, idx, nameToIndex(name), "hashing must be deterministic")
	}
}

func TestDiscoverFastPathReturnsWarmCacheEntry(t *testing.T) {
	d := newDirectory(nil)
	b := d.buckets[nameToIndex("Order")]
	b.cache.Store(map[string][]string{"Order": {"10.0.0.1:9000"}})

	got := d.Discover("Order")
	assert.Equal(t, []string{"10.0.0.1:9000"}, got)
}

func TestInvalidateSetsDirtyAndDropsEntry(t *testing.T) {
	d := newDirectory(nil)
	b := d.buckets[nameToIndex("Order")]
	b.cache.Store(map[string][]string{"Order": {"10.0.0.1:9000"}})

	d.invalidate("Order")

	assert.Equal(t, int32(1), b.dirty)
	_, ok := b.get()["Order"]
	assert.False(t, ok, "invalidate must drop the cached entry")
}

func TestInvalidateLeavesOtherEntriesInTheSameBucketIntact(t *testing.T) {
	d := newDirectory(nil)

	// "A" and "I" hash to the same bucket under fnv32a % bucketCount.
	require.Equal(t, nameToIndex("A"), nameToIndex("I"))
	b := d.buckets[nameToIndex("A")]
	b.cache.Store(map[string][]string{
		"A": {"1.1.1.1:1"},
		"I": {"2.2.2.2:2"},
	})
	b.dirty = 0

	d.invalidate("A")

	got := b.get()
	_, hasA := got["A"]
	_, hasB := got["I"]
	assert.False(t, hasA)
	assert.True(t, hasB)
}

func TestServiceNameFromKeyParsesTheRocketServicePrefix(t *testing.T) {
	assert.Equal(t, "Order", serviceNameFromKey("/rocket/service/Order/10.0.0.1:9000"))
	assert.Equal(t, "", serviceNameFromKey("/other/prefix/Order/10.0.0.1:9000"))
	assert.Equal(t, "", serviceNameFromKey("/rocket/service/NoSlash"))
}
