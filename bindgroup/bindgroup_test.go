package bindgroup

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"

	"github.com/oxy-gpu/tensorcore/bufcache"
	"github.com/oxy-gpu/tensorcore/gpudevice"
)

// fakePool is shared by every fakeCachedBuffer call so each buffer gets a
// distinct cache-assigned ID, as it would from one production cache.
var fakePool = bufcache.NewStorageCache(func(sz uint64) (*bufcache.CachedBuffer, error) {
	return &bufcache.CachedBuffer{}, nil
})

func fakeCachedBuffer(size uint64) *bufcache.CachedBuffer {
	got, _ := fakePool.Get(size)
	return got
}

func TestReferenceKeyEmptyWhenNotMaterialized(t *testing.T) {
	assert.Equal(t, "", None().Key())
}

func TestReferenceKeyDependsOnParticipatingBuffers(t *testing.T) {
	dest := fakeCachedBuffer(16)
	input := fakeCachedBuffer(16)

	a := Materialized(gpudevice.Arity1, dest, input)
	b := Materialized(gpudevice.Arity1, dest, input)
	assert.Equal(t, a.Key(), b.Key())

	other := fakeCachedBuffer(16)
	c := Materialized(gpudevice.Arity1, dest, other)
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestCacheGetOrCreateReusesBuiltGroup(t *testing.T) {
	cache := NewCache()
	builds := 0
	build := func() (*wgpu.BindGroup, error) {
		builds++
		return &wgpu.BindGroup{}, nil
	}

	first, err := cache.GetOrCreate("k", build)
	assert.NoError(t, err)
	second, err := cache.GetOrCreate("k", build)
	assert.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheGetOrCreateDistinctKeysBuildSeparately(t *testing.T) {
	cache := NewCache()
	build := func() (*wgpu.BindGroup, error) { return &wgpu.BindGroup{}, nil }

	_, err := cache.GetOrCreate("a", build)
	assert.NoError(t, err)
	_, err = cache.GetOrCreate("b", build)
	assert.NoError(t, err)

	assert.Equal(t, 2, cache.Len())
}
