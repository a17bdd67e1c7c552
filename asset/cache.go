package asset

import (
	"image"
	"math"
	"runtime/debug"

	"github.com/golang/groupcache/lru"
)

// fallbackMemoryLimit is used when the process has no soft memory limit.
const fallbackMemoryLimit = 512 << 20 // 512MB

// DefaultCacheBudget returns 1/8 of the process memory limit.
func DefaultCacheBudget() int64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		limit = fallbackMemoryLimit
	}
	return limit / 8
}

// memoryCache is a least-recently-used image cache bounded by the decoded
// size of its entries. It is only touched from the delivery context.
type memoryCache struct {
	lru    *lru.Cache
	size   int64
	budget int64
}

func newMemoryCache(budget int64) *memoryCache {
	mc := memoryCache{
		lru:    lru.New(0),
		budget: budget,
	}
	mc.lru.OnEvicted = func(_ lru.Key, value any) {
		mc.size -= cost(value.(image.Image))
	}
	return &mc
}

func (mc *memoryCache) get(key string) (image.Image, bool) {
	v, ok := mc.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.(image.Image), true
}

// add stores img and evicts the oldest entries until the cache fits its
// budget. Images larger than the whole budget are not cached.
func (mc *memoryCache) add(key string, img image.Image) {
	c := cost(img)
	if c > mc.budget {
		mc.lru.Remove(key)
		return
	}

	mc.lru.Remove(key)
	mc.lru.Add(key, img)
	mc.size += c

	for mc.size > mc.budget && mc.lru.Len() > 0 {
		mc.lru.RemoveOldest()
	}
}

func (mc *memoryCache) remove(key string) {
	mc.lru.Remove(key)
}

func (mc *memoryCache) clear() {
	mc.lru.Clear()
	mc.size = 0
}

func (mc *memoryCache) len() int {
	return mc.lru.Len()
}

// cost approximates the decoded footprint at four bytes per pixel.
func cost(img image.Image) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
